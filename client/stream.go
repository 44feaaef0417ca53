package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/fundscope/researchd/models"
)

const doneSentinel = "[DONE]"

// Stream is a single-pass iterator over one session's event stream.
// Events arrive lazily through Next; the stream is not restartable or
// seekable. Close releases the connection and may be called any number
// of times, from any exit path.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *log.Logger

	closeOnce sync.Once
	closed    bool
}

// Stream opens the session's event stream. The returned Stream must be
// closed; cancelling ctx also tears the connection down.
func (c *Client) Stream(ctx context.Context, sessionID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/research/stream/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("open stream: %s", errorMessage(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: resp.Body, scanner: scanner, logger: c.Logger}, nil
}

// Next returns the next decoded event. It returns io.EOF when the
// sentinel arrives or the transport closes cleanly, and a non-nil error
// on abnormal transport failure. Malformed payload lines are logged and
// skipped; they never abort the stream.
func (s *Stream) Next() (models.StreamEvent, error) {
	if s.closed {
		return models.StreamEvent{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data: ") {
			// Blank separators and "event:" framing lines carry no payload.
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == doneSentinel {
			s.Close()
			return models.StreamEvent{}, io.EOF
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			s.logger.Printf("skipping malformed event line: %q", payload)
			continue
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.Close()
		if errors.Is(err, context.Canceled) {
			// Caller-initiated cancellation ends the stream quietly.
			return models.StreamEvent{}, io.EOF
		}
		return models.StreamEvent{}, fmt.Errorf("stream transport: %w", err)
	}
	s.Close()
	return models.StreamEvent{}, io.EOF
}

// Close releases the underlying connection. Only the first call does
// work; later calls are no-ops.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		err = s.body.Close()
	})
	return err
}
