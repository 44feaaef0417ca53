// Package client is the Go consumer of the research session API: it
// starts runs, iterates their event streams, and tracks run state the
// way the web chat panel does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/fundscope/researchd/models"
)

// Client calls the research session endpoints of one server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New creates a client for the given server base URL, e.g.
// "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		Logger:     log.New(log.Writer(), "[CLIENT] ", log.LstdFlags),
	}
}

// Start submits a research query and returns the pending session. The
// caller must ensure query is non-empty after trimming. Failures are
// returned with the server's message; nothing is retried.
func (c *Client) Start(ctx context.Context, query, model string) (*models.Session, error) {
	body, err := json.Marshal(map[string]string{"query": query, "model": model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/research/start", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start research: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("start research: %s", errorMessage(resp))
	}
	var sess models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("start research: decode response: %w", err)
	}
	return &sess, nil
}

// Get fetches the current session record.
func (c *Client) Get(ctx context.Context, id string) (*models.Session, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/research/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get session: %s", errorMessage(resp))
	}
	var sess models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("get session: decode response: %w", err)
	}
	return &sess, nil
}

// History lists recent sessions, newest first. limit <= 0 uses the
// server default.
func (c *Client) History(ctx context.Context, limit int) ([]*models.Session, error) {
	url := c.BaseURL + "/api/research/history"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: %s", errorMessage(resp))
	}
	var sessions []*models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("history: decode response: %w", err)
	}
	return sessions, nil
}

// SaveReport writes the session's report to research-<id>.md under dir
// and returns the path. Empty dir means the working directory.
func (c *Client) SaveReport(sess *models.Session, dir string) (string, error) {
	if sess.Report == "" {
		return "", fmt.Errorf("session %s has no report", sess.ID)
	}
	path := fmt.Sprintf("research-%s.md", sess.ID)
	if dir != "" {
		path = strings.TrimRight(dir, "/") + "/" + path
	}
	if err := os.WriteFile(path, []byte(sess.Report), 0o644); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return path, nil
}

// ShareURL builds the shareable web link for a session.
func ShareURL(origin, sessionID string) string {
	return strings.TrimRight(origin, "/") + "/research?session=" + sessionID
}

// errorMessage extracts a human-readable message from a non-2xx
// response. Servers answer with {"message": ...} or {"error": ...};
// anything else falls back to the HTTP status.
func errorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return resp.Status
}
