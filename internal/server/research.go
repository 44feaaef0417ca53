package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/internal/research"
	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/internal/telemetry"
	"github.com/fundscope/researchd/models"
)

var researchTracer = otel.Tracer("researchd/internal/server/research")

// ResearchAgent runs one research pipeline. Satisfied by *research.Agent.
type ResearchAgent interface {
	Research(ctx context.Context, query, model string, cb research.Callbacks) (string, error)
}

// ResearchHandler exposes the research session API: start a run, stream
// its events, fetch its final state, list history.
type ResearchHandler struct {
	store  session.Store
	agent  ResearchAgent
	cfg    *config.Config
	tele   *telemetry.Telemetry
	logger *log.Logger
}

func NewResearchHandler(store session.Store, agent ResearchAgent, cfg *config.Config, tele *telemetry.Telemetry) *ResearchHandler {
	return &ResearchHandler{
		store:  store,
		agent:  agent,
		cfg:    cfg,
		tele:   tele,
		logger: log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/start", h.start)
	g.GET("/stream/:session_id", h.stream)
	g.GET("/history", h.history)
	g.GET("/:session_id", h.get)
}

type startRequest struct {
	Query          string `json:"query"`
	Model          string `json:"model"`
	SearchProvider string `json:"searchProvider"`
}

// start registers a new session and launches the research run in the
// background. The response carries the session in pending state; the
// caller follows up on the stream endpoint.
func (h *ResearchHandler) start(c echo.Context) error {
	ctx, span := researchTracer.Start(c.Request().Context(), "ResearchHandler.start")
	defer span.End()

	var req startRequest
	if err := c.Bind(&req); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Query) == "" {
		span.SetStatus(codes.Error, "query required")
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	model := req.Model
	if model == "" {
		model = h.cfg.Research.DefaultModel
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:             uuid.NewString(),
		Query:          req.Query,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Model:          model,
		SearchProvider: req.SearchProvider,
	}
	if err := h.store.Create(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))
	h.logger.Printf("session %s started: %q (model=%s)", sess.ID, req.Query, model)
	if h.tele != nil {
		h.tele.SessionStarted()
	}

	// The session records the resolved model; the runner gets the raw
	// request value so stage routing can still apply when it is empty.
	go h.runResearch(sess.ID, req.Query, req.Model)

	return c.JSON(http.StatusOK, sess)
}

// runResearch drives the pipeline for one session, persisting progress
// and events as they arrive. It owns the session's terminal transition.
func (h *ResearchHandler) runResearch(id, query, model string) {
	// Detached from the request: the run outlives the HTTP exchange that
	// started it. The stream's max duration bounds runaway work.
	ctx := context.Background()
	started := time.Now()

	if err := h.store.SetStatus(ctx, id, models.StatusRunning); err != nil {
		h.logger.Printf("session %s: set running failed: %v", id, err)
	}

	cb := research.Callbacks{
		Progress: func(msg string) {
			if err := h.store.SetProgress(ctx, id, msg); err != nil {
				h.logger.Printf("session %s: set progress failed: %v", id, err)
			}
		},
		Event: func(ev models.StreamEvent) {
			if err := h.store.AppendEvent(ctx, id, ev); err != nil {
				h.logger.Printf("session %s: append event failed: %v", id, err)
			}
		},
	}

	report, err := h.agent.Research(ctx, query, model, cb)
	if err != nil {
		h.logger.Printf("session %s failed: %v", id, err)
		if ferr := h.store.Fail(ctx, id, err.Error()); ferr != nil {
			h.logger.Printf("session %s: mark failed: %v", id, ferr)
		}
		if h.tele != nil {
			h.tele.SessionFinished(false, time.Since(started))
		}
		return
	}
	if cerr := h.store.Complete(ctx, id, report); cerr != nil {
		h.logger.Printf("session %s: mark completed: %v", id, cerr)
	}
	if h.tele != nil {
		h.tele.SessionFinished(true, time.Since(started))
	}
	h.logger.Printf("session %s completed in %v", id, time.Since(started))
}

// get returns the current session record.
func (h *ResearchHandler) get(c echo.Context) error {
	ctx, span := researchTracer.Start(c.Request().Context(), "ResearchHandler.get")
	defer span.End()
	id := c.Param("session_id")
	span.SetAttributes(attribute.String("session_id", id))

	sess, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

// history lists recent sessions, newest first.
func (h *ResearchHandler) history(c echo.Context) error {
	ctx, span := researchTracer.Start(c.Request().Context(), "ResearchHandler.history")
	defer span.End()

	limit := 20
	if val := strings.TrimSpace(c.QueryParam("limit")); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.store.List(ctx, limit)
	if err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// stream serves the session's event stream via Server-Sent Events. It
// polls the store and forwards state changes as typed events, ending
// with a [DONE] sentinel once the session reaches a terminal status.
func (h *ResearchHandler) stream(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	id := c.Param("session_id")
	ctx, span := researchTracer.Start(ctx, "ResearchHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))
	c.SetRequest(req.WithContext(ctx))

	if _, err := h.store.Get(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			span.SetStatus(codes.Error, "session not found")
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	if h.tele != nil {
		h.tele.StreamOpened()
		defer h.tele.StreamClosed()
	}

	send := func(ev models.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		if h.tele != nil {
			h.tele.EventEmitted(string(ev.Type))
		}
		return nil
	}
	sendDone := func() error {
		_, err := resp.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
		return err
	}

	var (
		lastStatus    models.Status
		lastProgress  string
		eventIdx      int
		reportLen     int
		start         = time.Now()
		lastHeartbeat = time.Now()
	)
	maxDuration := h.cfg.Server.StreamMaxDuration
	heartbeatEvery := h.cfg.Server.HeartbeatInterval
	pollEvery := h.cfg.Server.PollInterval
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		if maxDuration > 0 && time.Since(start) > maxDuration {
			msg := fmt.Sprintf("Research timed out after %.0f minutes.", maxDuration.Minutes())
			if err := send(models.NewErrorEvent(msg)); err != nil {
				return nil
			}
			_ = sendDone()
			if err := h.store.Fail(ctx, id, "Stream timeout"); err != nil {
				h.logger.Printf("session %s: mark stream timeout: %v", id, err)
			}
			span.SetStatus(codes.Error, "stream timeout")
			return nil
		}

		if heartbeatEvery > 0 && time.Since(lastHeartbeat) > heartbeatEvery {
			hb := fmt.Sprintf(`{"type":"heartbeat","time":%d}`, time.Now().Unix())
			if _, err := resp.Write([]byte("event: heartbeat\ndata: " + hb + "\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			lastHeartbeat = time.Now()
		}

		sess, err := h.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil
			}
			// Transient store failures must not kill the stream.
			h.logger.Printf("session %s: stream poll failed: %v", id, err)
		} else {
			if sess.Status != lastStatus {
				if err := send(models.NewStatusEvent(sess.Status)); err != nil {
					return nil
				}
				lastStatus = sess.Status
			}
			if sess.Progress != "" && sess.Progress != lastProgress {
				if err := send(models.NewProgressEvent(sess.Progress)); err != nil {
					return nil
				}
				lastProgress = sess.Progress
			}

			events, err := h.store.Events(ctx, id, eventIdx)
			if err != nil {
				h.logger.Printf("session %s: stream events failed: %v", id, err)
			} else {
				for _, ev := range events {
					if err := send(ev); err != nil {
						return nil
					}
				}
				eventIdx += len(events)
			}

			// The report field is set only at completion; its growth past
			// what chunk events already delivered is forwarded as one chunk.
			if len(sess.Report) > reportLen {
				if err := send(models.NewChunkEvent(sess.Report[reportLen:])); err != nil {
					return nil
				}
				reportLen = len(sess.Report)
			}

			if sess.Status.Terminal() {
				if sess.Status == models.StatusCompleted {
					if err := send(models.NewCompleteEvent(sess.Report)); err != nil {
						return nil
					}
				} else {
					msg := sess.Error
					if msg == "" {
						msg = "Unknown error"
					}
					if err := send(models.NewErrorEvent(msg)); err != nil {
						return nil
					}
				}
				_ = sendDone()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
