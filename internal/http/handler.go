// Package http is the request/response + SSE channel, the plain-HTTP
// sibling of internal/gateway's WebSocket cowork channel: a synchronous
// turn endpoint and an SSE stream of a thread's subsequent events,
// registered onto a shared mux.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
)

// Handler is the HTTP+SSE channel adapter.
type Handler struct {
	cfg    config.HTTPChanConfig
	stores *store.Stores
	runner *runner.Runner
	bus    *bus.Bus
}

func NewHandler(cfg config.HTTPChanConfig, stores *store.Stores, r *runner.Runner, b *bus.Bus) *Handler {
	return &Handler{cfg: cfg, stores: stores, runner: r, bus: b}
}

// RegisterRoutes mounts the channel's routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/messages", h.handleMessage)
	mux.HandleFunc("/v1/threads/", h.handleThreadEvents)
}

type messageRequest struct {
	AgentID  string `json:"agentId"`
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

type messageResponse struct {
	ThreadID string `json:"threadId"`
	Text     string `json:"text"`
}

// handleMessage runs one full turn synchronously and returns its final
// text (no streaming, no session cookie — callers track threadId
// themselves).
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Message == "" {
		http.Error(w, "agentId and message are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	threadID := req.ThreadID
	if threadID == "" {
		manifest, err := h.stores.Threads.Create(ctx, store.Manifest{
			ID:      uuid.NewString(),
			AgentID: req.AgentID,
			Channel: "http",
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		threadID = manifest.ID
	}

	res, err := h.runner.Run(ctx, req.AgentID, threadID, req.Message, runner.Options{Source: "user"})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(messageResponse{ThreadID: threadID, Text: res.Text})
}

// handleThreadEvents streams a single thread's subsequent bus events as
// Server-Sent Events until the client disconnects. It does not replay the
// thread's durable event log first — a caller that needs history calls
// the cowork channel's thread.history method instead.
func (h *Handler) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Path[len("/v1/threads/"):]
	threadID, ok := trimEventsSuffix(threadID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subID := uuid.NewString()
	events := make(chan bus.Event, 32)
	h.bus.Subscribe(subID, func(ev bus.Event) {
		if ev.ThreadID != threadID {
			return
		}
		select {
		case events <- ev:
		default:
			slog.Warn("http: SSE client buffer full, dropping event", "thread", threadID)
		}
	})
	defer h.bus.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}

const eventsSuffix = "/events"

func trimEventsSuffix(path string) (string, bool) {
	if len(path) <= len(eventsSuffix) {
		return "", false
	}
	if path[len(path)-len(eventsSuffix):] != eventsSuffix {
		return "", false
	}
	return path[:len(path)-len(eventsSuffix)], true
}
