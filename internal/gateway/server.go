// Package gateway is the bidirectional WebSocket "cowork" channel used
// by IDE-style collaborators: one connection, many JSON-RPC-shaped
// method calls in, Event Bus frames pushed back out. The method surface
// is the one pkg/protocol declares.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/pkg/protocol"
)

// Request is one client-to-server JSON-RPC-shaped call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Frame is a server-pushed out-of-band event (bus delivery or connection
// lifecycle), distinguished from Response by carrying no ID.
type Frame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Server is the cowork WebSocket channel: it owns no HTTP listener of its
// own (cmd/serve.go mounts Handler on the shared mux alongside
// internal/http) and keeps one goroutine per connected client.
type Server struct {
	cfg    config.CoworkConfig
	stores *store.Stores
	runner *runner.Runner
	bus    *bus.Bus

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// client is one connected cowork peer: its own outbound queue, a
// thread-id binding set by each thread.send, and the cancel func for
// whatever turn is currently in flight (thread.abort targets this).
type client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	threadID string

	mu         sync.Mutex
	agentID    string
	cancelTurn context.CancelFunc
}

func NewServer(cfg config.CoworkConfig, stores *store.Stores, r *runner.Runner, b *bus.Bus) *Server {
	return &Server{
		cfg:     cfg,
		stores:  stores,
		runner:  r,
		bus:     b,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the http.HandlerFunc to mount at the cowork endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("cowork: websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.registerClient(c)
	defer s.unregisterClient(c)

	go s.writeLoop(c)
	s.pushFrame(c, Frame{Event: protocol.EventConnected, Payload: map[string]string{"clientId": c.id}})
	s.readLoop(r.Context(), c)
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.bus.Subscribe(c.id, func(ev bus.Event) {
		c.mu.Lock()
		bound := c.threadID
		c.mu.Unlock()
		if bound != "" && ev.ThreadID != bound {
			return
		}
		s.pushFrame(c, Frame{Event: string(ev.Kind), Payload: ev.Payload})
	})
	slog.Info("cowork client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.bus.Unsubscribe(c.id)
	close(c.send)
	_ = c.conn.Close()
	slog.Info("cowork client disconnected", "id", c.id)
}

func (s *Server) writeLoop(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) pushFrame(c *client, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		slog.Warn("cowork: client send buffer full, dropping frame", "client", c.id, "event", f.Event)
	}
}

func (s *Server) respond(c *client, id string, result interface{}, callErr error) {
	resp := Response{ID: id, Result: result}
	if callErr != nil {
		resp.Error = callErr.Error()
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		slog.Warn("cowork: client send buffer full, dropping response", "client", c.id)
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.respond(c, "", nil, fmt.Errorf("cowork: malformed request: %w", err))
			continue
		}
		go s.dispatch(ctx, c, req)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, req Request) {
	result, err := s.handle(ctx, c, req)
	s.respond(c, req.ID, result, err)
}

func (s *Server) handle(ctx context.Context, c *client, req Request) (interface{}, error) {
	switch req.Method {
	case protocol.MethodThreadSend:
		return s.handleThreadSend(ctx, c, req.Params)
	case protocol.MethodThreadHistory:
		return s.handleThreadHistory(ctx, req.Params)
	case protocol.MethodThreadAbort:
		return s.handleThreadAbort(c)
	case protocol.MethodThreadList:
		return s.handleThreadList(ctx, req.Params)
	case protocol.MethodAgentsList:
		return s.stores.Agents.List(ctx)
	case protocol.MethodAgentsCreate:
		return s.handleAgentsCreate(ctx, req.Params)
	case protocol.MethodAgentsUpdate:
		return s.handleAgentsUpdate(ctx, req.Params)
	case protocol.MethodAgentsDelete:
		return s.handleAgentsDelete(ctx, req.Params)
	case protocol.MethodTriggersList:
		return s.stores.Triggers.List(ctx)
	case protocol.MethodTriggersCreate:
		return s.handleTriggersCreate(ctx, req.Params)
	case protocol.MethodTriggersUpdate:
		return s.handleTriggersUpdate(ctx, req.Params)
	case protocol.MethodTriggersDelete:
		return s.handleTriggersDelete(ctx, req.Params)
	case protocol.MethodTasksList:
		return s.stores.Tasks.ListActive(ctx)
	case protocol.MethodTasksHistory:
		return s.stores.Tasks.ListHistory(ctx)
	case protocol.MethodTasksCreate:
		return s.handleTasksCreate(ctx, req.Params)
	case protocol.MethodTasksUpdate:
		return s.handleTasksUpdate(ctx, req.Params)
	case protocol.MethodTasksClose:
		return s.handleTasksClose(ctx, req.Params)
	case protocol.MethodUsageQuery:
		return s.handleUsageQuery(ctx, req.Params)
	default:
		return nil, fmt.Errorf("cowork: unknown method %q", req.Method)
	}
}

type threadSendParams struct {
	ThreadID string `json:"threadId"`
	AgentID  string `json:"agentId"`
	Message  string `json:"message"`
}

func (s *Server) handleThreadSend(ctx context.Context, c *client, raw json.RawMessage) (interface{}, error) {
	var p threadSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid thread.send params: %w", err)
	}

	threadID := p.ThreadID
	if threadID == "" {
		manifest, err := s.stores.Threads.Create(ctx, store.Manifest{
			ID:      uuid.NewString(),
			AgentID: p.AgentID,
			Channel: "cowork",
		})
		if err != nil {
			return nil, err
		}
		threadID = manifest.ID
	}

	c.mu.Lock()
	c.threadID = threadID
	c.agentID = p.AgentID
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelTurn = nil
		c.mu.Unlock()
	}()

	res, err := s.runner.Run(turnCtx, p.AgentID, threadID, p.Message, runner.Options{Source: "user"})
	if err != nil {
		return nil, err
	}
	return map[string]string{"threadId": threadID, "text": res.Text}, nil
}

func (s *Server) handleThreadAbort(c *client) (interface{}, error) {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel == nil {
		return map[string]bool{"aborted": false}, nil
	}
	cancel()
	return map[string]bool{"aborted": true}, nil
}

type threadHistoryParams struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) handleThreadHistory(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p threadHistoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid thread.history params: %w", err)
	}
	return s.stores.Threads.LoadMessages(ctx, p.ThreadID)
}

type threadListParams struct {
	AgentID string `json:"agentId"`
}

func (s *Server) handleThreadList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p threadListParams
	_ = json.Unmarshal(raw, &p)
	return s.stores.Threads.List(ctx, p.AgentID)
}

func (s *Server) handleAgentsCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a store.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("cowork: invalid agents.create params: %w", err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.stores.Agents.Create(ctx, a)
}

func (s *Server) handleAgentsUpdate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a store.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("cowork: invalid agents.update params: %w", err)
	}
	return s.stores.Agents.Update(ctx, a, store.UpdateOpts{})
}

func (s *Server) handleAgentsDelete(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid agents.delete params: %w", err)
	}
	return nil, s.stores.Agents.Delete(ctx, p.ID)
}

func (s *Server) handleTriggersCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var t store.Trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("cowork: invalid triggers.create params: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.stores.Triggers.Create(ctx, t)
}

func (s *Server) handleTriggersUpdate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var t store.Trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("cowork: invalid triggers.update params: %w", err)
	}
	return s.stores.Triggers.Update(ctx, t)
}

func (s *Server) handleTriggersDelete(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid triggers.delete params: %w", err)
	}
	return nil, s.stores.Triggers.Delete(ctx, p.ID)
}

func (s *Server) handleTasksCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var t store.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("cowork: invalid tasks.create params: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = store.TaskStatusActive
	}
	return s.stores.Tasks.Create(ctx, t)
}

func (s *Server) handleTasksUpdate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var t store.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("cowork: invalid tasks.update params: %w", err)
	}
	return s.stores.Tasks.Update(ctx, t)
}

func (s *Server) handleTasksClose(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		ID     string           `json:"id"`
		Status store.TaskStatus `json:"status"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid tasks.close params: %w", err)
	}
	if p.Status == "" {
		p.Status = store.TaskStatusDone
	}
	return s.stores.Tasks.Close(ctx, p.ID, p.Status)
}

type usageQueryParams struct {
	AgentID  string `json:"agentId"`
	ThreadID string `json:"threadId"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleUsageQuery(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p usageQueryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("cowork: invalid usage.query params: %w", err)
	}
	return s.stores.Usage.Query(ctx, store.UsageFilter{AgentID: p.AgentID, ThreadID: p.ThreadID, Limit: p.Limit})
}

// shutdownTimeout is a grace period for in-flight dispatch goroutines; no
// close path in this package references it, so closing waits on nothing
// but the listener's own context cancellation.
const shutdownTimeout = 5 * time.Second
