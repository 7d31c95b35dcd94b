package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay is the CDP relay server. It owns every connection record; the
// correlation table, session router, and synthetic target are guarded by one
// mutex held only across in-memory mutation, never across I/O.
type Relay struct {
	opts Options
	log  *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*clientConn
	ext      *extensionConn
	table    *correlationTable
	sessions *sessionRouter
	target   *targetInfo
	version  browserVersion
	closed   bool

	sweepStop chan struct{}
}

// New creates a Relay and starts its deadline sweeper.
func New(opts Options) *Relay {
	opts = opts.withDefaults()
	r := &Relay{
		opts:      opts,
		log:       opts.Logger,
		clients:   make(map[string]*clientConn),
		table:     newCorrelationTable(),
		sessions:  newSessionRouter(),
		version:   defaultBrowserVersion(),
		sweepStop: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced per-endpoint by the gate before the
			// upgrade is attempted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go r.sweepLoop()
	return r
}

// Handler returns the HTTP surface: the two WebSocket endpoints, the status
// and bootstrap JSON endpoints, and Prometheus metrics. Everything else,
// including wrong methods on known paths, is 404.
func (r *Relay) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	})
	mux.Get("/extension/status", r.handleStatus)
	mux.Get("/json/version", r.handleJSONVersion)
	mux.Get("/json", r.handleJSONList)
	mux.Get("/json/list", r.handleJSONList)
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	mux.Get("/cdp", r.handleCDP)
	mux.Get("/extension", r.handleExtension)
	return mux
}

// ExtensionConnected reports whether an extension is currently open.
func (r *Relay) ExtensionConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ext != nil
}

// ClientCount returns the number of open client connections.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// handleCDP upgrades an automation client on /cdp.
func (r *Relay) handleCDP(w http.ResponseWriter, req *http.Request) {
	if r.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if ok, reason := r.authorizeClient(req); !ok {
		r.log.Warn("client upgrade rejected", "reason", reason, "remote", req.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	c := &clientConn{
		id:     uuid.NewString(),
		remote: req.RemoteAddr,
		ws:     ws,
		queue:  newSendQueue(r.opts.MaxClientQueueBytes, r.opts.MaxClientQueueFrames),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ws.Close()
		return
	}
	r.clients[c.id] = c
	open := len(r.clients)
	r.mu.Unlock()

	metricOpenClients.Inc()
	r.log.Info("client connected", "client", shortID(c.id), "remote", c.remote, "open", open)

	go c.writePump(r.opts.PingInterval)
	r.clientReadLoop(c)
}

// clientReadLoop reads frames from one client until the connection dies.
// Runs on the upgrade handler's goroutine.
func (r *Relay) clientReadLoop(c *clientConn) {
	defer func() {
		close(c.done)
		r.removeClient(c)
	}()

	liveness := 2 * r.opts.PingInterval
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(liveness))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(liveness))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(liveness))
		if msgType != websocket.TextMessage {
			// Binary frames are not CDP; drop them. Clients get leniency
			// where the extension would get a 1002 close.
			continue
		}
		r.handleClientFrame(c, data)
	}
}

// handleClientFrame parses and dispatches one client frame. Malformed frames
// are answered with a best-effort error when an id is parseable, otherwise
// ignored.
func (r *Relay) handleClientFrame(c *clientConn, data []byte) {
	var frame clientFrame
	err := json.Unmarshal(data, &frame)
	if frame.ID == nil {
		r.log.Debug("unparseable client frame", "client", shortID(c.id), "err", err)
		return
	}
	if err != nil {
		// The id decoded but another field has the wrong type.
		c.sendResponse(errorResponse(*frame.ID, "", codeInvalidRequest, "malformed frame"))
		return
	}
	if frame.Method == "" {
		c.sendResponse(errorResponse(*frame.ID, frame.SessionID, codeInvalidRequest, "method missing"))
		return
	}
	if r.handleSynthetic(c, *frame.ID, frame.Method, frame.SessionID, frame.Params) {
		return
	}
	r.forwardCommand(c, &frame)
}

// removeClient unregisters a client and cleans up everything it owned. Its
// in-flight commands are cancelled; late extension replies for them resolve
// to unknown relay ids and are dropped.
func (r *Relay) removeClient(c *clientConn) {
	r.mu.Lock()
	if _, ok := r.clients[c.id]; !ok {
		r.mu.Unlock()
		c.queue.close()
		c.ws.Close()
		return
	}
	delete(r.clients, c.id)
	cancelled := r.table.removeClient(c.id)
	sessions := r.sessions.removeClient(c.id)
	open := len(r.clients)
	r.mu.Unlock()

	metricOpenClients.Dec()
	c.queue.close()
	c.ws.Close()
	r.log.Info("client disconnected", "client", shortID(c.id),
		"cancelled", len(cancelled), "sessions", len(sessions), "open", open)
}

// sweepLoop expires pending commands past their deadline. One sweep covers
// the whole table; expired commands get exactly one error reply.
func (r *Relay) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			expired := r.table.expire(time.Now())
			owners := make(map[*pendingCommand]*clientConn, len(expired))
			for _, cmd := range expired {
				owners[cmd] = r.clients[cmd.clientID]
			}
			r.mu.Unlock()

			for cmd, owner := range owners {
				metricTimedOutCommands.Inc()
				r.log.Warn("command timed out", "method", cmd.method, "relayId", cmd.relayID)
				if owner != nil {
					owner.sendResponse(errorResponse(cmd.clientCmdID, cmd.sessionID, codeServerError, "relay timeout"))
				}
			}
		}
	}
}

// Close shuts the relay down: refuse new upgrades, error all pending
// commands, send close frames, and wait up to the grace window before
// terminating stragglers.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.sweepStop)
	drained := r.table.drainAll()
	clients := make([]*clientConn, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	ext := r.ext
	r.ext = nil
	r.mu.Unlock()

	for _, cmd := range drained {
		for _, c := range clients {
			if c.id == cmd.clientID {
				c.sendResponse(errorResponse(cmd.clientCmdID, cmd.sessionID, codeServerError, "shutdown"))
			}
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	deadline := time.Now().Add(shutdownGrace)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	for _, c := range clients {
		c.ws.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	}
	if ext != nil {
		ext.ws.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	}

	// Give peers until the deadline to close cleanly, then terminate.
	for _, c := range clients {
		select {
		case <-c.done:
		case <-time.After(time.Until(deadline)):
		}
		c.queue.close()
		c.ws.Close()
	}
	if ext != nil {
		select {
		case <-ext.done:
		case <-time.After(time.Until(deadline)):
		}
		ext.queue.close()
		ext.ws.Close()
	}

	r.log.Info("relay closed", "drained", len(drained))
	return nil
}

// handleStatus serves GET /extension/status.
func (r *Relay) handleStatus(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	connected := r.ext != nil
	var extensionID string
	if r.ext != nil {
		extensionID = r.ext.extensionID
	}
	clients := len(r.clients)
	r.mu.Unlock()

	payload := map[string]any{
		"connected": connected,
		"clients":   clients,
	}
	if extensionID != "" {
		payload["extensionId"] = extensionID
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(payload)
}

// handleJSONVersion serves the minimal /json/version clients need to
// bootstrap. Token-gated the same way /cdp is.
func (r *Relay) handleJSONVersion(w http.ResponseWriter, req *http.Request) {
	if ok, reason := r.authorizeClient(req); !ok {
		r.log.Warn("version request rejected", "reason", reason, "remote", req.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.mu.Lock()
	connected := r.ext != nil
	product := r.version.Product
	r.mu.Unlock()

	payload := map[string]any{
		"Browser":          product,
		"Protocol-Version": "1.3",
	}
	if connected {
		payload["webSocketDebuggerUrl"] = "ws://" + req.Host + "/cdp"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// handleJSONList serves /json and /json/list: at most one entry, the
// synthetic target.
func (r *Relay) handleJSONList(w http.ResponseWriter, req *http.Request) {
	if ok, reason := r.authorizeClient(req); !ok {
		r.log.Warn("list request rejected", "reason", reason, "remote", req.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.mu.Lock()
	list := make([]map[string]string, 0, 1)
	if r.target != nil {
		list = append(list, map[string]string{
			"id":                   r.target.TargetID,
			"type":                 r.target.Type,
			"title":                r.target.Title,
			"url":                  r.target.URL,
			"webSocketDebuggerUrl": "ws://" + req.Host + "/cdp",
		})
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
