package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The forwarding engine: everything that is not answered synthetically goes
// through here, plus the extension side of the wire.

// forwardCommand rewrites a client command onto a relay-scoped id and sends
// it to the extension.
func (r *Relay) forwardCommand(c *clientConn, frame *clientFrame) {
	id := *frame.ID

	r.mu.Lock()
	if frame.SessionID != "" && !r.sessions.owns(c.id, frame.SessionID) {
		r.mu.Unlock()
		c.sendResponse(errorResponse(id, frame.SessionID, codeSessionNotOwned, "session not owned"))
		return
	}
	ext := r.ext
	if ext == nil {
		r.mu.Unlock()
		c.sendResponse(errorResponse(id, frame.SessionID, codeServerError, "browser not connected"))
		return
	}
	if ext.queue.full() {
		r.mu.Unlock()
		c.sendResponse(errorResponse(id, frame.SessionID, codeServerError, "extension busy"))
		return
	}
	pending := r.table.allocate(c.id, id, frame.Method, frame.SessionID,
		r.opts.deadlineFor(frame.Method, time.Now()))
	r.mu.Unlock()

	cmd := &cdpCommand{
		ID:        pending.relayID,
		Method:    frame.Method,
		SessionID: frame.SessionID,
		Params:    frame.Params,
	}
	if err := ext.sendCommand(cmd); err != nil {
		r.mu.Lock()
		r.table.resolve(pending.relayID)
		r.mu.Unlock()
		c.sendResponse(errorResponse(id, frame.SessionID, codeServerError, "browser not connected"))
	}
}

// handleExtension upgrades the producer on /extension. A newer extension
// always wins: the previous one, if any, is closed with code 1000 and its
// in-flight commands are errored out. Clients stay connected throughout.
func (r *Relay) handleExtension(w http.ResponseWriter, req *http.Request) {
	if r.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	extensionID, ok, reason := r.authorizeExtension(req)
	if !ok {
		r.log.Warn("extension upgrade rejected", "reason", reason, "remote", req.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	e := &extensionConn{
		extensionID: extensionID,
		origin:      req.Header.Get("Origin"),
		ws:          ws,
		queue:       newSendQueue(r.opts.MaxClientQueueBytes, r.opts.MaxClientQueueFrames),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ws.Close()
		return
	}
	old := r.ext
	r.ext = e
	var drained []*pendingCommand
	var cleared []*sessionBinding
	if old != nil {
		drained = r.table.drainAll()
		cleared = r.sessions.clear()
		r.target = nil
		r.version = defaultBrowserVersion()
	}
	r.mu.Unlock()

	if old != nil {
		metricExtensionReplacements.Inc()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced")
		old.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		old.queue.close()
		old.ws.Close()
		r.failPending(drained, "browser disconnected")
		r.notifySessionsDetached(cleared)
		r.log.Info("extension replaced", "old", old.extensionID, "new", extensionID)
	} else {
		r.log.Info("extension connected", "extension", extensionID)
	}

	go e.writePump(r.opts.PingInterval)

	// The extension must announce its target promptly or it is considered
	// unresponsive.
	handshake := time.AfterFunc(handshakeTimeout, func() {
		if !e.announced.Load() {
			r.log.Warn("extension never announced a target", "extension", extensionID)
			e.ws.Close()
		}
	})
	defer handshake.Stop()

	r.extensionReadLoop(e)
}

// extensionReadLoop reads frames from the extension until the connection
// dies. The extension is a trusted producer: protocol violations close the
// connection with 1002 instead of being tolerated.
func (r *Relay) extensionReadLoop(e *extensionConn) {
	defer func() {
		close(e.done)
		r.extensionLost(e)
	}()

	liveness := 2 * r.opts.PingInterval
	e.ws.SetReadLimit(maxFrameSize)
	e.ws.SetReadDeadline(time.Now().Add(liveness))

	for {
		msgType, data, err := e.ws.ReadMessage()
		if err != nil {
			return
		}
		e.ws.SetReadDeadline(time.Now().Add(liveness))
		if msgType != websocket.TextMessage {
			r.closeProtocolError(e, "binary frame")
			return
		}
		if !r.handleExtensionFrame(e, data) {
			return
		}
	}
}

func (r *Relay) closeProtocolError(e *extensionConn, detail string) {
	r.log.Error("extension protocol error", "detail", detail)
	msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, detail)
	e.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	e.ws.Close()
}

// handleExtensionFrame dispatches one frame from the extension. Returns
// false when the connection should be torn down.
func (r *Relay) handleExtensionFrame(e *extensionConn, data []byte) bool {
	var frame extensionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.closeProtocolError(e, "malformed frame")
		return false
	}

	switch frame.Method {
	case "":
		if frame.ID == nil {
			r.closeProtocolError(e, "frame without id or method")
			return false
		}
		r.resolveResponse(frame)
	case "pong":
		// Keepalive reply; the read deadline was already reset.
	case "log":
		r.forwardExtensionLog(frame.Params)
	case "helo":
		r.seedBrowserVersion(frame.Params)
	case "forwardCDPEvent":
		r.routeForwardedEvent(e, frame.Params)
	default:
		r.log.Debug("unknown extension message", "method", frame.Method)
	}
	return true
}

// resolveResponse correlates an extension response back to the client that
// issued the command and restores the client's original id.
func (r *Relay) resolveResponse(frame extensionFrame) {
	r.mu.Lock()
	pending := r.table.resolve(*frame.ID)
	var owner *clientConn
	if pending != nil {
		owner = r.clients[pending.clientID]
	}
	r.mu.Unlock()

	if pending == nil {
		metricUnknownResponses.Inc()
		r.log.Debug("response for unknown relay id", "relayId", *frame.ID)
		return
	}
	if owner == nil {
		// Client left while the command was in flight.
		return
	}

	sessionID := frame.SessionID
	if sessionID == "" {
		sessionID = pending.sessionID
	}
	resp := &cdpResponse{
		ID:        pending.clientCmdID,
		SessionID: sessionID,
		Result:    frame.Result,
		Error:     frame.Error,
	}
	if resp.Result == nil && resp.Error == nil {
		resp.Result = emptyResult
	}
	owner.sendResponse(resp)
}

// routeForwardedEvent unwraps a forwardCDPEvent frame and routes it. Events
// with a sessionId go to the owning client only; browser-level events are
// broadcast. Target lifecycle events are consumed for synthetic-target
// bookkeeping.
func (r *Relay) routeForwardedEvent(e *extensionConn, params json.RawMessage) {
	var fe forwardedEvent
	if err := json.Unmarshal(params, &fe); err != nil {
		r.log.Debug("malformed forwardCDPEvent", "err", err)
		return
	}

	switch fe.Method {
	case "Target.attachedToTarget":
		r.handleTargetAnnounce(e, fe.Params)
		return
	case "Target.detachedFromTarget":
		r.handleExtensionDetach(fe.Params)
		return
	case "Target.targetInfoChanged":
		r.refreshTargetInfo(fe.Params)
		// Fall through to routing: attached clients care about the change.
	case "Page.frameNavigated":
		r.refreshTargetURL(fe.Params)
	}

	evt := &cdpEvent{Method: fe.Method, SessionID: fe.SessionID, Params: fe.Params}

	if fe.SessionID == "" {
		r.broadcastEvent(evt)
		return
	}

	r.mu.Lock()
	owner := r.clients[r.sessions.owner(fe.SessionID)]
	r.mu.Unlock()

	if owner == nil {
		metricUnownedEvents.Inc()
		r.log.Debug("event for unowned session", "method", fe.Method, "session", shortID(fe.SessionID))
		return
	}
	if !owner.sendEvent(evt) {
		metricDroppedEvents.Inc()
	}
}

// broadcastEvent delivers a browser-level event to every open client.
func (r *Relay) broadcastEvent(evt *cdpEvent) {
	r.mu.Lock()
	clients := make([]*clientConn, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		if !c.sendEvent(evt) {
			metricDroppedEvents.Inc()
		}
	}
}

// handleTargetAnnounce processes the extension's target announcement: the
// handshake frame that creates (or re-creates) the synthetic target.
func (r *Relay) handleTargetAnnounce(e *extensionConn, params json.RawMessage) {
	var p attachedToTargetParams
	if err := json.Unmarshal(params, &p); err != nil {
		r.log.Debug("malformed target announcement", "err", err)
		return
	}
	var info targetInfo
	if err := json.Unmarshal(p.TargetInfo, &info); err != nil || info.TargetID == "" {
		r.log.Debug("target announcement without targetInfo")
		return
	}
	if info.Type == "" {
		info.Type = "page"
	}
	if info.Type != "page" {
		return
	}
	info.Attached = true
	if info.BrowserContextID == "" {
		info.BrowserContextID = "default"
	}

	e.announced.Store(true)

	type autoAttachTask struct {
		client  *clientConn
		binding *sessionBinding
	}
	var created bool
	var discoverers []*clientConn
	var attaches []autoAttachTask

	r.mu.Lock()
	if r.ext != e {
		r.mu.Unlock()
		return
	}
	created = r.target == nil
	r.target = &info
	if created {
		for _, c := range r.clients {
			if c.discoverTargets {
				discoverers = append(discoverers, c)
			}
			if c.autoAttach && len(r.sessions.sessionsOf(c.id)) == 0 {
				attaches = append(attaches, autoAttachTask{client: c, binding: r.attachLocked(c, c.waitForDebugger, true)})
			}
		}
	}
	r.mu.Unlock()

	if !created {
		return
	}
	r.log.Info("target announced", "targetId", info.TargetID, "url", info.URL)

	createdEvt := &cdpEvent{
		Method: "Target.targetCreated",
		Params: marshalParams(map[string]any{"targetInfo": info}),
	}
	for _, c := range discoverers {
		if !c.sendEvent(createdEvt) {
			metricDroppedEvents.Inc()
		}
	}
	for _, task := range attaches {
		if !task.client.sendEvent(attachedEvent(task.binding, info)) {
			metricDroppedEvents.Inc()
		}
	}
}

// handleExtensionDetach handles the extension reporting a dead session. If a
// client owns it, the binding is destroyed and the client is told.
func (r *Relay) handleExtensionDetach(params json.RawMessage) {
	var p detachedEventParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" {
		return
	}

	r.mu.Lock()
	binding := r.sessions.unbind(p.SessionID)
	var owner *clientConn
	if binding != nil {
		owner = r.clients[binding.clientID]
	}
	r.mu.Unlock()

	if binding == nil || owner == nil {
		return
	}
	evt := &cdpEvent{
		Method: "Target.detachedFromTarget",
		Params: marshalParams(detachedEventParams{SessionID: binding.sessionID, TargetID: binding.targetID}),
	}
	if !owner.sendEvent(evt) {
		metricDroppedEvents.Inc()
	}
}

// refreshTargetInfo updates the synthetic target from a targetInfoChanged
// event.
func (r *Relay) refreshTargetInfo(params json.RawMessage) {
	var p struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TargetInfo.TargetID == "" {
		return
	}

	r.mu.Lock()
	if r.target != nil && r.target.TargetID == p.TargetInfo.TargetID {
		r.target.Title = p.TargetInfo.Title
		r.target.URL = p.TargetInfo.URL
	}
	r.mu.Unlock()
}

// refreshTargetURL updates the synthetic target's url from a main-frame
// navigation.
func (r *Relay) refreshTargetURL(params json.RawMessage) {
	var p frameNavigatedParams
	if err := json.Unmarshal(params, &p); err != nil || p.Frame.URL == "" || p.Frame.ParentID != "" {
		return
	}

	r.mu.Lock()
	if r.target != nil {
		r.target.URL = p.Frame.URL
	}
	r.mu.Unlock()
}

// extensionLost cleans up after the extension connection dies. Every pending
// command is errored, every session binding cleared; clients stay connected
// and may retry once a new extension attaches.
func (r *Relay) extensionLost(e *extensionConn) {
	r.mu.Lock()
	if r.ext != e {
		// Already replaced; the replacement path did the cleanup.
		r.mu.Unlock()
		e.queue.close()
		e.ws.Close()
		return
	}
	r.ext = nil
	drained := r.table.drainAll()
	cleared := r.sessions.clear()
	hadTarget := r.target != nil
	var destroyedID string
	if r.target != nil {
		destroyedID = r.target.TargetID
	}
	r.target = nil
	r.version = defaultBrowserVersion()
	var discoverers []*clientConn
	for _, c := range r.clients {
		if c.discoverTargets {
			discoverers = append(discoverers, c)
		}
	}
	r.mu.Unlock()

	e.queue.close()
	e.ws.Close()

	r.failPending(drained, "browser disconnected")
	r.notifySessionsDetached(cleared)

	if hadTarget {
		destroyedEvt := &cdpEvent{
			Method: "Target.targetDestroyed",
			Params: marshalParams(map[string]string{"targetId": destroyedID}),
		}
		for _, c := range discoverers {
			if !c.sendEvent(destroyedEvt) {
				metricDroppedEvents.Inc()
			}
		}
	}

	r.log.Info("extension disconnected", "extension", e.extensionID,
		"drained", len(drained), "sessions", len(cleared))
}

// failPending delivers an error reply for each drained pending command to
// whichever owners are still connected.
func (r *Relay) failPending(drained []*pendingCommand, message string) {
	if len(drained) == 0 {
		return
	}
	r.mu.Lock()
	owners := make(map[*pendingCommand]*clientConn, len(drained))
	for _, cmd := range drained {
		owners[cmd] = r.clients[cmd.clientID]
	}
	r.mu.Unlock()

	for cmd, owner := range owners {
		if owner != nil {
			owner.sendResponse(errorResponse(cmd.clientCmdID, cmd.sessionID, codeServerError, message))
		}
	}
}

// notifySessionsDetached tells each owner its sessions are gone.
func (r *Relay) notifySessionsDetached(cleared []*sessionBinding) {
	if len(cleared) == 0 {
		return
	}
	r.mu.Lock()
	owners := make(map[*sessionBinding]*clientConn, len(cleared))
	for _, b := range cleared {
		owners[b] = r.clients[b.clientID]
	}
	r.mu.Unlock()

	for b, owner := range owners {
		if owner == nil {
			continue
		}
		evt := &cdpEvent{
			Method: "Target.detachedFromTarget",
			Params: marshalParams(detachedEventParams{SessionID: b.sessionID, TargetID: b.targetID}),
		}
		if !owner.sendEvent(evt) {
			metricDroppedEvents.Inc()
		}
	}
}

// forwardExtensionLog maps an out-of-band extension log frame onto the
// relay's logger.
func (r *Relay) forwardExtensionLog(params json.RawMessage) {
	var p extensionLog
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	args := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		args = append(args, string(a))
	}

	var level slog.Level
	switch p.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	r.log.Log(context.Background(), level, "extension log", "args", args)
}

// seedBrowserVersion applies the optional helo frame to Browser.getVersion.
func (r *Relay) seedBrowserVersion(params json.RawMessage) {
	var p heloParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	r.mu.Lock()
	if p.Product != "" {
		r.version.Product = p.Product
	}
	if p.UserAgent != "" {
		r.version.UserAgent = p.UserAgent
	}
	if p.Revision != "" {
		r.version.Revision = p.Revision
	}
	r.mu.Unlock()
}
