package relay

import (
	"encoding/json"
)

// The synthetic CDP surface. These methods are answered locally so that
// unmodified CDP clients can bootstrap against the single tab the extension
// exposes; nothing here touches the extension connection.

type setDiscoverTargetsParams struct {
	Discover bool `json:"discover"`
}

type setAutoAttachParams struct {
	AutoAttach      bool `json:"autoAttach"`
	WaitForDebugger bool `json:"waitForDebugger"`
	Flatten         bool `json:"flatten"`
}

type attachToTargetParams struct {
	TargetID string `json:"targetId"`
	Flatten  bool   `json:"flatten"`
}

type detachFromTargetParams struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
}

type getTargetInfoParams struct {
	TargetID string `json:"targetId"`
}

type attachedEventParams struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         targetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

type detachedEventParams struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// handleSynthetic answers a client command locally when the method belongs to
// the synthetic surface. Returns false when the command must be forwarded to
// the extension instead. The response is always queued before any events it
// implies; clients expect the reply to a command before the events that
// follow from it.
func (r *Relay) handleSynthetic(c *clientConn, id int64, method, sessionID string, params json.RawMessage) bool {
	var resp *cdpResponse
	var postEvents []*cdpEvent

	r.mu.Lock()
	switch method {
	case "Browser.getVersion":
		resp = resultResponse(id, sessionID, marshalParams(r.version))

	case "Browser.setDownloadBehavior":
		resp = resultResponse(id, sessionID, nil)

	case "Target.setDiscoverTargets":
		var p setDiscoverTargetsParams
		json.Unmarshal(params, &p)
		toggledOn := p.Discover && !c.discoverTargets
		c.discoverTargets = p.Discover
		resp = resultResponse(id, sessionID, nil)
		if toggledOn && r.target != nil {
			postEvents = append(postEvents, &cdpEvent{
				Method: "Target.targetCreated",
				Params: marshalParams(map[string]any{"targetInfo": *r.target}),
			})
		}

	case "Target.getTargets":
		infos := []targetInfo{}
		if r.target != nil {
			infos = append(infos, *r.target)
		}
		resp = resultResponse(id, sessionID, marshalParams(map[string]any{"targetInfos": infos}))

	case "Target.getTargetInfo":
		var p getTargetInfoParams
		json.Unmarshal(params, &p)
		switch {
		case r.target == nil:
			resp = errorResponse(id, sessionID, codeInvalidParams, "no such target")
		case p.TargetID != "" && p.TargetID != r.target.TargetID:
			resp = errorResponse(id, sessionID, codeInvalidParams, "no such target")
		default:
			resp = resultResponse(id, sessionID, marshalParams(map[string]any{"targetInfo": *r.target}))
		}

	case "Target.setAutoAttach":
		// Session-scoped auto-attach (frames within a page) has nothing to
		// attach through the relay; acknowledge and move on.
		if sessionID != "" {
			resp = resultResponse(id, sessionID, nil)
			break
		}
		var p setAutoAttachParams
		json.Unmarshal(params, &p)
		c.autoAttach = p.AutoAttach
		c.waitForDebugger = p.WaitForDebugger
		resp = resultResponse(id, sessionID, nil)
		if p.AutoAttach && r.target != nil && len(r.sessions.sessionsOf(c.id)) == 0 {
			binding := r.attachLocked(c, p.WaitForDebugger, true)
			postEvents = append(postEvents, attachedEvent(binding, *r.target))
		}

	case "Target.attachToTarget":
		var p attachToTargetParams
		json.Unmarshal(params, &p)
		if r.target == nil || p.TargetID != r.target.TargetID {
			resp = errorResponse(id, sessionID, codeInvalidParams, "no such target")
			break
		}
		binding := r.attachLocked(c, false, false)
		resp = resultResponse(id, sessionID, marshalParams(map[string]any{"sessionId": binding.sessionID}))
		postEvents = append(postEvents, attachedEvent(binding, *r.target))

	case "Target.detachFromTarget":
		var p detachFromTargetParams
		json.Unmarshal(params, &p)
		sid := p.SessionID
		if sid == "" {
			sid = sessionID
		}
		if !r.sessions.owns(c.id, sid) {
			resp = errorResponse(id, sessionID, codeSessionNotOwned, "session not owned")
			break
		}
		binding := r.sessions.unbind(sid)
		resp = resultResponse(id, sessionID, nil)
		postEvents = append(postEvents, &cdpEvent{
			Method: "Target.detachedFromTarget",
			Params: marshalParams(detachedEventParams{SessionID: binding.sessionID, TargetID: binding.targetID}),
		})

	case "Target.activateTarget":
		// Forward when an extension can act on it; otherwise acknowledge so
		// bootstrap sequences don't stall.
		if r.ext != nil {
			r.mu.Unlock()
			return false
		}
		resp = resultResponse(id, sessionID, nil)

	default:
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	c.sendResponse(resp)
	for _, evt := range postEvents {
		if !c.sendEvent(evt) {
			metricDroppedEvents.Inc()
		}
	}
	return true
}

// attachLocked allocates a session for a client against the synthetic target
// and records the binding. Caller holds the relay mutex and has checked that
// the target exists.
func (r *Relay) attachLocked(c *clientConn, waitingForDebugger, autoAttached bool) *sessionBinding {
	binding := &sessionBinding{
		sessionID:          newSessionID(),
		clientID:           c.id,
		targetID:           r.target.TargetID,
		autoAttached:       autoAttached,
		waitingForDebugger: waitingForDebugger,
	}
	r.sessions.bind(binding)
	return binding
}

func attachedEvent(b *sessionBinding, info targetInfo) *cdpEvent {
	return &cdpEvent{
		Method: "Target.attachedToTarget",
		Params: marshalParams(attachedEventParams{
			SessionID:          b.sessionID,
			TargetInfo:         info,
			WaitingForDebugger: b.waitingForDebugger,
		}),
	}
}
