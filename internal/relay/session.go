package relay

// sessionBinding records which client owns a CDP session and how it was
// created.
type sessionBinding struct {
	sessionID          string
	clientID           string
	targetID           string
	autoAttached       bool
	waitingForDebugger bool
}

// sessionRouter maps sessionIds to owning clients. Every session has exactly
// one owner; events for unowned sessions are dropped by the caller. Not
// self-locking: all access happens under the relay mutex.
type sessionRouter struct {
	bySession map[string]*sessionBinding
	byClient  map[string]map[string]*sessionBinding
}

func newSessionRouter() *sessionRouter {
	return &sessionRouter{
		bySession: make(map[string]*sessionBinding),
		byClient:  make(map[string]map[string]*sessionBinding),
	}
}

// bind creates a binding. The sessionID must be fresh.
func (s *sessionRouter) bind(b *sessionBinding) {
	s.bySession[b.sessionID] = b
	clientSessions, ok := s.byClient[b.clientID]
	if !ok {
		clientSessions = make(map[string]*sessionBinding)
		s.byClient[b.clientID] = clientSessions
	}
	clientSessions[b.sessionID] = b
}

// owner returns the client id owning a session, or "" if unowned.
func (s *sessionRouter) owner(sessionID string) string {
	if b, ok := s.bySession[sessionID]; ok {
		return b.clientID
	}
	return ""
}

// owns reports whether clientID owns sessionID.
func (s *sessionRouter) owns(clientID, sessionID string) bool {
	b, ok := s.bySession[sessionID]
	return ok && b.clientID == clientID
}

// binding returns the binding for a session, or nil.
func (s *sessionRouter) binding(sessionID string) *sessionBinding {
	return s.bySession[sessionID]
}

// unbind removes one session and returns its binding, or nil.
func (s *sessionRouter) unbind(sessionID string) *sessionBinding {
	b, ok := s.bySession[sessionID]
	if !ok {
		return nil
	}
	delete(s.bySession, sessionID)
	if clientSessions, ok := s.byClient[b.clientID]; ok {
		delete(clientSessions, sessionID)
		if len(clientSessions) == 0 {
			delete(s.byClient, b.clientID)
		}
	}
	return b
}

// removeClient removes every session a client owns and returns the bindings.
func (s *sessionRouter) removeClient(clientID string) []*sessionBinding {
	clientSessions, ok := s.byClient[clientID]
	if !ok {
		return nil
	}
	removed := make([]*sessionBinding, 0, len(clientSessions))
	for id, b := range clientSessions {
		removed = append(removed, b)
		delete(s.bySession, id)
	}
	delete(s.byClient, clientID)
	return removed
}

// clear drops every binding. Used when the extension goes away: sessions do
// not outlive the extension connection that backs them.
func (s *sessionRouter) clear() []*sessionBinding {
	cleared := make([]*sessionBinding, 0, len(s.bySession))
	for _, b := range s.bySession {
		cleared = append(cleared, b)
	}
	s.bySession = make(map[string]*sessionBinding)
	s.byClient = make(map[string]map[string]*sessionBinding)
	return cleared
}

// sessionsOf returns the session ids a client owns.
func (s *sessionRouter) sessionsOf(clientID string) []string {
	clientSessions := s.byClient[clientID]
	ids := make([]string, 0, len(clientSessions))
	for id := range clientSessions {
		ids = append(ids, id)
	}
	return ids
}
