package relay

import "time"

// pendingCommand correlates one forwarded command with its originator. The
// relay substitutes relayID into the frame sent to the extension and restores
// clientCmdID on the way back.
type pendingCommand struct {
	relayID     int64
	clientID    string
	clientCmdID int64
	method      string
	sessionID   string
	deadline    time.Time
}

// correlationTable maps relay-scoped ids to pending commands. Not
// self-locking: all access happens under the relay mutex.
type correlationTable struct {
	nextID  int64
	pending map[int64]*pendingCommand
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{nextID: 1, pending: make(map[int64]*pendingCommand)}
}

// allocate assigns the next relay id and records the pending command.
func (t *correlationTable) allocate(clientID string, clientCmdID int64, method, sessionID string, deadline time.Time) *pendingCommand {
	cmd := &pendingCommand{
		relayID:     t.nextID,
		clientID:    clientID,
		clientCmdID: clientCmdID,
		method:      method,
		sessionID:   sessionID,
		deadline:    deadline,
	}
	t.nextID++
	t.pending[cmd.relayID] = cmd
	return cmd
}

// resolve removes and returns the pending command for a relay id, or nil if
// the id is unknown (cancelled, expired, or never issued).
func (t *correlationTable) resolve(relayID int64) *pendingCommand {
	cmd, ok := t.pending[relayID]
	if !ok {
		return nil
	}
	delete(t.pending, relayID)
	return cmd
}

// expire removes and returns every command whose deadline has passed.
func (t *correlationTable) expire(now time.Time) []*pendingCommand {
	var expired []*pendingCommand
	for id, cmd := range t.pending {
		if now.After(cmd.deadline) {
			expired = append(expired, cmd)
			delete(t.pending, id)
		}
	}
	return expired
}

// removeClient removes and returns every command owned by a client.
func (t *correlationTable) removeClient(clientID string) []*pendingCommand {
	var removed []*pendingCommand
	for id, cmd := range t.pending {
		if cmd.clientID == clientID {
			removed = append(removed, cmd)
			delete(t.pending, id)
		}
	}
	return removed
}

// drainAll empties the table and returns everything that was in flight.
func (t *correlationTable) drainAll() []*pendingCommand {
	drained := make([]*pendingCommand, 0, len(t.pending))
	for id, cmd := range t.pending {
		drained = append(drained, cmd)
		delete(t.pending, id)
	}
	return drained
}

func (t *correlationTable) size() int {
	return len(t.pending)
}
