package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn is one automation client attached on /cdp.
type clientConn struct {
	id     string
	remote string
	ws     *websocket.Conn
	queue  *sendQueue

	// done closes when the read loop exits.
	done chan struct{}

	// Discovery and auto-attach flags recorded by the synthetic responder.
	// Guarded by the relay mutex.
	autoAttach      bool
	waitForDebugger bool
	discoverTargets bool
}

// sendResponse queues a command response. Responses bypass the event cap so a
// client always observes every reply it is owed.
func (c *clientConn) sendResponse(resp *cdpResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.queue.push(data, false)
}

// sendEvent queues an event frame. Returns false if the frame was dropped
// due to backpressure.
func (c *clientConn) sendEvent(evt *cdpEvent) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	return c.queue.push(data, true)
}

// writePump owns all writes to the client socket: queued frames plus
// protocol-level pings. Exits when the queue closes or a write fails.
func (c *clientConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.queue.notify:
			for {
				frame := c.queue.pop()
				if frame == nil {
					break
				}
				c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			if c.queue.isClosed() {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
