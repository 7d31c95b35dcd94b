package relay

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// extensionConn is the single trusted producer attached on /extension.
type extensionConn struct {
	extensionID string
	origin      string
	ws          *websocket.Conn
	queue       *sendQueue

	// done closes when the read loop exits.
	done chan struct{}

	// announced is set once the extension has announced its target.
	announced atomic.Bool
}

var pingFrame = []byte(`{"method":"ping"}`)

// sendCommand queues a rewritten CDP command. Commands are never dropped for
// backpressure; the forwarding engine rejects new commands instead when the
// queue is over its cap.
func (e *extensionConn) sendCommand(cmd *cdpCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	e.queue.push(data, false)
	return nil
}

// writePump owns all writes to the extension socket: queued commands plus the
// JSON keepalive ping the extension protocol uses instead of control frames.
func (e *extensionConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		e.ws.Close()
	}()

	for {
		select {
		case <-e.queue.notify:
			for {
				frame := e.queue.pop()
				if frame == nil {
					break
				}
				e.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := e.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			if e.queue.isClosed() {
				return
			}
		case <-ticker.C:
			e.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := e.ws.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}
