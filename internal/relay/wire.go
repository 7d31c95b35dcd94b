package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// CDP wire types. The relay only inspects the envelope fields (id, method,
// sessionId); params and results pass through as raw JSON so that new CDP
// domains work without a relay update.

type cdpCommand struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type cdpResponse struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type cdpEvent struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// clientFrame is the parsed view of an inbound client frame. ID is a pointer
// so that a missing id is distinguishable from id 0.
type clientFrame struct {
	ID        *int64          `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// extensionFrame is the parsed view of an inbound extension frame. A frame
// with an ID and no Method is a command response; a frame with a Method is an
// event or control message.
type extensionFrame struct {
	ID        *int64          `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

// forwardedEvent is the payload of a forwardCDPEvent wrapper frame.
type forwardedEvent struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// extensionLog is the payload of an out-of-band log frame.
type extensionLog struct {
	Level string            `json:"level"`
	Args  []json.RawMessage `json:"args"`
}

// CDP error codes the relay synthesizes.
const (
	codeServerError     = -32000 // timeouts, missing extension, busy, shutdown
	codeSessionNotOwned = -32001
	codeInvalidRequest  = -32600
	codeInvalidParams   = -32602 // unknown target
)

var emptyResult = json.RawMessage(`{}`)

func errorResponse(id int64, sessionID string, code int64, message string) *cdpResponse {
	return &cdpResponse{
		ID:        id,
		SessionID: sessionID,
		Error:     &cdpError{Code: code, Message: message},
	}
}

func resultResponse(id int64, sessionID string, result json.RawMessage) *cdpResponse {
	if result == nil {
		result = emptyResult
	}
	return &cdpResponse{ID: id, SessionID: sessionID, Result: result}
}

// newSessionID returns a 32-hex-character session identifier.
func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func marshalParams(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
