// Package gateway implements the ClawD control protocol: a WebSocket
// endpoint speaking JSON frames (`req`/`res`/`event`) that lets external
// clients (CLI, TUI, web dashboard) observe and drive agent sessions.
//
// Every connection starts with the `connect` handshake, which negotiates a
// protocol version and authenticates the client; only `ping` is usable
// before that. Method calls dispatch into a plain handler map built at
// startup — no reflection, no global registries.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Protocol version range spoken by this server.
const (
	ProtocolMin = 1
	ProtocolMax = 1
)

// Frame type discriminators.
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// Built-in method names handled by the connection itself.
const (
	methodConnect = "connect"
	methodPing    = "ping"
)

// Reserved error codes.
const (
	ErrCodeAuthRequired    = "AUTH_REQUIRED"
	ErrCodeMethodNotFound  = "METHOD_NOT_FOUND"
	ErrCodeHandshakeFailed = "HANDSHAKE_FAILED"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeInvalidParams   = "INVALID_PARAMS"
	ErrCodeUnavailable     = "UNAVAILABLE"
)

// MethodError is a structured protocol error returned to clients. Handlers
// may return one directly to control the code; any other error is reported
// as INTERNAL_ERROR.
type MethodError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a MethodError with a formatted message.
func Errorf(code, format string, args ...any) *MethodError {
	return &MethodError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// frame is the incoming wire envelope. Only the fields relevant to the
// declared type are populated.
type frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// responseFrame correlates with a request by ID. Exactly one response is
// emitted per request.
type responseFrame struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	OK      bool         `json:"ok"`
	Payload any          `json:"payload,omitempty"`
	Error   *MethodError `json:"error,omitempty"`
}

// eventFrame carries a broadcast event. No correlation ID; Seq increases
// monotonically per server.
type eventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

// ConnectParams is the handshake request.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	Auth        *AuthParams `json:"auth,omitempty"`
}

// ClientInfo is free-form client metadata recorded at handshake.
type ClientInfo struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// AuthParams carries handshake credentials. Token formats and credential
// storage are policy, decided outside this package.
type AuthParams struct {
	Token string `json:"token,omitempty"`
}

// HelloPayload is the successful handshake reply.
type HelloPayload struct {
	Protocol int             `json:"protocol"`
	Server   ServerInfo      `json:"server"`
	Features map[string]bool `json:"features"`
	Snapshot any             `json:"snapshot,omitempty"`
}

// ServerInfo identifies the server in the hello payload.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HandlerFunc executes one method call. The returned payload is sent as the
// response; a *MethodError return is forwarded verbatim, anything else
// becomes INTERNAL_ERROR.
type HandlerFunc func(ctx context.Context, c *Connection, params json.RawMessage) (any, error)

// SnapshotFunc supplies the initial state snapshot embedded in the hello
// payload. Provided by the business-logic layer.
type SnapshotFunc func(ctx context.Context) any
