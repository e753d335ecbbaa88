package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection states: Connecting → Authenticated → Closed (terminal).
const (
	stateConnecting int32 = iota
	stateAuthenticated
	stateClosed
)

const (
	// outboundBuffer is the per-connection write queue depth. A full
	// queue means the client is not keeping up.
	outboundBuffer = 64

	writeTimeout = 10 * time.Second
)

// errSlowConnection reports a full outbound queue.
var errSlowConnection = errors.New("connection outbound queue full")

// Connection is one live control session. It owns the transport, the
// per-connection protocol state machine, and a single writer goroutine so
// event and response ordering is preserved per connection.
type Connection struct {
	id     string
	ws     *websocket.Conn
	server *Server
	logger *slog.Logger

	state atomic.Int32

	// Set at handshake, read-only afterwards.
	protocol int
	client   ClientInfo
	role     string
	scopes   []string

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, server *Server) *Connection {
	id := uuid.New().String()[:8]
	return &Connection{
		id:       id,
		ws:       ws,
		server:   server,
		logger:   server.logger.With("conn", id),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// ID returns the server-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// Authenticated reports whether the handshake has completed.
func (c *Connection) Authenticated() bool {
	return c.state.Load() == stateAuthenticated
}

// Protocol returns the negotiated protocol version (0 before handshake).
func (c *Connection) Protocol() int { return c.protocol }

// Client returns the metadata recorded at handshake.
func (c *Connection) Client() ClientInfo { return c.client }

// run drives the connection: writer goroutine plus the read loop. Returns
// when the transport closes or the connection is stopped.
func (c *Connection) run() {
	go c.writeLoop()
	c.readLoop()
	c.Close()
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// No request ID to correlate an error with; log and drop.
			c.logger.Warn("malformed frame dropped", "error", err)
			continue
		}

		switch f.Type {
		case frameTypeRequest:
			c.handleRequest(f)
		default:
			c.logger.Warn("unexpected frame type dropped", "type", f.Type)
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) handleRequest(f frame) {
	if f.ID == "" || f.Method == "" {
		c.logger.Warn("request frame missing id or method, dropped")
		return
	}

	switch {
	case f.Method == methodConnect:
		c.handleConnect(f)
		return
	case f.Method == methodPing:
		// Liveness is usable pre-auth.
	case !c.Authenticated():
		c.respondError(f.ID, Errorf(ErrCodeAuthRequired, "connect handshake required before %q", f.Method))
		return
	}

	handler, ok := c.server.methods[f.Method]
	if !ok {
		c.respondError(f.ID, Errorf(ErrCodeMethodNotFound, "unknown method %q", f.Method))
		return
	}

	// Each request dispatches on its own goroutine so a long-running
	// handler (lane admission, subagent wait) never blocks the read loop.
	go c.dispatch(f, handler)
}

func (c *Connection) dispatch(f frame, handler HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "method", f.Method, "panic", r)
			c.respondError(f.ID, Errorf(ErrCodeInternal, "internal error"))
		}
	}()

	payload, err := handler(context.Background(), c, f.Params)
	if err != nil {
		var me *MethodError
		if !errors.As(err, &me) {
			c.logger.Error("handler failed", "method", f.Method, "error", err)
			me = Errorf(ErrCodeInternal, "internal error")
		}
		c.respondError(f.ID, me)
		return
	}
	c.respond(f.ID, payload)
}

// handleConnect performs the version/auth handshake. Failures respond with
// HANDSHAKE_FAILED and leave the connection in Connecting.
func (c *Connection) handleConnect(f frame) {
	var p ConnectParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respondError(f.ID, Errorf(ErrCodeHandshakeFailed, "invalid connect params: %v", err))
		return
	}

	if c.Authenticated() {
		c.respondError(f.ID, Errorf(ErrCodeHandshakeFailed, "already connected"))
		return
	}

	if p.MaxProtocol < ProtocolMin || p.MinProtocol > ProtocolMax {
		c.respondError(f.ID, Errorf(ErrCodeHandshakeFailed,
			"no protocol overlap: client %d-%d, server %d-%d",
			p.MinProtocol, p.MaxProtocol, ProtocolMin, ProtocolMax))
		return
	}
	negotiated := p.MaxProtocol
	if negotiated > ProtocolMax {
		negotiated = ProtocolMax
	}

	if token := c.server.cfg.AuthToken; token != "" {
		presented := ""
		if p.Auth != nil {
			presented = p.Auth.Token
		}
		if !compareTokens(presented, token) {
			c.logger.Warn("handshake rejected: bad token", "client", p.Client.Name)
			c.respondError(f.ID, Errorf(ErrCodeHandshakeFailed, "invalid auth token"))
			return
		}
	}

	c.protocol = negotiated
	c.client = p.Client
	c.role = p.Role
	c.scopes = p.Scopes
	c.state.Store(stateAuthenticated)

	var snapshot any
	if c.server.snapshot != nil {
		snapshot = c.server.snapshot(context.Background())
	}
	c.respond(f.ID, HelloPayload{
		Protocol: negotiated,
		Server:   c.server.info,
		Features: c.server.features,
		Snapshot: snapshot,
	})

	// Attach only after the hello response is queued, so the handshake
	// reply precedes any flushed events on this connection.
	c.server.broadcaster.attach(c)

	c.logger.Info("connection authenticated",
		"protocol", negotiated,
		"client", p.Client.Name,
		"role", p.Role,
	)
}

func (c *Connection) respond(id string, payload any) {
	c.send(responseFrame{Type: frameTypeResponse, ID: id, OK: true, Payload: payload})
}

func (c *Connection) respondError(id string, me *MethodError) {
	c.send(responseFrame{Type: frameTypeResponse, ID: id, OK: false, Error: me})
}

// send queues a frame for the writer, blocking until there is room. Used
// for responses, which must not be silently dropped.
func (c *Connection) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal frame", "error", err)
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	}
}

// sendEvent queues an event frame without blocking. With dropIfSlow the
// event is skipped when the queue is full; otherwise a full queue is a
// delivery failure and the broadcaster removes this connection.
func (c *Connection) sendEvent(event string, payload any, seq int64, dropIfSlow bool) error {
	data, err := json.Marshal(eventFrame{Type: frameTypeEvent, Event: event, Payload: payload, Seq: seq})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.outbound <- data:
		return nil
	default:
		if dropIfSlow {
			c.logger.Debug("event dropped for slow connection", "event", event, "seq", seq)
			return nil
		}
		return errSlowConnection
	}
}

// Close tears the connection down exactly once: it is released from the
// server's live set before the transport closes, so no further broadcast
// targets it.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		c.server.detach(c)
		close(c.done)
		_ = c.ws.Close()
		c.logger.Debug("connection closed")
	})
}

// compareTokens performs timing-safe comparison by hashing both inputs with
// SHA-256 before calling ConstantTimeCompare to prevent length-based leakage.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
