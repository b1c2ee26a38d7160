package ws

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is a thin wrapper around *websocket.Conn exposing small helper methods.
type Conn struct {
	c *websocket.Conn
	// writeMu serializes writes; gorilla's Conn panics on concurrent writers.
	writeMu sync.Mutex
}

// Dial connects to a ws:// or wss:// URL.
func Dial(urlStr string, reqHeader http.Header, handshakeTimeout time.Duration) (*Conn, *http.Response, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, nil, fmt.Errorf("URL scheme must be ws or wss, got %q", parsed.Scheme)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	c, resp, err := dialer.Dial(parsed.String(), reqHeader)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// UpgradeHTTP upgrades an incoming request. The watch endpoint is read-only,
// so any origin is accepted.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

var errClosed = errors.New("websocket: connection is closed")

// ReadMessage reads a text message and returns the raw bytes.
func (cw *Conn) ReadMessage() ([]byte, error) {
	if cw == nil || cw.c == nil {
		return nil, errClosed
	}
	_, msg, err := cw.c.ReadMessage()
	return msg, err
}

// WriteMessage writes a Message as JSON with a write deadline.
func (cw *Conn) WriteMessage(msg *Message, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	if timeout > 0 {
		_ = cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.TextMessage, data)
}

// WritePing sends a ping control message.
func (cw *Conn) WritePing(timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	if timeout > 0 {
		_ = cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.PingMessage, nil)
}

// WriteClose sends a normal-closure control frame.
func (cw *Conn) WriteClose(reason string, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	return cw.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(timeout))
}

// SetReadDeadline sets read deadline on underlying conn.
func (cw *Conn) SetReadDeadline(t time.Time) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	return cw.c.SetReadDeadline(t)
}

// SetPongHandler sets the pong handler.
func (cw *Conn) SetPongHandler(h func(string) error) {
	if cw == nil || cw.c == nil {
		return
	}
	cw.c.SetPongHandler(h)
}

// Close closes the underlying websocket connection.
func (cw *Conn) Close() error {
	if cw == nil || cw.c == nil {
		return nil
	}
	return cw.c.Close()
}

// RemoteAddr returns the remote address if available.
func (cw *Conn) RemoteAddr() string {
	if cw == nil || cw.c == nil || cw.c.RemoteAddr() == nil {
		return ""
	}
	return cw.c.RemoteAddr().String()
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler upgrades requests and streams hub broadcasts to each client until
// it disconnects or the hub stops. Inbound messages are ignored.
func Handler(hub *Hub, onError func(msg string, context ...interface{})) http.Handler {
	if onError == nil {
		onError = func(string, ...interface{}) {}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeHTTP(w, r)
		if err != nil {
			onError("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()

		id := uuid.NewString()
		ch := make(chan Message, 32)
		if !hub.Register(id, ch) {
			_ = conn.WriteClose("shutting down", writeWait)
			return
		}

		// Reader: keeps pong deadlines moving and notices disconnects.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					_ = conn.WriteClose("shutting down", writeWait)
					return
				}
				if err := conn.WriteMessage(&msg, writeWait); err != nil {
					hub.Unregister(id)
					return
				}
			case <-ticker.C:
				if err := conn.WritePing(writeWait); err != nil {
					hub.Unregister(id)
					return
				}
			case <-gone:
				hub.Unregister(id)
				return
			}
		}
	})
}
