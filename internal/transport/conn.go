// Package transport owns the two socket connections of a session: the
// transcription connection (audio frames out, tier events in) and the
// broadcast connection (host/participant fan-out). The two are never
// unified; each has its own lifecycle, and closing one never closes the
// other.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransport covers connect failures and unexpected socket closes.
var ErrTransport = errors.New("transport failure")

// ErrNotOpen is returned when writing on a connection that is not open.
var ErrNotOpen = errors.New("connection not open")

// ConnState is the lifecycle state of one connection.
type ConnState int

const (
	// StateConnecting - dial in progress.
	StateConnecting ConnState = iota
	// StateOpen - handshake complete, reads and writes allowed.
	StateOpen
	// StateClosing - stop sent, waiting for the backend to flush.
	StateClosing
	// StateClosed - connection torn down.
	StateClosed
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Conn is the subset of a websocket connection the transport uses.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens websocket connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials real websocket endpoints with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection to url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, url, err)
	}
	return conn, nil
}
