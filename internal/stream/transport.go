package stream

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn is the minimal transport surface the manager needs. Production code
// wraps coder/websocket; tests substitute an in-memory fake.
type Conn interface {
	// Read blocks until the next text frame arrives or the context is done.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close tears the connection down.
	Close() error
}

// Dialer opens a transport connection to the venue.
type Dialer func(ctx context.Context, url string) (Conn, error)

const defaultReadLimit = 1 << 21

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closing")
}

// NewWebsocketDialer returns a Dialer backed by coder/websocket with the given
// handshake timeout.
func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return func(ctx context.Context, url string) (Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()

		conn, _, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(defaultReadLimit)
		return &wsConn{conn: conn}, nil
	}
}
