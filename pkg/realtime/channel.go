package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Channel is the persistent, ordered message channel to the relay.
type Channel interface {
	// Write sends v as one JSON text message.
	Write(ctx context.Context, v interface{}) error
	// Read blocks for the next inbound message.
	Read(ctx context.Context) ([]byte, error)
	// Close releases the channel. Safe to call more than once.
	Close(reason string) error
}

// Dialer opens a Channel to the relay.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// WebSocketDialer dials relay channels with github.com/coder/websocket.
type WebSocketDialer struct {
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to relay: %v", ErrTransport, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}
	conn.SetReadLimit(limit)

	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) Write(ctx context.Context, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		messageType, payload, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if messageType == websocket.MessageText {
			return payload, nil
		}
		// the relay protocol is text-only; binary frames are skipped
	}
}

func (c *wsChannel) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return c.closeErr
}

// isNormalClose reports whether err is the peer (or us) closing the channel
// cleanly rather than a transport failure.
func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
