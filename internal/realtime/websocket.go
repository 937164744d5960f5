package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuschat/internal/utils/log"
)

type (
	// Client speaks the JSON subscribe/unsubscribe framing of the hosted
	// realtime endpoint over a single websocket connection.
	Client struct {
		conn *websocket.Conn

		mu       sync.Mutex
		handlers map[string]Handler
		closed   bool
	}

	clientFrame struct {
		Action string       `json:"action"` // "subscribe" | "unsubscribe"
		ID     string       `json:"id"`
		Sub    Subscription `json:"subscription,omitempty"`
	}

	serverFrame struct {
		SubscriptionID string `json:"subscription_id"`
		ChangeEvent
	}
)

func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime feed: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]Handler),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Subscribe(sub Subscription, fn Handler) (string, error) {
	id := uuid.NewString()

	c.mu.Lock()
	c.handlers[id] = fn
	err := c.conn.WriteJSON(&clientFrame{Action: "subscribe", ID: id, Sub: sub})
	if err != nil {
		delete(c.handlers, id)
	}
	c.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", sub.Table, err)
	}
	return id, nil
}

func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	_, known := c.handlers[id]
	delete(c.handlers, id)
	var err error
	if known && !c.closed {
		err = c.conn.WriteJSON(&clientFrame{Action: "unsubscribe", ID: id})
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", id, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.handlers = make(map[string]Handler)
	c.mu.Unlock()
	return c.conn.Close()
}

// readLoop dispatches frames to their subscription handler in arrival
// order. A handler that is gone by the time its frame arrives drops the
// frame, which covers the unsubscribe-in-flight window.
func (c *Client) readLoop() {
	for {
		var frame serverFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.mu.Unlock()
			if !wasClosed {
				log.Debug("realtime feed closed", zap.Error(err))
			}
			c.conn.Close()
			return
		}

		c.mu.Lock()
		fn := c.handlers[frame.SubscriptionID]
		c.mu.Unlock()

		if fn != nil {
			fn(frame.ChangeEvent)
		}
	}
}
