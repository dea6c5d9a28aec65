package channel

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one subscription to a session's channel. Decoded events are
// delivered on Events; the channel closes when the connection drops.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
}

// Dial connects to a relay, subscribes to the session code, and performs the
// join handshake. The caller owns the returned client and must Close it.
func Dial(ctx context.Context, relayURL, code string, join JoinPayload) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("code", NormalizeCode(code))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		conn:   conn,
		events: make(chan Event, 64),
	}
	if err := client.Send(Event{Type: EventJoin, Join: &join}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	go client.readLoop()
	return client, nil
}

// Events returns the stream of decoded channel events. It closes when the
// subscription ends, which surfaces connection loss to the session loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send encodes and writes one event to the channel.
func (c *Client) Send(evt Event) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", evt.Type, err)
	}
	return nil
}

// Close tears down the subscription.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := Decode(data)
		if err != nil {
			// A malformed message never reaches the session loop.
			log.Printf("channel: drop message: %v", err)
			continue
		}
		c.events <- evt
	}
}
