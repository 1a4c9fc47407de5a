package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantu-dev/pairlink/internal/signal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is the websocket side of a call: one connection, one reader, writes
// serialized through a mutex. Incoming messages surface on Messages; the
// channel closes when the connection dies.
type Client struct {
	conn *websocket.Conn

	writeMu  sync.Mutex
	messages chan *signal.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the relay endpoint. The JWT is passed the same way the
// browser does, as a cookie, so one auth path serves both.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	header.Set("Cookie", "jwt="+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		messages: make(chan *signal.Message, 16),
		closed:   make(chan struct{}),
	}

	go c.readPump()
	go c.pingLoop()

	return c, nil
}

// Messages yields relay traffic in arrival order. Ordering matters to the
// consumer; candidates must trail their offer.
func (c *Client) Messages() <-chan *signal.Message {
	return c.messages
}

func (c *Client) Send(msg *signal.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readPump() {
	defer close(c.messages)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg signal.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.messages <- &msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
