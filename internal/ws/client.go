package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	sendBacklog = 16
)

var (
	// ErrClientClosed is returned by Send once the stream has ended.
	ErrClientClosed = errors.New("ws: client closed")
	// ErrSlowClient is returned when a client falls sendBacklog events behind and is dropped.
	ErrSlowClient = errors.New("ws: client too slow")
)

// Client streams transition events of one service over a websocket. A single writer
// goroutine owns the connection; Send only queues.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient starts the writer for conn.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		conn: conn,
		log:  logger,
		out:  make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues payload. It never blocks the hub.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		c.log.Warn("dropping slow event subscriber", "backlog", sendBacklog)
		c.Close()
		return ErrSlowClient
	}
}

// Close ends the stream. The writer sends a close frame and releases the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Drain reads until the peer goes away, extending the read deadline on every pong.
func (c *Client) Drain() {
	defer c.Close()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
