// ABOUTME: WebSocket endpoint wiring connections into the broker
// ABOUTME: Per-connection write pump with a bounded send buffer

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const sendBufferSize = 256

var errSendBufferFull = errors.New("client send buffer full")

// wsClient adapts one WebSocket connection to the broker's Sender interface.
// Writes go through a buffered channel drained by a single write pump, so
// Send never blocks the caller.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newWSClient(conn *websocket.Conn) *wsClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send enqueues one frame. A closed connection or a full buffer is an error,
// which makes sessions drop this client as an observer.
func (c *wsClient) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsClient) writePump() {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// handleWS upgrades the connection and runs the read loop until the client
// disconnects.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := newWSClient(conn)
	defer c.cancel()
	go c.writePump()

	client := g.broker.OnOpen(c.ctx, c)
	defer g.broker.OnClose(client)

	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		g.broker.OnMessage(c.ctx, client, data)
	}
}
