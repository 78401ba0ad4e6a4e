// ABOUTME: Failover proxy forwarding chat traffic to a remote backend over WebSocket
// ABOUTME: Queues while disconnected, replays FIFO on connect, retries on a fixed delay

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/2389/inbox-gateway/internal/wire"
)

// ErrProxyClosed is returned once Disconnect has been called.
var ErrProxyClosed = errors.New("proxy closed")

// FallbackNotice is sent to the originating client when the remote backend
// cannot be reached and the local backend takes over.
const FallbackNotice = "Remote backend unavailable. Using local backend as fallback."

const (
	defaultDialTimeout  = 10 * time.Second
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// Relay receives the remote backend's responses verbatim. The proxy binds the
// most recent forwarder as the relay, so responses follow the latest client.
type Relay interface {
	Send(data []byte) error
}

// Config holds the proxy connection settings.
type Config struct {
	// URL of the remote backend WebSocket endpoint.
	URL string
	// DialTimeout bounds one connection attempt. Defaults to 10s.
	DialTimeout time.Duration
	// RetryDelay is the fixed pause before reconnecting. Defaults to 5s.
	RetryDelay time.Duration
	// WriteTimeout bounds one outbound write. Defaults to 5s.
	WriteTimeout time.Duration
}

// Proxy maintains one WebSocket to the remote backend. Messages forwarded
// while disconnected are queued and replayed in order once the connection
// comes up; at most one reconnect attempt is pending at a time.
type Proxy struct {
	url          string
	dialTimeout  time.Duration
	retryDelay   time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      state
	pending    [][]byte
	relay      Relay
	retryTimer *time.Timer
	readCancel context.CancelFunc
	closed     bool
}

// New creates a proxy for the given backend URL. No connection is made until
// Connect or the first Forward.
func New(cfg Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Proxy{
		url:          cfg.URL,
		dialTimeout:  dialTimeout,
		retryDelay:   retryDelay,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "backend-proxy"),
	}
}

// Connect dials the remote backend, replaying any queued messages on success.
// It is a no-op while already connected or connecting.
func (p *Proxy) Connect() error {
	return p.connect(nil)
}

func (p *Proxy) connect(origin Relay) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProxyClosed
	}
	if p.state != stateDisconnected {
		p.mu.Unlock()
		return nil
	}
	p.state = stateConnecting
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	cancel()
	if err != nil {
		p.logger.Warn("backend dial failed", "url", p.url, "error", err)
		p.mu.Lock()
		p.state = stateDisconnected
		p.scheduleRetryLocked()
		p.mu.Unlock()
		p.notifyFallback(origin)
		return err
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		readCancel()
		conn.Close(websocket.StatusNormalClosure, "shutting down")
		return ErrProxyClosed
	}
	p.conn = conn
	p.readCancel = readCancel
	p.mu.Unlock()

	p.logger.Info("connected to remote backend", "url", p.url)

	// Queued traffic goes out before anything new, in arrival order. The
	// state stays Connecting until the queue is drained, so a concurrent
	// Forward keeps queueing instead of writing past the replay. A write
	// failure requeues the unsent remainder for the next attempt.
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.state = stateConnected
			p.mu.Unlock()
			break
		}
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()

		for i, msg := range batch {
			if err := p.write(readCtx, conn, msg); err != nil {
				p.logger.Error("failed to replay queued message", "error", err)
				p.mu.Lock()
				p.pending = append(batch[i:], p.pending...)
				if p.conn == conn {
					p.conn = nil
					p.readCancel = nil
				}
				p.state = stateDisconnected
				if !p.closed {
					p.scheduleRetryLocked()
				}
				p.mu.Unlock()
				readCancel()
				conn.Close(websocket.StatusNormalClosure, "replay failed")
				return err
			}
		}
	}

	go p.readLoop(readCtx, conn)
	return nil
}

func (p *Proxy) notifyFallback(origin Relay) {
	if origin == nil {
		return
	}
	msg := wire.ServerMessage{
		Type:          wire.TypeError,
		Error:         FallbackNotice,
		UsingFallback: true,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := origin.Send(data); err != nil {
		p.logger.Warn("failed to deliver fallback notice", "error", err)
	}
}

// scheduleRetryLocked arms the reconnect timer if none is pending. Callers
// hold p.mu.
func (p *Proxy) scheduleRetryLocked() {
	if p.closed || p.retryTimer != nil {
		return
	}
	p.retryTimer = time.AfterFunc(p.retryDelay, func() {
		p.mu.Lock()
		p.retryTimer = nil
		p.mu.Unlock()
		p.connect(nil)
	})
}

func (p *Proxy) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			p.handleDisconnect(conn)
			return
		}

		p.mu.Lock()
		relay := p.relay
		p.mu.Unlock()
		if relay == nil {
			continue
		}
		if err := relay.Send(data); err != nil {
			p.logger.Warn("failed to relay backend response", "error", err)
		}
	}
}

func (p *Proxy) handleDisconnect(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != conn {
		return
	}
	p.conn = nil
	p.state = stateDisconnected
	if !p.closed {
		p.logger.Info("backend connection lost", "retry_in", p.retryDelay)
		p.scheduleRetryLocked()
	}
}

// IsConnected reports whether the backend connection is currently up.
func (p *Proxy) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateConnected
}

// Forward sends one raw client message to the remote backend and binds from
// as the relay for subsequent responses. While disconnected the message is
// queued and a connection attempt is kicked off; if that attempt fails, from
// receives the fallback notice.
func (p *Proxy) Forward(from Relay, raw []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProxyClosed
	}
	p.relay = from

	if p.state != stateConnected {
		p.pending = append(p.pending, raw)
		kick := p.state == stateDisconnected
		p.mu.Unlock()
		if kick {
			go p.connect(from)
		}
		return nil
	}

	conn := p.conn
	p.mu.Unlock()

	if err := p.write(context.Background(), conn, raw); err != nil {
		p.logger.Error("failed to forward message", "error", err)
		return err
	}
	return nil
}

func (p *Proxy) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// Disconnect tears the connection down and stops reconnecting. Safe to call
// more than once; the proxy is unusable afterwards.
func (p *Proxy) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	conn := p.conn
	p.conn = nil
	p.state = stateDisconnected
	cancel := p.readCancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	p.logger.Info("disconnected from remote backend")
}
