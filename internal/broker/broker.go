// ABOUTME: Broker routes client messages between sessions and the failover proxy
// ABOUTME: Owns the connection and session registries and the inbox snapshot loop

package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/inbox-gateway/internal/backend"
	"github.com/2389/inbox-gateway/internal/mailstore"
	"github.com/2389/inbox-gateway/internal/proxy"
	"github.com/2389/inbox-gateway/internal/session"
	"github.com/2389/inbox-gateway/internal/wire"
)

const (
	defaultGrace            = 60 * time.Second
	defaultSnapshotInterval = 5 * time.Second
	defaultInboxLimit       = 30

	connectedGreeting = "Connected to email assistant"
)

// Sender is the transport half of a client connection.
type Sender interface {
	Send(data []byte) error
}

// Client is one registered connection. It carries the current session
// subscription and implements both the session observer and the proxy relay.
type Client struct {
	id     string
	sender Sender

	mu        sync.Mutex
	sessionID string
}

// Send forwards serialized payloads to the underlying connection.
func (c *Client) Send(data []byte) error {
	return c.sender.Send(data)
}

// ID returns the broker-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Config tunes the broker's timers.
type Config struct {
	// ReclamationGrace is how long an observer-less session survives.
	// Defaults to 60s.
	ReclamationGrace time.Duration
	// SnapshotInterval is the inbox broadcast period. Defaults to 5s.
	SnapshotInterval time.Duration
	// InboxLimit caps the emails per snapshot. Defaults to 30.
	InboxLimit int
}

// Broker owns the connection and session registries. Chat traffic is routed
// per message: to the failover proxy while its backend connection is up,
// otherwise to a local session.
type Broker struct {
	logger     *slog.Logger
	store      *mailstore.Store
	proxy      *proxy.Proxy
	newBackend func() backend.Backend

	grace         time.Duration
	snapshotEvery time.Duration
	inboxLimit    int

	clientsMu sync.Mutex
	clients   map[string]*Client

	sessionsMu sync.Mutex
	sessions   map[string]*session.Session
}

// New creates a broker. prx may be nil when no failover backend is
// configured; newBackend builds one dedicated backend per session.
func New(store *mailstore.Store, prx *proxy.Proxy, newBackend func() backend.Backend, cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.ReclamationGrace
	if grace <= 0 {
		grace = defaultGrace
	}
	snapshotEvery := cfg.SnapshotInterval
	if snapshotEvery <= 0 {
		snapshotEvery = defaultSnapshotInterval
	}
	inboxLimit := cfg.InboxLimit
	if inboxLimit <= 0 {
		inboxLimit = defaultInboxLimit
	}
	return &Broker{
		logger:        logger.With("component", "broker"),
		store:         store,
		proxy:         prx,
		newBackend:    newBackend,
		grace:         grace,
		snapshotEvery: snapshotEvery,
		inboxLimit:    inboxLimit,
		clients:       make(map[string]*Client),
		sessions:      make(map[string]*session.Session),
	}
}

// Run broadcasts inbox snapshots until ctx is cancelled. The first snapshot
// goes out immediately.
func (b *Broker) Run(ctx context.Context) {
	b.BroadcastInbox(ctx)

	ticker := time.NewTicker(b.snapshotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.BroadcastInbox(ctx)
		}
	}
}

// OnOpen registers a connection and sends the greeting plus an initial inbox
// snapshot.
func (b *Broker) OnOpen(ctx context.Context, sender Sender) *Client {
	c := &Client{id: uuid.NewString(), sender: sender}

	b.clientsMu.Lock()
	b.clients[c.id] = c
	b.clientsMu.Unlock()

	b.logger.Info("client connected", "client_id", c.id)

	greeting := wire.NewConnected(connectedGreeting, b.SessionIDs())
	if data, err := json.Marshal(greeting); err == nil {
		if err := c.Send(data); err != nil {
			b.logger.Warn("failed to send greeting", "client_id", c.id, "error", err)
		}
	}

	b.sendInbox(ctx, c)
	return c
}

// OnMessage routes one raw inbound frame.
func (b *Broker) OnMessage(ctx context.Context, c *Client, raw []byte) {
	var msg wire.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Warn("malformed client message", "client_id", c.id, "error", err)
		b.sendError(c, "Failed to process message")
		return
	}

	switch msg.Type {
	case wire.TypeChat:
		b.handleChat(c, msg, raw)
	case wire.TypeSubscribe:
		b.handleSubscribe(c, msg.SessionID)
	case wire.TypeUnsubscribe:
		b.handleUnsubscribe(c, msg.SessionID)
	case wire.TypeRequestInbox:
		b.sendInbox(ctx, c)
	default:
		b.sendError(c, "Unknown message type")
	}

	// A session can lose its last observer without any disconnect, e.g. when
	// a failed send drops it. Every routing event re-runs the grace scan so
	// such sessions do not outlive the grace period indefinitely.
	b.reclaimEmptySessions()
}

// handleChat decides local vs proxied per message by asking the proxy whether
// its connection is up right now.
func (b *Broker) handleChat(c *Client, msg wire.ClientMessage, raw []byte) {
	if b.proxy != nil && b.proxy.IsConnected() {
		if err := b.proxy.Forward(c, raw); err != nil {
			b.logger.Error("proxy forward failed", "client_id", c.id, "error", err)
			b.sendError(c, "Failed to process message")
		}
		return
	}

	if strings.TrimSpace(msg.Content) == "" {
		b.sendError(c, "Missing message content")
		return
	}

	sess := b.getOrCreateSession(msg.SessionID)
	if c.currentSession() != sess.ID() {
		b.moveClient(c, sess)
	}
	if msg.NewConversation {
		sess.EndConversation()
	}
	if err := sess.SubmitTurn(msg.Content); err != nil {
		b.logger.Error("turn submission failed", "session_id", sess.ID(), "error", err)
		b.sendError(c, "Failed to process message")
	}
}

func (b *Broker) handleSubscribe(c *Client, sessionID string) {
	b.sessionsMu.Lock()
	sess := b.sessions[sessionID]
	b.sessionsMu.Unlock()

	if sess == nil {
		b.sendError(c, "Session not found")
		return
	}

	b.moveClient(c, sess)
	b.sendJSON(c, wire.ServerMessage{Type: wire.TypeSubscribed, SessionID: sessionID})
}

func (b *Broker) handleUnsubscribe(c *Client, sessionID string) {
	b.sessionsMu.Lock()
	sess := b.sessions[sessionID]
	b.sessionsMu.Unlock()

	if sess == nil {
		return
	}

	sess.Detach(c)
	c.setSession("")
	b.scheduleReclamation(sessionID, sess)
	b.sendJSON(c, wire.ServerMessage{Type: wire.TypeUnsubscribed, SessionID: sessionID})
}

// moveClient detaches the client from its current session and attaches it to
// target, which sends the session_info snapshot.
func (b *Broker) moveClient(c *Client, target *session.Session) {
	if current := c.currentSession(); current != "" && current != target.ID() {
		b.sessionsMu.Lock()
		prev := b.sessions[current]
		b.sessionsMu.Unlock()
		if prev != nil {
			prev.Detach(c)
			b.scheduleReclamation(current, prev)
		}
	}
	c.setSession(target.ID())
	target.Attach(c)
}

// OnClose detaches the client from its session and drops it from the
// registry. Sessions left without observers start their grace timers.
func (b *Broker) OnClose(c *Client) {
	if current := c.currentSession(); current != "" {
		b.sessionsMu.Lock()
		sess := b.sessions[current]
		b.sessionsMu.Unlock()
		if sess != nil {
			sess.Detach(c)
		}
	}

	b.clientsMu.Lock()
	delete(b.clients, c.id)
	b.clientsMu.Unlock()

	b.logger.Info("client disconnected", "client_id", c.id)
	b.reclaimEmptySessions()
}

func (b *Broker) getOrCreateSession(id string) *session.Session {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()

	if id != "" {
		if sess, ok := b.sessions[id]; ok {
			return sess
		}
	}

	newID := id
	if newID == "" {
		newID = "session-" + uuid.NewString()
	}
	sess := session.New(newID, b.newBackend(), b.logger)
	b.sessions[newID] = sess
	b.logger.Info("session created", "session_id", newID)
	return sess
}

// reclaimEmptySessions arms a grace timer for every observer-less session.
// The timer re-tests at fire time, so a client re-attaching within the grace
// period keeps the session alive.
func (b *Broker) reclaimEmptySessions() {
	b.sessionsMu.Lock()
	candidates := make(map[string]*session.Session)
	for id, sess := range b.sessions {
		if !sess.HasObservers() {
			candidates[id] = sess
		}
	}
	b.sessionsMu.Unlock()

	for id, sess := range candidates {
		b.scheduleReclamation(id, sess)
	}
}

func (b *Broker) scheduleReclamation(id string, sess *session.Session) {
	if sess.HasObservers() {
		return
	}
	time.AfterFunc(b.grace, func() {
		if sess.HasObservers() {
			return
		}
		b.sessionsMu.Lock()
		if b.sessions[id] != sess {
			b.sessionsMu.Unlock()
			return
		}
		delete(b.sessions, id)
		b.sessionsMu.Unlock()

		sess.Shutdown()
		b.logger.Info("reclaimed idle session", "session_id", id)
	})
}

// SessionIDs returns the live session ids.
func (b *Broker) SessionIDs() []string {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SessionCount returns the number of live sessions.
func (b *Broker) SessionCount() int {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	return len(b.sessions)
}

// ClientCount returns the number of registered connections.
func (b *Broker) ClientCount() int {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	return len(b.clients)
}

// BroadcastInbox pushes the current inbox snapshot to every client. A store
// failure degrades to an empty snapshot rather than skipping the beat.
func (b *Broker) BroadcastInbox(ctx context.Context) {
	emails, err := b.store.Recent(ctx, b.inboxLimit)
	if err != nil {
		b.logger.Error("failed to fetch inbox snapshot", "error", err)
		emails = nil
	}
	data, err := json.Marshal(wire.NewInboxUpdate(emails))
	if err != nil {
		return
	}
	for _, c := range b.clientList() {
		if err := c.Send(data); err != nil {
			b.logger.Warn("failed to send inbox update", "client_id", c.id, "error", err)
		}
	}
}

// BroadcastProfile pushes debounced profile content to every client.
func (b *Broker) BroadcastProfile(content string) {
	data, err := json.Marshal(wire.ProfileUpdate{Type: wire.TypeProfileUpdate, Content: content})
	if err != nil {
		return
	}
	for _, c := range b.clientList() {
		if err := c.Send(data); err != nil {
			b.logger.Warn("failed to send profile update", "client_id", c.id, "error", err)
		}
	}
}

func (b *Broker) sendInbox(ctx context.Context, c *Client) {
	emails, err := b.store.Recent(ctx, b.inboxLimit)
	if err != nil {
		b.logger.Error("failed to fetch inbox", "error", err)
		emails = nil
	}
	data, err := json.Marshal(wire.NewInboxUpdate(emails))
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		b.logger.Warn("failed to send inbox", "client_id", c.id, "error", err)
	}
}

func (b *Broker) sendError(c *Client, msg string) {
	b.sendJSON(c, wire.Error(msg))
}

func (b *Broker) sendJSON(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal message", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		b.logger.Warn("failed to send message", "client_id", c.id, "error", err)
	}
}

func (b *Broker) clientList() []*Client {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// Shutdown tears down every session. Connections are closed by the transport
// layer.
func (b *Broker) Shutdown() {
	b.sessionsMu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*session.Session)
	b.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.Shutdown()
	}
}
