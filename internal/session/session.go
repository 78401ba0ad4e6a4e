// ABOUTME: Session drives one conversation: turn queue, backend pass, fan-out
// ABOUTME: Translates backend events into wire envelopes stamped with a sequence

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/inbox-gateway/internal/backend"
	"github.com/2389/inbox-gateway/internal/turnqueue"
	"github.com/2389/inbox-gateway/internal/wire"
)

// ErrSessionClosed is returned when a turn is submitted to a shut-down session.
var ErrSessionClosed = errors.New("session closed")

// Observer receives serialized event payloads for a session. A Send error
// removes the observer from the session.
type Observer interface {
	Send(data []byte) error
}

// Session owns one conversation: a turn queue, a backend holding the history,
// and the set of observers receiving translated events. A single driver
// goroutine consumes the queue, so turns never interleave.
type Session struct {
	id      string
	backend backend.Backend
	logger  *slog.Logger

	mu         sync.Mutex
	queue      *turnqueue.Queue
	observers  map[Observer]struct{}
	turns      int
	active     bool
	closed     bool
	seq        uint64
	driverCtx  context.Context
	cancelPass context.CancelFunc
}

// New creates an idle session. The backend instance must be dedicated to this
// session since it carries the conversation history.
func New(id string, b backend.Backend, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		backend:    b,
		logger:     logger.With("session_id", id),
		queue:      turnqueue.New(),
		observers:  make(map[Observer]struct{}),
		driverCtx:  ctx,
		cancelPass: cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SubmitTurn enqueues one user turn and starts the driver if it is not
// running. After EndConversation the queue is reopened, starting a fresh
// conversation on the same session id.
func (s *Session) SubmitTurn(content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.queue.Closed() {
		s.queue = turnqueue.New()
		ctx, cancel := context.WithCancel(context.Background())
		s.driverCtx = ctx
		s.cancelPass = cancel
	}
	if err := s.queue.Push(turnqueue.Turn{SessionID: s.id, Content: content}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.turns++
	start := !s.active
	if start {
		s.active = true
	}
	s.mu.Unlock()

	if start {
		go s.drive()
	}
	return nil
}

// drive is the single consumer of the turn queue. It survives a conversation
// handoff: when EndConversation closed the old queue but a new turn already
// reopened it, the loop picks up the new queue instead of exiting.
func (s *Session) drive() {
	for {
		s.mu.Lock()
		q := s.queue
		ctx := s.driverCtx
		s.mu.Unlock()

		turn, ok := q.Next(ctx)
		if !ok {
			s.mu.Lock()
			if s.queue != q && !s.queue.Closed() {
				s.mu.Unlock()
				continue
			}
			s.active = false
			s.mu.Unlock()
			return
		}

		s.runTurn(ctx, turn)
	}
}

func (s *Session) runTurn(ctx context.Context, turn turnqueue.Turn) {
	s.broadcast(wire.ServerMessage{
		Type:    wire.TypeUserMessage,
		Content: turn.Content,
	})

	events, err := s.backend.Generate(ctx, turn.Content)
	if err != nil {
		s.logger.Error("backend rejected turn", "error", err)
		s.broadcast(wire.ServerMessage{
			Type:    wire.TypeResult,
			Success: wire.Bool(false),
			Error:   "Query failed: " + err.Error(),
		})
		return
	}

	for ev := range events {
		s.publish(ev)
	}
}

// publish translates one backend event into wire envelopes. Unknown kinds and
// block types are logged and dropped rather than forwarded raw.
func (s *Session) publish(ev *backend.Event) {
	switch ev.Kind {
	case backend.KindSystem:
		s.broadcast(wire.ServerMessage{
			Type:    wire.TypeSystem,
			Subtype: ev.Subtype,
			Data:    ev.Data,
		})

	case backend.KindAssistant, backend.KindUser:
		for _, block := range ev.Blocks {
			switch block.Type {
			case backend.BlockText:
				msgType := wire.TypeAssistantMessage
				if ev.Kind == backend.KindUser {
					msgType = wire.TypeUserMessage
				}
				s.broadcast(wire.ServerMessage{Type: msgType, Content: block.Text})
			case backend.BlockToolUse:
				s.broadcast(wire.ServerMessage{
					Type:      wire.TypeToolUse,
					ToolName:  block.ToolName,
					ToolID:    block.ToolID,
					ToolInput: block.ToolInput,
				})
			case backend.BlockToolResult:
				s.broadcast(wire.ServerMessage{
					Type:      wire.TypeToolResult,
					ToolUseID: block.ToolUseID,
					Content:   block.Content,
					IsError:   block.IsError,
				})
			default:
				s.logger.Warn("dropping unknown block type", "block_type", block.Type)
			}
		}

	case backend.KindResult:
		msg := wire.ServerMessage{
			Type:    wire.TypeResult,
			Success: wire.Bool(ev.Result.Success),
		}
		if ev.Result.Success {
			msg.Result = ev.Result.Result
			msg.Cost = ev.Result.CostUSD
			msg.Duration = ev.Result.DurationMS
		} else {
			msg.Error = ev.Result.Error
		}
		s.broadcast(msg)

	default:
		s.logger.Warn("dropping unknown event kind", "kind", int(ev.Kind))
	}
}

// broadcast stamps the session id and next sequence number, serializes the
// envelope, and sends it to every observer. Observers whose Send fails are
// removed.
func (s *Session) broadcast(msg wire.ServerMessage) {
	s.mu.Lock()
	s.seq++
	msg.SessionID = s.id
	msg.Seq = s.seq
	targets := make([]Observer, 0, len(s.observers))
	for o := range s.observers {
		targets = append(targets, o)
	}
	s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal event", "type", msg.Type, "error", err)
		return
	}

	for _, o := range targets {
		if err := o.Send(data); err != nil {
			s.logger.Warn("removing observer after send failure", "error", err)
			s.mu.Lock()
			delete(s.observers, o)
			s.mu.Unlock()
		}
	}
}

// Attach adds an observer and immediately sends it a session_info snapshot.
func (s *Session) Attach(o Observer) {
	s.mu.Lock()
	s.observers[o] = struct{}{}
	info := wire.ServerMessage{
		Type:         wire.TypeSessionInfo,
		SessionID:    s.id,
		MessageCount: wire.Int(s.turns),
		IsActive:     wire.Bool(s.active),
	}
	s.mu.Unlock()

	data, err := json.Marshal(info)
	if err != nil {
		s.logger.Error("failed to marshal session info", "error", err)
		return
	}
	if err := o.Send(data); err != nil {
		s.logger.Warn("removing observer after send failure", "error", err)
		s.mu.Lock()
		delete(s.observers, o)
		s.mu.Unlock()
	}
}

// Detach removes an observer. Unknown observers are ignored.
func (s *Session) Detach(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, o)
}

// HasObservers reports whether any observer is attached.
func (s *Session) HasObservers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers) > 0
}

// MessageCount returns the number of turns submitted so far.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Active reports whether the driver is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// EndConversation closes the current turn queue and aborts any in-flight
// backend pass. The session stays usable: the next SubmitTurn starts a new
// conversation.
func (s *Session) EndConversation() {
	s.mu.Lock()
	q := s.queue
	cancel := s.cancelPass
	s.mu.Unlock()

	q.Close()
	cancel()
}

// Shutdown ends the conversation and releases the backend. The session
// rejects turns afterwards.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	q := s.queue
	cancel := s.cancelPass
	s.observers = make(map[Observer]struct{})
	s.mu.Unlock()

	q.Close()
	cancel()
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("backend close failed", "error", err)
	}
}
