// ABOUTME: Scripted backend replaying canned event streams for tests
// ABOUTME: Records received turns and supports blocking to exercise concurrency

package backend

import (
	"context"
	"sync"
)

// Script is the canned event sequence for one turn. A KindResult event is
// appended automatically if the script does not end with one.
type Script []*Event

// Scripted is a Backend that replays canned scripts turn by turn. Once the
// scripts run out it answers every turn with a plain text echo. Intended for
// tests.
type Scripted struct {
	mu      sync.Mutex
	scripts []Script
	turns   []string
	closed  bool

	// Gate, when non-nil, is received from before each turn's events are
	// emitted. Close it (or send to it) to release turns one at a time.
	Gate chan struct{}
}

// NewScripted creates a scripted backend with the given per-turn scripts.
func NewScripted(scripts ...Script) *Scripted {
	return &Scripted{scripts: scripts}
}

// Turns returns the turns received so far, in order.
func (s *Scripted) Turns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.turns))
	copy(out, s.turns)
	return out
}

// Generate replays the next script.
func (s *Scripted) Generate(ctx context.Context, turn string) (<-chan *Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrBackendClosed
	}
	s.turns = append(s.turns, turn)
	var script Script
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	} else {
		script = Script{
			{Kind: KindAssistant, Blocks: []Block{{Type: BlockText, Text: "echo: " + turn}}},
		}
	}
	gate := s.Gate
	s.mu.Unlock()

	ch := make(chan *Event, len(script)+1)
	go func() {
		defer close(ch)

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				ch <- &Event{Kind: KindResult, Result: &Result{Success: false, Error: ctx.Err().Error()}}
				return
			}
		}

		sawResult := false
		for _, ev := range script {
			select {
			case ch <- ev:
				if ev.Kind == KindResult {
					sawResult = true
				}
			case <-ctx.Done():
				ch <- &Event{Kind: KindResult, Result: &Result{Success: false, Error: ctx.Err().Error()}}
				return
			}
		}
		if !sawResult {
			ch <- &Event{Kind: KindResult, Result: &Result{Success: true, Result: "done"}}
		}
	}()
	return ch, nil
}

// Close marks the backend closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
