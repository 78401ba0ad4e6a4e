// ABOUTME: Backend abstraction for conversation inference engines
// ABOUTME: Defines the event stream a session consumes for one user turn

package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrBackendClosed is returned when Generate is called on a closed backend.
var ErrBackendClosed = errors.New("backend closed")

// EventKind discriminates the events a backend emits while processing a turn.
type EventKind int

const (
	// KindSystem carries backend lifecycle information (init, status).
	KindSystem EventKind = iota
	// KindAssistant carries completed assistant content blocks.
	KindAssistant
	// KindUser carries tool results produced on the assistant's behalf.
	KindUser
	// KindResult terminates a turn with its outcome.
	KindResult
)

// BlockType discriminates content blocks within assistant and user events.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content block within an assistant or user event.
type Block struct {
	Type BlockType

	// Text blocks
	Text string

	// Tool use blocks
	ToolName  string
	ToolID    string
	ToolInput json.RawMessage

	// Tool result blocks
	ToolUseID string
	Content   string
	IsError   bool
}

// Result is the terminal outcome of a turn.
type Result struct {
	Success    bool
	Result     string
	CostUSD    float64
	DurationMS int64
	Error      string
}

// Event is one item on the stream Generate returns. Exactly one of the
// kind-specific payloads is populated, per Kind.
type Event struct {
	Kind EventKind

	// KindSystem
	Subtype string
	Data    json.RawMessage

	// KindAssistant and KindUser
	Blocks []Block

	// KindResult
	Result *Result
}

// Backend produces the event stream for a single conversation. Implementations
// hold conversation history across turns; a backend instance belongs to
// exactly one session.
//
// Generate starts processing one user turn. The returned channel carries the
// events for that turn and is closed after the KindResult event. Cancelling
// ctx aborts the turn; the channel still closes.
type Backend interface {
	Generate(ctx context.Context, turn string) (<-chan *Event, error)
	Close() error
}
