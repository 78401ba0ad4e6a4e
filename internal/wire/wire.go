// ABOUTME: JSON envelope types for the client WebSocket protocol
// ABOUTME: Closed message sets for each direction; unknown inbound types answered with an error

package wire

import (
	"encoding/json"

	"github.com/2389/inbox-gateway/internal/mailstore"
)

// Inbound message types.
const (
	TypeChat         = "chat"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeRequestInbox = "request_inbox"
)

// Outbound message types.
const (
	TypeConnected        = "connected"
	TypeSessionInfo      = "session_info"
	TypeSubscribed       = "subscribed"
	TypeUnsubscribed     = "unsubscribed"
	TypeError            = "error"
	TypeAssistantMessage = "assistant_message"
	TypeUserMessage      = "user_message"
	TypeToolUse          = "tool_use"
	TypeToolResult       = "tool_result"
	TypeResult           = "result"
	TypeSystem           = "system"
	TypeInboxUpdate      = "inbox_update"
	TypeProfileUpdate    = "profile_update"
)

// ClientMessage is the envelope for everything a client sends.
type ClientMessage struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId,omitempty"`
	Content         string `json:"content,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// ServerMessage is the envelope for session-scoped and control events
// pushed to clients. Fields are populated per Type; the rest stay empty.
// Seq is a per-session monotonic counter stamped on session-scoped events
// so clients can detect reordering across the local and proxied paths.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`

	// session_info
	MessageCount *int  `json:"messageCount,omitempty"`
	IsActive     *bool `json:"isActive,omitempty"`

	// assistant_message, user_message, tool_result, profile_update
	Content string `json:"content,omitempty"`

	// tool_use
	ToolName  string          `json:"toolName,omitempty"`
	ToolID    string          `json:"toolId,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`

	// tool_result
	ToolUseID string `json:"toolUseId,omitempty"`
	IsError   bool   `json:"isError,omitempty"`

	// result
	Success  *bool   `json:"success,omitempty"`
	Result   string  `json:"result,omitempty"`
	Cost     float64 `json:"cost,omitempty"`
	Duration int64   `json:"duration,omitempty"`

	// error, result failure
	Error         string `json:"error,omitempty"`
	UsingFallback bool   `json:"usingFallback,omitempty"`

	// system
	Subtype string          `json:"subtype,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Connected is the greeting sent once per connection. AvailableSessions is
// never omitted so clients can always render the session picker.
type Connected struct {
	Type              string   `json:"type"`
	Message           string   `json:"message"`
	AvailableSessions []string `json:"availableSessions"`
}

// NewConnected builds a connected greeting with a non-nil session list.
func NewConnected(message string, sessions []string) Connected {
	if sessions == nil {
		sessions = []string{}
	}
	return Connected{Type: TypeConnected, Message: message, AvailableSessions: sessions}
}

// InboxUpdate carries the periodic inbox snapshot. Emails is never omitted:
// an empty inbox is still a valid snapshot.
type InboxUpdate struct {
	Type   string            `json:"type"`
	Emails []mailstore.Email `json:"emails"`
}

// NewInboxUpdate builds an inbox_update with a non-nil email list.
func NewInboxUpdate(emails []mailstore.Email) InboxUpdate {
	if emails == nil {
		emails = []mailstore.Email{}
	}
	return InboxUpdate{Type: TypeInboxUpdate, Emails: emails}
}

// ProfileUpdate carries the debounced profile file content.
type ProfileUpdate struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Error builds an error envelope for the offending connection only.
func Error(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Error: msg}
}

// Bool returns a pointer for the optional boolean wire fields.
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer for the optional integer wire fields.
func Int(n int) *int {
	return &n
}
