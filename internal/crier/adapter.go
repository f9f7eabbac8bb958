// Package crier runs the group chat assistant: it supervises the platform
// connection, parses prefix commands and relays mention and broadcast
// messages.
package crier

import (
	"context"
	"strings"
	"time"

	"github.com/zulandar/crier/internal/mention"
)

// Connection is the interface that platform-specific implementations must
// satisfy. A Connection is used for one session only; the Supervisor builds
// a fresh one through its Connector after every restart.
type Connection interface {
	// Connect establishes the connection to the chat platform. An error
	// wrapping ErrAuthentication means the credentials were rejected.
	Connect(ctx context.Context) error

	// Listen returns the event stream. The channel is closed by Close.
	// Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send delivers an outbound message and returns once the platform has
	// acknowledged it.
	Send(ctx context.Context, msg OutboundMessage) error

	// Participants lists the member ids of a chat in platform order.
	Participants(ctx context.Context, chatID string) ([]string, error)

	// Member looks up a platform user.
	Member(ctx context.Context, userID string) (mention.Recipient, error)

	// Connected reports whether the underlying client still considers
	// itself connected.
	Connected() bool

	// Close releases the connection.
	Close() error
}

// Connector builds a new Connection for a session.
type Connector func(ctx context.Context) (Connection, error)

// BotUserIDer is an optional interface that connections can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// EventKind identifies a connection event.
type EventKind string

const (
	EventQR           EventKind = "qr"
	EventReady        EventKind = "ready"
	EventAuthFailure  EventKind = "auth_failure"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message"
)

// Event is one item of a connection's event stream.
type Event struct {
	Kind      EventKind
	Message   InboundMessage // EventMessage
	Challenge string         // EventQR: pairing payload
	Identity  string         // EventReady: the bot's own identity
	Reason    string         // EventDisconnected, EventAuthFailure
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform   string    // e.g. "slack", "discord"
	MessageID  string    // platform message id, used for replies
	ChatID     string    // platform-specific chat identifier
	ChatName   string    // human-readable chat name
	IsGroup    bool      // false for direct messages
	SenderID   string    // platform-specific user identifier
	SenderName string    // human-readable username
	FromSelf   bool      // set by connections that know the message is their own
	Text       string    // raw message text
	Timestamp  time.Time // when the message was sent
}

// Chat returns the ChatContext for the message. Participants are filled
// later, only by handlers that need them.
func (m InboundMessage) Chat() ChatContext {
	return ChatContext{ID: m.ChatID, Name: m.ChatName, IsGroup: m.IsGroup}
}

// ChatContext identifies the conversation a message arrived on.
type ChatContext struct {
	ID           string
	Name         string
	IsGroup      bool
	Participants []string
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChatID       string              // target chat
	ReplyTo      string              // message id to reply to (empty for a new message)
	Text         string              // message text (platform-native formatting)
	Mentions     []mention.Recipient // resolved recipients to notify
	Spans        []mention.Span      // where mentions sit in Text, in order
	InvocationID string              // correlates the send with the command that produced it
}

// InlineMentions renders msg.Text with each span replaced by the
// platform's mention tag. Only the spans are rewritten; any other "@" text
// is left as written. Recipients without a span are tagged on a trailing
// line so they are still notified.
func InlineMentions(msg OutboundMessage, tag func(userID string) string) string {
	text := msg.Text
	inline := make(map[string]bool, len(msg.Mentions))

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range msg.Spans {
		if sp.Recipient.UserID == "" || sp.Start < last || sp.End > len(text) || sp.Start > sp.End {
			continue
		}
		b.WriteString(text[last:sp.Start])
		b.WriteString(tag(sp.Recipient.UserID))
		inline[sp.Recipient.UserID] = true
		last = sp.End
	}
	b.WriteString(text[last:])
	out := b.String()

	var trailing []string
	for _, r := range msg.Mentions {
		if r.UserID == "" || inline[r.UserID] {
			continue
		}
		inline[r.UserID] = true
		trailing = append(trailing, tag(r.UserID))
	}
	if len(trailing) == 0 {
		return out
	}
	return out + "\n\n" + strings.Join(trailing, " ")
}
