package crier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/crier/internal/mention"
)

// MockConnection implements Connection for testing. It records sent
// messages and allows simulating platform events.
type MockConnection struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	events       chan Event
	sent         []OutboundMessage
	participants map[string][]string
	members      map[string]mention.Recipient
	botUserID    string

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// SendErr, when set, is returned by Send.
	SendErr error
	// ParticipantsErr, when set, is returned by Participants.
	ParticipantsErr error
	// SendHook, when set, runs inside Send before the message is recorded.
	SendHook func(ctx context.Context, msg OutboundMessage) error
}

// NewMockConnection creates a MockConnection with a buffered event channel.
func NewMockConnection() *MockConnection {
	return &MockConnection{
		events:       make(chan Event, 100),
		participants: make(map[string][]string),
		members:      make(map[string]mention.Recipient),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockConnection) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockConnection) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the connection as connected.
func (m *MockConnection) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock connection: already closed")
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// Listen returns the event channel. Must be called after Connect.
func (m *MockConnection) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock connection: not connected")
	}
	return m.events, nil
}

// Send records the outbound message.
func (m *MockConnection) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	hook := m.SendHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock connection: closed")
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Participants returns the configured member list of chatID.
func (m *MockConnection) Participants(ctx context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ParticipantsErr != nil {
		return nil, m.ParticipantsErr
	}
	ids, ok := m.participants[chatID]
	if !ok {
		return nil, fmt.Errorf("mock connection: unknown chat %s", chatID)
	}
	return append([]string(nil), ids...), nil
}

// Member returns the configured recipient for userID.
func (m *MockConnection) Member(ctx context.Context, userID string) (mention.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.members[userID]
	if !ok {
		return mention.Recipient{}, fmt.Errorf("mock connection: member %s: %w", userID, mention.ErrNotFound)
	}
	return rec, nil
}

// Connected reports the simulated connection state.
func (m *MockConnection) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Close shuts down the mock connection and closes the event channel.
func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// --- Test helpers ---

// SetParticipants configures the member list of a chat.
func (m *MockConnection) SetParticipants(chatID string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[chatID] = ids
}

// SetMember configures the recipient returned by Member.
func (m *MockConnection) SetMember(userID string, rec mention.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[userID] = rec
}

// SetConnected overrides the value reported by Connected, simulating a
// client that dropped without emitting a disconnect event.
func (m *MockConnection) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// IsClosed reports whether Close was called.
func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SimulateEvent pushes an event as if it came from the platform. It is a
// no-op once the connection is closed.
func (m *MockConnection) SimulateEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- ev
}

// SimulateReady emits a ready event for identity.
func (m *MockConnection) SimulateReady(identity string) {
	m.SimulateEvent(Event{Kind: EventReady, Identity: identity})
}

// SimulateDisconnect emits a disconnected event.
func (m *MockConnection) SimulateDisconnect(reason string) {
	m.SimulateEvent(Event{Kind: EventDisconnected, Reason: reason})
}

// SimulateQR emits a pairing challenge.
func (m *MockConnection) SimulateQR(payload string) {
	m.SimulateEvent(Event{Kind: EventQR, Challenge: payload})
}

// SimulateInbound emits a message event.
func (m *MockConnection) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.SimulateEvent(Event{Kind: EventMessage, Message: msg})
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockConnection) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockConnection) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockConnection) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
