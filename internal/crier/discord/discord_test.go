package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/crier/internal/crier"
	"github.com/zulandar/crier/internal/mention"
)

// --- Mock Discord session ---

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  bool
	openErr      error
	selfErr      error
	sendErr      error
	sendErrs     []error // consumed one per call before sendErr
	sentMessages []sentMessage
	handlers     []interface{}
	removeCount  int
	channels     map[string]*discordgo.Channel
	users        map[string]*discordgo.User
	members      map[string][]*discordgo.Member
	memberCalls  []string
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func newMockSession() *mockSession {
	return &mockSession{
		channels: make(map[string]*discordgo.Channel),
		users:    make(map[string]*discordgo.User),
		members:  make(map[string][]*discordgo.Member),
	}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) Self() (*discordgo.User, error) {
	if m.selfErr != nil {
		return nil, m.selfErr
	}
	return &discordgo.User{ID: "BOT_USER_ID", Username: "crier"}, nil
}

func (m *mockSession) User(userID string) (*discordgo.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, restError(http.StatusNotFound)
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberCalls = append(m.memberCalls, after)
	all := m.members[guildID]
	start := 0
	if after != "" {
		for i, mem := range all {
			if mem.User.ID == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return nil, err
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

// fire dispatches a gateway event to every registered handler of its type.
func (m *mockSession) fire(event interface{}) {
	m.mu.Lock()
	handlers := append([]interface{}(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		switch ev := event.(type) {
		case *discordgo.Ready:
			if fn, ok := h.(func(*discordgo.Session, *discordgo.Ready)); ok {
				fn(nil, ev)
			}
		case *discordgo.Disconnect:
			if fn, ok := h.(func(*discordgo.Session, *discordgo.Disconnect)); ok {
				fn(nil, ev)
			}
		case *discordgo.MessageCreate:
			if fn, ok := h.(func(*discordgo.Session, *discordgo.MessageCreate)); ok {
				fn(nil, ev)
			}
		}
	}
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (m *mockSession) lastSent() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[len(m.sentMessages)-1]
}

func restError(code int) *discordgo.RESTError {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

// --- Helper to create a connected connection ---

func newTestConnection(t *testing.T) (*Connection, *mockSession) {
	t.Helper()
	sess := newMockSession()
	c, err := New(ConnectionOpts{Session: sess})
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	c.baseBackoff = time.Millisecond
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c, sess
}

func nextEvent(t *testing.T, ch <-chan crier.Event) crier.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return crier.Event{}
	}
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(ConnectionOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestNew_WithBotToken(t *testing.T) {
	c, err := New(ConnectionOpts{BotToken: "test-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil connection")
	}
}

func TestConnector_BuildsFreshConnections(t *testing.T) {
	connect := Connector(ConnectionOpts{BotToken: "test-token"})
	a, err := connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("connector returned the same connection twice")
	}
}

// --- Connect tests ---

func TestConnect_Success(t *testing.T) {
	c, sess := newTestConnection(t)
	if !sess.opened {
		t.Error("expected session to be opened")
	}
	if c.BotUserID() != "BOT_USER_ID" {
		t.Errorf("bot user ID = %q, want BOT_USER_ID", c.BotUserID())
	}
	if !c.Connected() {
		t.Error("expected connected")
	}
	if len(sess.handlers) != 3 {
		t.Errorf("registered %d handlers, want 3", len(sess.handlers))
	}
}

func TestConnect_RejectedToken(t *testing.T) {
	sess := newMockSession()
	sess.selfErr = restError(http.StatusUnauthorized)
	c, _ := New(ConnectionOpts{Session: sess})

	err := c.Connect(context.Background())
	if !errors.Is(err, crier.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if sess.opened {
		t.Error("gateway should not open with a rejected token")
	}
}

func TestConnect_VerifyTransportError(t *testing.T) {
	sess := newMockSession()
	sess.selfErr = fmt.Errorf("dial tcp: connection refused")
	c, _ := New(ConnectionOpts{Session: sess})

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, crier.ErrAuthentication) {
		t.Error("transport errors must not be reported as authentication failures")
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("gateway error")
	c, _ := New(ConnectionOpts{Session: sess})

	err := c.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Fatalf("err = %v, want open gateway error", err)
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	c, _ := newTestConnection(t)
	c.Close()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed connection")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	c, _ := newTestConnection(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

// --- Listen / event tests ---

func TestListen_NotConnected(t *testing.T) {
	c, _ := New(ConnectionOpts{Session: newMockSession()})
	if _, err := c.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_ReadyEvent(t *testing.T) {
	c, sess := newTestConnection(t)
	ch, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	sess.fire(&discordgo.Ready{User: &discordgo.User{ID: "B2", Username: "crier-bot"}})

	ev := nextEvent(t, ch)
	if ev.Kind != crier.EventReady || ev.Identity != "crier-bot" {
		t.Errorf("event = %+v, want ready as crier-bot", ev)
	}
	if c.BotUserID() != "B2" {
		t.Errorf("bot user ID = %q, want B2", c.BotUserID())
	}
}

func TestListen_DisconnectEvent(t *testing.T) {
	c, sess := newTestConnection(t)
	ch, _ := c.Listen(context.Background())

	sess.fire(&discordgo.Disconnect{})

	ev := nextEvent(t, ch)
	if ev.Kind != crier.EventDisconnected {
		t.Errorf("kind = %q, want disconnected", ev.Kind)
	}
	if c.Connected() {
		t.Error("expected Connected() false after disconnect")
	}
}

func TestListen_ReceivesMessages(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.channels["C1"] = &discordgo.Channel{ID: "C1", GuildID: "G1", Name: "general"}
	ch, _ := c.Listen(context.Background())

	sess.fire(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "123456789012345678",
			ChannelID: "C1",
			GuildID:   "G1",
			Content:   ".help",
			Author:    &discordgo.User{ID: "U_ALICE", Username: "Alice"},
		},
	})

	ev := nextEvent(t, ch)
	if ev.Kind != crier.EventMessage {
		t.Fatalf("kind = %q, want message", ev.Kind)
	}
	msg := ev.Message
	if msg.Platform != "discord" || msg.ChatID != "C1" || msg.ChatName != "general" {
		t.Errorf("chat = %+v", msg)
	}
	if !msg.IsGroup {
		t.Error("guild message should be a group message")
	}
	if msg.MessageID != "123456789012345678" || msg.SenderID != "U_ALICE" || msg.SenderName != "Alice" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Text != ".help" {
		t.Errorf("text = %q, want .help", msg.Text)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp from snowflake")
	}
}

func TestListen_DirectMessageIsNotGroup(t *testing.T) {
	c, sess := newTestConnection(t)
	ch, _ := c.Listen(context.Background())

	sess.fire(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "100",
			ChannelID: "DM1",
			Content:   ".todo @5512345678 hi",
			Author:    &discordgo.User{ID: "U_ALICE", Username: "Alice"},
		},
	})

	ev := nextEvent(t, ch)
	if ev.Message.IsGroup {
		t.Error("direct message should not be a group message")
	}
}

func TestListen_FiltersSelfAndBotMessages(t *testing.T) {
	c, sess := newTestConnection(t)
	ch, _ := c.Listen(context.Background())

	sess.fire(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "C1", Content: "mine",
		Author: &discordgo.User{ID: "BOT_USER_ID"},
	}})
	sess.fire(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "C1", Content: "other bot",
		Author: &discordgo.User{ID: "U_OTHER", Bot: true},
	}})
	sess.fire(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "3", ChannelID: "C1"}})
	sess.fire(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "4", ChannelID: "C1", Content: "human",
		Author: &discordgo.User{ID: "U_ALICE"},
	}})

	ev := nextEvent(t, ch)
	if ev.Message.Text != "human" {
		t.Errorf("first delivered message = %q, want human", ev.Message.Text)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestEmit_AfterCloseIsDropped(t *testing.T) {
	c, sess := newTestConnection(t)
	c.Close()
	// Must not panic on the closed channel.
	sess.fire(&discordgo.Disconnect{})
}

// --- Send tests ---

func TestSend_WithMentions(t *testing.T) {
	c, sess := newTestConnection(t)

	err := c.Send(context.Background(), crier.OutboundMessage{
		ChatID:   "C1",
		Text:     "@525512345678 check this",
		Mentions: []mention.Recipient{{UserID: "U1", Number: "525512345678"}},
		Spans: []mention.Span{
			{Start: 0, End: 13, Recipient: mention.Recipient{UserID: "U1", Number: "525512345678"}},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := sess.lastSent()
	if sent.channelID != "C1" {
		t.Errorf("channel = %q, want C1", sent.channelID)
	}
	if sent.data.Content != "<@U1> check this" {
		t.Errorf("content = %q", sent.data.Content)
	}
	if sent.data.AllowedMentions == nil || len(sent.data.AllowedMentions.Users) != 1 || sent.data.AllowedMentions.Users[0] != "U1" {
		t.Errorf("allowed mentions = %+v, want [U1]", sent.data.AllowedMentions)
	}
	if sent.data.Reference != nil {
		t.Error("new message should not reference another")
	}
}

func TestBuildMessageSend_PositionalMentions(t *testing.T) {
	u1 := mention.Recipient{UserID: "U1", Number: "525512345678"}
	data := buildMessageSend(crier.OutboundMessage{
		ChatID:   "C1",
		Text:     "@525512345678 and @525512345678901 please",
		Mentions: []mention.Recipient{u1},
		Spans:    []mention.Span{{Start: 0, End: 13, Recipient: u1}},
	})
	if data.Content != "<@U1> and @525512345678901 please" {
		t.Errorf("content = %q", data.Content)
	}
	if len(data.AllowedMentions.Users) != 1 || data.AllowedMentions.Users[0] != "U1" {
		t.Errorf("allowed mentions = %+v, want [U1]", data.AllowedMentions.Users)
	}
}

func TestSend_Reply(t *testing.T) {
	c, sess := newTestConnection(t)

	err := c.Send(context.Background(), crier.OutboundMessage{ChatID: "C1", ReplyTo: "M9", Text: "done"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := sess.lastSent()
	if sent.data.Reference == nil || sent.data.Reference.MessageID != "M9" {
		t.Errorf("reference = %+v, want M9", sent.data.Reference)
	}
	if len(sent.data.AllowedMentions.Users) != 0 {
		t.Errorf("reply should not ping anyone: %+v", sent.data.AllowedMentions.Users)
	}
}

func TestSend_NoChannel(t *testing.T) {
	c, _ := newTestConnection(t)
	if err := c.Send(context.Background(), crier.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	c, _ := New(ConnectionOpts{Session: newMockSession()})
	if err := c.Send(context.Background(), crier.OutboundMessage{ChatID: "C1"}); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.sendErrs = []error{restError(http.StatusTooManyRequests), restError(http.StatusTooManyRequests)}

	if err := c.Send(context.Background(), crier.OutboundMessage{ChatID: "C1", Text: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sess.sentCount() != 1 {
		t.Errorf("sent %d, want 1", sess.sentCount())
	}
}

func TestSend_PostError(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.sendErr = fmt.Errorf("missing access")

	err := c.Send(context.Background(), crier.OutboundMessage{ChatID: "C1", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "missing access") {
		t.Fatalf("err = %v, want missing access", err)
	}
}

// --- Participants / Member tests ---

func TestParticipants_GuildPaginates(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.channels["C1"] = &discordgo.Channel{ID: "C1", GuildID: "G1"}
	var all []*discordgo.Member
	for i := 0; i < memberPageSize+5; i++ {
		all = append(all, &discordgo.Member{User: &discordgo.User{ID: fmt.Sprintf("U%04d", i)}})
	}
	sess.members["G1"] = all

	ids, err := c.Participants(context.Background(), "C1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(ids) != memberPageSize+5 {
		t.Errorf("got %d ids, want %d", len(ids), memberPageSize+5)
	}
	if ids[0] != "U0000" {
		t.Errorf("first id = %q, want U0000", ids[0])
	}
	if len(sess.memberCalls) != 2 || sess.memberCalls[1] != fmt.Sprintf("U%04d", memberPageSize-1) {
		t.Errorf("member calls = %v", sess.memberCalls)
	}
}

func TestParticipants_DirectMessage(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.channels["DM1"] = &discordgo.Channel{ID: "DM1", Recipients: []*discordgo.User{{ID: "U1"}, {ID: "U2"}}}

	ids, err := c.Participants(context.Background(), "DM1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if strings.Join(ids, ",") != "U1,U2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestParticipants_UnknownChannel(t *testing.T) {
	c, _ := newTestConnection(t)
	if _, err := c.Participants(context.Background(), "missing"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMember(t *testing.T) {
	c, sess := newTestConnection(t)
	sess.users["U1"] = &discordgo.User{ID: "U1", Username: "alice"}

	rec, err := c.Member(context.Background(), "U1")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if rec.UserID != "U1" || rec.Number != "alice" {
		t.Errorf("recipient = %+v", rec)
	}

	_, err = c.Member(context.Background(), "U404")
	if !errors.Is(err, mention.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- Close tests ---

func TestClose_RemovesHandlersAndClosesStream(t *testing.T) {
	c, sess := newTestConnection(t)
	ch, _ := c.Listen(context.Background())

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sess.closeCalled {
		t.Error("expected session close")
	}
	if sess.removeCount != 3 {
		t.Errorf("removed %d handlers, want 3", sess.removeCount)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed event stream")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

// --- retryOnRateLimit tests ---

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	c, _ := newTestConnection(t)
	calls := 0
	err := c.retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("boom")
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d, want error after one call", err, calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	c, _ := newTestConnection(t)
	calls := 0
	err := c.retryOnRateLimit(context.Background(), func() error {
		calls++
		return restError(http.StatusTooManyRequests)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	c, _ := newTestConnection(t)
	c.baseBackoff = time.Hour
	c.maxBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.retryOnRateLimit(ctx, func() error { return restError(http.StatusTooManyRequests) })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
