// Package discord implements crier.Connection for Discord using the Gateway
// WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/crier/internal/crier"
	"github.com/zulandar/crier/internal/mention"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a rate limit.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the rate limit wait.
	maxBackoff = 2 * time.Minute
	// memberPageSize is the largest page the guild members endpoint returns.
	memberPageSize = 1000
	// eventBuffer is the capacity of the event stream.
	eventBuffer = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Self() (*discordgo.User, error)
	User(userID string) (*discordgo.User, error)
	Channel(channelID string) (*discordgo.Channel, error)
	GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Self() (*discordgo.User, error) {
	return r.s.User("@me")
}
func (r *realSession) User(userID string) (*discordgo.User, error) {
	return r.s.User(userID)
}

// Channel prefers the state cache and falls back to the REST API.
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := r.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return r.s.Channel(channelID)
}
func (r *realSession) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	return r.s.GuildMembers(guildID, after, limit)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Connection implements crier.Connection for Discord. It is used for a
// single session; reconnection is left to the supervisor.
type Connection struct {
	sess        session
	botToken    string
	logger      *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	events    chan crier.Event
	removers  []func()
}

// ConnectionOpts holds parameters for creating a Discord Connection.
type ConnectionOpts struct {
	BotToken string // Discord bot token
	Logger   *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Connection.
func New(opts ConnectionOpts) (*Connection, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		logger:      logger,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		events:      make(chan crier.Event, eventBuffer),
	}, nil
}

// Connector returns a crier.Connector that builds a fresh Connection for
// every session.
func Connector(opts ConnectionOpts) crier.Connector {
	return func(ctx context.Context) (crier.Connection, error) {
		return New(opts)
	}
}

// Connect verifies the token and opens the Gateway connection. A rejected
// token is reported as crier.ErrAuthentication.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("discord: connection already closed")
	}
	if c.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + c.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent |
			discordgo.IntentsGuildMembers
		dg.ShouldReconnectOnError = false
		c.sess = &realSession{s: dg}
	}

	self, err := c.sess.Self()
	if err != nil {
		if isStatus(err, http.StatusUnauthorized) {
			return fmt.Errorf("discord: verify token: %w: %w", crier.ErrAuthentication, err)
		}
		return fmt.Errorf("discord: verify token: %w", err)
	}
	c.botUserID = self.ID

	c.removers = append(c.removers,
		c.sess.AddHandler(c.onReady),
		c.sess.AddHandler(c.onDisconnect),
		c.sess.AddHandler(c.onMessage),
	)

	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	c.connected = true
	return nil
}

// Listen returns the event stream. Must be called after Connect.
func (c *Connection) Listen(ctx context.Context) (<-chan crier.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	return c.events, nil
}

// Send delivers a message to a channel. Mentions are rendered as <@id>
// tags and are the only pings the message is allowed to trigger.
func (c *Connection) Send(ctx context.Context, msg crier.OutboundMessage) error {
	if !c.Connected() {
		return fmt.Errorf("discord: not connected")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	err := c.retryOnRateLimit(ctx, func() error {
		_, sendErr := c.sess.ChannelMessageSendComplex(msg.ChatID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Participants lists the member ids of a channel. Guild channels list the
// guild's members; direct message channels list their recipients.
func (c *Connection) Participants(ctx context.Context, chatID string) ([]string, error) {
	ch, err := c.sess.Channel(chatID)
	if err != nil {
		return nil, fmt.Errorf("discord: channel %s: %w", chatID, err)
	}
	if ch.GuildID == "" {
		ids := make([]string, 0, len(ch.Recipients))
		for _, u := range ch.Recipients {
			ids = append(ids, u.ID)
		}
		return ids, nil
	}

	var ids []string
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var page []*discordgo.Member
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = c.sess.GuildMembers(ch.GuildID, after, memberPageSize)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: guild members %s: %w", ch.GuildID, err)
		}
		for _, m := range page {
			if m.User != nil {
				ids = append(ids, m.User.ID)
			}
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			break
		}
		after = page[len(page)-1].User.ID
	}
	return ids, nil
}

// Member looks up a Discord user. The username is used as the display
// number.
func (c *Connection) Member(ctx context.Context, userID string) (mention.Recipient, error) {
	var u *discordgo.User
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = c.sess.User(userID)
		return apiErr
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return mention.Recipient{}, fmt.Errorf("discord: user %s: %w", userID, mention.ErrNotFound)
		}
		return mention.Recipient{}, fmt.Errorf("discord: user %s: %w", userID, err)
	}
	return mention.Recipient{UserID: u.ID, Number: u.Username}, nil
}

// Connected reports whether the gateway is up.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close removes the handlers, closes the gateway and the event stream.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	for _, remove := range c.removers {
		remove()
	}
	c.removers = nil
	close(c.events)
	if c.sess != nil {
		return c.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (c *Connection) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// emit pushes ev to the event stream, dropping it once the connection is
// closed or the buffer is full.
func (c *Connection) emit(ev crier.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("discord: event buffer full; event dropped", zap.String("kind", string(ev.Kind)))
	}
}

func (c *Connection) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	identity := ""
	if r.User != nil {
		c.mu.Lock()
		c.botUserID = r.User.ID
		c.connected = true
		c.mu.Unlock()
		identity = r.User.Username
		c.logger.Info("discord: connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
	}
	c.emit(crier.Event{Kind: crier.EventReady, Identity: identity})
}

func (c *Connection) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Warn("discord: gateway disconnected")
	c.emit(crier.Event{Kind: crier.EventDisconnected, Reason: "gateway disconnected"})
}

func (c *Connection) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := c.inbound(m)
	if !ok {
		return
	}
	c.emit(crier.Event{Kind: crier.EventMessage, Message: msg})
}

// inbound converts a Discord message event to an InboundMessage. Messages
// from bots, including this one, are skipped.
func (c *Connection) inbound(m *discordgo.MessageCreate) (crier.InboundMessage, bool) {
	if m.Message == nil || m.Author == nil {
		return crier.InboundMessage{}, false
	}
	if m.Author.ID == c.BotUserID() || m.Author.Bot {
		return crier.InboundMessage{}, false
	}

	chatName := ""
	if ch, err := c.sess.Channel(m.ChannelID); err == nil {
		chatName = ch.Name
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	return crier.InboundMessage{
		Platform:   "discord",
		MessageID:  m.ID,
		ChatID:     m.ChannelID,
		ChatName:   chatName,
		IsGroup:    m.GuildID != "",
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Text:       m.Content,
		Timestamp:  ts,
	}, true
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg crier.OutboundMessage) *discordgo.MessageSend {
	users := make([]string, 0, len(msg.Mentions))
	for _, r := range msg.Mentions {
		if r.UserID != "" {
			users = append(users, r.UserID)
		}
	}
	data := &discordgo.MessageSend{
		Content:         crier.InlineMentions(msg, mentionTag),
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: users},
	}
	if msg.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChatID}
	}
	return data
}

func mentionTag(userID string) string {
	return "<@" + userID + ">"
}

func isStatus(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == code
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Connection) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusTooManyRequests) {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		c.logger.Warn("discord: rate limited",
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxRetries),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
