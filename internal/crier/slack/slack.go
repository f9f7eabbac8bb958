// Package slack implements crier.Connection for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/crier/internal/crier"
	"github.com/zulandar/crier/internal/mention"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// memberPageSize is the page size for conversations.members.
	memberPageSize = 200
	// eventBuffer is the capacity of the event stream.
	eventBuffer = 100
)

// authErrors are the Slack API error codes that mean the tokens are unusable.
var authErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUsersInConversationContext(ctx context.Context, params *slackapi.GetUsersInConversationParameters) ([]string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event     { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Connection implements crier.Connection for Slack Socket Mode. It is used
// for a single session; when the socket drops it reports a disconnect and
// leaves reconnection to the supervisor.
type Connection struct {
	client   slackClient
	socket   socketClient
	appToken string
	botToken string
	logger   *zap.Logger

	mu        sync.Mutex
	botUserID string
	botName   string
	connected bool
	listening bool
	closed    bool
	events    chan crier.Event
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	names     map[string]string
}

// ConnectionOpts holds parameters for creating a Slack Connection.
type ConnectionOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Connection.
func New(opts ConnectionOpts) (*Connection, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		client:   opts.Client,
		socket:   opts.Socket,
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		logger:   logger,
		events:   make(chan crier.Event, eventBuffer),
		names:    make(map[string]string),
	}, nil
}

// Connector returns a crier.Connector that builds a fresh Connection for
// every session.
func Connector(opts ConnectionOpts) crier.Connector {
	return func(ctx context.Context) (crier.Connection, error) {
		return New(opts)
	}
}

// Connect verifies the bot token. Rejected tokens are reported as
// crier.ErrAuthentication.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("slack: connection already closed")
	}
	if c.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if c.client == nil {
		api := slackapi.New(c.botToken, slackapi.OptionAppLevelToken(c.appToken))
		c.client = api
		c.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := c.client.AuthTestContext(ctx)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("slack: auth test: %w: %w", crier.ErrAuthentication, err)
		}
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID
	c.botName = auth.User

	c.connected = true
	return nil
}

// Listen starts the Socket Mode client and returns the event stream. Must
// be called after Connect.
func (c *Connection) Listen(ctx context.Context) (<-chan crier.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	if c.listening {
		return c.events, nil
	}
	c.listening = true

	listenCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.run(listenCtx)
	go c.pumpEvents(listenCtx)

	return c.events, nil
}

// Send posts a message. Replies go to the thread of the original message.
func (c *Connection) Send(ctx context.Context, msg crier.OutboundMessage) error {
	if !c.Connected() {
		return fmt.Errorf("slack: not connected")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := c.client.PostMessageContext(ctx, msg.ChatID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Participants lists the member ids of a conversation.
func (c *Connection) Participants(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		params := &slackapi.GetUsersInConversationParameters{
			ChannelID: chatID,
			Cursor:    cursor,
			Limit:     memberPageSize,
		}
		var page []string
		var next string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, next, apiErr = c.client.GetUsersInConversationContext(ctx, params)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversation members %s: %w", chatID, err)
		}
		ids = append(ids, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return ids, nil
}

// Member looks up a Slack user. The display name is used as the display
// number.
func (c *Connection) Member(ctx context.Context, userID string) (mention.Recipient, error) {
	var user *slackapi.User
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = c.client.GetUserInfoContext(ctx, userID)
		return apiErr
	})
	if err != nil {
		var serr slackapi.SlackErrorResponse
		if errors.As(err, &serr) && serr.Err == "user_not_found" {
			return mention.Recipient{}, fmt.Errorf("slack: user %s: %w", userID, mention.ErrNotFound)
		}
		return mention.Recipient{}, fmt.Errorf("slack: user %s: %w", userID, err)
	}
	return mention.Recipient{UserID: user.ID, Number: displayName(user)}, nil
}

// Connected reports whether the socket is up.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close stops the socket and closes the event stream.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (c *Connection) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// run drives the Socket Mode client. Its return ends the session.
func (c *Connection) run(ctx context.Context) {
	defer c.wg.Done()
	err := c.socket.RunContext(ctx)
	if ctx.Err() != nil {
		return
	}
	reason := "socket mode stopped"
	if err != nil {
		reason = "socket mode stopped: " + err.Error()
	}
	c.setConnected(false)
	c.emit(crier.Event{Kind: crier.EventDisconnected, Reason: reason})
}

// pumpEvents reads Socket Mode events and converts them to crier events.
func (c *Connection) pumpEvents(ctx context.Context) {
	defer c.wg.Done()
	events := c.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (c *Connection) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge the event.
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		c.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		c.logger.Info("slack: connecting to socket mode")

	case socketmode.EventTypeConnected:
		c.setConnected(true)
		c.logger.Info("slack: connected to socket mode")
		c.mu.Lock()
		identity := c.botName
		c.mu.Unlock()
		c.emit(crier.Event{Kind: crier.EventReady, Identity: identity})

	case socketmode.EventTypeConnectionError:
		c.setConnected(false)
		c.logger.Warn("slack: connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeInvalidAuth:
		c.setConnected(false)
		c.emit(crier.Event{Kind: crier.EventAuthFailure, Reason: "slack rejected the app token"})

	case socketmode.EventTypeDisconnect:
		c.setConnected(false)
		c.emit(crier.Event{Kind: crier.EventDisconnected, Reason: "slack requested disconnect"})
	}
}

// handleEventsAPI processes Events API callbacks.
func (c *Connection) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		if msg, ok := c.inbound(ctx, ev); ok {
			c.emit(crier.Event{Kind: crier.EventMessage, Message: msg})
		}
	}
}

// inbound converts a Slack message event to an InboundMessage. Bot messages
// and message subtypes (edits, deletes, joins) are skipped.
func (c *Connection) inbound(ctx context.Context, ev *slackevents.MessageEvent) (crier.InboundMessage, bool) {
	if ev.User == c.BotUserID() {
		return crier.InboundMessage{}, false
	}
	if ev.BotID != "" || ev.SubType != "" {
		return crier.InboundMessage{}, false
	}

	return crier.InboundMessage{
		Platform:   "slack",
		MessageID:  ev.TimeStamp,
		ChatID:     ev.Channel,
		IsGroup:    ev.ChannelType != "im",
		SenderID:   ev.User,
		SenderName: c.resolveUserName(ctx, ev.User),
		Text:       ev.Text,
		Timestamp:  parseSlackTimestamp(ev.TimeStamp),
	}, true
}

// resolveUserName looks up a user's display name, caching the result.
// Falls back to the user ID.
func (c *Connection) resolveUserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.names[userID]
	c.mu.Unlock()
	if ok {
		return name
	}

	user, err := c.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	name = displayName(user)
	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}

func (c *Connection) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
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
		c.logger.Warn("slack: event buffer full; event dropped", zap.String("kind", string(ev.Kind)))
	}
}

func displayName(u *slackapi.User) string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.ID
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg crier.OutboundMessage) []slackapi.MsgOption {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(crier.InlineMentions(msg, mentionTag), false),
	}
	// Thread reply.
	if msg.ReplyTo != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ReplyTo))
	}
	return options
}

func mentionTag(userID string) string {
	return "<@" + userID + ">"
}

func isAuthError(err error) bool {
	var serr slackapi.SlackErrorResponse
	return errors.As(err, &serr) && authErrors[serr.Err]
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
