package crier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/crier/internal/cooldown"
	"github.com/zulandar/crier/internal/mention"
	"github.com/zulandar/crier/internal/models"
	"go.uber.org/zap"
)

const defaultCallTimeout = 15 * time.Second

// Recorder stores an audit entry for every delivered message.
type Recorder interface {
	Record(ctx context.Context, d models.Delivery) error
}

// Router parses inbound messages into commands and runs the matching
// handler. Handler failures are turned into replies here and never reach
// the Supervisor.
type Router struct {
	prefix      string
	botName     string
	maxMentions int
	callTimeout time.Duration
	tracker     *cooldown.Tracker
	resolver    *mention.Resolver
	book        ContactBook
	recorder    Recorder
	logger      *zap.Logger
	newID       func() string
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Prefix      string // defaults to "."
	BotName     string // shown in the help text; defaults to "Crier"
	MaxMentions int    // defaults to mention.DefaultMaxTokens
	CallTimeout time.Duration
	Tracker     *cooldown.Tracker
	Resolver    *mention.Resolver
	Book        ContactBook // optional; without it only participant lookups resolve
	Recorder    Recorder    // optional
	Logger      *zap.Logger
	NewID       func() string // defaults to uuid.NewString
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Tracker == nil {
		return nil, fmt.Errorf("crier: router: cooldown tracker is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("crier: router: resolver is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.BotName == "" {
		opts.BotName = "Crier"
	}
	if opts.MaxMentions <= 0 {
		opts.MaxMentions = mention.DefaultMaxTokens
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Router{
		prefix:      opts.Prefix,
		botName:     opts.BotName,
		maxMentions: opts.MaxMentions,
		callTimeout: opts.CallTimeout,
		tracker:     opts.Tracker,
		resolver:    opts.Resolver,
		book:        opts.Book,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		newID:       opts.NewID,
	}, nil
}

// Route parses text received in chat.
func (r *Router) Route(text string, chat ChatContext) Command {
	return Parse(text, chat, r.prefix)
}

// Handle routes one inbound message and sends the handler's replies
// through conn. It never panics and never returns an error: every failure
// ends in a reply or a log entry.
func (r *Router) Handle(ctx context.Context, conn Connection, msg InboundMessage) {
	if r.isSelfMessage(conn, msg) {
		return
	}
	cmd := r.Route(msg.Text, msg.Chat())
	if cmd.Kind == KindUnrecognized {
		return
	}

	inv := &invocation{
		id:   r.newID(),
		conn: conn,
		msg:  msg,
		cmd:  cmd,
	}
	inv.log = r.logger.With(
		zap.String("invocation", inv.id),
		zap.String("chat", msg.ChatID),
		zap.String("sender", msg.SenderID),
		zap.Stringer("command", cmd.Kind),
	)
	inv.log.Info("command received")

	defer func() {
		if p := recover(); p != nil {
			inv.log.Error("handler panicked", zap.Any("panic", p))
			r.reply(ctx, inv, failureText(cmd.Kind))
		}
	}()

	var (
		text string
		err  error
	)
	switch cmd.Kind {
	case KindMention:
		text, err = r.handleMention(ctx, inv)
	case KindBroadcast:
		text, err = r.handleBroadcast(ctx, inv)
	case KindHelp:
		text = r.handleHelp()
	}

	if err != nil {
		if ctx.Err() != nil {
			inv.log.Warn("handler abandoned", zap.Error(err))
			return
		}
		inv.log.Warn("command failed", zap.Error(err))
		text = r.errorText(cmd.Kind, err)
	}
	r.reply(ctx, inv, text)
}

// invocation carries the per-command state through a handler.
type invocation struct {
	id   string
	conn Connection
	msg  InboundMessage
	cmd  Command
	log  *zap.Logger
}

// send delivers out with the call timeout applied.
func (r *Router) send(ctx context.Context, inv *invocation, out OutboundMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	out.InvocationID = inv.id
	if err := inv.conn.Send(ctx, out); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// reply answers the invoking message. Failures are logged only.
func (r *Router) reply(ctx context.Context, inv *invocation, text string) {
	if text == "" {
		return
	}
	if ctx.Err() != nil {
		inv.log.Warn("reply abandoned", zap.Error(ctx.Err()))
		return
	}
	err := r.send(ctx, inv, OutboundMessage{
		ChatID:  inv.msg.ChatID,
		ReplyTo: inv.msg.MessageID,
		Text:    text,
	})
	if err != nil {
		inv.log.Error("send reply", zap.Error(err))
	}
}

// record stores the delivery audit entry when a recorder is configured.
func (r *Router) record(ctx context.Context, inv *invocation, recipients, failed int) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.Record(ctx, models.Delivery{
		InvocationID: inv.id,
		ChatID:       inv.msg.ChatID,
		Kind:         inv.cmd.Kind.String(),
		SenderID:     inv.msg.SenderID,
		Recipients:   recipients,
		Failed:       failed,
	})
	if err != nil {
		inv.log.Warn("record delivery", zap.Error(err))
	}
}

// errorText maps a handler error to the text shown to the user.
func (r *Router) errorText(kind Kind, err error) string {
	var formatErr *CommandFormatError
	switch {
	case errors.As(err, &formatErr):
		return "❌ " + formatErr.Usage
	case errors.Is(err, ErrParticipantFetch):
		return "❌ Could not fetch the group members."
	default:
		return failureText(kind)
	}
}

func failureText(kind Kind) string {
	if kind == KindBroadcast {
		return "❌ Error sending the notification."
	}
	return "❌ Error processing the command."
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(conn Connection, msg InboundMessage) bool {
	if msg.FromSelf {
		return true
	}
	if bui, ok := conn.(BotUserIDer); ok {
		id := bui.BotUserID()
		return id != "" && msg.SenderID == id
	}
	return false
}
