package crier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/crier/internal/cooldown"
	"github.com/zulandar/crier/internal/mention"
	"go.uber.org/zap"
)

// BroadcastTemplate wraps the payload of a broadcast message.
const BroadcastTemplate = "📢 *NOTIFICATION FOR EVERYONE*\n\n%s\n\n_This notification was sent to every member of the group._"

// FormatBroadcast renders the broadcast message body for payload.
func FormatBroadcast(payload string) string {
	return fmt.Sprintf(BroadcastTemplate, payload)
}

// handleMention sends the payload with every resolvable token replaced by
// its recipient's number and the recipients attached as mentions.
func (r *Router) handleMention(ctx context.Context, inv *invocation) (string, error) {
	ticket, text := r.begin(inv)
	if ticket == nil {
		return text, nil
	}
	defer ticket.Release()

	tokens := mention.ExtractTokens(inv.cmd.Payload, r.maxMentions)
	if len(tokens) == 0 {
		return "", &CommandFormatError{
			Kind:   KindMention,
			Reason: "no mention tokens",
			Usage: fmt.Sprintf("No mentions (@) found. Usage: %stodo @number message\nExample: %stodo @551234567890 Hello",
				r.prefix, r.prefix),
		}
	}

	dir := newDirectory(r.book, inv.conn)
	batch := r.resolver.ResolveAll(ctx, dir, tokens)
	recipients := batch.Recipients()
	failed := batch.Failed()
	inv.log.Info("mentions resolved",
		zap.Int("tokens", len(tokens)),
		zap.Int("resolved", len(recipients)),
		zap.Strings("failed", failed))
	if len(recipients) == 0 {
		return "❌ No valid users were found.", nil
	}

	body, spans := mention.SubstituteSpans(inv.cmd.Payload, batch)
	err := r.send(ctx, inv, OutboundMessage{
		ChatID:   inv.msg.ChatID,
		Text:     body,
		Mentions: recipients,
		Spans:    spans,
	})
	if err != nil {
		return "", err
	}
	ticket.Commit()
	r.record(ctx, inv, len(recipients), len(failed))

	summary := fmt.Sprintf("✅ Mentions sent to %d user(s).", len(recipients))
	if len(failed) > 0 {
		summary += "\n❌ Not found: " + strings.Join(failed, ", ")
	}
	return summary, nil
}

// handleBroadcast mentions every resolvable member of the chat.
func (r *Router) handleBroadcast(ctx context.Context, inv *invocation) (string, error) {
	ticket, text := r.begin(inv)
	if ticket == nil {
		return text, nil
	}
	defer ticket.Release()

	if strings.TrimSpace(inv.cmd.Payload) == "" {
		return "", &CommandFormatError{
			Kind:   KindBroadcast,
			Reason: "empty payload",
			Usage:  fmt.Sprintf("Write the message. Usage: %snotify your important message", r.prefix),
		}
	}

	dir := newDirectory(r.book, inv.conn)
	chat := inv.msg.Chat()
	fctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	ids, err := dir.FetchParticipants(fctx, chat.ID)
	cancel()
	if err != nil {
		return "", err
	}
	chat.Participants = ids

	recipients, failed := r.resolver.ResolveParticipants(ctx, dir, chat.Participants)
	inv.log.Info("participants resolved",
		zap.Int("participants", len(chat.Participants)),
		zap.Int("resolved", len(recipients)),
		zap.Int("failed", failed))
	if len(recipients) == 0 {
		return "❌ Could not resolve any group member.", nil
	}

	err = r.send(ctx, inv, OutboundMessage{
		ChatID:   chat.ID,
		Text:     FormatBroadcast(inv.cmd.Payload),
		Mentions: recipients,
	})
	if err != nil {
		return "", err
	}
	ticket.Commit()
	r.record(ctx, inv, len(recipients), failed)

	return fmt.Sprintf("✅ Notification sent to %d members.", len(recipients)), nil
}

// handleHelp returns the command reference.
func (r *Router) handleHelp() string {
	p := r.prefix
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 *%s* 🤖\n\n", strings.ToUpper(r.botName))
	b.WriteString("*COMMANDS:*\n\n")
	fmt.Fprintf(&b, "*%stodo @number message*\n- Mentions users\n- Example: %stodo @551234567890 Check this\n\n", p, p)
	fmt.Fprintf(&b, "*%snotify message*\n- Notifies EVERYONE\n- Example: %snotify Meeting tomorrow\n\n", p, p)
	fmt.Fprintf(&b, "*%shelp*\n- Shows this help\n\n", p)
	b.WriteString("*NOTES:*\n")
	b.WriteString("- Use @ followed by the number (no spaces)\n")
	fmt.Fprintf(&b, "- At most %d mentions per command", r.maxMentions)
	return b.String()
}

// begin reserves the cooldown slot for the invocation. When the slot is
// not available it returns a nil ticket and the text to reply with.
func (r *Router) begin(inv *invocation) (*cooldown.Ticket, string) {
	kind := inv.cmd.Kind.String()
	ticket, remaining, err := r.tracker.Begin(inv.msg.ChatID, kind)
	switch {
	case errors.Is(err, cooldown.ErrInFlight):
		inv.log.Info("command already in flight")
		return nil, fmt.Sprintf("⏳ A %s%s is already in progress in this chat.", r.prefix, kind)
	case remaining > 0:
		inv.log.Info("command on cooldown", zap.Int("remaining", remaining))
		return nil, fmt.Sprintf("⏳ Wait %d seconds before using %s%s again.", remaining, r.prefix, kind)
	}
	return ticket, ""
}
