package crier

import (
	"strings"
	"unicode"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "."

// Kind is the type of a parsed command.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindMention
	KindBroadcast
	KindHelp
)

// String returns the command keyword for the kind.
func (k Kind) String() string {
	switch k {
	case KindMention:
		return "todo"
	case KindBroadcast:
		return "notify"
	case KindHelp:
		return "help"
	default:
		return "unrecognized"
	}
}

// keywords maps lowercase command words to kinds.
var keywords = map[string]Kind{
	"todo":   KindMention,
	"notify": KindBroadcast,
	"help":   KindHelp,
}

// Command is the parsed form of one message text.
type Command struct {
	Kind    Kind
	Payload string // text after the keyword, trimmed; empty for Help
	Raw     string // the original message text
}

// Parse turns message text into a Command. The keyword is matched case
// insensitively and must follow prefix directly. Mention and Broadcast need
// a space and a non-empty payload after the keyword; Help must stand alone.
// Outside group chats only Help is recognized.
func Parse(text string, chat ChatContext, prefix string) Command {
	cmd := Command{Kind: KindUnrecognized, Raw: text}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, prefix) {
		return cmd
	}
	rest := trimmed[len(prefix):]

	word, payload := splitKeyword(rest)
	kind, ok := keywords[strings.ToLower(word)]
	if !ok {
		return cmd
	}

	switch kind {
	case KindHelp:
		if payload != "" {
			return cmd
		}
	case KindMention, KindBroadcast:
		if !chat.IsGroup || payload == "" {
			return cmd
		}
	}

	cmd.Kind = kind
	cmd.Payload = payload
	return cmd
}

// splitKeyword splits s at the first whitespace into the keyword and the
// trimmed remainder.
func splitKeyword(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
