package crier

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
)

// qrImageURL renders a pairing payload as a QR image through a public
// service.
const qrImageURL = "https://api.qrserver.com/v1/create-qr-code/?size=400x400&data="

// Challenge is what an operator needs to re-pair the bot.
type Challenge struct {
	Payload  string // pairing payload from a qr event; empty for credential failures
	Reason   string // why authentication is required
	IssuedAt time.Time
}

// QRLink returns the QR image URL for the payload, or "" when there is none.
func (c Challenge) QRLink() string {
	if c.Payload == "" {
		return ""
	}
	return qrImageURL + url.QueryEscape(c.Payload)
}

// RecoverySink stores pairing challenges where an operator can find them.
type RecoverySink interface {
	WriteChallenge(ctx context.Context, c Challenge) error
}

// FileSink writes the latest challenge to a file, replacing it atomically.
// When the process runs in a terminal the challenge is echoed as well.
type FileSink struct {
	path     string
	out      io.Writer
	terminal func() bool
}

// FileSinkOpts holds parameters for creating a FileSink.
type FileSinkOpts struct {
	Path     string
	Out      io.Writer   // defaults to os.Stdout
	Terminal func() bool // defaults to checking whether stdout is a TTY
}

// NewFileSink creates a FileSink.
func NewFileSink(opts FileSinkOpts) (*FileSink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("crier: recovery: path is required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Terminal == nil {
		opts.Terminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
	}
	return &FileSink{path: opts.Path, out: opts.Out, terminal: opts.Terminal}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// WriteChallenge replaces the challenge file with c.
func (s *FileSink) WriteChallenge(ctx context.Context, c Challenge) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crier: recovery: %w", err)
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now()
	}

	body := renderChallenge(c)
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("crier: recovery: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("crier: recovery: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("crier: recovery: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("crier: recovery: rename: %w", err)
	}

	if s.terminal() {
		fmt.Fprint(s.out, body)
	}
	return nil
}

func renderChallenge(c Challenge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issued: %s\n", c.IssuedAt.Format(time.RFC3339))
	if c.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", c.Reason)
	}
	if link := c.QRLink(); link != "" {
		fmt.Fprintf(&b, "\nOpen this link to scan the pairing QR code:\n%s\n", link)
		fmt.Fprintf(&b, "\nPayload:\n%s\n", c.Payload)
	} else {
		b.WriteString("\nAuthentication is required. Fix the credentials, then restart the session (SIGHUP or POST /restart).\n")
	}
	return b.String()
}
