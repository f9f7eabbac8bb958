package crier

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestChallenge_QRLink(t *testing.T) {
	c := Challenge{Payload: "2@abc+def,xyz/="}
	want := "https://api.qrserver.com/v1/create-qr-code/?size=400x400&data=2%40abc%2Bdef%2Cxyz%2F%3D"
	if got := c.QRLink(); got != want {
		t.Errorf("QRLink() = %q, want %q", got, want)
	}
	if got := (Challenge{}).QRLink(); got != "" {
		t.Errorf("QRLink() without payload = %q, want empty", got)
	}
}

func TestNewFileSink_RequiresPath(t *testing.T) {
	_, err := NewFileSink(FileSinkOpts{})
	if err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Fatalf("err = %v, want path is required", err)
	}
}

func TestFileSink_WritesPairingChallenge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr-info.txt")
	var out bytes.Buffer
	sink, err := NewFileSink(FileSinkOpts{Path: path, Out: &out, Terminal: func() bool { return false }})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if sink.Path() != path {
		t.Errorf("Path() = %q, want %q", sink.Path(), path)
	}

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = sink.WriteChallenge(context.Background(), Challenge{Payload: "2@abc", Reason: "pairing required", IssuedAt: issued})
	if err != nil {
		t.Fatalf("WriteChallenge: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		"Issued: 2026-03-01T12:00:00Z",
		"Reason: pairing required",
		"data=2%40abc",
		"Payload:\n2@abc",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("file missing %q:\n%s", want, body)
		}
	}
	if out.Len() != 0 {
		t.Errorf("non-terminal sink echoed %q", out.String())
	}
}

func TestFileSink_EchoesOnTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr-info.txt")
	var out bytes.Buffer
	sink, err := NewFileSink(FileSinkOpts{Path: path, Out: &out, Terminal: func() bool { return true }})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := sink.WriteChallenge(context.Background(), Challenge{Payload: "p"}); err != nil {
		t.Fatalf("WriteChallenge: %v", err)
	}
	if !strings.Contains(out.String(), "Open this link to scan the pairing QR code") {
		t.Errorf("terminal output = %q", out.String())
	}
}

func TestFileSink_CredentialFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr-info.txt")
	sink, err := NewFileSink(FileSinkOpts{Path: path, Terminal: func() bool { return false }})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := sink.WriteChallenge(context.Background(), Challenge{Reason: "token rejected"}); err != nil {
		t.Fatalf("WriteChallenge: %v", err)
	}
	data, _ := os.ReadFile(path)
	body := string(data)
	if !strings.Contains(body, "Authentication is required") {
		t.Errorf("body = %q, want credential instructions", body)
	}
	if strings.Contains(body, "api.qrserver.com") {
		t.Errorf("body without payload should not carry a QR link: %q", body)
	}
}

func TestFileSink_ReplacesPreviousChallenge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qr-info.txt")
	sink, err := NewFileSink(FileSinkOpts{Path: path, Terminal: func() bool { return false }})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ctx := context.Background()
	if err := sink.WriteChallenge(ctx, Challenge{Payload: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteChallenge(ctx, Challenge{Payload: "second"}); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("file = %q, want only the second challenge", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no leftover temp files)", len(entries))
	}
}

func TestFileSink_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr-info.txt")
	sink, _ := NewFileSink(FileSinkOpts{Path: path, Terminal: func() bool { return false }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.WriteChallenge(ctx, Challenge{Payload: "x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should not exist, stat err = %v", err)
	}
}
