package crier

import (
	"context"
	"fmt"

	"github.com/zulandar/crier/internal/mention"
)

// ContactBook maps phone addresses to platform users.
type ContactBook interface {
	ContactByAddress(ctx context.Context, address string) (mention.Recipient, error)
	ContactByID(ctx context.Context, userID string) (mention.Recipient, error)
}

// directory implements mention.Directory over a contact book and the live
// connection. Participants without a contact entry fall back to the
// platform's member lookup.
type directory struct {
	book ContactBook
	conn Connection
}

func newDirectory(book ContactBook, conn Connection) *directory {
	return &directory{book: book, conn: conn}
}

func (d *directory) ContactByAddress(ctx context.Context, address string) (mention.Recipient, error) {
	if d.book == nil {
		return mention.Recipient{}, fmt.Errorf("crier: no contact book: %w", mention.ErrNotFound)
	}
	return d.book.ContactByAddress(ctx, address)
}

func (d *directory) ContactByID(ctx context.Context, userID string) (mention.Recipient, error) {
	if d.book != nil {
		rec, err := d.book.ContactByID(ctx, userID)
		if err == nil {
			return rec, nil
		}
	}
	rec, err := d.conn.Member(ctx, userID)
	if err != nil {
		return mention.Recipient{}, fmt.Errorf("crier: member %s: %w", userID, err)
	}
	return rec, nil
}

func (d *directory) FetchParticipants(ctx context.Context, chatID string) ([]string, error) {
	ids, err := d.conn.Participants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParticipantFetch, chatID, err)
	}
	return ids, nil
}
