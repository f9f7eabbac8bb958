// Package contacts stores the phone-number to platform-user mapping used to
// resolve mentions.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/crier/internal/mention"
	"github.com/zulandar/crier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Book is a gorm-backed contact book.
type Book struct {
	db         *gorm.DB
	normalizer mention.Normalizer
}

// BookOpts holds parameters for creating a Book.
type BookOpts struct {
	DB         *gorm.DB
	Normalizer mention.Normalizer // defaults to mention.DefaultNormalizer()
}

// NewBook creates a Book.
func NewBook(opts BookOpts) (*Book, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("contacts: db is required")
	}
	n := opts.Normalizer
	if n.DefaultCode == "" {
		n = mention.DefaultNormalizer()
	}
	return &Book{db: opts.DB, normalizer: n}, nil
}

// Add registers number for userID, replacing any existing entry for the
// same canonical address.
func (b *Book) Add(ctx context.Context, number, userID, name string) (*models.Contact, error) {
	addr := b.normalizer.Normalize(number)
	if addr == "" {
		return nil, fmt.Errorf("contacts: add: number %q has no digits", number)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("contacts: add: user id is required")
	}

	c := models.Contact{
		Address: addr,
		UserID:  userID,
		Number:  number,
		Name:    strings.TrimSpace(name),
	}
	result := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "number", "name", "updated_at"}),
	}).Create(&c)
	if result.Error != nil {
		return nil, fmt.Errorf("contacts: add %s: %w", addr, result.Error)
	}
	return &c, nil
}

// Remove deletes the entry for number.
func (b *Book) Remove(ctx context.Context, number string) error {
	addr := b.normalizer.Normalize(number)
	result := b.db.WithContext(ctx).Where("address = ?", addr).Delete(&models.Contact{})
	if result.Error != nil {
		return fmt.Errorf("contacts: remove %s: %w", addr, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("contacts: remove %s: %w", addr, mention.ErrNotFound)
	}
	return nil
}

// List returns every contact ordered by address.
func (b *Book) List(ctx context.Context) ([]models.Contact, error) {
	var out []models.Contact
	if err := b.db.WithContext(ctx).Order("address").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("contacts: list: %w", err)
	}
	return out, nil
}

// ContactByAddress returns the recipient registered for a canonical address.
func (b *Book) ContactByAddress(ctx context.Context, address string) (mention.Recipient, error) {
	return b.first(ctx, "address = ?", address)
}

// ContactByID returns the recipient registered for a platform user id.
func (b *Book) ContactByID(ctx context.Context, userID string) (mention.Recipient, error) {
	return b.first(ctx, "user_id = ?", userID)
}

func (b *Book) first(ctx context.Context, query string, arg string) (mention.Recipient, error) {
	var c models.Contact
	err := b.db.WithContext(ctx).Where(query, arg).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return mention.Recipient{}, fmt.Errorf("contacts: %s: %w", arg, mention.ErrNotFound)
	}
	if err != nil {
		return mention.Recipient{}, fmt.Errorf("contacts: lookup %s: %w", arg, err)
	}
	return Recipient(c), nil
}

// Recipient converts a stored contact into a mention recipient.
func Recipient(c models.Contact) mention.Recipient {
	return mention.Recipient{Address: c.Address, UserID: c.UserID, Number: c.Address}
}
