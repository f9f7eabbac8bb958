package contacts

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/crier/internal/mention"
	"github.com/zulandar/crier/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Contact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testBook(t *testing.T) *Book {
	t.Helper()
	b, err := NewBook(BookOpts{DB: testDB(t)})
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	return b
}

func TestNewBook_RequiresDB(t *testing.T) {
	_, err := NewBook(BookOpts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestAdd_NormalizesNumber(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()

	c, err := b.Add(ctx, "55 1234-5678", "U1", "Ana")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if c.Address != "525512345678" {
		t.Errorf("Address = %q, want %q", c.Address, "525512345678")
	}

	rec, err := b.ContactByAddress(ctx, "525512345678")
	if err != nil {
		t.Fatalf("ContactByAddress: %v", err)
	}
	if rec.UserID != "U1" || rec.Number != "525512345678" {
		t.Errorf("recipient = %+v", rec)
	}
}

func TestAdd_ReplacesExisting(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()

	if _, err := b.Add(ctx, "5512345678", "U1", "Ana"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(ctx, "+52 55 1234 5678", "U2", "Ana B"); err != nil {
		t.Fatal(err)
	}

	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if list[0].UserID != "U2" || list[0].Name != "Ana B" {
		t.Errorf("contact = %+v, want replaced entry", list[0])
	}
}

func TestAdd_Validation(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()

	if _, err := b.Add(ctx, "abc", "U1", ""); err == nil {
		t.Error("expected error for number without digits")
	}
	if _, err := b.Add(ctx, "5512345678", "  ", ""); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestContactByID(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()
	if _, err := b.Add(ctx, "15551234567", "U9", "Bob"); err != nil {
		t.Fatal(err)
	}

	rec, err := b.ContactByID(ctx, "U9")
	if err != nil {
		t.Fatalf("ContactByID: %v", err)
	}
	if rec.Address != "15551234567" {
		t.Errorf("Address = %q, want %q", rec.Address, "15551234567")
	}
}

func TestLookup_NotFound(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()

	_, err := b.ContactByAddress(ctx, "520000000000")
	if !errors.Is(err, mention.ErrNotFound) {
		t.Errorf("ContactByAddress err = %v, want ErrNotFound", err)
	}
	_, err = b.ContactByID(ctx, "nobody")
	if !errors.Is(err, mention.ErrNotFound) {
		t.Errorf("ContactByID err = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()
	if _, err := b.Add(ctx, "5512345678", "U1", ""); err != nil {
		t.Fatal(err)
	}

	if err := b.Remove(ctx, "5512345678"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := b.Remove(ctx, "5512345678"); !errors.Is(err, mention.ErrNotFound) {
		t.Errorf("second Remove err = %v, want ErrNotFound", err)
	}
}

func TestList_Ordered(t *testing.T) {
	b := testBook(t)
	ctx := context.Background()
	for _, n := range []string{"5599999999", "15551234567", "5511111111"} {
		if _, err := b.Add(ctx, n, "U"+n, ""); err != nil {
			t.Fatal(err)
		}
	}
	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"15551234567", "525511111111", "525599999999"}
	if len(list) != len(want) {
		t.Fatalf("len(list) = %d, want %d", len(list), len(want))
	}
	for i, c := range list {
		if c.Address != want[i] {
			t.Errorf("list[%d].Address = %q, want %q", i, c.Address, want[i])
		}
	}
}
