package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/parleylabs/parley/backend/internal/chat"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
	err  error
}

func (p *sequenceIDProvider) NewID() (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.next++
	return fmt.Sprintf("msg-%04d", p.next), nil
}

func newTestStore(t *testing.T) (*Store, *manualClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening in-memory database failed: %v", err)
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}
	return store, clock
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestNewStoreRequiresDependencies(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening in-memory database failed: %v", err)
	}
	if _, err := NewStore(StoreConfig{Database: db}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
}

func TestSaveAndRecall(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	stored, err := store.Save(ctx, "tenant-1", "session-1", "visitor-session-1", chat.RoleVisitor, "hello")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if stored.ID != "msg-0001" || stored.Text != "hello" || stored.Role != chat.RoleVisitor {
		t.Fatalf("unexpected stored message: %+v", stored)
	}
	if !stored.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("expected created at %v, got %v", clock.Now(), stored.CreatedAt)
	}

	recalled, err := store.RecentForSession(ctx, "tenant-1", "session-1", 10)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(recalled) != 1 || recalled[0].ID != stored.ID {
		t.Fatalf("expected the saved message back, got %+v", recalled)
	}
}

func TestSaveValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	oversized := strings.Repeat("x", maxIdentifierLength+1)

	cases := []struct {
		name      string
		tenantID  string
		sessionID string
		text      string
		sentinel  error
	}{
		{name: "empty tenant", sessionID: "s", text: "hi", sentinel: ErrInvalidTenantID},
		{name: "oversized tenant", tenantID: oversized, sessionID: "s", text: "hi", sentinel: ErrInvalidTenantID},
		{name: "empty session", tenantID: "t", text: "hi", sentinel: ErrInvalidSessionID},
		{name: "empty body", tenantID: "t", sessionID: "s", sentinel: ErrEmptyBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Save(ctx, tc.tenantID, tc.sessionID, "sender", chat.RoleVisitor, tc.text)
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
		})
	}
}

func TestSaveErrorCarriesOperationCode(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Save(context.Background(), "", "s", "sender", chat.RoleVisitor, "hi")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected a coded store error, got %v", err)
	}
	if storeErr.Code() != "messages.save.invalid_tenant" {
		t.Fatalf("unexpected code: %s", storeErr.Code())
	}
}

func TestRecentForSessionOrdersAndLimits(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Save(ctx, "tenant-1", "session-1", "sender", chat.RoleVisitor, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	recent, err := store.RecentForSession(ctx, "tenant-1", "session-1", 3)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	// Newest three, returned oldest first.
	for i, want := range []string{"message 2", "message 3", "message 4"} {
		if recent[i].Text != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, recent[i].Text)
		}
	}
}

func TestRecentForSessionScopesByTenant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "tenant-1", "session-1", "sender", chat.RoleVisitor, "mine"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.Save(ctx, "tenant-2", "session-1", "sender", chat.RoleVisitor, "theirs"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	recent, err := store.RecentForSession(ctx, "tenant-1", "session-1", 10)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Text != "mine" {
		t.Fatalf("tenant scoping broken: %+v", recent)
	}
}

func TestSaveIDGenerationFailure(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening in-memory database failed: %v", err)
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{err: errors.New("entropy exhausted")},
	})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}

	_, err = store.Save(context.Background(), "tenant-1", "session-1", "sender", chat.RoleVisitor, "hi")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Code() != "messages.save.id_generation" {
		t.Fatalf("expected id_generation failure, got %v", err)
	}
}
