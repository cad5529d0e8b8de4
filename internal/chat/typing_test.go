package chat

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTypingFixture(t *testing.T, clearDelay time.Duration) (*TypingTable, *fakeConn, *fakeConn) {
	t.Helper()
	registry := NewRegistry(nil)
	visitor := newFakeConn("visitor-conn")
	operator := newFakeConn("operator-conn")
	registry.Register(visitor, nil)
	registry.Register(operator, nil)
	if _, _, err := registry.JoinTenant("visitor-conn", "tenant-1", "session-1", RoleVisitor); err != nil {
		t.Fatalf("visitor join failed: %v", err)
	}
	if _, _, err := registry.JoinTenant("operator-conn", "tenant-1", "", RoleOperator); err != nil {
		t.Fatalf("operator join failed: %v", err)
	}
	rooms := NewCoordinator(registry, zap.NewNop())
	return NewTypingTable(rooms, clearDelay, zap.NewNop()), visitor, operator
}

func TestTypingUpdateBroadcastsExcludingSender(t *testing.T) {
	table, visitor, operator := newTypingFixture(t, time.Minute)
	defer table.Close()

	table.Update("tenant-1", "session-1", RoleVisitor, "hello wor", nil, "visitor-conn")

	last, ok := operator.lastEvent()
	if !ok {
		t.Fatalf("operator received nothing")
	}
	if last.event != "visitor_typing_preview" {
		t.Fatalf("expected visitor_typing_preview, got %s", last.event)
	}
	payload, isPreview := last.payload.(typingPreviewPayload)
	if !isPreview || payload.Text != "hello wor" {
		t.Fatalf("unexpected preview payload: %+v", last.payload)
	}
	if len(visitor.events()) != 0 {
		t.Fatalf("sender must not receive its own preview, got %v", visitor.eventNames())
	}
	if table.ActiveCount() != 1 {
		t.Fatalf("expected one active preview, got %d", table.ActiveCount())
	}
}

func TestTypingAdminCollapsesToOperatorSide(t *testing.T) {
	table, visitor, _ := newTypingFixture(t, time.Minute)
	defer table.Close()

	table.Update("tenant-1", "session-1", RoleAdmin, "drafting", nil, "operator-conn")

	last, ok := visitor.lastEvent()
	if !ok {
		t.Fatalf("visitor received nothing")
	}
	if last.event != "operator_typing_preview" {
		t.Fatalf("admin previews must appear as operator side, got %s", last.event)
	}
}

func TestTypingBurstYieldsSingleClear(t *testing.T) {
	clearDelay := 60 * time.Millisecond
	table, _, operator := newTypingFixture(t, clearDelay)
	defer table.Close()

	for _, text := range []string{"h", "he", "hel", "hell", "hello"} {
		table.Update("tenant-1", "session-1", RoleVisitor, text, nil, "visitor-conn")
		time.Sleep(10 * time.Millisecond)
	}

	waitUntil(t, time.Second, func() bool {
		return operator.countEvent("visitor_typing_cleared") >= 1
	}, "cleared event after burst")

	// Settle past another full delay to catch stray timer callbacks.
	time.Sleep(2 * clearDelay)
	if got := operator.countEvent("visitor_typing_cleared"); got != 1 {
		t.Fatalf("expected exactly one cleared event, got %d", got)
	}
	if got := operator.countEvent("visitor_typing_preview"); got != 5 {
		t.Fatalf("expected every keystroke broadcast, got %d previews", got)
	}
	if table.ActiveCount() != 0 {
		t.Fatalf("entry must be gone after expiry")
	}
}

func TestTypingEmptyTextActsAsStop(t *testing.T) {
	table, _, operator := newTypingFixture(t, time.Minute)
	defer table.Close()

	table.Update("tenant-1", "session-1", RoleVisitor, "hello", nil, "visitor-conn")
	table.Update("tenant-1", "session-1", RoleVisitor, "   ", nil, "visitor-conn")

	if got := operator.countEvent("visitor_typing_cleared"); got != 1 {
		t.Fatalf("expected one cleared event, got %d", got)
	}
	if table.ActiveCount() != 0 {
		t.Fatalf("whitespace preview must clear the entry")
	}
}

func TestTypingStopIsIdempotent(t *testing.T) {
	table, _, operator := newTypingFixture(t, time.Minute)
	defer table.Close()

	table.Update("tenant-1", "session-1", RoleVisitor, "hello", nil, "visitor-conn")

	if !table.Stop("tenant-1", "session-1", RoleVisitor) {
		t.Fatalf("first stop should remove the entry")
	}
	if table.Stop("tenant-1", "session-1", RoleVisitor) {
		t.Fatalf("second stop must be a no-op")
	}
	if got := operator.countEvent("visitor_typing_cleared"); got != 1 {
		t.Fatalf("expected one cleared event, got %d", got)
	}
}

func TestTypingSanitizesPreviewText(t *testing.T) {
	table, _, operator := newTypingFixture(t, time.Minute)
	defer table.Close()

	table.Update("tenant-1", "session-1", RoleVisitor, "<script>alert\x07(1)</script>", nil, "visitor-conn")

	last, _ := operator.lastEvent()
	payload := last.payload.(typingPreviewPayload)
	if payload.Text != "scriptalert(1)/script" {
		t.Fatalf("unexpected sanitized text: %q", payload.Text)
	}
}

func TestTypingClampsConfidence(t *testing.T) {
	table, _, operator := newTypingFixture(t, time.Minute)
	defer table.Close()

	high := 3.5
	table.Update("tenant-1", "session-1", RoleVisitor, "hm", &high, "visitor-conn")

	last, _ := operator.lastEvent()
	payload := last.payload.(typingPreviewPayload)
	if payload.Confidence == nil || *payload.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", payload.Confidence)
	}
}

func TestTypingCloseCancelsWithoutBroadcast(t *testing.T) {
	clearDelay := 30 * time.Millisecond
	table, _, operator := newTypingFixture(t, clearDelay)

	table.Update("tenant-1", "session-1", RoleVisitor, "hello", nil, "visitor-conn")
	table.Close()

	time.Sleep(3 * clearDelay)
	if got := operator.countEvent("visitor_typing_cleared"); got != 0 {
		t.Fatalf("shutdown must not broadcast cleared events, got %d", got)
	}
	if table.ActiveCount() != 0 {
		t.Fatalf("close must drop all entries")
	}
}

func TestSanitizePreviewCapsLength(t *testing.T) {
	long := make([]rune, 0, 2*maxPreviewRunes)
	for i := 0; i < 2*maxPreviewRunes; i++ {
		long = append(long, 'a')
	}
	sanitized := sanitizePreview(string(long))
	if got := len([]rune(sanitized)); got != maxPreviewRunes {
		t.Fatalf("expected %d runes, got %d", maxPreviewRunes, got)
	}
}
