package chat

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
)

const (
	maxPreviewRunes         = 200
	defaultTypingClearDelay = time.Second
)

type typingKey struct {
	tenantID  string
	sessionID string
	role      Role
}

type typingEntry struct {
	text       string
	confidence *float64
	timer      *time.Timer
	generation uint64
}

// typingPreviewPayload is broadcast on every preview update.
type typingPreviewPayload struct {
	TenantID   string   `json:"tenant_id"`
	SessionID  string   `json:"session_id"`
	Role       Role     `json:"role"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// typingClearedPayload is broadcast exactly once when a preview ends.
type typingClearedPayload struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
}

// TypingTable tracks ephemeral typing previews per (tenant, session, role).
// Every update is broadcast immediately; only the clearing is debounced, so a
// burst of keystrokes yields many preview updates but a single cleared event
// timed from the last keystroke.
type TypingTable struct {
	mu         sync.Mutex
	entries    map[typingKey]*typingEntry
	clearDelay time.Duration
	rooms      *Coordinator
	logger     *zap.Logger
	closed     bool
}

// NewTypingTable constructs the typing table. A non-positive clearDelay
// falls back to the one second default.
func NewTypingTable(rooms *Coordinator, clearDelay time.Duration, logger *zap.Logger) *TypingTable {
	if clearDelay <= 0 {
		clearDelay = defaultTypingClearDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypingTable{
		entries:    make(map[typingKey]*typingEntry),
		clearDelay: clearDelay,
		rooms:      rooms,
		logger:     logger,
	}
}

// Update applies a typing event. Empty sanitized text behaves like an
// explicit stop. The preview is broadcast to the room excluding the sender,
// and the clear timer is reset.
func (t *TypingTable) Update(tenantID, sessionID string, role Role, text string, confidence *float64, excludeConnID string) {
	sanitized := sanitizePreview(text)
	if sanitized == "" {
		t.Stop(tenantID, sessionID, role)
		return
	}
	clamped := clampConfidence(confidence)
	key := typingKey{tenantID: tenantID, sessionID: sessionID, role: role}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	entry, exists := t.entries[key]
	if !exists {
		entry = &typingEntry{}
		t.entries[key] = entry
	}
	entry.text = sanitized
	entry.confidence = clamped
	entry.generation++
	generation := entry.generation
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(t.clearDelay, func() {
		t.expire(key, generation)
	})
	t.mu.Unlock()

	t.rooms.Broadcast(tenantID, TypingPreviewEvent(role), typingPreviewPayload{
		TenantID:   tenantID,
		SessionID:  sessionID,
		Role:       role,
		Text:       sanitized,
		Confidence: clamped,
	}, excludeConnID)
}

// Stop clears the preview for the key if one exists, cancelling its timer
// and broadcasting the cleared event. It reports whether an entry was
// actually removed, so callers can treat a second stop as a no-op.
func (t *TypingTable) Stop(tenantID, sessionID string, role Role) bool {
	key := typingKey{tenantID: tenantID, sessionID: sessionID, role: role}

	t.mu.Lock()
	entry, exists := t.entries[key]
	if !exists {
		t.mu.Unlock()
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.broadcastCleared(key)
	return true
}

// ClearOwned is the teardown hook invoked when the connection owning a key
// departs, so no ghost preview outlives its author.
func (t *TypingTable) ClearOwned(tenantID, sessionID string, role Role) {
	t.Stop(tenantID, sessionID, role)
}

// ActiveCount reports the number of live preview entries.
func (t *TypingTable) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close cancels every outstanding clear timer. No cleared events are
// broadcast; the process is shutting down and the peers are going away too.
func (t *TypingTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, key)
	}
}

// expire fires from the clear timer. The generation guard discards callbacks
// from timers that were reset after this one was scheduled.
func (t *TypingTable) expire(key typingKey, generation uint64) {
	t.mu.Lock()
	entry, exists := t.entries[key]
	if !exists || entry.generation != generation || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.broadcastCleared(key)
}

func (t *TypingTable) broadcastCleared(key typingKey) {
	t.rooms.Broadcast(key.tenantID, TypingClearedEvent(key.role), typingClearedPayload{
		TenantID:  key.tenantID,
		SessionID: key.sessionID,
		Role:      key.role,
	}, "")
}

// sanitizePreview caps the preview length and strips control characters and
// markup-opening characters. Display safety still belongs to the renderer;
// this only limits what the server is willing to relay.
func sanitizePreview(text string) string {
	var builder strings.Builder
	count := 0
	for _, r := range text {
		if count >= maxPreviewRunes {
			break
		}
		if r == '<' || r == '>' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		count++
	}
	return strings.TrimSpace(builder.String())
}

func clampConfidence(confidence *float64) *float64 {
	if confidence == nil {
		return nil
	}
	value := *confidence
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return &value
}
