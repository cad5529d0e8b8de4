package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type sentEvent struct {
	event   string
	payload any
}

// fakeConn is an in-memory Conn that records everything sent through it.
type fakeConn struct {
	id string

	mu           sync.Mutex
	sent         []sentEvent
	sendErr      error
	pingErr      error
	disconnected bool
	closeReason  string
	closedCount  int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{event: event, payload: payload})
	return nil
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.closedCount++
	if f.closeReason == "" {
		f.closeReason = reason
	}
	return nil
}

func (f *fakeConn) closedWith() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeReason
}

func (f *fakeConn) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]sentEvent, len(f.sent))
	copy(copied, f.sent)
	return copied
}

func (f *fakeConn) eventNames() []string {
	events := f.events()
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.event)
	}
	return names
}

func (f *fakeConn) countEvent(name string) int {
	count := 0
	for _, event := range f.events() {
		if event.event == name {
			count++
		}
	}
	return count
}

func (f *fakeConn) lastEvent() (sentEvent, bool) {
	events := f.events()
	if len(events) == 0 {
		return sentEvent{}, false
	}
	return events[len(events)-1], true
}

// waitUntil polls the condition until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if condition() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met within %v: %s", timeout, message)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// manualClock lets tests advance time explicitly.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) Rewind(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(-d)
}

var connSequence int

func nextConnID() string {
	connSequence++
	return fmt.Sprintf("conn-%d", connSequence)
}
