// Package testutil provides testing utilities for handoff tests.
package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/event"
)

// DefaultTimeout bounds WaitFor.
const DefaultTimeout = 2 * time.Second

// WaitFor polls cond until it holds, failing the test after DefaultTimeout.
// msg describes the awaited condition in the failure message.
func WaitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// WriteFile writes content to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", name, err)
	}
	return path
}

// EventRecorder collects events published on a bus. It is safe for
// concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

// RecordAll subscribes a new recorder to every event on bus.
func RecordAll(bus *event.Bus) *EventRecorder {
	r := &EventRecorder{}
	bus.SubscribeAll(r.Handle)
	return r
}

// Handle records e. It is an event.Handler.
func (r *EventRecorder) Handle(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns the recorded events in publish order.
func (r *EventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// Count returns how many events of eventType were recorded.
func (r *EventRecorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// Types returns the type of every recorded event in publish order.
func (r *EventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType()
	}
	return types
}
