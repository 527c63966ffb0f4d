package testutil

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Iron-Ham/handoff/internal/event"
)

func TestWaitFor(t *testing.T) {
	var n atomic.Int32
	go func() {
		for i := 0; i < 3; i++ {
			n.Add(1)
		}
	}()
	WaitFor(t, "three increments", func() bool { return n.Load() == 3 })
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "nested/tasks.yaml", "tasks: []\n")

	if path != filepath.Join(dir, "nested", "tasks.yaml") {
		t.Errorf("WriteFile() = %q, want path under dir", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "tasks: []\n" {
		t.Errorf("content = %q, want %q", data, "tasks: []\n")
	}
}

func TestEventRecorder(t *testing.T) {
	bus := event.NewBus(nil)
	rec := RecordAll(bus)

	bus.Publish(event.NewTaskAdmittedEvent("s", "task-1", "explore", 1))
	bus.Publish(event.NewTaskSkippedEvent("s", "task-2"))
	bus.Publish(event.NewTaskAdmittedEvent("s", "task-3", "test", 1))

	if got := rec.Count(event.TypeTaskAdmitted); got != 2 {
		t.Errorf("Count(admitted) = %d, want 2", got)
	}
	types := rec.Types()
	want := []string{event.TypeTaskAdmitted, event.TypeTaskSkipped, event.TypeTaskAdmitted}
	if len(types) != len(want) {
		t.Fatalf("Types() = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, types[i], want[i])
		}
	}
	if len(rec.Events()) != 3 {
		t.Errorf("len(Events()) = %d, want 3", len(rec.Events()))
	}
}
