package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/logging"
)

func TestBus_PublishToSpecificThenWildcard(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) {
		order = append(order, "all:"+e.EventType())
	})
	bus.Subscribe(TypeTaskAdmitted, func(e Event) {
		admitted := e.(TaskAdmittedEvent)
		order = append(order, "admitted:"+admitted.TaskID)
	})
	bus.Subscribe(TypeTaskSkipped, func(e Event) {
		t.Error("skip handler should not see admission events")
	})

	bus.Publish(NewTaskAdmittedEvent("s1", "task-1", "explore", 1))

	want := []string{"admitted:task-1", "all:task.admitted"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := map[string]int{}
	id1 := bus.Subscribe("x.y", func(e Event) { calls["one"]++ })
	bus.Subscribe("x.y", func(e Event) { calls["two"]++ })

	if !bus.Unsubscribe(id1) {
		t.Fatal("Unsubscribe() = false for existing subscription")
	}
	if bus.Unsubscribe(id1) {
		t.Error("Unsubscribe() = true for an already removed subscription")
	}
	bus.Publish(newBaseEvent("x.y"))

	if calls["one"] != 0 || calls["two"] != 1 {
		t.Errorf("calls = %v, want only handler two", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("a.b", func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear, want 0", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelDebug))

	calls := 0
	bus.Subscribe(TypeTaskFinished, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe(TypeTaskFinished, func(e Event) {
		calls++
	})

	bus.Publish(NewTaskFinishedEvent("s", "task-1", "done", "", time.Second, 100))

	if calls != 2 {
		t.Errorf("calls = %d, want 2 despite panic", calls)
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeTaskRetried, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(NewTaskRetriedEvent("s", "task-1", 2))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("calls = %d, want 100", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe(TypeRulesReloaded, func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)
	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("a.b", func(e Event) {})
		if ids[id] {
			t.Errorf("duplicate subscription ID %s", id)
		}
		ids[id] = true
	}
}

func TestEventConstructors(t *testing.T) {
	before := time.Now()
	tests := []struct {
		event Event
		want  string
	}{
		{NewTaskAdmittedEvent("s", "t", "test", 1), TypeTaskAdmitted},
		{NewTaskFinishedEvent("s", "t", "failed", "timeout", time.Second, 0), TypeTaskFinished},
		{NewTaskSkippedEvent("s", "t"), TypeTaskSkipped},
		{NewTaskRetriedEvent("s", "t", 2), TypeTaskRetried},
		{NewSessionStateChangedEvent("s", "idle", "evaluating"), TypeSessionStateChanged},
		{NewSessionControlEvent("s", "pause", ""), TypeSessionControl},
		{NewSynthesisReadyEvent("s", 2, 1, 500, false), TypeSynthesisReady},
		{NewRulesReloadedEvent("/tmp/rules.yaml", 4, nil), TypeRulesReloaded},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.event.EventType() != tt.want {
				t.Errorf("EventType() = %q, want %q", tt.event.EventType(), tt.want)
			}
			if tt.event.Timestamp().Before(before) {
				t.Error("Timestamp() is before construction")
			}
		})
	}

	if !NewTaskFinishedEvent("s", "t", "done", "", 0, 1).Succeeded() {
		t.Error("done task should report Succeeded()")
	}
	if NewTaskFinishedEvent("s", "t", "aborted", "", 0, 0).Succeeded() {
		t.Error("aborted task should not report Succeeded()")
	}
}
