// Package event provides a pub-sub event bus that decouples the delegation
// scheduler from its observers: the CLI progress view, the history recorder
// and the metrics exporter.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Task lifecycle:
//   - [TaskAdmittedEvent], [TaskFinishedEvent], [TaskSkippedEvent], [TaskRetriedEvent]
//
// Session:
//   - [SessionStateChangedEvent], [SessionControlEvent], [SynthesisReadyEvent]
//
// Rules:
//   - [RulesReloadedEvent]
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publisher's goroutine; a panicking handler is logged
// and does not prevent the remaining handlers from running.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeTaskFinished, func(e event.Event) {
//	    done := e.(event.TaskFinishedEvent)
//	    fmt.Println(done.TaskID, done.Status)
//	})
//	bus.Publish(event.NewTaskAdmittedEvent(sessionID, "task-1", "explore", 1))
package event
