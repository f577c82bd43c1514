// Package event provides a pub-sub event bus for observing task registry
// activity.
//
// The registry publishes events after a mutation has been written and the
// store lock released, so handlers may call back into the registry. The
// store watcher publishes [StoreChangedEvent] when another process rewrites
// the document.
//
// # Event Types
//
//   - task.created   [TaskCreatedEvent]
//   - task.updated   [TaskUpdatedEvent]
//   - task.deleted   [TaskDeletedEvent]
//   - task.unblocked [TaskUnblockedEvent]
//   - group.created  [GroupCreatedEvent]
//   - store.changed  [StoreChangedEvent]
//
// # Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeTaskUnblocked, func(e event.Event) {
//	    u := e.(event.TaskUnblockedEvent)
//	    log.Printf("task %s is ready", u.TaskID)
//	})
//
// Channel consumers (such as a bubbletea program) use [Bus.Channel]:
//
//	ch, cancel := bus.Channel(event.TypeStoreChanged, 16)
//	defer cancel()
//
// Handlers are called synchronously. A panicking handler is recovered and
// does not prevent delivery to the others.
package event
