package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.created", "store.changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTaskCreated   = "task.created"
	TypeTaskUpdated   = "task.updated"
	TypeTaskDeleted   = "task.deleted"
	TypeTaskUnblocked = "task.unblocked"
	TypeGroupCreated  = "group.created"
	TypeStoreChanged  = "store.changed"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskCreatedEvent is emitted after a task has been persisted.
type TaskCreatedEvent struct {
	baseEvent
	TaskID    string
	State     string // queued or blocked
	BlockedBy []string
	GroupID   string
}

// NewTaskCreatedEvent creates a TaskCreatedEvent.
func NewTaskCreatedEvent(taskID, state string, blockedBy []string, groupID string) TaskCreatedEvent {
	return TaskCreatedEvent{
		baseEvent: newBaseEvent(TypeTaskCreated),
		TaskID:    taskID,
		State:     state,
		BlockedBy: blockedBy,
		GroupID:   groupID,
	}
}

// TaskUpdatedEvent is emitted after any persisted change to a task.
// FromState equals ToState when only non-state fields changed.
type TaskUpdatedEvent struct {
	baseEvent
	TaskID    string
	FromState string
	ToState   string
	Reason    string
}

// NewTaskUpdatedEvent creates a TaskUpdatedEvent.
func NewTaskUpdatedEvent(taskID, from, to, reason string) TaskUpdatedEvent {
	return TaskUpdatedEvent{
		baseEvent: newBaseEvent(TypeTaskUpdated),
		TaskID:    taskID,
		FromState: from,
		ToState:   to,
		Reason:    reason,
	}
}

// StateChanged reports whether the update moved the task between states.
func (e TaskUpdatedEvent) StateChanged() bool {
	return e.FromState != e.ToState
}

// TaskDeletedEvent is emitted after a task and its references were removed.
type TaskDeletedEvent struct {
	baseEvent
	TaskID   string
	Requeued []string // dependents that became queued as a result
}

// NewTaskDeletedEvent creates a TaskDeletedEvent.
func NewTaskDeletedEvent(taskID string, requeued []string) TaskDeletedEvent {
	return TaskDeletedEvent{
		baseEvent: newBaseEvent(TypeTaskDeleted),
		TaskID:    taskID,
		Requeued:  requeued,
	}
}

// TaskUnblockedEvent is emitted when a blocked task becomes queued because
// its last outstanding dependency completed or disappeared.
type TaskUnblockedEvent struct {
	baseEvent
	TaskID      string
	UnblockedBy string // empty when unblocked by a sweep
}

// NewTaskUnblockedEvent creates a TaskUnblockedEvent.
func NewTaskUnblockedEvent(taskID, unblockedBy string) TaskUnblockedEvent {
	return TaskUnblockedEvent{
		baseEvent:   newBaseEvent(TypeTaskUnblocked),
		TaskID:      taskID,
		UnblockedBy: unblockedBy,
	}
}

// -----------------------------------------------------------------------------
// Group Events
// -----------------------------------------------------------------------------

// GroupCreatedEvent is emitted after a task group has been persisted.
type GroupCreatedEvent struct {
	baseEvent
	GroupID string
	Name    string
	TaskIDs []string
}

// NewGroupCreatedEvent creates a GroupCreatedEvent.
func NewGroupCreatedEvent(groupID, name string, taskIDs []string) GroupCreatedEvent {
	return GroupCreatedEvent{
		baseEvent: newBaseEvent(TypeGroupCreated),
		GroupID:   groupID,
		Name:      name,
		TaskIDs:   taskIDs,
	}
}

// -----------------------------------------------------------------------------
// Store Events
// -----------------------------------------------------------------------------

// StoreChangedEvent is emitted by the watcher when the store document was
// rewritten, possibly by another process.
type StoreChangedEvent struct {
	baseEvent
	Path string
	Op   string // fsnotify operation that triggered it
}

// NewStoreChangedEvent creates a StoreChangedEvent.
func NewStoreChangedEvent(path, op string) StoreChangedEvent {
	return StoreChangedEvent{
		baseEvent: newBaseEvent(TypeStoreChanged),
		Path:      path,
		Op:        op,
	}
}
