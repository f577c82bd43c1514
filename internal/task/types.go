// Package task defines the persisted task model and the pure rules that
// govern it: the state transition table, group rollup and join evaluation.
package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// State is the lifecycle state of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateBlocked   State = "blocked"
	StateCancelled State = "cancelled"
)

// AllStates lists every state in display order.
var AllStates = []State{StateQueued, StateBlocked, StateRunning, StateCompleted, StateFailed, StateCancelled}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for states with no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IsFinished returns true when the task is no longer going to run without
// intervention. Unlike IsTerminal it includes failed, which can be retried.
func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return slices.Contains(AllStates, s)
}

// ParseState converts a user-supplied string to a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown task state %q", s)
	}
	return st, nil
}

// JoinStrategy controls when a group of parallel tasks counts as resolved.
type JoinStrategy string

const (
	JoinAll      JoinStrategy = "all"
	JoinFirst    JoinStrategy = "first"
	JoinAny      JoinStrategy = "any"
	JoinAnyN     JoinStrategy = "any-n"
	JoinMajority JoinStrategy = "majority"
)

// Valid reports whether s is one of the known join strategies.
func (s JoinStrategy) Valid() bool {
	switch s {
	case JoinAll, JoinFirst, JoinAny, JoinAnyN, JoinMajority:
		return true
	}
	return false
}

// ParseJoinStrategy accepts "all", "first", "any", "majority", "any-n" and the
// shorthand "any-3", which returns JoinAnyN with a count of 3.
func ParseJoinStrategy(s string) (JoinStrategy, int, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch JoinStrategy(v) {
	case "":
		return JoinAll, 0, nil
	case JoinAll, JoinFirst, JoinAny, JoinMajority, JoinAnyN:
		return JoinStrategy(v), 0, nil
	}
	if rest, ok := strings.CutPrefix(v, "any-"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n > 0 {
			return JoinAnyN, n, nil
		}
	}
	return "", 0, fmt.Errorf("unknown join strategy %q", s)
}

// OnFailure controls how member failures affect a group rollup.
type OnFailure string

const (
	FailFast OnFailure = "fail-fast"
	Continue OnFailure = "continue"
	Ignore   OnFailure = "ignore"
)

// Valid reports whether p is one of the known failure policies.
func (p OnFailure) Valid() bool {
	switch p {
	case FailFast, Continue, Ignore:
		return true
	}
	return false
}

// ParseOnFailure converts a user-supplied string to an OnFailure policy.
// The empty string selects fail-fast.
func ParseOnFailure(s string) (OnFailure, error) {
	switch p := OnFailure(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailFast, nil
	case FailFast, Continue, Ignore:
		return p, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// GroupState is the rollup state of a task group.
type GroupState string

const (
	GroupPending   GroupState = "pending"
	GroupRunning   GroupState = "running"
	GroupCompleted GroupState = "completed"
	GroupFailed    GroupState = "failed"
)

// Task is a unit of work tracked by the registry.
// Payload, Result, Error and Metadata are opaque to the registry and are
// stored byte-for-byte.
type Task struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ExecutorKind string          `json:"executorKind,omitempty"`
	Owner        string          `json:"owner,omitempty"`
	Story        string          `json:"story,omitempty"`
	State        State           `json:"state"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	BlockedBy    []string        `json:"blockedBy"`
	Blocks       []string        `json:"blocks"`
	JoinStrategy JoinStrategy    `json:"joinStrategy,omitempty"`
	JoinCount    int             `json:"joinCount,omitempty"`
	OnFailure    OnFailure       `json:"onFailure,omitempty"`
	GroupID      string          `json:"groupId,omitempty"`
	Attempts     int             `json:"attempts"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers never alias registry state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = cloneRaw(t.Payload)
	c.Result = cloneRaw(t.Result)
	c.Error = cloneRaw(t.Error)
	c.Metadata = cloneRaw(t.Metadata)
	c.BlockedBy = cloneIDs(t.BlockedBy)
	c.Blocks = cloneIDs(t.Blocks)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// DependsOn reports whether id is one of the task's dependencies.
func (t *Task) DependsOn(id string) bool {
	return slices.Contains(t.BlockedBy, id)
}

// Group is a named set of tasks whose outcomes are rolled up together.
type Group struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	TaskIDs      []string     `json:"taskIds"`
	JoinStrategy JoinStrategy `json:"joinStrategy"`
	JoinCount    int          `json:"joinCount,omitempty"`
	OnFailure    OnFailure    `json:"onFailure"`
	State        GroupState   `json:"state"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	c := *g
	c.TaskIDs = cloneIDs(g.TaskIDs)
	return &c
}

// AuditEntry records one applied state transition. FromState is empty for
// the entry written when a task is created.
type AuditEntry struct {
	TaskID    string    `json:"taskId"`
	FromState State     `json:"fromState"`
	ToState   State     `json:"toState"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason,omitempty"`
	PID       int       `json:"pid"`
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append(make([]string, 0, len(ids)), ids...)
}
