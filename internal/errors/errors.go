// Package errors provides centralized error definitions and error handling utilities
// for taskgraph. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - RegistryError: errors raised by task registry mutations
//   - LockError: contention or IO errors from the cross-process lock
//   - StoreError: corruption or IO errors reading or writing the store document
//   - LimiterError: rejections from the concurrency limiter
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewRegistryError("create", errors.ErrDependencyCycle).WithTaskID("t-1")
//	err := errors.NewNotFoundError("task", "t-1").WithCause(errors.ErrTaskNotFound)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrLockTimeout) { ... }
//
//	var lockErr *errors.LockError
//	if errors.As(err, &lockErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry (lock contention, timeouts)
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Registry-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task id is not present in the store.
	ErrTaskNotFound = New("task not found")
	// ErrGroupNotFound indicates that a task group id is not present in the store.
	ErrGroupNotFound = New("task group not found")
	// ErrTaskExists indicates that a caller-supplied id is already taken.
	ErrTaskExists = New("task already exists")
	// ErrDependencyCycle indicates that a dependency change would create a cycle.
	ErrDependencyCycle = New("would create cycle")
	// ErrInvalidTransition indicates a state change not present in the transition table.
	ErrInvalidTransition = New("invalid state transition")
	// ErrUnknownDependency indicates a blockedBy entry naming a task that does not exist.
	ErrUnknownDependency = New("unknown dependency")
)

// Lock and store sentinel errors
var (
	// ErrLockTimeout indicates that the cross-process lock was not acquired in time.
	ErrLockTimeout = New("could not acquire lock")
	// ErrStoreCorrupted indicates that the store document could not be parsed.
	ErrStoreCorrupted = New("store document corrupted")
	// ErrSchemaUnsupported indicates a store written by a newer schema version.
	ErrSchemaUnsupported = New("unsupported store schema version")
)

// Limiter sentinel errors
var (
	// ErrOperationTimeout indicates that a dispatched operation exceeded its timeout.
	ErrOperationTimeout = New("operation timed out")
	// ErrQueueTimeout indicates that an operation waited in the queue too long to start.
	ErrQueueTimeout = New("queue wait timed out")
	// ErrDrained indicates that a queued operation was rejected by a drain.
	ErrDrained = New("limiter queue drained")
	// ErrLimiterClosed indicates that the limiter no longer accepts work.
	ErrLimiterClosed = New("limiter closed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// TaskgraphError is the base interface for all taskgraph errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type TaskgraphError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatPrefixed renders "<kind> [k=v, ...]: message: cause".
func formatPrefixed(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// RegistryError represents a rejected or failed task registry operation.
//
// Example:
//
//	err := errors.NewRegistryError("update", errors.ErrInvalidTransition).
//		WithTaskID("t-1").WithTransition("completed", "running")
//	fmt.Println(err) // "registry error [op=update, task=t-1, transition=completed->running]: ..."
type RegistryError struct {
	baseError
	Op        string
	TaskID    string
	GroupID   string
	FromState string
	ToState   string
}

// NewRegistryError creates a new RegistryError for the named operation.
func NewRegistryError(op string, cause error) *RegistryError {
	msg := op + " failed"
	if cause != nil {
		msg = op + " rejected"
	}
	return &RegistryError{
		baseError: baseError{
			message:    msg,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Op: op,
	}
}

// WithTaskID adds a task ID to the error context.
func (e *RegistryError) WithTaskID(id string) *RegistryError {
	e.TaskID = id
	return e
}

// WithGroupID adds a group ID to the error context.
func (e *RegistryError) WithGroupID(id string) *RegistryError {
	e.GroupID = id
	return e
}

// WithTransition records the attempted state transition.
func (e *RegistryError) WithTransition(from, to string) *RegistryError {
	e.FromState = from
	e.ToState = to
	return e
}

// WithMessage replaces the human-readable message.
func (e *RegistryError) WithMessage(msg string) *RegistryError {
	e.message = msg
	return e
}

// WithSeverity sets the error severity.
func (e *RegistryError) WithSeverity(s Severity) *RegistryError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *RegistryError) WithRetryable(r bool) *RegistryError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *RegistryError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.GroupID != "" {
		parts = append(parts, fmt.Sprintf("group=%s", e.GroupID))
	}
	if e.FromState != "" || e.ToState != "" {
		parts = append(parts, fmt.Sprintf("transition=%s->%s", e.FromState, e.ToState))
	}
	return formatPrefixed("registry error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *RegistryError) Is(target error) bool {
	if _, ok := target.(*RegistryError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LockError represents a failure to acquire or release the cross-process lock.
//
// Example:
//
//	err := errors.NewLockError("/data/tasks.json.lock", errors.ErrLockTimeout).
//		WithOwner(4242, "build-host")
type LockError struct {
	baseError
	Path     string
	OwnerPID int
	Hostname string
	Waited   time.Duration
}

// NewLockError creates a new LockError for the given sentinel path.
// Contention (ErrLockTimeout) is retryable; other causes are not.
func NewLockError(path string, cause error) *LockError {
	msg := "lock operation failed"
	retryable := false
	if errors.Is(cause, ErrLockTimeout) {
		msg = "lock held by another process, try again"
		retryable = true
	}
	return &LockError{
		baseError: baseError{
			message:    msg,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  retryable,
			userFacing: true,
		},
		Path: path,
	}
}

// WithOwner records the process that holds the lock.
func (e *LockError) WithOwner(pid int, hostname string) *LockError {
	e.OwnerPID = pid
	e.Hostname = hostname
	return e
}

// WithWaited records how long acquisition was attempted.
func (e *LockError) WithWaited(d time.Duration) *LockError {
	e.Waited = d
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.OwnerPID != 0 {
		parts = append(parts, fmt.Sprintf("owner=%d@%s", e.OwnerPID, e.Hostname))
	}
	if e.Waited > 0 {
		parts = append(parts, fmt.Sprintf("waited=%s", e.Waited.Round(time.Millisecond)))
	}
	return formatPrefixed("lock error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StoreError represents a corruption or IO failure on the store document.
//
// Example:
//
//	err := errors.NewStoreError("load", "/data/tasks.json", errors.ErrStoreCorrupted)
type StoreError struct {
	baseError
	Op   string
	Path string
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, path string, cause error) *StoreError {
	severity := SeverityError
	if errors.Is(cause, ErrStoreCorrupted) {
		severity = SeverityCritical
	}
	return &StoreError{
		baseError: baseError{
			message:    op + " store",
			cause:      cause,
			severity:   severity,
			retryable:  false,
			userFacing: true,
		},
		Op:   op,
		Path: path,
	}
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatPrefixed("store error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LimiterErrorKind distinguishes why the limiter rejected an operation.
type LimiterErrorKind string

const (
	// LimiterOperationTimeout means the operation started but did not finish in time.
	LimiterOperationTimeout LimiterErrorKind = "operation_timeout"
	// LimiterQueueTimeout means the operation never got a slot before the queue timeout.
	LimiterQueueTimeout LimiterErrorKind = "queue_timeout"
	// LimiterDrained means the queued operation was rejected by Drain.
	LimiterDrained LimiterErrorKind = "drained"
	// LimiterClosed means the limiter was closed.
	LimiterClosed LimiterErrorKind = "closed"
)

// LimiterError represents a rejection by the concurrency limiter.
//
// Example:
//
//	err := errors.NewLimiterError("spawn", errors.LimiterQueueTimeout, 30*time.Second).WithLabel("launch")
type LimiterError struct {
	baseError
	Limiter string
	Label   string
	Kind    LimiterErrorKind
	Limit   time.Duration
}

// NewLimiterError creates a new LimiterError of the given kind.
func NewLimiterError(limiter string, kind LimiterErrorKind, limit time.Duration) *LimiterError {
	var cause error
	retryable := true
	switch kind {
	case LimiterOperationTimeout:
		cause = ErrOperationTimeout
	case LimiterQueueTimeout:
		cause = ErrQueueTimeout
	case LimiterDrained:
		cause = ErrDrained
	case LimiterClosed:
		cause = ErrLimiterClosed
		retryable = false
	}
	return &LimiterError{
		baseError: baseError{
			message:    "operation rejected",
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  retryable,
			userFacing: true,
		},
		Limiter: limiter,
		Kind:    kind,
		Limit:   limit,
	}
}

// WithLabel records the operation label supplied by the caller.
func (e *LimiterError) WithLabel(label string) *LimiterError {
	e.Label = label
	return e
}

// WithReason replaces the message, used by Drain to carry the caller's reason.
func (e *LimiterError) WithReason(reason string) *LimiterError {
	if reason != "" {
		e.message = reason
	}
	return e
}

// Error returns the formatted error message.
func (e *LimiterError) Error() string {
	parts := []string{fmt.Sprintf("limiter=%s", e.Limiter), fmt.Sprintf("kind=%s", e.Kind)}
	if e.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%s", e.Label))
	}
	if e.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%s", e.Limit))
	}
	return formatPrefixed("limiter error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *LimiterError) Is(target error) bool {
	if _, ok := target.(*LimiterError); ok {
		return true
	}
	if e.Kind == LimiterOperationTimeout || e.Kind == LimiterQueueTimeout {
		if errors.Is(target, ErrTimeout) {
			return true
		}
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "abc123")
//	fmt.Println(err) // "task 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("task", "t-1")
//	fmt.Println(err) // "task 't-1' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("description cannot be empty").WithField("description")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatPrefixed("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("acquiring store lock", 10*time.Second)
//	fmt.Println(err) // "timeout error: acquiring store lock (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing TaskgraphError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout or ErrLockTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var tgErr TaskgraphError
	if As(err, &tgErr) {
		return tgErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrLockTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    fmt.Fprintln(os.Stderr, err)
//	} else {
//	    fmt.Fprintln(os.Stderr, "internal error, see log")
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var tgErr TaskgraphError
	if As(err, &tgErr) {
		return tgErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TaskgraphError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var tgErr TaskgraphError
	if As(err, &tgErr) {
		return tgErr.Severity()
	}

	return SeverityError
}

// IsContention returns true if the error is a lock acquisition timeout.
// Callers typically report "could not acquire lock, try again" for these.
func IsContention(err error) bool {
	return Is(err, ErrLockTimeout)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the TaskgraphError interface.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Canceled marks cause as a caller cancellation. The result matches both
// ErrCanceled and cause.
func Canceled(cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
