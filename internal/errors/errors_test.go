package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// RegistryError Tests
// -----------------------------------------------------------------------------

func TestNewRegistryError(t *testing.T) {
	err := NewRegistryError("create", ErrDependencyCycle)

	if err.Op != "create" {
		t.Errorf("Op = %q, want %q", err.Op, "create")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
	if !errors.Is(err, ErrDependencyCycle) {
		t.Error("errors.Is(err, ErrDependencyCycle) = false, want true")
	}
}

func TestRegistryError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RegistryError
		want string
	}{
		{
			name: "cycle on create",
			err:  NewRegistryError("create", ErrDependencyCycle).WithTaskID("t-1"),
			want: "registry error [op=create, task=t-1]: create rejected: would create cycle",
		},
		{
			name: "transition",
			err: NewRegistryError("update", ErrInvalidTransition).
				WithTaskID("t-2").WithTransition("completed", "running"),
			want: "registry error [op=update, task=t-2, transition=completed->running]: update rejected: invalid state transition",
		},
		{
			name: "group without cause",
			err:  NewRegistryError("group", nil).WithGroupID("g-1"),
			want: "registry error [op=group, group=g-1]: group failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// LockError Tests
// -----------------------------------------------------------------------------

func TestLockError_Contention(t *testing.T) {
	err := NewLockError("/tmp/tasks.json.lock", ErrLockTimeout).
		WithOwner(4242, "host-a").
		WithWaited(1500 * time.Millisecond)

	if !err.IsRetryable() {
		t.Error("contention should be retryable")
	}
	if !IsContention(err) {
		t.Error("IsContention() = false, want true")
	}
	msg := err.Error()
	for _, want := range []string{"owner=4242@host-a", "waited=1.5s", "try again"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestLockError_IOFailure(t *testing.T) {
	err := NewLockError("/tmp/x.lock", fmt.Errorf("permission denied"))
	if err.IsRetryable() {
		t.Error("IO failure should not be retryable")
	}
	if IsContention(err) {
		t.Error("IO failure is not contention")
	}
}

// -----------------------------------------------------------------------------
// StoreError Tests
// -----------------------------------------------------------------------------

func TestStoreError_Severity(t *testing.T) {
	corrupted := NewStoreError("load", "/tmp/tasks.json", ErrStoreCorrupted)
	if corrupted.Severity() != SeverityCritical {
		t.Errorf("corrupted Severity() = %v, want critical", corrupted.Severity())
	}
	ioErr := NewStoreError("save", "/tmp/tasks.json", fmt.Errorf("disk full"))
	if ioErr.Severity() != SeverityError {
		t.Errorf("io Severity() = %v, want error", ioErr.Severity())
	}
	if !errors.Is(corrupted, ErrStoreCorrupted) {
		t.Error("errors.Is(corrupted, ErrStoreCorrupted) = false")
	}
}

// -----------------------------------------------------------------------------
// LimiterError Tests
// -----------------------------------------------------------------------------

func TestLimiterError_Kinds(t *testing.T) {
	tests := []struct {
		kind      LimiterErrorKind
		sentinel  error
		timeout   bool
		retryable bool
	}{
		{LimiterOperationTimeout, ErrOperationTimeout, true, true},
		{LimiterQueueTimeout, ErrQueueTimeout, true, true},
		{LimiterDrained, ErrDrained, false, true},
		{LimiterClosed, ErrLimiterClosed, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := NewLimiterError("spawn", tt.kind, time.Second).WithLabel("job")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(err, %v) = false", tt.sentinel)
			}
			if got := errors.Is(err, ErrTimeout); got != tt.timeout {
				t.Errorf("errors.Is(err, ErrTimeout) = %v, want %v", got, tt.timeout)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestLimiterError_DistinguishesTimeouts(t *testing.T) {
	op := NewLimiterError("git", LimiterOperationTimeout, time.Second)
	queue := NewLimiterError("git", LimiterQueueTimeout, time.Second)

	if errors.Is(op, ErrQueueTimeout) {
		t.Error("operation timeout must not match ErrQueueTimeout")
	}
	if errors.Is(queue, ErrOperationTimeout) {
		t.Error("queue timeout must not match ErrOperationTimeout")
	}
}

func TestLimiterError_WithReason(t *testing.T) {
	err := NewLimiterError("state", LimiterDrained, 0).WithReason("shutting down")
	if !strings.Contains(err.Error(), "shutting down") {
		t.Errorf("Error() = %q, want reason", err.Error())
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("task", "abc").WithCause(ErrTaskNotFound)

	if got, want := err.Error(), "task 'abc' not found: task not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTaskNotFound) {
		t.Error("errors.Is(err, ErrTaskNotFound) = false")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ResourceID != "abc" {
		t.Error("errors.As should extract NotFoundError")
	}
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("task", "t-1")
	if got, want := err.Error(), "task 't-1' already exists"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must not be empty").WithField("description").WithValue("")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if !strings.HasPrefix(err.Error(), "validation error [field=description") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("acquiring lock", 10*time.Second)

	if got, want := err.Error(), "timeout error: acquiring lock (timeout: 10s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("TimeoutError should be retryable")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	plain := fmt.Errorf("boom")
	wrapped := Wrap(NewLockError("/x.lock", ErrLockTimeout), "update task")

	if IsRetryable(nil) || IsUserFacing(nil) {
		t.Error("nil error should be neither retryable nor user facing")
	}
	if IsRetryable(plain) {
		t.Error("plain error should not be retryable")
	}
	if IsUserFacing(plain) {
		t.Error("plain error should not be user facing")
	}
	if GetSeverity(plain) != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", GetSeverity(plain))
	}
	if GetSeverity(nil) != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", GetSeverity(nil))
	}
	if !IsRetryable(wrapped) {
		t.Error("wrapped contention should stay retryable")
	}
	if !IsUserFacing(wrapped) {
		t.Error("wrapped contention should stay user facing")
	}
}

func TestCanceled(t *testing.T) {
	if Canceled(nil) != nil {
		t.Error("Canceled(nil) should be nil")
	}
	err := Canceled(context.Canceled)
	if !errors.Is(err, ErrCanceled) {
		t.Error("Canceled should match ErrCanceled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Canceled should keep the cause")
	}
	if got, want := err.Error(), "operation canceled: context canceled"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrTaskNotFound, "get %s", "t-1")
	if err.Error() != "get t-1: task not found" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !errors.Is(err, ErrTaskNotFound) {
		t.Error("Wrapf should preserve the chain")
	}
}
