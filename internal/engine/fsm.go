package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.ExecutionStatus) error

// HistoryAppender is satisfied by the store; the FSM records lifecycle
// events through it.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, entry *store.HistoryEntry) error
}

// statusNone is the "from" state of an execution that does not exist yet.
const statusNone schema.ExecutionStatus = ""

// ValidExecutionTransitions defines the allowed execution state transitions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	statusNone:                {schema.ExecutionRunning},
	schema.ExecutionRunning:   {schema.ExecutionWaiting, schema.ExecutionPaused, schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionWaiting:   {schema.ExecutionRunning, schema.ExecutionFailed},
	schema.ExecutionPaused:    {schema.ExecutionRunning, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM validates execution lifecycle transitions and records them
// in the execution history.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender HistoryAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM that records events via appender.
func NewExecutionFSM(appender HistoryAppender) *ExecutionFSM {
	return &ExecutionFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hookKey{from, to}
	f.before[k] = append(f.before[k], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hookKey{from, to}
	f.after[k] = append(f.after[k], hook)
}

// Transition validates from -> to and records the matching history event.
// The caller persists the new status.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", displayStatus(from), to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	k := hookKey{from, to}
	for _, hook := range f.before[k] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if event := historyEvent(from, to); event != "" {
		if err := f.appender.AppendHistory(ctx, &store.HistoryEntry{
			ExecutionID: executionID,
			Event:       event,
			Data:        data,
		}); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "record %s: %s", event, err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[k] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTransition reports whether from -> to is allowed.
func IsValidTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	return ok && slices.Contains(allowed, to)
}

// historyEvent maps a transition to its lifecycle event. Waiting and
// resumption are recorded by the runner with decision details instead.
func historyEvent(from, to schema.ExecutionStatus) schema.HistoryEvent {
	if from == statusNone {
		return schema.HistoryWorkflowStarted
	}
	switch to {
	case schema.ExecutionPaused:
		return schema.HistoryWorkflowPaused
	case schema.ExecutionCompleted:
		return schema.HistoryWorkflowCompleted
	case schema.ExecutionFailed:
		return schema.HistoryWorkflowFailed
	default:
		return ""
	}
}

func displayStatus(s schema.ExecutionStatus) string {
	if s == statusNone {
		return "<new>"
	}
	return string(s)
}
