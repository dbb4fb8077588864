package loop

import (
	"time"

	"refinery/internal/changeset"
	"refinery/internal/contextmon"
	"refinery/internal/evaluator"
)

// Event is emitted at every externally observable state change of the loop.
// Events are notifications only; listeners cannot influence control flow.
type Event interface {
	EventType() string
	EventTime() time.Time
	EventTaskID() string
}

// Listener receives loop events. Implementations must not block; the
// controller calls them synchronously on the loop goroutine.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// BaseEvent carries the fields common to all loop events.
type BaseEvent struct {
	Type      string
	Timestamp time.Time
	TaskID    string
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) EventTime() time.Time { return e.Timestamp }
func (e BaseEvent) EventTaskID() string  { return e.TaskID }

// IterationStartedEvent marks the top of an iteration, after the checkpoint.
type IterationStartedEvent struct {
	BaseEvent
	Iteration     int
	MaxIterations int
}

// ContextMetricsUpdatedEvent carries the fresh context pressure snapshot.
type ContextMetricsUpdatedEvent struct {
	BaseEvent
	Metrics contextmon.Metrics
}

// ContextReducedEvent records a successful scope reduction.
type ContextReducedEvent struct {
	BaseEvent
	Strategy    string
	FilesBefore int
	FilesAfter  int
}

// PatchAppliedEvent records a changeset landing in the workspace.
type PatchAppliedEvent struct {
	BaseEvent
	ChangeSetID  changeset.ID
	Files        int
	LinesChanged int
}

// ChangesetRevertedEvent records a rollback of a previously applied changeset.
type ChangesetRevertedEvent struct {
	BaseEvent
	ChangeSetID changeset.ID
	Reason      string
}

// EvaluationCompletedEvent carries one evaluation outcome.
type EvaluationCompletedEvent struct {
	BaseEvent
	Iteration int
	Score     float64
	Status    evaluator.Status
}

// ProgressCalculatedEvent carries the iteration's progress delta.
type ProgressCalculatedEvent struct {
	BaseEvent
	Progress IterationProgress
}

// EnvironmentRecoveryAttemptedEvent records one recovery attempt and its
// outcome.
type EnvironmentRecoveryAttemptedEvent struct {
	BaseEvent
	Category  string
	Strategy  string
	Succeeded bool
}

// GuidanceInjectedEvent records operator guidance entering the refinement
// context.
type GuidanceInjectedEvent struct {
	BaseEvent
	Guidance string
}

// VerdictOverriddenEvent records an operator verdict override. Informational
// only; the workspace is untouched.
type VerdictOverriddenEvent struct {
	BaseEvent
	Verdict string
	Reason  string
}

// LoopCompletedEvent is the final event of a task.
type LoopCompletedEvent struct {
	BaseEvent
	StopReason StopReason
	Iterations int
	FinalScore float64
	Promoted   bool
}
