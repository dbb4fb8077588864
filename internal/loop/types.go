// Package loop implements the generate-evaluate-refine control loop: one
// controller per task, owning all mutable loop state, consuming generation,
// evaluation, and workspace services through narrow ports.
package loop

import (
	"time"

	"refinery/internal/changeset"
	"refinery/internal/evaluator"
	"refinery/internal/failure"
)

// RiskTier grades how much scrutiny a task's changes deserve.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// WorkingSpec is the task's acceptance contract.
type WorkingSpec struct {
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	RiskTier           RiskTier `yaml:"risk_tier"`
}

// Task is the unit of work one loop instance refines. The loop mutates it:
// TargetFiles shrinks under scope reduction and RefinementContext grows each
// iteration. It lives for the duration of one ExecuteTask call.
type Task struct {
	ID                string      `yaml:"id"`
	Description       string      `yaml:"description"`
	TargetFiles       []string    `yaml:"target_files"`
	RefinementContext []string    `yaml:"-"`
	Spec              WorkingSpec `yaml:"spec"`
}

// ActionKind is what the generation backend proposes to do this iteration.
type ActionKind string

const (
	ActionWrite ActionKind = "write"
	ActionPatch ActionKind = "patch"
	ActionNoOp  ActionKind = "noop"
)

// ActionRequest is the candidate change proposed for one iteration, produced
// by the prompting strategy and consumed exactly once.
type ActionRequest struct {
	Kind       ActionKind
	ChangeSet  *changeset.ChangeSet
	Reason     string
	Confidence float64
	Metadata   map[string]any
}

// RequiresChanges reports whether the action carries a changeset to apply.
func (a *ActionRequest) RequiresChanges() bool {
	return a != nil && a.Kind != ActionNoOp && a.ChangeSet != nil && len(a.ChangeSet.Patches) > 0
}

// ExecutionMode governs how changesets land. Fixed for the lifetime of a loop.
type ExecutionMode string

const (
	// ModeStrict requires synchronous external approval before each apply.
	ModeStrict ExecutionMode = "strict"
	// ModeAuto applies unconditionally, subject to workspace budget and
	// allow-list checks.
	ModeAuto ExecutionMode = "auto"
	// ModeDryRun never applies changes.
	ModeDryRun ExecutionMode = "dryrun"
)

// ParseMode maps a config string to an ExecutionMode, defaulting to DryRun so
// a typo can never silently write to the tree.
func ParseMode(s string) ExecutionMode {
	switch s {
	case "strict":
		return ModeStrict
	case "auto":
		return ModeAuto
	default:
		return ModeDryRun
	}
}

// ExecutionState is the externally controllable run state, observed at
// checkpoints.
type ExecutionState string

const (
	StateRunning ExecutionState = "running"
	StatePaused  ExecutionState = "paused"
	StateAborted ExecutionState = "aborted"
)

// StopReason tags the terminal outcome of a loop; exactly one applies.
type StopReason string

const (
	StopSatisficed                StopReason = "satisficed"
	StopMaxIterations             StopReason = "max_iterations"
	StopQualityCeiling            StopReason = "quality_ceiling"
	StopFailedGates               StopReason = "failed_gates"
	StopNoProgress                StopReason = "no_progress"
	StopPatchFailure              StopReason = "patch_failure"
	StopProgressStalled           StopReason = "progress_stalled"
	StopContextOverload           StopReason = "context_overload"
	StopEnvironmentRecoveryNeeded StopReason = "environment_recovery_needed"
	StopAborted                   StopReason = "aborted"
)

// Success reports whether the reason promotes the workspace. Every other
// terminal reason rolls back to the pre-task state.
func (r StopReason) Success() bool {
	return r == StopSatisficed || r == StopQualityCeiling
}

// IterationProgress is the quantitative delta one iteration produced, kept in
// a bounded window for plateau analysis.
type IterationProgress struct {
	Iteration         int
	FilesTouched      int
	LinesChanged      int
	TestPassRateDelta float64
	LintErrorDelta    int
	ScoreImprovement  float64
	Timestamp         time.Time
}

// VerdictOverride records an operator overriding the loop's verdict. It is
// logged and emitted; it does not mutate workspace state.
type VerdictOverride struct {
	Verdict   string
	Reason    string
	Timestamp time.Time
}

// IterationRecord is the full audit trail of one iteration.
type IterationRecord struct {
	Iteration    int
	Action       *ActionRequest
	ChangeSetID  changeset.ID
	Applied      bool
	Report       *evaluator.Report
	Progress     IterationProgress
	PatchFailure *failure.PatchFailure
	RolledBack   bool
}

// TaskResult is what ExecuteTask returns: the terminal reason plus the full
// iteration history, so callers can distinguish success from repeated failure
// from operator abort.
type TaskResult struct {
	TaskID     string
	StopReason StopReason
	Iterations int
	FinalScore float64
	Promoted   bool
	History    []IterationRecord
	Reports    []evaluator.Report
	Overrides  []VerdictOverride
	Duration   time.Duration
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
