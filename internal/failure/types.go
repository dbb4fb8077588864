// Package failure classifies patch-application and evaluation failures into
// the two taxonomies the satisficing evaluator and recovery manager act on.
package failure

import "time"

// PatchFailureType categorizes workspace apply errors.
type PatchFailureType string

const (
	PatchSyntax         PatchFailureType = "syntax_error"
	PatchMergeConflict  PatchFailureType = "merge_conflict"
	PatchPathBlocked    PatchFailureType = "path_blocked"
	PatchEnvironment    PatchFailureType = "environment_issue"
	PatchBudgetExceeded PatchFailureType = "budget_exceeded"
)

// PatchFailure is one recorded apply failure.
type PatchFailure struct {
	Type      PatchFailureType
	Message   string
	Timestamp time.Time
}

// EnvironmentCategory names a recoverable infrastructure failure class.
type EnvironmentCategory string

const (
	EnvDependencyMissing      EnvironmentCategory = "dependency_missing"
	EnvBuildFailure           EnvironmentCategory = "build_failure"
	EnvConfigurationError     EnvironmentCategory = "configuration_error"
	EnvPermissionError        EnvironmentCategory = "permission_error"
	EnvResourceExhaustion     EnvironmentCategory = "resource_exhaustion"
	EnvExternalServiceFailure EnvironmentCategory = "external_service_failure"
)

// LogicCategory names a code-level failure class; these have no automated
// recovery.
type LogicCategory string

const (
	LogicSyntaxError      LogicCategory = "syntax_error"
	LogicTypeError        LogicCategory = "type_error"
	LogicTestFailure      LogicCategory = "test_failure"
	LogicCodeQualityIssue LogicCategory = "code_quality_issue"
	LogicError            LogicCategory = "logic_error"
)

// Kind separates the two evaluation-failure families.
type Kind string

const (
	KindEnvironment Kind = "environment"
	KindLogic       Kind = "logic"
)

// EvaluationFailure is the classification attached to a failing eval report.
type EvaluationFailure struct {
	Kind        Kind
	Environment EnvironmentCategory // set when Kind == KindEnvironment
	Logic       LogicCategory       // set when Kind == KindLogic
	Matched     string              // the log fragment that matched
	Timestamp   time.Time
}

// Recoverable reports whether automated recovery may be attempted.
func (f EvaluationFailure) Recoverable() bool {
	return f.Kind == KindEnvironment
}

// Category returns the category name regardless of kind.
func (f EvaluationFailure) Category() string {
	if f.Kind == KindEnvironment {
		return string(f.Environment)
	}
	return string(f.Logic)
}
