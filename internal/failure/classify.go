package failure

import (
	"errors"
	"regexp"
	"time"

	"refinery/internal/changeset"
)

// FromWorkspaceError maps a workspace apply error to a patch failure type.
// The mapping mirrors the workspace error taxonomy one-to-one; unknown errors
// land in the environment bucket since they are infrastructure, not content.
func FromWorkspaceError(err error) PatchFailure {
	pf := PatchFailure{Timestamp: time.Now()}
	if err != nil {
		pf.Message = err.Error()
	}

	var blocked *changeset.PathBlockedError
	var budget *changeset.BudgetExceededError
	var conflict *changeset.ConflictError
	var malformed *changeset.MalformedPatchError
	switch {
	case errors.As(err, &blocked):
		pf.Type = PatchPathBlocked
	case errors.As(err, &budget):
		pf.Type = PatchBudgetExceeded
	case errors.As(err, &conflict):
		pf.Type = PatchMergeConflict
	case errors.As(err, &malformed):
		pf.Type = PatchSyntax
	default:
		pf.Type = PatchEnvironment
	}
	return pf
}

type logPattern struct {
	re   *regexp.Regexp
	kind Kind
	env  EnvironmentCategory
	lgc  LogicCategory
}

// Ordered patterns; first match wins. Environment patterns come first so a
// build log mentioning both a missing module and a failing test classifies as
// the actionable infrastructure problem.
var logPatterns = []logPattern{
	{re: regexp.MustCompile(`(?i)(no module named|cannot find (module|package)|module not found|package .* is not in|unresolved import|ModuleNotFoundError|ImportError)`), kind: KindEnvironment, env: EnvDependencyMissing},
	{re: regexp.MustCompile(`(?i)(command not found|executable file not found|no such file or directory.*\b(bin|cmd)\b)`), kind: KindEnvironment, env: EnvDependencyMissing},
	{re: regexp.MustCompile(`(?i)(build (failed|error)|compilation terminated|linker command failed|cannot load|link error)`), kind: KindEnvironment, env: EnvBuildFailure},
	{re: regexp.MustCompile(`(?i)(missing (required )?(config|configuration)|invalid configuration|env(ironment)? variable .* (not set|missing)|config file not found)`), kind: KindEnvironment, env: EnvConfigurationError},
	{re: regexp.MustCompile(`(?i)(permission denied|operation not permitted|access denied|EACCES)`), kind: KindEnvironment, env: EnvPermissionError},
	{re: regexp.MustCompile(`(?i)(out of memory|no space left on device|resource temporarily unavailable|too many open files|disk quota exceeded|OOM)`), kind: KindEnvironment, env: EnvResourceExhaustion},
	{re: regexp.MustCompile(`(?i)(connection refused|connection reset|TLS handshake|service unavailable|502 bad gateway|503|504|rate limit(ed)?|timeout.*(api|service|remote))`), kind: KindEnvironment, env: EnvExternalServiceFailure},

	{re: regexp.MustCompile(`(?i)(syntax error|unexpected token|expected .*, found|invalid syntax|parse error)`), kind: KindLogic, lgc: LogicSyntaxError},
	{re: regexp.MustCompile(`(?i)(type (error|mismatch)|cannot use .* as .* value|incompatible type|TypeError|cannot convert)`), kind: KindLogic, lgc: LogicTypeError},
	{re: regexp.MustCompile(`(?i)(--- FAIL|FAIL:|test(s)? failed|assertion(s)? failed|AssertionError|\d+ (test(s)?|spec(s)?) failed)`), kind: KindLogic, lgc: LogicTestFailure},
	{re: regexp.MustCompile(`(?i)(lint(er)? (error|warning|failed)|golangci-lint|code smell|cyclomatic complexity|style violation)`), kind: KindLogic, lgc: LogicCodeQualityIssue},
}

// ClassifyEvalLogs classifies failing evaluation logs by matching them against
// the ordered pattern list. Unmatched failures default to a generic logic
// error. The function is pure: the same logs always yield the same result
// (modulo the timestamp).
func ClassifyEvalLogs(logs string) EvaluationFailure {
	for _, p := range logPatterns {
		if loc := p.re.FindString(logs); loc != "" {
			f := EvaluationFailure{Kind: p.kind, Matched: loc, Timestamp: time.Now()}
			if p.kind == KindEnvironment {
				f.Environment = p.env
			} else {
				f.Logic = p.lgc
			}
			return f
		}
	}
	return EvaluationFailure{Kind: KindLogic, Logic: LogicError, Timestamp: time.Now()}
}
