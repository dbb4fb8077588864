package failure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"refinery/internal/changeset"
)

func TestFromWorkspaceError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want PatchFailureType
	}{
		{"blocked", &changeset.PathBlockedError{Path: "x"}, PatchPathBlocked},
		{"budget", &changeset.BudgetExceededError{Kind: changeset.BudgetFiles, Used: 12, Limit: 10}, PatchBudgetExceeded},
		{"conflict", &changeset.ConflictError{Path: "x"}, PatchMergeConflict},
		{"malformed", &changeset.MalformedPatchError{Path: "x", Reason: "bad range"}, PatchSyntax},
		{"io", &changeset.IOError{Op: "write", Path: "x", Err: errors.New("disk gone")}, PatchEnvironment},
		{"unknown", errors.New("something else"), PatchEnvironment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pf := FromWorkspaceError(tc.err)
			assert.Equal(t, tc.want, pf.Type)
			assert.Equal(t, tc.err.Error(), pf.Message)
		})
	}
}

func TestFromWorkspaceErrorUnwrapsWrappedErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("apply failed"), &changeset.ConflictError{Path: "a.go"})
	assert.Equal(t, PatchMergeConflict, FromWorkspaceError(wrapped).Type)
}

func TestClassifyEvalLogs(t *testing.T) {
	cases := []struct {
		name string
		logs string
		kind Kind
		env  EnvironmentCategory
		lgc  LogicCategory
	}{
		{"dependency", "ModuleNotFoundError: No module named 'requests'", KindEnvironment, EnvDependencyMissing, ""},
		{"missing binary", "sh: golangci-lint: command not found", KindEnvironment, EnvDependencyMissing, ""},
		{"build", "build failed: undefined symbol", KindEnvironment, EnvBuildFailure, ""},
		{"config", "environment variable DATABASE_URL not set", KindEnvironment, EnvConfigurationError, ""},
		{"permission", "open /var/log/app.log: permission denied", KindEnvironment, EnvPermissionError, ""},
		{"resources", "fatal error: out of memory", KindEnvironment, EnvResourceExhaustion, ""},
		{"service", "dial tcp 10.0.0.1:443: connection refused", KindEnvironment, EnvExternalServiceFailure, ""},
		{"syntax", "main.go:10: syntax error: unexpected }", KindLogic, "", LogicSyntaxError},
		{"types", "cannot use x (int) as string value", KindLogic, "", LogicTypeError},
		{"tests", "--- FAIL: TestParse (0.01s)", KindLogic, "", LogicTestFailure},
		{"quality", "lint error: exported function missing comment", KindLogic, "", LogicCodeQualityIssue},
		{"fallback", "the widget produced the wrong frobnication", KindLogic, "", LogicError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := ClassifyEvalLogs(tc.logs)
			assert.Equal(t, tc.kind, f.Kind)
			if tc.kind == KindEnvironment {
				assert.Equal(t, tc.env, f.Environment)
				assert.True(t, f.Recoverable())
			} else {
				assert.Equal(t, tc.lgc, f.Logic)
				assert.False(t, f.Recoverable())
			}
		})
	}
}

func TestClassifyEnvironmentWinsOverLogic(t *testing.T) {
	// A log mentioning both a missing module and a failing test is an
	// infrastructure problem first.
	logs := "--- FAIL: TestImport\nModuleNotFoundError: No module named 'foo'"
	f := ClassifyEvalLogs(logs)
	assert.Equal(t, KindEnvironment, f.Kind)
	assert.Equal(t, EnvDependencyMissing, f.Environment)
}

func TestClassifyIsIdempotent(t *testing.T) {
	logs := "TypeError: cannot convert int to str"
	first := ClassifyEvalLogs(logs)
	for i := 0; i < 5; i++ {
		again := ClassifyEvalLogs(logs)
		assert.Equal(t, first.Kind, again.Kind)
		assert.Equal(t, first.Logic, again.Logic)
		assert.Equal(t, first.Matched, again.Matched)
	}
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "build_failure", EvaluationFailure{Kind: KindEnvironment, Environment: EnvBuildFailure}.Category())
	assert.Equal(t, "test_failure", EvaluationFailure{Kind: KindLogic, Logic: LogicTestFailure}.Category())
}
