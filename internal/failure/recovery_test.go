package failure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	calls []RecoveryStrategy
	err   error
}

func (r *recordingRunner) Run(_ context.Context, strategy RecoveryStrategy, _ string) error {
	r.calls = append(r.calls, strategy)
	return r.err
}

func TestAttemptRunsMappedStrategyOnce(t *testing.T) {
	runner := &recordingRunner{}
	m := NewManager(runner, t.TempDir(), nil)

	outcome := m.Attempt(context.Background(), EvaluationFailure{
		Kind:        KindEnvironment,
		Environment: EnvDependencyMissing,
	})

	require.Equal(t, []RecoveryStrategy{RecoverInstallDependencies}, runner.calls)
	assert.True(t, outcome.Succeeded)
	assert.NoError(t, outcome.Err)
	assert.Len(t, m.History(), 1)
}

func TestAttemptReportsRunnerFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("network down")}
	m := NewManager(runner, t.TempDir(), nil)

	outcome := m.Attempt(context.Background(), EvaluationFailure{
		Kind:        KindEnvironment,
		Environment: EnvExternalServiceFailure,
	})

	assert.False(t, outcome.Succeeded)
	assert.Error(t, outcome.Err)
	assert.Equal(t, RecoverBackoffRetry, outcome.Strategy)
}

func TestAttemptRefusesLogicFailures(t *testing.T) {
	runner := &recordingRunner{}
	m := NewManager(runner, t.TempDir(), nil)

	outcome := m.Attempt(context.Background(), EvaluationFailure{
		Kind:  KindLogic,
		Logic: LogicTestFailure,
	})

	assert.False(t, outcome.Succeeded)
	assert.Error(t, outcome.Err)
	assert.Empty(t, runner.calls, "logic failures must never trigger recovery commands")
}

func TestAttemptWithoutRunnerFailsSafely(t *testing.T) {
	m := NewManager(nil, t.TempDir(), nil)

	outcome := m.Attempt(context.Background(), EvaluationFailure{
		Kind:        KindEnvironment,
		Environment: EnvBuildFailure,
	})

	assert.False(t, outcome.Succeeded)
	assert.Error(t, outcome.Err)
}

func TestStrategyForCoversEveryCategory(t *testing.T) {
	for _, category := range []EnvironmentCategory{
		EnvDependencyMissing, EnvBuildFailure, EnvConfigurationError,
		EnvPermissionError, EnvResourceExhaustion, EnvExternalServiceFailure,
	} {
		assert.NotEmpty(t, StrategyFor(category), "category %s has no strategy", category)
	}
}
