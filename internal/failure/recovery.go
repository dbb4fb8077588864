package failure

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"refinery/internal/logging"
)

// RecoveryStrategy names the one action mapped to each environment category.
type RecoveryStrategy string

const (
	RecoverInstallDependencies RecoveryStrategy = "install_dependencies"
	RecoverRebuildEnvironment  RecoveryStrategy = "rebuild_environment"
	RecoverResetConfiguration  RecoveryStrategy = "reset_configuration"
	RecoverFixPermissions      RecoveryStrategy = "fix_permissions"
	RecoverScaleResources      RecoveryStrategy = "scale_resources"
	RecoverBackoffRetry        RecoveryStrategy = "backoff_retry"
)

var strategyFor = map[EnvironmentCategory]RecoveryStrategy{
	EnvDependencyMissing:      RecoverInstallDependencies,
	EnvBuildFailure:           RecoverRebuildEnvironment,
	EnvConfigurationError:     RecoverResetConfiguration,
	EnvPermissionError:        RecoverFixPermissions,
	EnvResourceExhaustion:     RecoverScaleResources,
	EnvExternalServiceFailure: RecoverBackoffRetry,
}

// StrategyFor returns the recovery strategy mapped to an environment category.
func StrategyFor(category EnvironmentCategory) RecoveryStrategy {
	return strategyFor[category]
}

// RecoveryRunner executes one recovery strategy. Implementations report
// success, not correctness: a successful run means the action completed, and
// the caller decides whether re-evaluation confirms the fix.
type RecoveryRunner interface {
	Run(ctx context.Context, strategy RecoveryStrategy, workdir string) error
}

// RecoveryOutcome records one recovery attempt for event emission and the
// satisficing evaluator's exhaustion check.
type RecoveryOutcome struct {
	Category  EnvironmentCategory
	Strategy  RecoveryStrategy
	Succeeded bool
	Err       error
	Timestamp time.Time
}

// Manager attempts at most one targeted recovery per environment failure.
type Manager struct {
	runner  RecoveryRunner
	logger  logging.Logger
	workdir string
	history []RecoveryOutcome
}

// NewManager creates a recovery manager. A nil runner disables recovery
// (every attempt reports failure) which keeps DryRun loops side-effect free.
func NewManager(runner RecoveryRunner, workdir string, logger logging.Logger) *Manager {
	return &Manager{runner: runner, workdir: workdir, logger: logging.OrNop(logger)}
}

// Attempt runs the strategy mapped to the failure's environment category.
// Logic failures are never recovered.
func (m *Manager) Attempt(ctx context.Context, f EvaluationFailure) RecoveryOutcome {
	outcome := RecoveryOutcome{
		Category:  f.Environment,
		Strategy:  StrategyFor(f.Environment),
		Timestamp: time.Now(),
	}
	if !f.Recoverable() {
		outcome.Err = fmt.Errorf("failure category %s has no automated recovery", f.Category())
		m.history = append(m.history, outcome)
		return outcome
	}
	if m.runner == nil {
		outcome.Err = fmt.Errorf("no recovery runner configured")
		m.history = append(m.history, outcome)
		return outcome
	}

	m.logger.Info("attempting recovery %s for %s", outcome.Strategy, f.Environment)
	if err := m.runner.Run(ctx, outcome.Strategy, m.workdir); err != nil {
		outcome.Err = err
		m.logger.Warn("recovery %s failed: %v", outcome.Strategy, err)
	} else {
		outcome.Succeeded = true
		m.logger.Info("recovery %s completed", outcome.Strategy)
	}
	m.history = append(m.history, outcome)
	return outcome
}

// History returns all recorded recovery outcomes, oldest first.
func (m *Manager) History() []RecoveryOutcome {
	out := make([]RecoveryOutcome, len(m.history))
	copy(out, m.history)
	return out
}

// ShellRunner executes recovery strategies as shell commands in the workspace.
type ShellRunner struct {
	// Commands overrides the default command per strategy.
	Commands map[RecoveryStrategy]string
}

var defaultRecoveryCommands = map[RecoveryStrategy]string{
	RecoverInstallDependencies: "go mod download",
	RecoverRebuildEnvironment:  "go clean -cache && go build ./...",
	RecoverResetConfiguration:  "git checkout -- $(git diff --name-only -- '*.yaml' '*.yml' '*.toml' '*.json')",
	RecoverFixPermissions:      "chmod -R u+rw .",
	RecoverScaleResources:      "go clean -testcache",
}

// Run executes the configured command for the strategy. RecoverBackoffRetry
// sleeps instead of shelling out.
func (r *ShellRunner) Run(ctx context.Context, strategy RecoveryStrategy, workdir string) error {
	if strategy == RecoverBackoffRetry {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	command := defaultRecoveryCommands[strategy]
	if override, ok := r.Commands[strategy]; ok {
		command = override
	}
	if command == "" {
		return fmt.Errorf("no command configured for strategy %s", strategy)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("recovery command %q: %w (output: %.200s)", command, err, string(out))
	}
	return nil
}
