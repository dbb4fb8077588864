package loop

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/changeset"
	"refinery/internal/config"
	"refinery/internal/evaluator"
	"refinery/internal/failure"
)

type scriptedBackend struct {
	calls      int
	onGenerate func(call int)
}

func (b *scriptedBackend) Select(*Task) (ModelHandle, error) {
	return ModelHandle{Name: "scripted", Provider: "test"}, nil
}

func (b *scriptedBackend) Generate(context.Context, ModelHandle, string) (string, error) {
	b.calls++
	if b.onGenerate != nil {
		b.onGenerate(b.calls)
	}
	return "scripted output", nil
}

// scriptedPrompts ignores model output and hands out pre-baked actions. A nil
// action in the script parses as a validation error.
type scriptedPrompts struct {
	actions []*ActionRequest
	calls   int
}

func (p *scriptedPrompts) InitialPrompt(*Task) string                      { return "initial" }
func (p *scriptedPrompts) RefinementPrompt(*Task, evaluator.Report) string { return "refine" }
func (p *scriptedPrompts) ParseActionRequest(string, *Task) (*ActionRequest, error) {
	idx := p.calls
	if idx >= len(p.actions) {
		idx = len(p.actions) - 1
	}
	p.calls++
	action := p.actions[idx]
	if action == nil {
		return nil, &ValidationError{Reason: "scripted invalid output"}
	}
	return action, nil
}

type scriptedEvaluator struct {
	reports []evaluator.Report
	calls   int
}

func (e *scriptedEvaluator) Evaluate(context.Context, evaluator.Artifacts, evaluator.Context) (evaluator.Report, error) {
	idx := e.calls
	if idx >= len(e.reports) {
		idx = len(e.reports) - 1
	}
	e.calls++
	return e.reports[idx], nil
}

type fakeWorkspace struct {
	mu       sync.Mutex
	ops      []string
	applyErr error
	nextID   int
}

func (w *fakeWorkspace) record(op string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = append(w.ops, op)
}

func (w *fakeWorkspace) count(prefix string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, op := range w.ops {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (w *fakeWorkspace) Begin() error { w.record("begin"); return nil }

func (w *fakeWorkspace) Apply(*changeset.ChangeSet, []string, changeset.Budgets) (changeset.ID, error) {
	if w.applyErr != nil {
		w.record("apply-failed")
		return "", w.applyErr
	}
	w.nextID++
	id := changeset.ID(fmt.Sprintf("cs-%d", w.nextID))
	w.record("apply " + string(id))
	return id, nil
}

func (w *fakeWorkspace) Revert(id changeset.ID) error { w.record("revert " + string(id)); return nil }
func (w *fakeWorkspace) RevertAll() error             { w.record("revertall"); return nil }
func (w *fakeWorkspace) Promote() error               { w.record("promote"); return nil }
func (w *fakeWorkspace) GenerateDiff(id changeset.ID) (string, error) {
	w.record("diff " + string(id))
	return "--- a/a.go\n+++ b/a.go\n", nil
}

type eventCapture struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCapture) OnEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCapture) byType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func changeAction() *ActionRequest {
	return &ActionRequest{
		Kind: ActionPatch,
		ChangeSet: changeset.New([]changeset.Patch{{
			Path:  "a.go",
			Hunks: []changeset.Hunk{{OldStart: 1, OldLines: 0, NewLines: 1, Content: "x\n"}},
		}}),
		Reason:     "scripted change",
		Confidence: 0.9,
	}
}

func failReport(score float64) evaluator.Report {
	return evaluator.Report{Score: score, Status: evaluator.StatusFail}
}

func envFailReport(score float64) evaluator.Report {
	return evaluator.Report{
		Score:  score,
		Status: evaluator.StatusFail,
		Failure: &failure.EvaluationFailure{
			Kind:        failure.KindEnvironment,
			Environment: failure.EnvBuildFailure,
		},
	}
}

type stubRecoveryRunner struct {
	calls int
	err   error
}

func (r *stubRecoveryRunner) Run(context.Context, failure.RecoveryStrategy, string) error {
	r.calls++
	return r.err
}

func passReport(score float64) evaluator.Report {
	return evaluator.Report{Score: score, Status: evaluator.StatusPass}
}

func testConfig() config.Config {
	cfg := config.New()
	cfg.Mode = "auto"
	return cfg
}

func newTestController(t *testing.T, cfg config.Config, prompts PromptStrategy, eval evaluator.Evaluator, ws changeset.Workspace, listener Listener) (*Controller, *scriptedBackend) {
	t.Helper()
	backend := &scriptedBackend{}
	c, err := NewController(Options{
		Config:    cfg,
		Backend:   backend,
		Prompts:   prompts,
		Evaluator: eval,
		Workspace: ws,
		Listener:  listener,
		Metrics:   MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return c, backend
}

func TestExecuteTaskSatisficesAndPromotes(t *testing.T) {
	ws := &fakeWorkspace{}
	capture := &eventCapture{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{
		failReport(0.5), failReport(0.65), passReport(0.82), passReport(0.83),
	}}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, capture)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t1", Description: "improve things"})
	require.NoError(t, err)

	assert.Equal(t, StopSatisficed, result.StopReason)
	assert.Equal(t, 4, result.Iterations)
	assert.True(t, result.Promoted)
	assert.InDelta(t, 0.83, result.FinalScore, 1e-9)
	assert.Equal(t, 1, ws.count("promote"))
	assert.Equal(t, 0, ws.count("revertall"))
	assert.Equal(t, 4, ws.count("apply "))
	assert.Len(t, capture.byType("loop_completed"), 1)
	assert.Len(t, capture.byType("patch_applied"), 4)
	assert.Len(t, result.Reports, 4)
}

func TestExecuteTaskNeverOverlapsChangesets(t *testing.T) {
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{
		failReport(0.5), failReport(0.65), passReport(0.82), passReport(0.83),
	}}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, nil)

	_, err := c.ExecuteTask(context.Background(), &Task{ID: "t1"})
	require.NoError(t, err)

	// Each apply must be settled (diffed and superseded, reverted, or
	// promoted) before the next apply lands.
	var pending string
	for _, op := range ws.ops {
		switch {
		case len(op) > 6 && op[:6] == "apply ":
			assert.Empty(t, pending, "apply %q while %q still in flight", op, pending)
			pending = op[6:]
		case len(op) > 5 && op[:5] == "diff ":
			assert.Equal(t, pending, op[5:])
			pending = ""
		}
	}
}

func TestExecuteTaskStopsOnRepeatedBudgetViolations(t *testing.T) {
	ws := &fakeWorkspace{applyErr: &changeset.BudgetExceededError{Kind: changeset.BudgetFiles, Used: 12, Limit: 10}}
	eval := &scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, nil)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t2"})
	require.NoError(t, err)

	assert.Equal(t, StopPatchFailure, result.StopReason)
	assert.Equal(t, 3, result.Iterations, "three identical failures trip the pattern rule")
	assert.False(t, result.Promoted)
	assert.Equal(t, 0, eval.calls, "a failed apply produces no artifacts to evaluate")
	assert.Equal(t, 1, ws.count("revertall"))
	require.Len(t, result.History, 3)
	for _, record := range result.History {
		require.NotNil(t, record.PatchFailure)
		assert.Equal(t, failure.PatchBudgetExceeded, record.PatchFailure.Type)
	}
}

func TestExecuteTaskMaxIterationsRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 3
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{
		failReport(0.1), failReport(0.2), failReport(0.3),
	}}
	c, _ := newTestController(t, cfg,
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, nil)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t3"})
	require.NoError(t, err)

	assert.Equal(t, StopMaxIterations, result.StopReason)
	assert.Equal(t, 3, result.Iterations)
	assert.False(t, result.Promoted)
	assert.Equal(t, 1, ws.count("revertall"))
	assert.Equal(t, 0, ws.count("promote"))
}

func TestAbortHonoredAtNextCheckpoint(t *testing.T) {
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}}
	prompts := &scriptedPrompts{actions: []*ActionRequest{changeAction()}}
	c, backend := newTestController(t, testConfig(), prompts, eval, ws, nil)
	backend.onGenerate = func(int) { c.Abort() }

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t4"})
	require.NoError(t, err)

	assert.Equal(t, StopAborted, result.StopReason)
	assert.Equal(t, 1, result.Iterations, "the in-flight iteration completes before the abort lands")
	assert.Equal(t, 1, ws.count("apply "), "no further changes after the abort")
	assert.Equal(t, 1, ws.count("revertall"))
	assert.False(t, result.Promoted)
}

func TestDryRunNeverApplies(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "dryrun"
	cfg.MaxIterations = 2
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{failReport(0.4)}}
	c, _ := newTestController(t, cfg,
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, nil)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t5"})
	require.NoError(t, err)

	assert.Equal(t, StopMaxIterations, result.StopReason)
	assert.Equal(t, 0, ws.count("apply "))
	assert.Equal(t, 2, eval.calls, "dry run still evaluates the proposals")
}

func TestDegradationRollback(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 2
	cfg.QualityThreshold = 0.9
	ws := &fakeWorkspace{}
	capture := &eventCapture{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{
		failReport(0.8), failReport(0.5),
	}}
	c, _ := newTestController(t, cfg,
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}}, eval, ws, capture)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t6"})
	require.NoError(t, err)

	assert.Equal(t, 1, ws.count("revert cs-2"), "the regressing changeset is reverted")
	require.Len(t, result.History, 2)
	assert.True(t, result.History[1].RolledBack)
	assert.Len(t, capture.byType("changeset_reverted"), 1)
}

func TestRecoveryReEvalCountsAsOneIteration(t *testing.T) {
	ws := &fakeWorkspace{}
	capture := &eventCapture{}
	runner := &stubRecoveryRunner{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{
		envFailReport(0.82), passReport(0.83), passReport(0.84),
	}}
	c, err := NewController(Options{
		Config:    testConfig(),
		Backend:   &scriptedBackend{},
		Prompts:   &scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		Evaluator: eval,
		Workspace: ws,
		Recovery:  failure.NewManager(runner, "", nil),
		Listener:  capture,
		Metrics:   MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	result, execErr := c.ExecuteTask(context.Background(), &Task{ID: "t11"})
	require.NoError(t, execErr)

	// Iteration 1 fails on the environment, recovers, and re-evaluates at
	// 0.83. Both reports belong to that one iteration, so the hysteresis
	// confirmation still has to come from iteration 2.
	assert.Equal(t, StopSatisficed, result.StopReason)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.Reports, 3, "the recovered iteration keeps both reports")
	assert.Equal(t, 1, runner.calls)
	assert.Len(t, capture.byType("environment_recovery_attempted"), 1)
	assert.Len(t, capture.byType("evaluation_completed"), 3)
	assert.Equal(t, 0, ws.count("revert "), "0.82 -> 0.83 within one iteration is not a degradation")
}

func TestGenerationRetriesThenSucceeds(t *testing.T) {
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{passReport(0.9), passReport(0.9)}}
	prompts := &scriptedPrompts{actions: []*ActionRequest{nil, nil, changeAction()}}
	c, backend := newTestController(t, testConfig(), prompts, eval, ws, nil)

	result, err := c.ExecuteTask(context.Background(), &Task{ID: "t7"})
	require.NoError(t, err)

	assert.Equal(t, StopSatisficed, result.StopReason)
	assert.GreaterOrEqual(t, backend.calls, 3, "two invalid outputs cost two retries")
}

func TestGenerationExhaustionFailsTask(t *testing.T) {
	ws := &fakeWorkspace{}
	eval := &scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}}
	prompts := &scriptedPrompts{actions: []*ActionRequest{nil}}
	c, _ := newTestController(t, testConfig(), prompts, eval, ws, nil)

	_, err := c.ExecuteTask(context.Background(), &Task{ID: "t8"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation failed")
	assert.Equal(t, 1, ws.count("revertall"), "a failed task leaves no partial state behind")
}

func TestPauseResumeAbortTransitions(t *testing.T) {
	ws := &fakeWorkspace{}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		&scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}}, ws, nil)

	assert.Equal(t, StateRunning, c.State())
	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.State())
	assert.Error(t, c.Pause(), "already paused")
	require.NoError(t, c.Resume())
	assert.Error(t, c.Resume(), "already running")

	c.Abort()
	assert.Equal(t, StateAborted, c.State())
	assert.Error(t, c.Pause())
	assert.Error(t, c.Resume())
}

func TestModifyParameter(t *testing.T) {
	ws := &fakeWorkspace{}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		&scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}}, ws, nil)

	require.NoError(t, c.ModifyParameter("evaluation_threshold", 0.6))
	assert.InDelta(t, 0.6, c.EvaluationThreshold(), 1e-9)

	assert.Error(t, c.ModifyParameter("evaluation_threshold", "0.6"), "wrong type")
	assert.Error(t, c.ModifyParameter("evaluation_threshold", 1.5), "out of range")
	assert.Error(t, c.ModifyParameter("max_iterations", 20), "fixed for the loop lifetime")
	assert.Error(t, c.ModifyParameter("mode", "auto"))
	assert.Error(t, c.ModifyParameter("nonsense", 1))
}

func TestInjectGuidanceReachesNextPrompt(t *testing.T) {
	ws := &fakeWorkspace{}
	capture := &eventCapture{}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		&scriptedEvaluator{reports: []evaluator.Report{passReport(0.9)}}, ws, capture)
	c.InjectGuidance("prefer smaller diffs")

	task := &Task{ID: "t9"}
	_, err := c.ExecuteTask(context.Background(), task)
	require.NoError(t, err)

	assert.Contains(t, task.RefinementContext, "prefer smaller diffs")
	assert.Len(t, capture.byType("guidance_injected"), 1)
}

func TestOverrideVerdictIsInformational(t *testing.T) {
	ws := &fakeWorkspace{}
	capture := &eventCapture{}
	c, _ := newTestController(t, testConfig(),
		&scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		&scriptedEvaluator{reports: []evaluator.Report{passReport(0.9)}}, ws, capture)

	c.OverrideVerdict("pass", "known flaky check")
	assert.Len(t, capture.byType("verdict_overridden"), 1)
	assert.Equal(t, 0, ws.count("promote"), "an override never touches the workspace")
	assert.Equal(t, 0, ws.count("revert"))
}

func TestStrictModeRequiresApprover(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "strict"
	_, err := NewController(Options{
		Config:    cfg,
		Backend:   &scriptedBackend{},
		Prompts:   &scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		Evaluator: &scriptedEvaluator{reports: []evaluator.Report{failReport(0.5)}},
		Workspace: &fakeWorkspace{},
		Metrics:   MustNewMetrics(prometheus.NewRegistry()),
	})
	assert.Error(t, err)
}

func TestStrictModeDeclinedApprovalSkipsApply(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "strict"
	cfg.MaxIterations = 2
	ws := &fakeWorkspace{}
	c, err := NewController(Options{
		Config:    cfg,
		Backend:   &scriptedBackend{},
		Prompts:   &scriptedPrompts{actions: []*ActionRequest{changeAction()}},
		Evaluator: &scriptedEvaluator{reports: []evaluator.Report{failReport(0.4)}},
		Workspace: ws,
		Approve:   func(string) bool { return false },
		Metrics:   MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	result, execErr := c.ExecuteTask(context.Background(), &Task{ID: "t10"})
	require.NoError(t, execErr)
	assert.Equal(t, 0, ws.count("apply "))
	assert.False(t, result.Promoted)
}
