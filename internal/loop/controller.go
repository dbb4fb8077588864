package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"refinery/internal/changeset"
	"refinery/internal/config"
	"refinery/internal/contextmon"
	"refinery/internal/evaluator"
	"refinery/internal/failure"
	"refinery/internal/logging"
)

var errAborted = errors.New("task aborted")

// Options wires a Controller. Backend, Prompts, Evaluator, and Workspace are
// required; everything else has a working default.
type Options struct {
	Config    config.Config
	Root      string
	Backend   GenerationBackend
	Prompts   PromptStrategy
	Evaluator evaluator.Evaluator
	Workspace changeset.Workspace
	Monitor   *contextmon.Monitor
	Reduction contextmon.ReductionStrategy
	Recovery  *failure.Manager
	Approve   ApprovalFunc
	Listener  Listener
	Logger    logging.Logger
	Metrics   *Metrics
	Clock     Clock
}

// Controller drives the generate-evaluate-refine loop for one task at a time.
// It owns all mutable loop state; generation, evaluation, and the workspace
// are consumed strictly through their interfaces. Pause, Resume, Abort,
// InjectGuidance, OverrideVerdict, and SetEvaluationThreshold are safe to call
// from other goroutines; control changes take effect at iteration checkpoints.
type Controller struct {
	cfg       config.Config
	root      string
	mode      ExecutionMode
	backend   GenerationBackend
	prompts   PromptStrategy
	eval      evaluator.Evaluator
	workspace changeset.Workspace
	monitor   *contextmon.Monitor
	reduction contextmon.ReductionStrategy
	recovery  *failure.Manager
	approve   ApprovalFunc
	listener  Listener
	logger    logging.Logger
	metrics   *Metrics
	clock     Clock
	tracer    trace.Tracer
	decider   *SatisficingEvaluator

	mu        sync.Mutex
	state     ExecutionState
	taskID    string
	threshold float64
	guidance  []string
	overrides []VerdictOverride
}

// NewController validates options and builds a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Backend == nil || opts.Prompts == nil {
		return nil, fmt.Errorf("generation backend and prompt strategy are required")
	}
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if opts.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	c := &Controller{
		cfg:       opts.Config,
		root:      opts.Root,
		mode:      ParseMode(opts.Config.Mode),
		backend:   opts.Backend,
		prompts:   opts.Prompts,
		eval:      opts.Evaluator,
		workspace: opts.Workspace,
		monitor:   opts.Monitor,
		reduction: opts.Reduction,
		recovery:  opts.Recovery,
		approve:   opts.Approve,
		listener:  opts.Listener,
		logger:    logging.OrNop(opts.Logger),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		tracer:    otel.Tracer("refinery/loop"),
		decider:   NewSatisficingEvaluator(),
		state:     StateRunning,
		threshold: opts.Config.QualityThreshold,
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.metrics == nil {
		c.metrics = DefaultMetrics()
	}
	if c.reduction == nil {
		c.reduction = contextmon.StrategyByName(opts.Config.ReductionStrategy)
	}
	if c.mode == ModeStrict && c.approve == nil {
		return nil, fmt.Errorf("strict mode requires an approval function")
	}
	return c, nil
}

// runState is the per-task mutable state, touched only by the loop goroutine.
// reports is the append-only evaluation history and may hold two entries for a
// recovered iteration; scores and evalFailures carry exactly one entry per
// evaluated iteration, taken from its final report.
type runState struct {
	task               *Task
	records            []IterationRecord
	reports            []evaluator.Report
	scores             []float64
	tracker            *ProgressTracker
	patchFailures      []failure.PatchFailure
	evalFailures       []failure.EvaluationFailure
	changeCounts       map[string]int
	lastAppliedID      changeset.ID
	consecutiveNoOps   int
	overloaded         bool
	reductionExhausted bool
	recoveryAttempts   int
}

// ExecuteTask runs the loop to a terminal StopReason. On a success reason the
// workspace is promoted; on every other terminal reason it is rolled back to
// the pre-task state. Only generation backend exhaustion returns an error;
// evaluation failures and workspace errors are classified and fed back into
// the loop instead.
func (c *Controller) ExecuteTask(ctx context.Context, task *Task) (*TaskResult, error) {
	started := c.clock.Now()
	c.mu.Lock()
	c.state = StateRunning
	c.taskID = task.ID
	c.overrides = nil
	c.mu.Unlock()

	if err := c.workspace.Begin(); err != nil {
		return nil, fmt.Errorf("begin workspace transaction: %w", err)
	}
	c.metrics.LoopsActive.Inc()
	defer c.metrics.LoopsActive.Dec()

	st := &runState{
		task:         task,
		tracker:      NewProgressTracker(),
		changeCounts: make(map[string]int),
	}
	c.logger.Info("task %s: starting loop, max %d iterations, mode %s", task.ID, c.cfg.MaxIterations, c.mode)

	for iteration := 1; iteration <= c.cfg.MaxIterations; iteration++ {
		if err := c.checkpoint(ctx); err != nil {
			return c.finalize(st, iteration-1, StopAborted, started), nil
		}

		stopped, reason, err := c.iterate(ctx, st, iteration)
		if err != nil {
			c.logger.Error("task %s: iteration %d failed: %v", task.ID, iteration, err)
			if revertErr := c.workspace.RevertAll(); revertErr != nil {
				c.logger.Error("task %s: rollback after failure: %v", task.ID, revertErr)
			}
			return nil, err
		}
		if stopped {
			return c.finalize(st, iteration, reason, started), nil
		}
	}
	return c.finalize(st, c.cfg.MaxIterations, StopMaxIterations, started), nil
}

func (c *Controller) iterate(ctx context.Context, st *runState, iteration int) (stopped bool, reason StopReason, err error) {
	ctx, span := c.tracer.Start(ctx, "loop.iteration", trace.WithAttributes(
		attribute.String("task.id", st.task.ID),
		attribute.Int("iteration", iteration),
	))
	defer span.End()
	iterStart := c.clock.Now()
	defer func() {
		c.metrics.IterationDuration.Observe(c.clock.Now().Sub(iterStart).Seconds())
	}()
	c.metrics.IterationsTotal.Inc()
	c.emit(&IterationStartedEvent{
		BaseEvent:     c.base("iteration_started", st.task.ID),
		Iteration:     iteration,
		MaxIterations: c.cfg.MaxIterations,
	})

	if err := c.manageContext(ctx, st); err != nil {
		if errors.Is(err, errAborted) {
			return true, StopAborted, nil
		}
		return false, "", err
	}

	record := IterationRecord{Iteration: iteration}
	action, err := c.generate(ctx, st)
	if err != nil {
		return false, "", err
	}
	record.Action = action

	var diff string
	if action.RequiresChanges() {
		diff = c.applyAction(st, &record, action)
		if record.PatchFailure == nil && !record.Applied {
			// Declined approval or dry run: no workspace change this round.
			st.consecutiveNoOps++
		} else if record.Applied {
			st.consecutiveNoOps = 0
		}
	} else {
		st.consecutiveNoOps++
	}

	var report *evaluator.Report
	if record.PatchFailure == nil {
		report, err = c.evaluate(ctx, st, iteration, action, diff)
		if err != nil {
			return false, "", err
		}
		record.Report = report
	}

	progress := c.computeProgress(st, iteration, record, report)
	record.Progress = progress
	st.tracker.Record(progress)
	c.emit(&ProgressCalculatedEvent{
		BaseEvent: c.base("progress_calculated", st.task.ID),
		Progress:  progress,
	})

	c.maybeRollbackDegradation(st, &record)
	st.records = append(st.records, record)

	decision := c.decider.Decide(c.signals(st))
	if !decision.ShouldContinue {
		c.logger.Info("task %s: stopping after iteration %d: %s (%s)",
			st.task.ID, iteration, decision.Reason, decision.Detail)
		span.SetAttributes(attribute.String("stop.reason", string(decision.Reason)))
		return true, decision.Reason, nil
	}

	if report != nil && report.Failure != nil {
		st.task.RefinementContext = append(st.task.RefinementContext,
			fmt.Sprintf("last evaluation failed (%s) at score %.2f", report.Failure.Category(), report.Score))
	}
	if record.PatchFailure != nil {
		st.task.RefinementContext = append(st.task.RefinementContext,
			fmt.Sprintf("previous changeset failed to apply (%s): %s",
				record.PatchFailure.Type, record.PatchFailure.Message))
	}
	return false, "", nil
}

// checkpoint observes external control state. It blocks while paused, polling
// at the configured interval, and returns errAborted once aborted. State
// changes made between checkpoints are deliberately invisible until the next
// one.
func (c *Controller) checkpoint(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.setState(StateAborted)
			return errAborted
		default:
		}
		switch c.State() {
		case StateAborted:
			return errAborted
		case StatePaused:
			select {
			case <-ctx.Done():
				c.setState(StateAborted)
				return errAborted
			case <-time.After(c.cfg.PausePollInterval):
			}
		default:
			return nil
		}
	}
}

// manageContext recomputes context metrics and reduces scope on overload. A
// reduction that cannot proceed automatically pauses the loop for an operator
// decision instead of guessing. The scope never drops below one file.
func (c *Controller) manageContext(ctx context.Context, st *runState) error {
	if c.monitor == nil {
		return nil
	}
	metrics := c.monitor.Compute(st.task.Description, st.task.RefinementContext, st.task.TargetFiles)
	c.emit(&ContextMetricsUpdatedEvent{
		BaseEvent: c.base("context_metrics_updated", st.task.ID),
		Metrics:   metrics,
	})
	st.overloaded = c.monitor.Overloaded(metrics)
	if !st.overloaded {
		return nil
	}

	before := len(st.task.TargetFiles)
	reduced, err := c.reduction.Reduce(st.task.TargetFiles, contextmon.TaskInfo{
		Description:  st.task.Description,
		Root:         c.root,
		ChangeCounts: st.changeCounts,
	})
	if err != nil || len(reduced) == 0 {
		if err != nil && !errors.Is(err, contextmon.ErrManualIntervention) {
			c.logger.Warn("task %s: scope reduction %s failed: %v", st.task.ID, c.reduction.Name(), err)
		}
		c.logger.Warn("task %s: context overloaded, pausing for manual scope decision", st.task.ID)
		st.reductionExhausted = true
		if pauseErr := c.Pause(); pauseErr == nil {
			return c.checkpoint(ctx)
		}
		return nil
	}
	if len(reduced) < before {
		st.task.TargetFiles = reduced
		c.emit(&ContextReducedEvent{
			BaseEvent:   c.base("context_reduced", st.task.ID),
			Strategy:    c.reduction.Name(),
			FilesBefore: before,
			FilesAfter:  len(reduced),
		})
		c.logger.Info("task %s: reduced scope %d -> %d files via %s",
			st.task.ID, before, len(reduced), c.reduction.Name())
		metrics = c.monitor.Compute(st.task.Description, st.task.RefinementContext, st.task.TargetFiles)
		st.overloaded = c.monitor.Overloaded(metrics)
	}
	if st.overloaded {
		st.reductionExhausted = true
	}
	return nil
}

// generate runs the backend with the retry budget, re-prompting on malformed
// output. Backend errors and retry exhaustion are fatal to the task; they are
// the only failures that propagate as errors.
func (c *Controller) generate(ctx context.Context, st *runState) (*ActionRequest, error) {
	model, err := c.backend.Select(st.task)
	if err != nil {
		return nil, fmt.Errorf("select model: %w", err)
	}
	c.drainGuidance(st)

	var prompt string
	if len(st.reports) == 0 {
		prompt = c.prompts.InitialPrompt(st.task)
	} else {
		prompt = c.prompts.RefinementPrompt(st.task, st.reports[len(st.reports)-1])
	}

	retries := c.cfg.GenerateRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
		output, err := c.backend.Generate(genCtx, model, prompt)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("generate (model %s): %w", model.Name, err)
		}
		action, err := c.prompts.ParseActionRequest(output, st.task)
		if err == nil {
			return action, nil
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("parse action: %w", err)
		}
		lastErr = err
		c.logger.Warn("task %s: attempt %d/%d produced invalid output: %v", st.task.ID, attempt, retries, err)
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", retries, lastErr)
}

// applyAction lands the changeset according to the execution mode and returns
// the resulting diff, or records a classified patch failure.
func (c *Controller) applyAction(st *runState, record *IterationRecord, action *ActionRequest) string {
	cs := action.ChangeSet
	switch c.mode {
	case ModeDryRun:
		c.logger.Info("task %s: dry run, skipping apply of %d file(s)", st.task.ID, cs.TotalFiles())
		return ""
	case ModeStrict:
		summary := fmt.Sprintf("%s: %d file(s), %d line(s) changed\n%s",
			st.task.ID, cs.TotalFiles(), cs.TotalChangedLines(), action.Reason)
		if !c.approve(summary) {
			c.logger.Info("task %s: changeset declined by approver", st.task.ID)
			return ""
		}
	}

	id, err := c.workspace.Apply(cs, c.cfg.AllowList, changeset.Budgets{
		MaxFiles: c.cfg.MaxFiles,
		MaxLOC:   c.cfg.MaxLOC,
	})
	if err != nil {
		pf := failure.FromWorkspaceError(err)
		record.PatchFailure = &pf
		st.patchFailures = append(st.patchFailures, pf)
		c.metrics.PatchFailures.WithLabelValues(string(pf.Type)).Inc()
		c.logger.Warn("task %s: apply failed (%s): %v", st.task.ID, pf.Type, err)
		return ""
	}

	record.ChangeSetID = id
	record.Applied = true
	st.lastAppliedID = id
	for _, path := range cs.Paths() {
		st.changeCounts[path]++
	}
	c.emit(&PatchAppliedEvent{
		BaseEvent:    c.base("patch_applied", st.task.ID),
		ChangeSetID:  id,
		Files:        cs.TotalFiles(),
		LinesChanged: cs.TotalChangedLines(),
	})

	diff, err := c.workspace.GenerateDiff(id)
	if err != nil {
		c.logger.Warn("task %s: diff generation failed: %v", st.task.ID, err)
		return ""
	}
	return diff
}

// evaluate scores the iteration's artifacts, attempting one environment
// recovery and a single re-evaluation when the failure is recoverable.
// Reports are append-only: a recovered iteration keeps both reports. The
// satisficing and degradation signals only ever see the iteration's final
// score, so a recovery re-evaluation never counts as a confirming iteration.
func (c *Controller) evaluate(ctx context.Context, st *runState, iteration int, action *ActionRequest, diff string) (*evaluator.Report, error) {
	artifacts := evaluator.Artifacts{
		TaskID:      st.task.ID,
		Iteration:   iteration,
		Diff:        diff,
		Files:       st.task.TargetFiles,
		Description: action.Reason,
	}
	evalCtx := evaluator.Context{
		AcceptanceCriteria: st.task.Spec.AcceptanceCriteria,
		QualityThreshold:   c.EvaluationThreshold(),
		WorkspaceRoot:      c.root,
	}

	report, err := c.eval.Evaluate(ctx, artifacts, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("evaluate iteration %d: %w", iteration, err)
	}
	c.recordReport(st, iteration, report)

	if report.Failure != nil && report.Failure.Recoverable() && c.recovery != nil {
		outcome := c.recovery.Attempt(ctx, *report.Failure)
		st.recoveryAttempts++
		c.emit(&EnvironmentRecoveryAttemptedEvent{
			BaseEvent: c.base("environment_recovery_attempted", st.task.ID),
			Category:  string(outcome.Category),
			Strategy:  string(outcome.Strategy),
			Succeeded: outcome.Succeeded,
		})
		if outcome.Succeeded {
			report, err = c.eval.Evaluate(ctx, artifacts, evalCtx)
			if err != nil {
				return nil, fmt.Errorf("re-evaluate after recovery: %w", err)
			}
			c.recordReport(st, iteration, report)
		}
	}
	latest := st.reports[len(st.reports)-1]
	st.scores = append(st.scores, latest.Score)
	if latest.Failure != nil {
		st.evalFailures = append(st.evalFailures, *latest.Failure)
	}
	return &latest, nil
}

func (c *Controller) recordReport(st *runState, iteration int, report evaluator.Report) {
	st.reports = append(st.reports, report)
	c.emit(&EvaluationCompletedEvent{
		BaseEvent: c.base("evaluation_completed", st.task.ID),
		Iteration: iteration,
		Score:     report.Score,
		Status:    report.Status,
	})
}

func (c *Controller) computeProgress(st *runState, iteration int, record IterationRecord, report *evaluator.Report) IterationProgress {
	progress := IterationProgress{Iteration: iteration, Timestamp: c.clock.Now()}
	if record.Applied && record.Action != nil && record.Action.ChangeSet != nil {
		progress.FilesTouched = record.Action.ChangeSet.TotalFiles()
		progress.LinesChanged = record.Action.ChangeSet.TotalChangedLines()
	}
	if report != nil {
		if n := len(st.scores); n >= 2 {
			progress.ScoreImprovement = st.scores[n-1] - st.scores[n-2]
		} else if n == 1 {
			progress.ScoreImprovement = st.scores[0]
		}
	}
	return progress
}

// maybeRollbackDegradation reverts the latest changeset when the score dropped
// by more than the degradation threshold relative to the previous score. A
// local safety net, distinct from terminal rollback.
func (c *Controller) maybeRollbackDegradation(st *runState, record *IterationRecord) {
	n := len(st.scores)
	if n < 2 || st.lastAppliedID == "" || !record.Applied {
		return
	}
	prev, current := st.scores[n-2], st.scores[n-1]
	if prev <= 0 || current >= prev*(1-c.cfg.DegradationThreshold) {
		return
	}
	if err := c.workspace.Revert(st.lastAppliedID); err != nil {
		c.logger.Error("task %s: degradation rollback failed: %v", st.task.ID, err)
		return
	}
	c.logger.Warn("task %s: score degraded %.2f -> %.2f, reverted changeset %s",
		st.task.ID, prev, current, st.lastAppliedID)
	c.emit(&ChangesetRevertedEvent{
		BaseEvent:   c.base("changeset_reverted", st.task.ID),
		ChangeSetID: st.lastAppliedID,
		Reason:      fmt.Sprintf("score degraded %.2f -> %.2f", prev, current),
	})
	record.RolledBack = true
	st.lastAppliedID = ""
}

func (c *Controller) signals(st *runState) Signals {
	return Signals{
		Scores:             st.scores,
		Threshold:          c.EvaluationThreshold(),
		Confirmations:      c.cfg.HysteresisConfirmations,
		Progress:           st.tracker.Window(),
		PlateauWindow:      c.cfg.PlateauWindow,
		PlateauEpsilon:     c.cfg.PlateauScoreEpsilon,
		PatchFailures:      st.patchFailures,
		PatchFailureWindow: c.cfg.PatchFailureWindow,
		PatchFailureRepeat: c.cfg.PatchFailureRepeat,
		Overloaded:         st.overloaded,
		ReductionExhausted: st.reductionExhausted,
		EvalFailures:       st.evalFailures,
		RecoveryAttempts:   st.recoveryAttempts,
		ConsecutiveNoOps:   st.consecutiveNoOps,
	}
}

// finalize settles the workspace (promote on success, roll back otherwise),
// emits the completion event, and assembles the result.
func (c *Controller) finalize(st *runState, iterations int, reason StopReason, started time.Time) *TaskResult {
	promoted := false
	if reason.Success() {
		if err := c.workspace.Promote(); err != nil {
			c.logger.Error("task %s: promote failed, rolling back: %v", st.task.ID, err)
			reason = StopPatchFailure
			if revertErr := c.workspace.RevertAll(); revertErr != nil {
				c.logger.Error("task %s: rollback after failed promote: %v", st.task.ID, revertErr)
			}
		} else {
			promoted = true
		}
	} else {
		if err := c.workspace.RevertAll(); err != nil {
			c.logger.Error("task %s: terminal rollback failed: %v", st.task.ID, err)
		}
	}

	finalScore := 0.0
	if len(st.scores) > 0 {
		finalScore = st.scores[len(st.scores)-1]
	}
	c.metrics.StopReasons.WithLabelValues(string(reason)).Inc()
	c.emit(&LoopCompletedEvent{
		BaseEvent:  c.base("loop_completed", st.task.ID),
		StopReason: reason,
		Iterations: iterations,
		FinalScore: finalScore,
		Promoted:   promoted,
	})
	c.logger.Info("task %s: done after %d iteration(s): %s (score %.2f, promoted=%t)",
		st.task.ID, iterations, reason, finalScore, promoted)

	c.mu.Lock()
	overrides := make([]VerdictOverride, len(c.overrides))
	copy(overrides, c.overrides)
	c.mu.Unlock()

	return &TaskResult{
		TaskID:     st.task.ID,
		StopReason: reason,
		Iterations: iterations,
		FinalScore: finalScore,
		Promoted:   promoted,
		History:    st.records,
		Reports:    st.reports,
		Overrides:  overrides,
		Duration:   c.clock.Now().Sub(started),
	}
}

// drainGuidance moves injected guidance into the task's refinement context so
// the next prompt carries it.
func (c *Controller) drainGuidance(st *runState) {
	c.mu.Lock()
	pending := c.guidance
	c.guidance = nil
	c.mu.Unlock()
	st.task.RefinementContext = append(st.task.RefinementContext, pending...)
}

// State returns the current execution state.
func (c *Controller) State() ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s ExecutionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Pause requests a pause; the loop blocks at its next checkpoint.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return fmt.Errorf("cannot pause from state %s", c.state)
	}
	c.state = StatePaused
	return nil
}

// Resume lets a paused loop continue.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return fmt.Errorf("cannot resume from state %s", c.state)
	}
	c.state = StateRunning
	return nil
}

// Abort requests termination. The loop honors it at the next checkpoint and
// finishes with StopAborted; no partial apply is ever left active.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAborted {
		c.state = StateAborted
	}
}

// InjectGuidance queues operator guidance for the next generation prompt.
func (c *Controller) InjectGuidance(guidance string) {
	c.mu.Lock()
	c.guidance = append(c.guidance, guidance)
	taskID := c.taskID
	c.mu.Unlock()
	c.logger.Info("task %s: guidance injected: %.120s", taskID, guidance)
	c.emit(&GuidanceInjectedEvent{
		BaseEvent: c.base("guidance_injected", taskID),
		Guidance:  guidance,
	})
}

// OverrideVerdict records an operator override. It is logged and emitted but
// never mutates workspace state.
func (c *Controller) OverrideVerdict(verdict, reason string) {
	c.mu.Lock()
	c.overrides = append(c.overrides, VerdictOverride{
		Verdict:   verdict,
		Reason:    reason,
		Timestamp: c.clock.Now(),
	})
	taskID := c.taskID
	c.mu.Unlock()
	c.logger.Warn("task %s: verdict overridden to %q: %s", taskID, verdict, reason)
	c.emit(&VerdictOverriddenEvent{
		BaseEvent: c.base("verdict_overridden", taskID),
		Verdict:   verdict,
		Reason:    reason,
	})
}

// EvaluationThreshold returns the current satisficing threshold.
func (c *Controller) EvaluationThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// SetEvaluationThreshold adjusts the satisficing threshold on a running loop;
// the change takes effect at the next satisficing decision.
func (c *Controller) SetEvaluationThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("evaluation threshold must be in (0, 1], got %g", threshold)
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	return nil
}

// ModifyParameter adjusts a named parameter on a running loop. Only
// evaluation_threshold is live-adjustable; max_iterations, the execution mode,
// and the budgets are fixed for the lifetime of a loop and rejected here.
func (c *Controller) ModifyParameter(name string, value any) error {
	switch name {
	case "evaluation_threshold":
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("evaluation_threshold expects a float64, got %T", value)
		}
		return c.SetEvaluationThreshold(v)
	case "max_iterations", "mode", "max_files", "max_loc":
		return fmt.Errorf("parameter %s is fixed for the lifetime of a loop", name)
	default:
		return fmt.Errorf("unknown parameter %s", name)
	}
}

func (c *Controller) base(eventType, taskID string) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: c.clock.Now(), TaskID: taskID}
}

func (c *Controller) emit(event Event) {
	if c.listener != nil {
		c.listener.OnEvent(event)
	}
}
