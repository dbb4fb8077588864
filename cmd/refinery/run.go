package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"refinery/internal/changeset"
	"refinery/internal/config"
	"refinery/internal/contextmon"
	"refinery/internal/evaluator"
	"refinery/internal/failure"
	"refinery/internal/llm"
	"refinery/internal/logging"
	"refinery/internal/loop"
)

var (
	flagRoot        string
	flagMode        string
	flagConcurrency int
)

// taskFile is the YAML shape of a task batch.
type taskFile struct {
	Root  string       `yaml:"root"`
	Tasks []*loop.Task `yaml:"tasks"`
}

var runCmd = &cobra.Command{
	Use:   "run TASKFILE...",
	Short: "Execute the refinement loop over the tasks in one or more YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTasks,
}

func init() {
	runCmd.Flags().StringVar(&flagRoot, "root", "", "workspace root (overrides the task file)")
	runCmd.Flags().StringVar(&flagMode, "mode", "", "execution mode: strict, auto, or dryrun (overrides config)")
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 1, "tasks to run in parallel (forced to 1 in strict mode)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	logger := setupLogger("cli")
	startMetrics(logger)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagMode != "" {
		cfg.Mode = flagMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	type boundTask struct {
		root string
		task *loop.Task
	}
	var tasks []boundTask
	for _, path := range args {
		tf, err := loadTaskFile(path)
		if err != nil {
			return err
		}
		root := tf.Root
		if flagRoot != "" {
			root = flagRoot
		}
		if root == "" {
			root = "."
		}
		for _, task := range tf.Tasks {
			tasks = append(tasks, boundTask{root: root, task: task})
		}
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks found in %v", args)
	}

	backend, err := llm.NewOpenAIBackend(cfg, logging.NewComponentLogger("llm"))
	if err != nil {
		return err
	}

	concurrency := flagConcurrency
	if cfg.Mode == "strict" || concurrency < 1 {
		concurrency = 1
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := &consoleListener{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	var results []*loop.TaskResult
	for _, bt := range tasks {
		bt := bt
		g.Go(func() error {
			result, err := executeOne(ctx, cfg, bt.root, bt.task, backend, listener)
			if err != nil {
				return fmt.Errorf("task %s: %w", bt.task.ID, err)
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	runErr := g.Wait()

	for _, result := range results {
		printResult(result)
	}
	return runErr
}

// executeOne builds a full loop stack over one workspace root and runs a
// single task to completion.
func executeOne(ctx context.Context, cfg config.Config, root string, task *loop.Task, backend loop.GenerationBackend, listener loop.Listener) (*loop.TaskResult, error) {
	loopLogger := logging.NewComponentLogger("loop")
	workspace := changeset.NewFSWorkspace(root, logging.NewComponentLogger("workspace"))
	monitor, err := contextmon.NewMonitor(root, cfg.ContextWindowTokens, cfg.OverloadUtilization, cfg.OverloadFileCap, logging.NewComponentLogger("contextmon"))
	if err != nil {
		return nil, err
	}

	checks := make([]evaluator.Check, 0, len(cfg.EvalChecks))
	for _, ec := range cfg.EvalChecks {
		checks = append(checks, evaluator.CommandCheck(ec.Name, ec.Command, ec.Weight))
	}

	var runner failure.RecoveryRunner
	if cfg.Mode != "dryrun" {
		runner = &failure.ShellRunner{}
	}

	var approve loop.ApprovalFunc
	if cfg.Mode == "strict" {
		approve = promptApproval
	}

	controller, err := loop.NewController(loop.Options{
		Config:    cfg,
		Root:      root,
		Backend:   backend,
		Prompts:   llm.NewPromptStrategy(root),
		Evaluator: evaluator.NewCheckEvaluator(checks, logging.NewComponentLogger("evaluator")),
		Workspace: workspace,
		Monitor:   monitor,
		Reduction: contextmon.StrategyByName(cfg.ReductionStrategy),
		Recovery:  failure.NewManager(runner, root, logging.NewComponentLogger("recovery")),
		Approve:   approve,
		Listener:  listener,
		Logger:    loopLogger,
	})
	if err != nil {
		return nil, err
	}
	return controller.ExecuteTask(ctx, task)
}

func loadTaskFile(path string) (*taskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file %s: %w", path, err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	return &tf, nil
}

// consoleListener renders loop events as compact colored progress lines.
type consoleListener struct {
	mu sync.Mutex
}

func (l *consoleListener) OnEvent(event loop.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch e := event.(type) {
	case *loop.IterationStartedEvent:
		fmt.Printf("%s iteration %d/%d\n", color.CyanString("[%s]", e.EventTaskID()), e.Iteration, e.MaxIterations)
	case *loop.PatchAppliedEvent:
		fmt.Printf("%s applied %d file(s), %d line(s)\n", color.CyanString("[%s]", e.EventTaskID()), e.Files, e.LinesChanged)
	case *loop.ChangesetRevertedEvent:
		fmt.Printf("%s %s: %s\n", color.CyanString("[%s]", e.EventTaskID()), color.YellowString("reverted"), e.Reason)
	case *loop.EvaluationCompletedEvent:
		fmt.Printf("%s score %.2f (%s)\n", color.CyanString("[%s]", e.EventTaskID()), e.Score, e.Status)
	case *loop.ContextReducedEvent:
		fmt.Printf("%s scope reduced %d -> %d files (%s)\n",
			color.CyanString("[%s]", e.EventTaskID()), e.FilesBefore, e.FilesAfter, e.Strategy)
	case *loop.EnvironmentRecoveryAttemptedEvent:
		fmt.Printf("%s recovery %s: succeeded=%t\n", color.CyanString("[%s]", e.EventTaskID()), e.Strategy, e.Succeeded)
	}
}

// promptApproval gates strict-mode applies through an interactive confirm.
func promptApproval(summary string) bool {
	fmt.Println(color.YellowString("pending changeset:"))
	fmt.Println(summary)
	prompt := promptui.Prompt{Label: "Apply this changeset", IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}

func printResult(result *loop.TaskResult) {
	status := color.RedString("rolled back")
	if result.Promoted {
		status = color.GreenString("promoted")
	}
	fmt.Printf("%s %s after %d iteration(s): score %.2f, %s\n",
		color.CyanString("[%s]", result.TaskID),
		string(result.StopReason), result.Iterations, result.FinalScore, status)
}
