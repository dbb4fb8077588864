package loop

import (
	"context"
	"fmt"

	"refinery/internal/evaluator"
)

// ModelHandle identifies the concrete model a backend selected for a task.
type ModelHandle struct {
	Name     string
	Provider string
}

// GenerationBackend produces candidate changes. Select routes a task to a
// model (typically by risk tier); Generate runs one completion and must honor
// ctx cancellation and deadlines.
type GenerationBackend interface {
	Select(task *Task) (ModelHandle, error)
	Generate(ctx context.Context, model ModelHandle, prompt string) (string, error)
}

// PromptStrategy builds prompts from loop state and parses model output back
// into actions. Parsing failures that merit a retry are reported as
// *ValidationError; anything else is treated as fatal to the iteration.
type PromptStrategy interface {
	InitialPrompt(task *Task) string
	RefinementPrompt(task *Task, report evaluator.Report) string
	ParseActionRequest(output string, task *Task) (*ActionRequest, error)
}

// ValidationError marks model output that failed to parse into a well-formed
// action. The controller retries generation on these, up to its retry budget.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid model output: %s", e.Reason)
}

// ApprovalFunc gates changeset application in strict mode. It receives a
// human-readable summary of the pending change and blocks until a decision.
type ApprovalFunc func(summary string) bool
