// Package evaluator defines the artifact evaluation contract the loop consumes
// and a weighted-check evaluator usable without an external scoring service.
package evaluator

import (
	"context"
	"time"

	"refinery/internal/failure"
)

// Status is the tri-state verdict of one evaluation.
type Status string

const (
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusUncertain Status = "uncertain"
)

// Artifacts is what one iteration produced and submits for scoring.
type Artifacts struct {
	TaskID      string
	Iteration   int
	Diff        string
	Files       []string
	Description string
}

// Context carries the scoring inputs that are not iteration artifacts.
type Context struct {
	AcceptanceCriteria []string
	QualityThreshold   float64
	WorkspaceRoot      string
}

// Report is the outcome of one evaluation. Reports are append-only history:
// the loop never rewrites one after it is recorded.
type Report struct {
	Score               float64
	Status              Status
	SatisfiedThresholds []string
	Logs                string
	Timestamp           time.Time
	// Failure is set when Status is not pass.
	Failure *failure.EvaluationFailure
}

// Passed reports whether the evaluation met its bar.
func (r Report) Passed() bool { return r.Status == StatusPass }

// Evaluator scores iteration artifacts. It is a black box to the loop.
type Evaluator interface {
	Evaluate(ctx context.Context, artifacts Artifacts, evalCtx Context) (Report, error)
}
