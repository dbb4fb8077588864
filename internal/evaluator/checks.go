package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"refinery/internal/failure"
	"refinery/internal/logging"
)

// Check is one named, weighted scoring probe (a build, a test run, a lint
// pass). Fn returns pass/fail plus whatever log output the run produced.
type Check struct {
	Name   string
	Weight float64
	Fn     func(ctx context.Context, a Artifacts, ec Context) (bool, string)
}

// CheckEvaluator scores artifacts as the weighted fraction of passing checks.
// The score lands in [0, 1]; a report passes when every check with weight > 0
// passes, fails when any check fails, and is uncertain when no checks ran.
type CheckEvaluator struct {
	checks []Check
	logger logging.Logger
}

// NewCheckEvaluator builds an evaluator over the given checks.
func NewCheckEvaluator(checks []Check, logger logging.Logger) *CheckEvaluator {
	return &CheckEvaluator{checks: checks, logger: logging.OrNop(logger)}
}

// Evaluate runs every check in order and aggregates the weighted result.
func (e *CheckEvaluator) Evaluate(ctx context.Context, artifacts Artifacts, evalCtx Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	report := Report{Timestamp: time.Now()}
	if len(e.checks) == 0 {
		report.Status = StatusUncertain
		report.Logs = "no checks configured"
		return report, nil
	}

	var logs strings.Builder
	totalWeight := 0.0
	earnedWeight := 0.0
	allPassed := true
	for _, check := range e.checks {
		if check.Weight <= 0 {
			continue
		}
		passed, output := check.Fn(ctx, artifacts, evalCtx)
		totalWeight += check.Weight
		if passed {
			earnedWeight += check.Weight
			report.SatisfiedThresholds = append(report.SatisfiedThresholds, check.Name)
		} else {
			allPassed = false
		}
		fmt.Fprintf(&logs, "[%s] passed=%t\n%s\n", check.Name, passed, output)
		e.logger.Debug("check %s: passed=%t weight=%.2f", check.Name, passed, check.Weight)
	}

	if totalWeight == 0 {
		report.Status = StatusUncertain
		report.Logs = "no weighted checks ran"
		return report, nil
	}

	report.Score = earnedWeight / totalWeight
	report.Logs = logs.String()
	if allPassed {
		report.Status = StatusPass
	} else {
		report.Status = StatusFail
		classified := failure.ClassifyEvalLogs(report.Logs)
		report.Failure = &classified
	}
	return report, nil
}
