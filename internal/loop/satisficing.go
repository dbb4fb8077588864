package loop

import (
	"fmt"

	"refinery/internal/failure"
)

// Signals is the read-only snapshot of loop state the satisficing evaluator
// decides on. The controller builds one per iteration; the evaluator never
// mutates it.
type Signals struct {
	// Scores holds each evaluated iteration's final score, oldest first.
	Scores []float64
	// Threshold is the satisficing score threshold, possibly adjusted live.
	Threshold float64
	// Confirmations is how many extra consecutive at-threshold iterations
	// satisficing demands beyond the first.
	Confirmations int

	Progress       []IterationProgress
	PlateauWindow  int
	PlateauEpsilon float64

	PatchFailures      []failure.PatchFailure
	PatchFailureWindow int
	PatchFailureRepeat int

	// Overloaded is true when the current context metrics cross the overload
	// predicate; ReductionExhausted when scope reduction has already been
	// tried and the pressure persists.
	Overloaded         bool
	ReductionExhausted bool

	EvalFailures     []failure.EvaluationFailure
	RecoveryAttempts int

	ConsecutiveNoOps int
}

// Decision is the evaluator's verdict for one iteration.
type Decision struct {
	ShouldContinue bool
	Reason         StopReason
	Detail         string
}

func stop(reason StopReason, format string, args ...any) (bool, Decision) {
	return true, Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type stopRule struct {
	name  string
	check func(s Signals) (bool, Decision)
}

// qualityCeilingRatio: a plateau at or above this fraction of the threshold
// counts as hitting the quality ceiling rather than stalling.
const qualityCeilingRatio = 0.9

const (
	failedGatesWindow = 3
	noProgressLimit   = 3
	recoveryFloor     = 2
)

// SatisficingEvaluator is a pure, ordered rule list. Rules are evaluated most
// severe first, so a patch-failure pattern wins over a plateau, a plateau over
// context overload, overload over recovery exhaustion, and all of them over a
// satisficing stop. The first firing rule decides.
type SatisficingEvaluator struct {
	rules []stopRule
}

// NewSatisficingEvaluator builds the standard rule order.
func NewSatisficingEvaluator() *SatisficingEvaluator {
	return &SatisficingEvaluator{
		rules: []stopRule{
			{name: "patch_failure_pattern", check: checkPatchFailurePattern},
			{name: "plateau", check: checkPlateau},
			{name: "context_overload", check: checkContextOverload},
			{name: "recovery_exhaustion", check: checkRecoveryExhaustion},
			{name: "failed_gates", check: checkFailedGates},
			{name: "no_progress", check: checkNoProgress},
			{name: "satisficed", check: checkSatisficed},
		},
	}
}

// Decide runs the rules in order and returns the first terminal verdict, or a
// continue decision when none fires. Pure: same Signals, same Decision.
func (e *SatisficingEvaluator) Decide(s Signals) Decision {
	for _, rule := range e.rules {
		if fired, decision := rule.check(s); fired {
			return decision
		}
	}
	return Decision{ShouldContinue: true, Reason: "", Detail: "no stop rule fired"}
}

// checkPatchFailurePattern stops when the same failure type repeats within the
// recent window. Repeated identical patch failures mean the model is stuck
// proposing the same unappliable change.
func checkPatchFailurePattern(s Signals) (bool, Decision) {
	if s.PatchFailureWindow <= 0 || s.PatchFailureRepeat <= 0 {
		return false, Decision{}
	}
	recent := s.PatchFailures
	if len(recent) > s.PatchFailureWindow {
		recent = recent[len(recent)-s.PatchFailureWindow:]
	}
	counts := make(map[failure.PatchFailureType]int, len(recent))
	for _, pf := range recent {
		counts[pf.Type]++
		if counts[pf.Type] >= s.PatchFailureRepeat {
			return stop(StopPatchFailure, "%d %s failures within last %d attempts",
				counts[pf.Type], pf.Type, s.PatchFailureWindow)
		}
	}
	return false, Decision{}
}

// checkPlateau stops when the recent progress window shows near-zero movement.
// A plateau close to the threshold is a quality ceiling and promotes; one
// further down is a stall and reverts.
func checkPlateau(s Signals) (bool, Decision) {
	if !plateaued(s.Progress, s.PlateauWindow, s.PlateauEpsilon) {
		return false, Decision{}
	}
	current := 0.0
	if len(s.Scores) > 0 {
		current = s.Scores[len(s.Scores)-1]
	}
	if current >= s.Threshold*qualityCeilingRatio {
		return stop(StopQualityCeiling, "score %.2f plateaued within reach of threshold %.2f", current, s.Threshold)
	}
	return stop(StopProgressStalled, "no measurable progress for %d iterations at score %.2f", s.PlateauWindow, current)
}

// checkContextOverload stops once the context is overloaded and reduction has
// already been exhausted. Overload with reduction still available is the
// controller's problem, not a stop signal.
func checkContextOverload(s Signals) (bool, Decision) {
	if s.Overloaded && s.ReductionExhausted {
		return stop(StopContextOverload, "context overloaded after scope reduction")
	}
	return false, Decision{}
}

// checkRecoveryExhaustion stops when environment failures persist despite at
// least one recovery attempt.
func checkRecoveryExhaustion(s Signals) (bool, Decision) {
	if s.RecoveryAttempts == 0 {
		return false, Decision{}
	}
	trailing := 0
	for i := len(s.EvalFailures) - 1; i >= 0; i-- {
		if s.EvalFailures[i].Kind != failure.KindEnvironment {
			break
		}
		trailing++
	}
	if trailing >= recoveryFloor {
		return stop(StopEnvironmentRecoveryNeeded,
			"%d consecutive environment failures despite %d recovery attempts", trailing, s.RecoveryAttempts)
	}
	return false, Decision{}
}

// checkFailedGates stops when logic failures keep failing the gates with no
// score recovery across the recent window.
func checkFailedGates(s Signals) (bool, Decision) {
	if len(s.EvalFailures) < failedGatesWindow || len(s.Scores) < failedGatesWindow {
		return false, Decision{}
	}
	for _, f := range s.EvalFailures[len(s.EvalFailures)-failedGatesWindow:] {
		if f.Kind != failure.KindLogic {
			return false, Decision{}
		}
	}
	tail := s.Scores[len(s.Scores)-failedGatesWindow:]
	for i := 1; i < len(tail); i++ {
		if tail[i] > tail[i-1] {
			return false, Decision{}
		}
	}
	return stop(StopFailedGates, "%d consecutive logic failures with no score recovery", failedGatesWindow)
}

// checkNoProgress stops when the model keeps declining to propose changes.
func checkNoProgress(s Signals) (bool, Decision) {
	if s.ConsecutiveNoOps >= noProgressLimit {
		return stop(StopNoProgress, "%d consecutive iterations proposed no changes", s.ConsecutiveNoOps)
	}
	return false, Decision{}
}

// checkSatisficed stops when the score has held at or above the threshold for
// 1+Confirmations consecutive iterations without decreasing. The confirmation
// tail is hysteresis: a single borderline crossing, or a score oscillating
// around the threshold, never stops the loop.
func checkSatisficed(s Signals) (bool, Decision) {
	needed := 1 + s.Confirmations
	if needed < 1 {
		needed = 1
	}
	if len(s.Scores) < needed {
		return false, Decision{}
	}
	tail := s.Scores[len(s.Scores)-needed:]
	for i, score := range tail {
		if score < s.Threshold {
			return false, Decision{}
		}
		if i > 0 && score < tail[i-1] {
			return false, Decision{}
		}
	}
	return stop(StopSatisficed, "score %.2f held threshold %.2f for %d iterations",
		tail[len(tail)-1], s.Threshold, needed)
}
