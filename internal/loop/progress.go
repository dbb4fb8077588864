package loop

// progressWindowSize bounds the history the tracker retains. Plateau and
// stop-signal analysis only ever looks this far back.
const progressWindowSize = 10

// ProgressTracker keeps a bounded window of recent iteration progress.
type ProgressTracker struct {
	window []IterationProgress
}

// NewProgressTracker returns an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{window: make([]IterationProgress, 0, progressWindowSize)}
}

// Record appends one iteration's progress, evicting the oldest entry once the
// window is full.
func (t *ProgressTracker) Record(p IterationProgress) {
	if len(t.window) == progressWindowSize {
		copy(t.window, t.window[1:])
		t.window = t.window[:progressWindowSize-1]
	}
	t.window = append(t.window, p)
}

// Window returns a copy of the retained progress entries, oldest first.
func (t *ProgressTracker) Window() []IterationProgress {
	out := make([]IterationProgress, len(t.window))
	copy(out, t.window)
	return out
}

// Len returns how many entries the window currently holds.
func (t *ProgressTracker) Len() int { return len(t.window) }

// plateaued reports whether the last `window` progress entries all made
// near-zero progress: score improvement below epsilon and no files or lines
// touched. Returns false until the window has filled.
func plateaued(progress []IterationProgress, window int, epsilon float64) bool {
	if window <= 0 || len(progress) < window {
		return false
	}
	for _, p := range progress[len(progress)-window:] {
		if p.ScoreImprovement >= epsilon || p.ScoreImprovement <= -epsilon {
			return false
		}
		if p.FilesTouched > 0 || p.LinesChanged > 0 {
			return false
		}
	}
	return true
}
