package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTrackerWindowIsBounded(t *testing.T) {
	tr := NewProgressTracker()
	for i := 1; i <= 15; i++ {
		tr.Record(IterationProgress{Iteration: i})
	}

	window := tr.Window()
	assert.Len(t, window, progressWindowSize)
	assert.Equal(t, 6, window[0].Iteration, "oldest entries evicted first")
	assert.Equal(t, 15, window[len(window)-1].Iteration)
}

func TestPlateauedRequiresFullWindow(t *testing.T) {
	tr := NewProgressTracker()
	tr.Record(IterationProgress{Iteration: 1})
	tr.Record(IterationProgress{Iteration: 2})
	assert.False(t, plateaued(tr.Window(), 3, 0.01))
}

func TestPlateauedDetectsStall(t *testing.T) {
	tr := NewProgressTracker()
	tr.Record(IterationProgress{Iteration: 1, ScoreImprovement: 0.3, FilesTouched: 2, LinesChanged: 40})
	for i := 2; i <= 4; i++ {
		tr.Record(IterationProgress{Iteration: i, ScoreImprovement: 0.001})
	}
	assert.True(t, plateaued(tr.Window(), 3, 0.01))
}

func TestPlateauedBrokenByScoreMovement(t *testing.T) {
	tr := NewProgressTracker()
	tr.Record(IterationProgress{Iteration: 1})
	tr.Record(IterationProgress{Iteration: 2})
	tr.Record(IterationProgress{Iteration: 3, ScoreImprovement: 0.05})
	assert.False(t, plateaued(tr.Window(), 3, 0.01))
}

func TestPlateauedBrokenByFileChanges(t *testing.T) {
	tr := NewProgressTracker()
	tr.Record(IterationProgress{Iteration: 1})
	tr.Record(IterationProgress{Iteration: 2, FilesTouched: 1, LinesChanged: 12})
	tr.Record(IterationProgress{Iteration: 3})
	assert.False(t, plateaued(tr.Window(), 3, 0.01))
}
