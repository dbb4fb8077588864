package contextmon

import (
	"path/filepath"
	"strings"
	"time"

	"refinery/internal/logging"
)

// Metrics is one snapshot of context pressure, recomputed before each
// generation.
type Metrics struct {
	PromptTokens    int
	Utilization     float64
	FilesInScope    int
	DependencyDepth int
	Timestamp       time.Time
}

// Monitor computes context metrics for a task's current scope and decides
// whether the scope has overloaded the context window.
type Monitor struct {
	root          string
	windowTokens  int
	utilThreshold float64
	fileCap       int
	estimator     *Estimator
	logger        logging.Logger
}

// NewMonitor creates a monitor over the workspace root. windowTokens is the
// model's context window; utilThreshold and fileCap define the overload
// predicate.
func NewMonitor(root string, windowTokens int, utilThreshold float64, fileCap int, logger logging.Logger) (*Monitor, error) {
	estimator, err := NewEstimator()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		root:          root,
		windowTokens:  windowTokens,
		utilThreshold: utilThreshold,
		fileCap:       fileCap,
		estimator:     estimator,
		logger:        logging.OrNop(logger),
	}, nil
}

// Compute estimates the prompt the next generation would carry: the task
// description, the accumulated refinement context, and the content of every
// in-scope file.
func (m *Monitor) Compute(description string, refinementContext []string, files []string) Metrics {
	tokens := CountTokens(description)
	for _, guidance := range refinementContext {
		tokens += CountTokens(guidance)
	}
	depth := 0
	for _, file := range files {
		tokens += m.estimator.FileTokens(filepath.Join(m.root, filepath.FromSlash(file)))
		if d := strings.Count(filepath.ToSlash(file), "/"); d > depth {
			depth = d
		}
	}

	metrics := Metrics{
		PromptTokens:    tokens,
		FilesInScope:    len(files),
		DependencyDepth: depth,
		Timestamp:       time.Now(),
	}
	if m.windowTokens > 0 {
		metrics.Utilization = float64(tokens) / float64(m.windowTokens)
	}
	m.logger.Debug("context metrics: %d tokens (%.0f%% of window), %d files, depth %d",
		metrics.PromptTokens, metrics.Utilization*100, metrics.FilesInScope, metrics.DependencyDepth)
	return metrics
}

// Overloaded reports whether the metrics cross the overload predicate:
// utilization at or above the threshold, or more files in scope than the cap.
func (m *Monitor) Overloaded(metrics Metrics) bool {
	if metrics.Utilization >= m.utilThreshold {
		return true
	}
	return m.fileCap > 0 && metrics.FilesInScope >= m.fileCap
}
