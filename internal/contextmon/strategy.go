package contextmon

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrManualIntervention signals that no automated reduction is appropriate;
// the loop responds by pausing for an external decision.
var ErrManualIntervention = errors.New("scope reduction requires manual intervention")

// TaskInfo carries the task-side inputs a reduction strategy may consult.
type TaskInfo struct {
	Description string
	Root        string
	// ChangeCounts maps in-scope paths to how often past changesets touched
	// them, maintained by the loop.
	ChangeCounts map[string]int
}

// ReductionStrategy shrinks a task's target file set under context overload.
// Implementations must never return an empty set for a non-empty input, and
// must never return more files than they were given.
type ReductionStrategy interface {
	Name() string
	Reduce(files []string, info TaskInfo) ([]string, error)
}

// RemoveLeastRecent keeps the most-recently-modified half of the scope.
type RemoveLeastRecent struct{}

func (RemoveLeastRecent) Name() string { return "remove_least_recent" }

func (RemoveLeastRecent) Reduce(files []string, info TaskInfo) ([]string, error) {
	if len(files) <= 1 {
		return files, nil
	}
	type entry struct {
		path  string
		mtime int64
	}
	entries := make([]entry, 0, len(files))
	for _, file := range files {
		var mtime int64
		if fi, err := os.Stat(filepath.Join(info.Root, filepath.FromSlash(file))); err == nil {
			mtime = fi.ModTime().UnixNano()
		}
		entries = append(entries, entry{path: file, mtime: mtime})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	keep := (len(entries) + 1) / 2
	out := make([]string, 0, keep)
	for _, e := range entries[:keep] {
		out = append(out, e.path)
	}
	return out, nil
}

const (
	relevanceThreshold = 0.3
	relevanceFallback  = 0.3 // top 30% by score when too few qualify
)

// TaskRelevantOnly scores each file against keywords, extensions, and
// directory names derived from the task description. This is a replaceable
// heuristic, not a relevance model.
type TaskRelevantOnly struct{}

func (TaskRelevantOnly) Name() string { return "task_relevant_only" }

func (TaskRelevantOnly) Reduce(files []string, info TaskInfo) ([]string, error) {
	if len(files) <= 1 {
		return files, nil
	}
	keywords := descriptionKeywords(info.Description)

	type scored struct {
		path  string
		score float64
	}
	entries := make([]scored, 0, len(files))
	maxScore := 0.0
	for _, file := range files {
		score := relevanceScore(file, keywords)
		if score > maxScore {
			maxScore = score
		}
		entries = append(entries, scored{path: file, score: score})
	}
	if maxScore > 0 {
		for i := range entries {
			entries[i].score /= maxScore
		}
	}

	kept := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.score >= relevanceThreshold {
			kept = append(kept, e.path)
		}
	}

	minimum := int(math.Ceil(float64(len(files)) * relevanceFallback))
	if minimum < 1 {
		minimum = 1
	}
	if len(kept) < minimum {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })
		kept = kept[:0]
		for _, e := range entries[:minimum] {
			kept = append(kept, e.path)
		}
	}
	return kept, nil
}

func descriptionKeywords(description string) []string {
	fields := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '.' && r != '_'
	})
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 3 || strings.HasPrefix(f, ".") {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

func relevanceScore(path string, keywords []string) float64 {
	lower := strings.ToLower(filepath.ToSlash(path))
	base := strings.TrimSuffix(filepath.Base(lower), filepath.Ext(lower))
	dir := filepath.Dir(lower)
	ext := filepath.Ext(lower)

	score := 0.0
	for _, kw := range keywords {
		switch {
		case kw == ext || kw == strings.TrimPrefix(ext, "."):
			score += 0.5
		case strings.Contains(base, kw):
			score += 1.0
		case strings.Contains(dir, kw):
			score += 0.5
		}
	}
	return score
}

const changeFrequencyKeep = 0.4

// HighChangeFrequency keeps the files the loop's own changeset history has
// touched most often.
type HighChangeFrequency struct{}

func (HighChangeFrequency) Name() string { return "high_change_frequency" }

func (HighChangeFrequency) Reduce(files []string, info TaskInfo) ([]string, error) {
	if len(files) <= 1 {
		return files, nil
	}
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return info.ChangeCounts[sorted[i]] > info.ChangeCounts[sorted[j]]
	})

	keep := int(math.Ceil(float64(len(sorted)) * changeFrequencyKeep))
	if keep < 1 {
		keep = 1
	}
	return sorted[:keep], nil
}

// ManualIntervention always defers to an operator.
type ManualIntervention struct{}

func (ManualIntervention) Name() string { return "manual_intervention" }

func (ManualIntervention) Reduce(files []string, info TaskInfo) ([]string, error) {
	return nil, ErrManualIntervention
}

// StrategyByName resolves a configured strategy name; unknown names fall back
// to manual intervention so misconfiguration never silently drops files.
func StrategyByName(name string) ReductionStrategy {
	switch name {
	case "remove_least_recent":
		return RemoveLeastRecent{}
	case "task_relevant", "task_relevant_only":
		return TaskRelevantOnly{}
	case "high_change_frequency":
		return HighChangeFrequency{}
	default:
		return ManualIntervention{}
	}
}
