// Package changeset defines the transactional unit of workspace modification:
// an ordered set of per-file patches applied or reverted atomically, guarded by
// a path allow-list and size budgets.
package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Hunk replaces OldLines lines starting at OldStart (1-based) with the literal
// Content. NewStart/NewLines describe the post-apply range and are informational
// for diff consumers; application relies on the old range only.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Content  string `json:"content"`
}

// LineCount returns the larger of the removed and inserted line counts, the
// figure budgets are charged against.
func (h Hunk) LineCount() int {
	inserted := h.NewLines
	if inserted == 0 && h.Content != "" {
		inserted = len(splitLines(h.Content))
	}
	if h.OldLines > inserted {
		return h.OldLines
	}
	return inserted
}

// Patch is the full set of hunks for one file. ExpectedHash, when set, is the
// hex SHA-256 of the content the hunks were computed against; apply fails with
// a ConflictError if the file on disk no longer matches.
type Patch struct {
	Path         string `json:"path"`
	Hunks        []Hunk `json:"hunks"`
	ExpectedHash string `json:"expected_hash,omitempty"`
}

// ChangeSet is immutable after creation and superseded each iteration.
type ChangeSet struct {
	ID        string    `json:"id"`
	Patches   []Patch   `json:"patches"`
	CreatedAt time.Time `json:"created_at"`
}

// ID is an opaque handle returned by a successful apply and used for revert.
type ID string

// New builds a changeset with a fresh identity.
func New(patches []Patch) *ChangeSet {
	return &ChangeSet{
		ID:        uuid.NewString(),
		Patches:   patches,
		CreatedAt: time.Now(),
	}
}

// TotalFiles returns the number of distinct files the changeset touches.
func (cs *ChangeSet) TotalFiles() int {
	seen := make(map[string]struct{}, len(cs.Patches))
	for _, p := range cs.Patches {
		seen[p.Path] = struct{}{}
	}
	return len(seen)
}

// TotalChangedLines returns the changed-line count charged against the LOC
// budget: the sum over hunks of max(removed, inserted).
func (cs *ChangeSet) TotalChangedLines() int {
	total := 0
	for _, p := range cs.Patches {
		for _, h := range p.Hunks {
			total += h.LineCount()
		}
	}
	return total
}

// Paths returns the distinct file paths touched, in first-seen order.
func (cs *ChangeSet) Paths() []string {
	seen := make(map[string]struct{}, len(cs.Patches))
	paths := make([]string, 0, len(cs.Patches))
	for _, p := range cs.Patches {
		if _, ok := seen[p.Path]; ok {
			continue
		}
		seen[p.Path] = struct{}{}
		paths = append(paths, p.Path)
	}
	return paths
}

// Budgets caps changeset size. Zero values are treated as unlimited.
type Budgets struct {
	MaxFiles int `json:"max_files"`
	MaxLOC   int `json:"max_loc"`
}

// HashContent returns the hex SHA-256 used for optimistic-concurrency checks.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// splitLines splits content into lines without treating a trailing newline as
// an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	return strings.Split(trimmed, "\n")
}
