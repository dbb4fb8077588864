package changeset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"refinery/internal/logging"
)

type fileSnapshot struct {
	existed bool
	content string
}

type appliedChangeset struct {
	id    ID
	cs    *ChangeSet
	prior map[string]fileSnapshot
}

// FSWorkspace implements Workspace over a directory tree. Applied changesets
// are kept as an in-memory snapshot stack until Promote or RevertAll, so a
// task-scoped rollback needs no external VCS.
type FSWorkspace struct {
	root    string
	logger  logging.Logger
	diff    *DiffRenderer
	applied []appliedChangeset
	// baseline holds the pre-task content of every file the task has touched.
	baseline map[string]fileSnapshot
}

// NewFSWorkspace creates a workspace rooted at dir. All patch paths are
// interpreted relative to dir, with forward slashes.
func NewFSWorkspace(dir string, logger logging.Logger) *FSWorkspace {
	return &FSWorkspace{
		root:     dir,
		logger:   logging.OrNop(logger),
		diff:     NewDiffRenderer(3, false),
		baseline: make(map[string]fileSnapshot),
	}
}

// Root returns the workspace directory.
func (w *FSWorkspace) Root() string { return w.root }

// Begin resets the transaction state and marks the pre-task baseline.
func (w *FSWorkspace) Begin() error {
	w.applied = nil
	w.baseline = make(map[string]fileSnapshot)
	w.logger.Debug("workspace transaction began at %s", w.root)
	return nil
}

// Apply validates every patch against the allow-list, budgets, and expected
// hashes before writing anything; a failure after writes have started restores
// the already-written files so the tree never holds a partial changeset.
func (w *FSWorkspace) Apply(cs *ChangeSet, allowList []string, budgets Budgets) (ID, error) {
	if cs == nil || len(cs.Patches) == 0 {
		return "", &MalformedPatchError{Path: "", Reason: "empty changeset"}
	}

	if budgets.MaxFiles > 0 && cs.TotalFiles() > budgets.MaxFiles {
		return "", &BudgetExceededError{Kind: BudgetFiles, Used: cs.TotalFiles(), Limit: budgets.MaxFiles}
	}
	if budgets.MaxLOC > 0 && cs.TotalChangedLines() > budgets.MaxLOC {
		return "", &BudgetExceededError{Kind: BudgetLOC, Used: cs.TotalChangedLines(), Limit: budgets.MaxLOC}
	}

	for _, p := range cs.Patches {
		if err := w.checkAllowed(p.Path, allowList); err != nil {
			return "", err
		}
	}

	// Stage every new content in memory first; only write once the whole
	// changeset has validated.
	prior := make(map[string]fileSnapshot, len(cs.Patches))
	staged := make(map[string]string, len(cs.Patches))
	for _, p := range cs.Patches {
		snap, err := w.snapshot(p.Path)
		if err != nil {
			return "", err
		}
		if p.ExpectedHash != "" {
			actual := HashContent(snap.content)
			if actual != p.ExpectedHash {
				return "", &ConflictError{Path: p.Path, ExpectedHash: p.ExpectedHash, ActualHash: actual}
			}
		}
		base := snap.content
		if prev, ok := staged[p.Path]; ok {
			base = prev
		} else {
			prior[p.Path] = snap
		}
		next, err := applyHunks(base, p.Hunks, p.Path)
		if err != nil {
			return "", err
		}
		staged[p.Path] = next
	}

	written := make([]string, 0, len(staged))
	for path, content := range staged {
		if err := w.writeFile(path, content); err != nil {
			w.restore(written, prior)
			return "", err
		}
		written = append(written, path)
	}

	id := ID(cs.ID)
	w.applied = append(w.applied, appliedChangeset{id: id, cs: cs, prior: prior})
	for path, snap := range prior {
		if _, ok := w.baseline[path]; !ok {
			w.baseline[path] = snap
		}
	}
	w.logger.Info("applied changeset %s: %d file(s), %d changed line(s)",
		cs.ID, cs.TotalFiles(), cs.TotalChangedLines())
	return id, nil
}

// Revert undoes the most recently applied changeset. Reverting out of order is
// rejected because snapshots stack.
func (w *FSWorkspace) Revert(id ID) error {
	if len(w.applied) == 0 {
		return fmt.Errorf("revert %s: no applied changesets", id)
	}
	top := w.applied[len(w.applied)-1]
	if top.id != id {
		return fmt.Errorf("revert %s: only the most recent changeset (%s) can be reverted", id, top.id)
	}
	if err := w.restoreSnapshots(top.prior); err != nil {
		return err
	}
	w.applied = w.applied[:len(w.applied)-1]
	w.logger.Info("reverted changeset %s", id)
	return nil
}

// RevertAll restores the pre-task baseline recorded since Begin.
func (w *FSWorkspace) RevertAll() error {
	if err := w.restoreSnapshots(w.baseline); err != nil {
		return err
	}
	count := len(w.applied)
	w.applied = nil
	w.baseline = make(map[string]fileSnapshot)
	w.logger.Info("reverted workspace to pre-task state (%d changeset(s) dropped)", count)
	return nil
}

// Promote commits everything applied so far; the snapshot stack is discarded.
func (w *FSWorkspace) Promote() error {
	count := len(w.applied)
	w.applied = nil
	w.baseline = make(map[string]fileSnapshot)
	w.logger.Info("promoted %d changeset(s) to the source tree", count)
	return nil
}

// GenerateDiff renders a unified diff for an applied, un-promoted changeset.
func (w *FSWorkspace) GenerateDiff(id ID) (string, error) {
	for _, a := range w.applied {
		if a.id != id {
			continue
		}
		var sb strings.Builder
		var added, deleted int
		for _, path := range a.cs.Paths() {
			snap := a.prior[path]
			current, err := w.snapshot(path)
			if err != nil {
				return "", err
			}
			sb.WriteString(w.diff.Render(snap.content, current.content, path))
			addLines, delLines := w.diff.Stats(snap.content, current.content)
			added += addLines
			deleted += delLines
		}
		w.logger.Debug("diff for changeset %s: +%d/-%d line(s)", id, added, deleted)
		return sb.String(), nil
	}
	return "", fmt.Errorf("generate diff: changeset %s not found", id)
}

func (w *FSWorkspace) checkAllowed(path string, allowList []string) error {
	clean := filepath.ToSlash(filepath.Clean(path))
	if path == "" || filepath.IsAbs(path) || clean == ".." || strings.HasPrefix(clean, "../") {
		return &PathBlockedError{Path: path}
	}
	if len(allowList) == 0 {
		return &PathBlockedError{Path: path}
	}
	for _, pattern := range allowList {
		ok, err := doublestar.Match(pattern, clean)
		if err != nil {
			return fmt.Errorf("allow-list pattern %q: %w", pattern, err)
		}
		if ok {
			return nil
		}
	}
	return &PathBlockedError{Path: path}
}

func (w *FSWorkspace) absPath(path string) string {
	return filepath.Join(w.root, filepath.FromSlash(path))
}

func (w *FSWorkspace) snapshot(path string) (fileSnapshot, error) {
	data, err := os.ReadFile(w.absPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return fileSnapshot{existed: false}, nil
		}
		return fileSnapshot{}, &IOError{Op: "read", Path: path, Err: err}
	}
	return fileSnapshot{existed: true, content: string(data)}, nil
}

func (w *FSWorkspace) writeFile(path, content string) error {
	abs := w.absPath(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: path, Err: err}
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (w *FSWorkspace) restore(paths []string, prior map[string]fileSnapshot) {
	for _, path := range paths {
		snap := prior[path]
		if err := w.restoreOne(path, snap); err != nil {
			w.logger.Error("restore after failed apply: %v", err)
		}
	}
}

func (w *FSWorkspace) restoreSnapshots(snaps map[string]fileSnapshot) error {
	for path, snap := range snaps {
		if err := w.restoreOne(path, snap); err != nil {
			return err
		}
	}
	return nil
}

func (w *FSWorkspace) restoreOne(path string, snap fileSnapshot) error {
	if !snap.existed {
		if err := os.Remove(w.absPath(path)); err != nil && !os.IsNotExist(err) {
			return &IOError{Op: "remove", Path: path, Err: err}
		}
		return nil
	}
	return w.writeFile(path, snap.content)
}

// applyHunks rewrites content by replacing each hunk's old line range with its
// literal replacement text. Hunks are applied bottom-up so earlier hunks do not
// shift later line numbers.
func applyHunks(content string, hunks []Hunk, path string) (string, error) {
	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}

	ordered := make([]Hunk, len(hunks))
	copy(ordered, hunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].OldStart > ordered[j].OldStart })

	for _, h := range ordered {
		if h.OldStart < 1 || h.OldLines < 0 {
			return "", &MalformedPatchError{Path: path, Reason: fmt.Sprintf("invalid hunk range @%d,%d", h.OldStart, h.OldLines)}
		}
		start := h.OldStart - 1
		end := start + h.OldLines
		if end > len(lines) || start > len(lines) {
			return "", &MalformedPatchError{Path: path,
				Reason: fmt.Sprintf("hunk @%d,%d exceeds file length %d", h.OldStart, h.OldLines, len(lines))}
		}
		replacement := splitLines(h.Content)
		next := make([]string, 0, len(lines)-h.OldLines+len(replacement))
		next = append(next, lines[:start]...)
		next = append(next, replacement...)
		next = append(next, lines[end:]...)
		lines = next
	}

	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}
