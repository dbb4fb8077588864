package changeset

import "fmt"

// BudgetKind names which budget a changeset overran.
type BudgetKind string

const (
	BudgetFiles BudgetKind = "files"
	BudgetLOC   BudgetKind = "loc"
)

// PathBlockedError reports a patch touching a path outside the allow-list.
type PathBlockedError struct {
	Path string
}

func (e *PathBlockedError) Error() string {
	return fmt.Sprintf("path %q is outside the allow-list", e.Path)
}

// BudgetExceededError reports a changeset larger than its budget permits.
type BudgetExceededError struct {
	Kind  BudgetKind
	Used  int
	Limit int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: %d > %d", e.Kind, e.Used, e.Limit)
}

// ConflictError reports an optimistic-concurrency failure: the file content no
// longer matches the hash the patch was computed against.
type ConflictError struct {
	Path         string
	ExpectedHash string
	ActualHash   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("content conflict on %s: expected hash %.12s, found %.12s",
		e.Path, e.ExpectedHash, e.ActualHash)
}

// MalformedPatchError reports a hunk whose line ranges do not fit the target
// file.
type MalformedPatchError struct {
	Path   string
	Reason string
}

func (e *MalformedPatchError) Error() string {
	return fmt.Sprintf("malformed patch for %s: %s", e.Path, e.Reason)
}

// IOError wraps a filesystem failure during apply, revert, or promote.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
