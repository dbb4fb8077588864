package changeset

// Workspace is the transactional contract the loop consumes. Apply is atomic:
// either the returned ID denotes a fully-applied changeset or no files changed.
// Implementations must reject patches outside the allow-list and changesets
// over budget with distinguishable errors (PathBlockedError,
// BudgetExceededError).
type Workspace interface {
	// Begin marks the pre-task state. Reverting to it is possible until
	// Promote is called.
	Begin() error

	// Apply validates and lands every patch in cs, or leaves the tree
	// untouched and returns a typed error.
	Apply(cs *ChangeSet, allowList []string, budgets Budgets) (ID, error)

	// Revert undoes the applied changeset with the given id. Only the most
	// recently applied, un-promoted changeset may be reverted.
	Revert(id ID) error

	// RevertAll restores the pre-task state recorded by Begin.
	RevertAll() error

	// Promote commits all applied changesets; reverting past this point is
	// no longer possible.
	Promote() error

	// GenerateDiff renders a unified diff of the applied changeset.
	GenerateDiff(id ID) (string, error)
}
