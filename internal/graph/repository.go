package graph

import (
	"errors"

	"github.com/go-git/go-git/v5/plumbing"
)

// ErrInvalidGraph is wrapped by every error returned from Graph.Validate.
var ErrInvalidGraph = errors.New("invalid graph")

// Head describes what HEAD points to.
type Head struct {
	// RefName is the full name of the checked-out branch, empty when detached.
	RefName string
	// ID is the commit HEAD resolves to, zero when the branch is unborn.
	ID plumbing.Hash
}

// Unborn reports whether HEAD names a branch without commits.
func (h Head) Unborn() bool { return h.ID.IsZero() }

// CommitInfo is the data read from a commit object.
type CommitInfo struct {
	ID        plumbing.Hash
	ParentIDs []plumbing.Hash
	TreeID    plumbing.Hash
	Message   string
	Author    Signature
	Committer Signature
}

// Reference is a reference name with the commit it peels to.
type Reference struct {
	Name string
	ID   plumbing.Hash
}

// Repository is read-only access to a Git object store.
type Repository interface {
	Head() (Head, error)
	// ResolveRef peels the full reference name to a commit. ok is false if it does not exist.
	ResolveRef(refName string) (id plumbing.Hash, ok bool, err error)
	// Commit reads a commit object. A missing object is an error.
	Commit(id plumbing.Hash) (*CommitInfo, error)
	// MergeBase returns the best common ancestor of all given commits. ok is false if there is none.
	MergeBase(first plumbing.Hash, others ...plumbing.Hash) (base plumbing.Hash, ok bool, err error)
	// References lists references whose full name starts with prefix.
	References(prefix string) ([]Reference, error)
	IsRemoteTracking(refName string) bool
	// Upstream returns the remote-tracking reference configured for, or matching, a local branch.
	Upstream(branchRefName string) (refName string, ok bool, err error)
}
