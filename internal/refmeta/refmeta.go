// Package refmeta provides stored metadata for references: workspace stacks and branch details.
package refmeta

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when removing metadata that does not exist.
var ErrNotFound = errors.New("metadata not found")

// StashStatus describes the state of a stack's stash as recorded by the workspace.
type StashStatus string

const (
	StashNone     StashStatus = ""
	StashDesynced StashStatus = "desynced" // stash exists but its base moved
	StashOrphaned StashStatus = "orphaned" // stash exists without its branch
)

// WorkspaceBranch is one branch of a stack, identified by its full reference name.
type WorkspaceBranch struct {
	RefName  string `yaml:"ref" json:"ref"`
	Archived bool   `yaml:"archived,omitempty" json:"archived,omitempty"`
}

// WorkspaceStack is an ordered list of branches, the first one on top.
type WorkspaceStack struct {
	ID       string            `yaml:"id" json:"id"`
	Branches []WorkspaceBranch `yaml:"branches" json:"branches"`
	Stash    StashStatus       `yaml:"stash,omitempty" json:"stash,omitempty"`
}

// RefNames returns the branch reference names of the stack, top first.
func (s WorkspaceStack) RefNames() []string {
	names := make([]string, 0, len(s.Branches))
	for _, b := range s.Branches {
		names = append(names, b.RefName)
	}
	return names
}

// Workspace is the stored intent for a workspace reference.
type Workspace struct {
	Stacks     []WorkspaceStack `yaml:"stacks" json:"stacks"`
	TargetRef  string           `yaml:"target_ref,omitempty" json:"target_ref,omitempty"`
	PushRemote string           `yaml:"push_remote,omitempty" json:"push_remote,omitempty"`
}

// AddStack appends a new stack made of the given branches, top first, and returns it.
func (w *Workspace) AddStack(refNames ...string) WorkspaceStack {
	stack := WorkspaceStack{ID: uuid.NewString()}
	for _, name := range refNames {
		stack.Branches = append(stack.Branches, WorkspaceBranch{RefName: name})
	}
	w.Stacks = append(w.Stacks, stack)
	return stack
}

// ContainsBranch reports whether refName is part of any stack.
func (w *Workspace) ContainsBranch(refName string) bool {
	_, _, ok := w.FindBranch(refName)
	return ok
}

// FindBranch returns the stack and branch position of refName.
func (w *Workspace) FindBranch(refName string) (stackIdx, branchIdx int, ok bool) {
	for si, s := range w.Stacks {
		for bi, b := range s.Branches {
			if b.RefName == refName {
				return si, bi, true
			}
		}
	}
	return -1, -1, false
}

// Clone returns a deep copy of the workspace.
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	out := *w
	out.Stacks = make([]WorkspaceStack, len(w.Stacks))
	for i, s := range w.Stacks {
		s.Branches = slices.Clone(s.Branches)
		out.Stacks[i] = s
	}
	return &out
}

// Branch is the stored data of a single branch.
type Branch struct {
	Description  string    `yaml:"description,omitempty" json:"description,omitempty"`
	ReviewURL    string    `yaml:"review_url,omitempty" json:"review_url,omitempty"`
	ReviewNumber int       `yaml:"review_number,omitempty" json:"review_number,omitempty"`
	CreatedAt    time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Clone returns a copy of the branch data.
func (b *Branch) Clone() *Branch {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// Source provides read access to stored reference metadata.
// Absent metadata is reported as a nil value and a nil error.
type Source interface {
	Workspace(refName string) (*Workspace, error)
	Branch(refName string) (*Branch, error)
	// WorkspaceRefs lists every reference that carries workspace data, sorted.
	WorkspaceRefs() ([]string, error)
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	SetWorkspace(refName string, ws *Workspace) error
	SetBranch(refName string, b *Branch) error
	Remove(refName string) error
	Close() error
}
