package graph

import (
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
)

// Options control how a Graph is built.
type Options struct {
	// CollectTags records tags pointing at commits in Commit.Refs.
	CollectTags bool
	// LimitHint is the soft number of commits each lane may collect. nil means unlimited.
	// The commit at the entrypoint is always collected, even with a hint of 0.
	LimitHint *int
	// HardLimit is the maximum number of commits collected across all lanes. nil means unlimited.
	HardLimit *int
	// LimitExtensionAt lists commits at which a lane's soft limit is reset to LimitHint.
	LimitExtensionAt []plumbing.Hash
	// ExtraTarget is the full name of an additional integration target to traverse.
	ExtraTarget string
	// IgnoreRef excludes references from traversal when it returns true.
	IgnoreRef func(refName string) bool `json:"-"`
}

// WithLimitHint returns a copy of o with a soft lane limit of n commits.
func (o Options) WithLimitHint(n int) Options {
	o.LimitHint = &n
	return o
}

// WithHardLimit returns a copy of o that stops traversal after n commits.
func (o Options) WithHardLimit(n int) Options {
	o.HardLimit = &n
	return o
}

// WithLimitExtensionAt returns a copy of o that resets lane limits at ids.
func (o Options) WithLimitExtensionAt(ids ...plumbing.Hash) Options {
	o.LimitExtensionAt = append(slices.Clone(o.LimitExtensionAt), ids...)
	return o
}

// WithExtraTarget returns a copy of o with refName as additional integration target.
func (o Options) WithExtraTarget(refName string) Options {
	o.ExtraTarget = refName
	return o
}

// WithTags returns a copy of o that collects tags.
func (o Options) WithTags() Options {
	o.CollectTags = true
	return o
}

func (o Options) clone() Options {
	if o.LimitHint != nil {
		n := *o.LimitHint
		o.LimitHint = &n
	}
	if o.HardLimit != nil {
		n := *o.HardLimit
		o.HardLimit = &n
	}
	o.LimitExtensionAt = slices.Clone(o.LimitExtensionAt)
	return o
}

func (o Options) ignored(refName string) bool {
	return o.IgnoreRef != nil && o.IgnoreRef(refName)
}
