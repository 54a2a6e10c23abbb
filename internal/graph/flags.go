package graph

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog/log"
)

// assignFlags computes the flags of all collected commits once traversal is done.
func (b *builder) assignFlags() {
	parents := make(map[plumbing.Hash][]plumbing.Hash, b.collected)
	for _, s := range b.g.segments {
		for _, c := range s.Commits {
			parents[c.ID] = c.ParentIDs
		}
	}
	flags := make(map[plumbing.Hash]Flags, len(parents))

	mark := func(tips []plumbing.Hash, f Flags) {
		for id := range ancestors(parents, tips...) {
			flags[id] |= f
		}
	}
	mark(b.workspaceTips, FlagInWorkspace)
	mark(b.targetTips, FlagIntegrated)
	mark(b.remoteTips, FlagReachableByRemote)
	for _, pair := range b.remotePairs {
		remote := ancestors(parents, pair.remote)
		for id := range ancestors(parents, pair.local) {
			if remote[id] {
				flags[id] |= FlagReachableByMatchingRemote
			}
		}
	}

	for id := range b.cutoff {
		flags[id] |= FlagEarlyEnd
	}
	if b.g.hardLimitHit {
		for id, ps := range parents {
			for _, p := range ps {
				if _, ok := parents[p]; !ok {
					flags[id] |= FlagEarlyEnd
					break
				}
			}
		}
	}

	for _, s := range b.g.segments {
		for i := range s.Commits {
			s.Commits[i].Flags = flags[s.Commits[i].ID]
		}
	}
}

// ancestors returns the collected commits reachable from tips, tips included.
func ancestors(parents map[plumbing.Hash][]plumbing.Hash, tips ...plumbing.Hash) map[plumbing.Hash]bool {
	out := make(map[plumbing.Hash]bool)
	stack := append([]plumbing.Hash(nil), tips...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ps, ok := parents[id]
		if !ok || out[id] {
			continue
		}
		out[id] = true
		stack = append(stack, ps...)
	}
	return out
}

// computeLowerBound finds where the entrypoint joins the integration target.
// Without a merge-base the entry tip itself is used.
func (b *builder) computeLowerBound() error {
	if len(b.targetTips) == 0 || b.entryTip.IsZero() {
		return nil
	}
	target := b.targetTips[0]
	base, ok, err := b.repo.MergeBase(b.entryTip, target)
	if err != nil {
		return fmt.Errorf("finding merge-base of %s and %s: %w", b.entryTip, target, err)
	}
	if !ok {
		log.Warn().Msgf("No merge-base between entrypoint %s and integration target %s, using the entrypoint as base",
			b.entryTip, target)
		b.g.lowerBound = &LowerBound{ID: b.entryTip, Fallback: true}
		return nil
	}
	b.g.lowerBound = &LowerBound{ID: base}
	return nil
}
