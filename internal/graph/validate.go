package graph

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// Validate checks the structural invariants of g and returns all violations
// joined together. Each of them wraps ErrInvalidGraph.
func (g *Graph) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...)))
	}

	for _, e := range g.edges {
		src, dst := g.Segment(e.Src), g.Segment(e.Dst)
		if src == nil || dst == nil {
			fail("edge %d->%d refers to a missing segment", e.Src, e.Dst)
			continue
		}
		if e.SrcCommit != src.LastCommitIndex() {
			fail("edge %d->%d must start on last commit %d, got %d", e.Src, e.Dst, src.LastCommitIndex(), e.SrcCommit)
		}
		first := NoCommit
		if !dst.IsEmpty() {
			first = 0
		}
		if e.DstCommit != first {
			fail("edge %d->%d must end on %d, got %d", e.Src, e.Dst, first, e.DstCommit)
		}
		if id := commitIDAt(src, e.SrcCommit); e.SrcID != id {
			fail("edge %d->%d source id %s doesn't match %s", e.Src, e.Dst, e.SrcID, id)
		}
		if id := commitIDAt(dst, e.DstCommit); e.DstID != id {
			fail("edge %d->%d destination id %s doesn't match %s", e.Src, e.Dst, e.DstID, id)
		}
	}

	owners := make(map[plumbing.Hash]SegmentIndex)
	names := make(map[string]SegmentIndex)
	for _, s := range g.segments {
		for _, c := range s.Commits {
			if prev, ok := owners[c.ID]; ok {
				fail("commit %s owned by segments %d and %d", c.ID, prev, s.Index)
				continue
			}
			owners[c.ID] = s.Index
		}
		if s.RefName == "" {
			continue
		}
		if prev, ok := names[s.RefName]; ok {
			fail("reference %s names segments %d and %d", s.RefName, prev, s.Index)
			continue
		}
		names[s.RefName] = s.Index
	}

	if len(g.segments) > 0 {
		ep := g.Segment(g.entrySegment)
		switch {
		case ep == nil:
			fail("entrypoint segment %d doesn't exist", g.entrySegment)
		case g.entryCommit.Valid() && int(g.entryCommit) >= len(ep.Commits):
			fail("entrypoint commit %d is out of range in segment %d", g.entryCommit, g.entrySegment)
		}
	}
	return errors.Join(errs...)
}

func commitIDAt(s *Segment, cidx CommitIndex) plumbing.Hash {
	if !cidx.Valid() || int(cidx) >= len(s.Commits) {
		return plumbing.ZeroHash
	}
	return s.Commits[cidx].ID
}
