package graph

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// EntryPoint is a resolved view of where traversal started.
type EntryPoint struct {
	SegmentIndex SegmentIndex
	CommitIndex  CommitIndex
	Segment      *Segment
	// Commit is nil if the entry segment is empty.
	Commit *Commit
}

// EntryPoint resolves the entrypoint of the graph.
func (g *Graph) EntryPoint() EntryPoint {
	ep := EntryPoint{SegmentIndex: g.entrySegment, CommitIndex: g.entryCommit}
	ep.Segment = g.Segment(g.entrySegment)
	if ep.Segment != nil && g.entryCommit.Valid() && int(g.entryCommit) < len(ep.Segment.Commits) {
		ep.Commit = &ep.Segment.Commits[g.entryCommit]
	}
	return ep
}

// NumSegments returns the number of segments.
func (g *Graph) NumSegments() int { return len(g.segments) }

// NumConnections returns the number of edges.
func (g *Graph) NumConnections() int { return len(g.edges) }

// NumCommits returns the number of commits owned by all segments.
func (g *Graph) NumCommits() int {
	n := 0
	for _, s := range g.segments {
		n += len(s.Commits)
	}
	return n
}

// Segment returns the segment at sidx, or nil if there is none.
// The returned segment must not be modified.
func (g *Graph) Segment(sidx SegmentIndex) *Segment {
	if sidx < 0 || int(sidx) >= len(g.segments) {
		return nil
	}
	return g.segments[sidx]
}

// Segments returns all segments ordered by index.
func (g *Graph) Segments() []*Segment { return g.segments }

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge { return g.edges }

// Outgoing returns the edges leaving sidx, in order.
func (g *Graph) Outgoing(sidx SegmentIndex) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Src == sidx {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering sidx, in order.
func (g *Graph) Incoming(sidx SegmentIndex) []Edge {
	var in []Edge
	for _, e := range g.edges {
		if e.Dst == sidx {
			in = append(in, e)
		}
	}
	return in
}

// FirstParent returns the edge that continues the first-parent line below sidx.
func (g *Graph) FirstParent(sidx SegmentIndex) (Edge, bool) {
	out := g.Outgoing(sidx)
	if len(out) == 0 {
		return Edge{}, false
	}
	s := g.Segment(sidx)
	if !s.IsEmpty() {
		last := s.Commits[len(s.Commits)-1]
		if len(last.ParentIDs) > 0 {
			for _, e := range out {
				if e.DstID == last.ParentIDs[0] {
					return e, true
				}
			}
		}
	}
	return out[0], true
}

// HardLimitHit reports whether traversal stopped at the hard limit.
func (g *Graph) HardLimitHit() bool { return g.hardLimitHit }

// Options returns the options the graph was built with.
func (g *Graph) Options() Options { return g.options.clone() }

// ExtraTarget returns the segment of the extra integration target, if one was traversed.
func (g *Graph) ExtraTarget() (SegmentIndex, bool) {
	return g.extraTarget, g.extraTarget != NoSegment
}

// LowerBound returns the merge-base with the integration target, if a target was known.
func (g *Graph) LowerBound() (LowerBound, bool) {
	if g.lowerBound == nil {
		return LowerBound{}, false
	}
	return *g.lowerBound, true
}

// SegmentByRefName returns the segment owned by the full reference name.
func (g *Graph) SegmentByRefName(refName string) (*Segment, bool) {
	if refName == "" {
		return nil, false
	}
	for _, s := range g.segments {
		if s.RefName == refName {
			return s, true
		}
	}
	return nil, false
}

// CommitByID locates the commit with the given id.
func (g *Graph) CommitByID(id plumbing.Hash) (SegmentIndex, CommitIndex, bool) {
	for _, s := range g.segments {
		if cidx, ok := s.CommitIndexOf(id); ok {
			return s.Index, cidx, true
		}
	}
	return NoSegment, NoCommit, false
}

// TipSegments returns the segments without incoming edges.
func (g *Graph) TipSegments() []SegmentIndex {
	incoming := make(map[SegmentIndex]bool, len(g.edges))
	for _, e := range g.edges {
		incoming[e.Dst] = true
	}
	var tips []SegmentIndex
	for _, s := range g.segments {
		if !incoming[s.Index] {
			tips = append(tips, s.Index)
		}
	}
	return tips
}

// BaseSegments returns the segments without outgoing edges.
func (g *Graph) BaseSegments() []SegmentIndex {
	outgoing := make(map[SegmentIndex]bool, len(g.edges))
	for _, e := range g.edges {
		outgoing[e.Src] = true
	}
	var bases []SegmentIndex
	for _, s := range g.segments {
		if !outgoing[s.Index] {
			bases = append(bases, s.Index)
		}
	}
	return bases
}

// PartialSegments returns the segments whose last commit is an early end.
func (g *Graph) PartialSegments() []SegmentIndex {
	var partial []SegmentIndex
	for _, s := range g.segments {
		if n := len(s.Commits); n > 0 && s.Commits[n-1].Flags.Has(FlagEarlyEnd) {
			partial = append(partial, s.Index)
		}
	}
	return partial
}

// anchor returns the commit a segment effectively points at, following
// empty segments along their only outgoing edge.
func (g *Graph) anchor(sidx SegmentIndex) (SegmentIndex, CommitIndex, bool) {
	seen := make(map[SegmentIndex]bool)
	for !seen[sidx] {
		seen[sidx] = true
		s := g.Segment(sidx)
		if s == nil {
			return NoSegment, NoCommit, false
		}
		if !s.IsEmpty() {
			return sidx, 0, true
		}
		out := g.Outgoing(sidx)
		if len(out) != 1 {
			return NoSegment, NoCommit, false
		}
		if out[0].DstCommit.Valid() {
			return out[0].Dst, out[0].DstCommit, true
		}
		sidx = out[0].Dst
	}
	return NoSegment, NoCommit, false
}

func (g *Graph) insertSegment(s *Segment) SegmentIndex {
	s.Index = SegmentIndex(len(g.segments))
	g.segments = append(g.segments, s)
	return s.Index
}

// connect adds an edge between two positions, recording the ids found there.
func (g *Graph) connect(src SegmentIndex, srcCommit CommitIndex, dst SegmentIndex, dstCommit CommitIndex) {
	e := Edge{Src: src, SrcCommit: srcCommit, Dst: dst, DstCommit: dstCommit}
	if srcCommit.Valid() {
		e.SrcID = g.segments[src].Commits[srcCommit].ID
	}
	if dstCommit.Valid() {
		e.DstID = g.segments[dst].Commits[dstCommit].ID
	}
	g.edges = append(g.edges, e)
}

// moveTail moves the commits of sidx from position at onwards to the empty segment
// below and connects sidx to it.
func (g *Graph) moveTail(sidx SegmentIndex, at CommitIndex, below SegmentIndex) {
	s := g.segments[sidx]
	g.segments[below].Commits = append([]Commit(nil), s.Commits[at:]...)
	s.Commits = s.Commits[:at:at]

	for i := range g.edges {
		e := &g.edges[i]
		if e.Src == sidx && e.SrcCommit >= at {
			e.Src = below
			e.SrcCommit -= at
		}
		switch {
		case e.Dst == sidx && e.DstCommit >= at:
			e.Dst = below
			e.DstCommit -= at
		case e.Dst == below && !e.DstCommit.Valid():
			e.DstCommit, e.DstID = 0, g.segments[below].Commits[0].ID
		}
	}
	if g.entrySegment == sidx && g.entryCommit >= at {
		g.entrySegment = below
		g.entryCommit -= at
	}
	g.connect(sidx, at-1, below, 0)
}

// removeEdges deletes all edges matching drop.
func (g *Graph) removeEdges(drop func(Edge) bool) {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	g.edges = kept
}
