package graph

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog/log"

	"stackgraph/internal/refmeta"
)

// Reconcile reshapes g so that the branches of every stored workspace stack own
// the commits they point to, stacked in the stored order. Where several branches
// of a stack point at the same commit the bottom-most one owns it and the others
// become empty segments chained above it. Where branches of different stacks point
// at the same commit, the commit moves to an anonymous base segment that every
// such stack ends in, and each of these stacks is entered from the workspace.
// Branches that are not part of g are skipped.
//
// Only segment membership and edges change. Reconciling twice has no further effect.
func Reconcile(g *Graph, meta refmeta.Source) error {
	workspaces := make([]*Segment, 0, 1)
	for _, s := range g.segments {
		if s.WorkspaceMetadata() != nil {
			workspaces = append(workspaces, s)
		}
	}

	for _, s := range workspaces {
		ws := s.WorkspaceMetadata()
		if meta != nil {
			stored, err := meta.Workspace(s.RefName)
			if err != nil {
				return fmt.Errorf("reading workspace %s: %w", s.RefName, err)
			}
			if stored != nil {
				ws = stored
				s.Metadata.Workspace = stored
			}
		}
		r := newReconciler(g, s.Index, len(ws.Stacks))
		for i, stack := range ws.Stacks {
			r.reconcileStack(i, stack.RefNames())
		}
		r.enterDetached()
		g.orderStacks(s.Index, ws)
	}
	return nil
}

type refGroup struct {
	members []SegmentIndex
	id      plumbing.Hash
}

// reconciler carries what was learned about the stacks of one workspace.
type reconciler struct {
	g         *Graph
	workspace SegmentIndex
	// stackOf maps group members to the stack they were reconciled for.
	stackOf map[SegmentIndex]int
	// takenBy maps a commit to the first stack with a group pointing at it.
	takenBy  map[plumbing.Hash]int
	atCommit map[plumbing.Hash][]SegmentIndex
	tops     []SegmentIndex
	detached map[int]bool
}

func newReconciler(g *Graph, workspace SegmentIndex, numStacks int) *reconciler {
	r := &reconciler{
		g:         g,
		workspace: workspace,
		stackOf:   make(map[SegmentIndex]int),
		takenBy:   make(map[plumbing.Hash]int),
		atCommit:  make(map[plumbing.Hash][]SegmentIndex),
		tops:      make([]SegmentIndex, numStacks),
		detached:  make(map[int]bool),
	}
	for i := range r.tops {
		r.tops[i] = NoSegment
	}
	return r
}

// reconcileStack groups the branches of one stack, top first, by the commit they
// point at and reshapes each group.
func (r *reconciler) reconcileStack(stack int, refNames []string) {
	g := r.g
	var groups []refGroup
	for _, name := range refNames {
		seg, ok := g.SegmentByRefName(name)
		if !ok {
			log.Debug().Str("ref", name).Msg("stack branch not in graph")
			continue
		}
		asidx, acidx, ok := g.anchor(seg.Index)
		if !ok {
			continue
		}
		id := g.segments[asidx].Commits[acidx].ID
		if n := len(groups); n > 0 && groups[n-1].id == id {
			groups[n-1].members = append(groups[n-1].members, seg.Index)
			continue
		}
		groups = append(groups, refGroup{members: []SegmentIndex{seg.Index}, id: id})
	}
	if len(groups) > 0 {
		r.tops[stack] = groups[0].members[0]
	}

	for _, grp := range groups {
		r.reshape(stack, grp)
	}
}

func (r *reconciler) reshape(stack int, grp refGroup) {
	owner, _, ok := r.g.CommitByID(grp.id)
	if !ok {
		return
	}
	switch other, taken := r.takenBy[grp.id]; {
	case r.g.inStackShape(grp.members, owner):
	case taken && other != stack:
		r.share(stack, other, grp, owner)
	default:
		r.g.reshapeGroup(grp, owner)
	}

	for _, m := range grp.members {
		r.stackOf[m] = stack
	}
	r.atCommit[grp.id] = append(r.atCommit[grp.id], grp.members...)
	if _, taken := r.takenBy[grp.id]; !taken {
		r.takenBy[grp.id] = stack
	}
}

// share chains the group of stack above the base segment of a commit that the
// group of another stack already points at. The base is split off the owner
// unless the owner is anonymous already.
func (r *reconciler) share(stack, other int, grp refGroup, owner SegmentIndex) {
	g := r.g
	top, bottom := grp.members[0], grp.members[len(grp.members)-1]
	isMember := make(map[SegmentIndex]bool, len(grp.members))
	for _, m := range grp.members {
		isMember[m] = true
	}
	atCommit := make(map[SegmentIndex]bool)
	for _, m := range r.atCommit[grp.id] {
		atCommit[m] = true
	}

	// Parent links from higher up this stack now enter the group instead, and links
	// from other stacks into the group go back to their own segment at the commit.
	for i := range g.edges {
		e := &g.edges[i]
		if isMember[e.Src] || e.Src == r.workspace {
			continue
		}
		s, known := r.stackOf[e.Src]
		switch {
		case known && s == stack:
			if e.Dst != owner && !atCommit[e.Dst] {
				continue
			}
			e.Dst = top
		case isMember[e.Dst]:
			if !known {
				s = other
			}
			e.Dst = r.topAt(grp.id, s, owner)
		default:
			continue
		}
		e.DstCommit, e.DstID = g.headOf(e.Dst)
	}
	g.removeEdges(func(e Edge) bool { return isMember[e.Src] })
	for i := range g.edges {
		e := &g.edges[i]
		if isMember[e.Dst] && e.Dst != top && !isMember[e.Src] {
			e.Dst = top
			e.DstCommit, e.DstID = g.headOf(top)
		}
	}

	base := owner
	if !g.segments[owner].IsAnonymous() {
		base = g.insertSegment(&Segment{})
		g.moveCommits(owner, base)
		g.connect(owner, NoCommit, base, 0)
	}
	for i := 0; i+1 < len(grp.members); i++ {
		g.connect(grp.members[i], NoCommit, grp.members[i+1], NoCommit)
	}
	g.connect(bottom, NoCommit, base, 0)

	r.detached[stack] = true
	r.detached[other] = true
	log.Debug().
		Str("ref", g.segments[top].RefName).
		Str("commit", grp.id.String()).
		Msg("stacks share a base commit")
}

// topAt returns the topmost segment of stack that points at id, or fallback.
func (r *reconciler) topAt(id plumbing.Hash, stack int, fallback SegmentIndex) SegmentIndex {
	for _, m := range r.atCommit[id] {
		if r.stackOf[m] == stack {
			return m
		}
	}
	return fallback
}

// enterDetached connects the workspace to the top of every stack that lost its
// incoming edges while sharing a base.
func (r *reconciler) enterDetached() {
	g := r.g
	for stack, top := range r.tops {
		if !r.detached[stack] || top == NoSegment || top == r.workspace {
			continue
		}
		if len(g.Incoming(top)) > 0 {
			continue
		}
		g.connect(r.workspace, g.segments[r.workspace].LastCommitIndex(), top, g.firstIndex(top))
	}
}

// reshapeGroup makes the last member own the commit the whole group points at and
// chains the members above it. Edges entering the group from outside end at its top.
func (g *Graph) reshapeGroup(grp refGroup, owner SegmentIndex) {
	top, bottom := grp.members[0], grp.members[len(grp.members)-1]
	isMember := make(map[SegmentIndex]bool, len(grp.members))
	for _, m := range grp.members {
		isMember[m] = true
	}

	// Members other than the owner are empty and only point towards the commit.
	g.removeEdges(func(e Edge) bool { return isMember[e.Src] && e.Src != owner })
	if owner != bottom {
		g.moveCommits(owner, bottom)
	}
	for i := range g.edges {
		e := &g.edges[i]
		if isMember[e.Dst] && e.Dst != top && !isMember[e.Src] {
			e.Dst = top
			e.DstCommit, e.DstID = g.headOf(top)
		}
	}

	for i := 0; i+1 < len(grp.members); i++ {
		g.connect(grp.members[i], NoCommit, grp.members[i+1], g.firstIndex(grp.members[i+1]))
	}
	if !isMember[owner] {
		g.connect(owner, NoCommit, top, g.firstIndex(top))
	}
}

// inStackShape reports whether members are already chained above owner and only the
// top member is entered from outside. owner is the last member, or the anonymous base
// the empty last member points at.
func (g *Graph) inStackShape(members []SegmentIndex, owner SegmentIndex) bool {
	if bottom := members[len(members)-1]; bottom != owner {
		if !g.segments[bottom].IsEmpty() || !g.segments[owner].IsAnonymous() {
			return false
		}
		out := g.Outgoing(bottom)
		if len(out) != 1 || out[0].Dst != owner {
			return false
		}
	}
	for i := 0; i+1 < len(members); i++ {
		if !g.segments[members[i]].IsEmpty() {
			return false
		}
		out := g.Outgoing(members[i])
		if len(out) != 1 || out[0].Dst != members[i+1] {
			return false
		}
	}
	for i := 1; i < len(members); i++ {
		for _, e := range g.Incoming(members[i]) {
			if e.Src != members[i-1] {
				return false
			}
		}
	}
	return true
}

// moveCommits transfers all commits and outgoing edges of from to the empty segment to.
func (g *Graph) moveCommits(from, to SegmentIndex) {
	src, dst := g.segments[from], g.segments[to]
	dst.Commits, src.Commits = src.Commits, nil
	for i := range dst.Commits {
		c := &dst.Commits[i]
		c.Refs = swapRef(c.Refs, dst.RefName, src.RefName)
	}
	for i := range g.edges {
		e := &g.edges[i]
		if e.Src == from && e.SrcCommit.Valid() {
			e.Src = to
		}
		switch {
		case e.Dst == from && e.DstCommit.Valid():
			// Incoming edges stay with the now empty segment.
			e.DstCommit, e.DstID = NoCommit, plumbing.ZeroHash
		case e.Dst == to && !e.DstCommit.Valid():
			e.DstCommit, e.DstID = 0, dst.Commits[0].ID
		}
	}
	if g.entrySegment == from && g.entryCommit.Valid() {
		g.entrySegment = to
	}
}

// swapRef removes the new owner from refs and lists the previous one instead.
func swapRef(refs []string, owner, previous string) []string {
	out := make([]string, 0, len(refs)+1)
	for _, r := range refs {
		if r != owner {
			out = append(out, r)
		}
	}
	if previous != "" {
		out = append(out, previous)
		sort.Strings(out)
	}
	return out
}

func (g *Graph) firstIndex(sidx SegmentIndex) CommitIndex {
	if g.segments[sidx].IsEmpty() {
		return NoCommit
	}
	return 0
}

func (g *Graph) headOf(sidx SegmentIndex) (CommitIndex, plumbing.Hash) {
	if g.segments[sidx].IsEmpty() {
		return NoCommit, plumbing.ZeroHash
	}
	return 0, g.segments[sidx].Commits[0].ID
}

// orderStacks sorts the edges leaving the workspace segment by the stored stack order.
func (g *Graph) orderStacks(wsIdx SegmentIndex, ws *refmeta.Workspace) {
	var slots []int
	for i, e := range g.edges {
		if e.Src == wsIdx {
			slots = append(slots, i)
		}
	}
	if len(slots) < 2 {
		return
	}

	edges := make([]Edge, len(slots))
	keys := make(map[SegmentIndex]int, len(slots))
	for i, slot := range slots {
		edges[i] = g.edges[slot]
		keys[edges[i].Dst] = g.stackPosition(edges[i].Dst, ws)
	}
	less := func(i, j int) bool { return keys[edges[i].Dst] < keys[edges[j].Dst] }
	if sort.SliceIsSorted(edges, less) {
		return
	}
	sort.SliceStable(edges, less)
	for i, slot := range slots {
		g.edges[slot] = edges[i]
	}
}

// stackPosition returns the index of the stack that the first named segment below
// sidx belongs to, or the number of stacks if there is none.
func (g *Graph) stackPosition(sidx SegmentIndex, ws *refmeta.Workspace) int {
	seen := make(map[SegmentIndex]bool)
	for !seen[sidx] {
		seen[sidx] = true
		s := g.segments[sidx]
		if s.RefName != "" {
			if si, _, ok := ws.FindBranch(s.RefName); ok {
				return si
			}
		}
		e, ok := g.FirstParent(sidx)
		if !ok {
			break
		}
		sidx = e.Dst
	}
	return len(ws.Stacks)
}
