// Package projection turns a segmented commit graph into a workspace of stacks of branches.
package projection

import (
	"errors"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog/log"

	"stackgraph/internal/graph"
	"stackgraph/internal/refmeta"
)

// ErrNoEntrypoint is returned for graphs without segments.
var ErrNoEntrypoint = errors.New("graph has no entrypoint")

// Kind tells managed workspaces from ad-hoc ones.
type Kind int

const (
	// AdHoc is a workspace derived from an entrypoint without stored workspace data.
	AdHoc Kind = iota
	// Managed is a workspace whose reference carries stored stacks.
	Managed
)

func (k Kind) String() string {
	if k == Managed {
		return "managed"
	}
	return "ad-hoc"
}

// RefLocation tells where a branch reference points relative to the workspace.
type RefLocation int

const (
	LocationUnknown RefLocation = iota
	ReachableFromWorkspaceCommit
	OutsideOfWorkspace
)

func (l RefLocation) String() string {
	switch l {
	case ReachableFromWorkspaceCommit:
		return "reachable-from-workspace"
	case OutsideOfWorkspace:
		return "outside-of-workspace"
	default:
		return "unknown"
	}
}

// RelationKind classifies a local commit against its remote and the integration target.
type RelationKind int

const (
	LocalOnly RelationKind = iota
	LocalAndRemote
	Integrated
)

func (k RelationKind) String() string {
	switch k {
	case LocalAndRemote:
		return "local-and-remote"
	case Integrated:
		return "integrated"
	default:
		return "local-only"
	}
}

// Relation of a commit. RemoteID is the matching remote commit for LocalAndRemote,
// which differs from the commit itself if only the trees are equal.
type Relation struct {
	Kind     RelationKind
	RemoteID plumbing.Hash
}

// Commit is a commit as listed in a stack segment.
type Commit struct {
	ID        plumbing.Hash
	ParentIDs []plumbing.Hash
	Title     string
	Flags     graph.Flags
	Relation  Relation
}

// StackSegment is one named branch of a stack with the commits it owns, tip first.
type StackSegment struct {
	// RefName is empty for anonymous history at the top of an ad-hoc stack.
	RefName           string
	RemoteTrackingRef string
	RefLocation       RefLocation
	Commits           []Commit
	// CommitsUnintegratedLocal are the commits that are not integrated yet.
	CommitsUnintegratedLocal []Commit
	// CommitsUnintegratedUpstream exist only on the remote-tracking branch.
	CommitsUnintegratedUpstream []Commit
	Metadata                    *refmeta.Branch
	// Archived is set once all commits of the segment are integrated.
	Archived     bool
	IsEntrypoint bool
	// Segments are the graph segments aggregated into this one.
	Segments []graph.SegmentIndex
}

// Stack is an ordered list of stack segments, top first.
type Stack struct {
	Index int
	// ID comes from the stored workspace, empty for ad-hoc stacks.
	ID string
	// Tip is the topmost commit, zero if the stack has none.
	Tip plumbing.Hash
	// Base is the first commit below the stack, zero if it reaches the end of history.
	Base     plumbing.Hash
	Segments []StackSegment
	// Stash is only filled in when requested.
	Stash refmeta.StashStatus
}

// Workspace is the projection of a graph.
type Workspace struct {
	Kind         Kind
	SegmentIndex graph.SegmentIndex
	RefName      string
	Stacks       []Stack
	TargetRef    string
	// LowerBound is zero without an integration target.
	LowerBound plumbing.Hash
	Metadata   *refmeta.Workspace
}

type options struct {
	stashStatus bool
}

// Option configures Project.
type Option func(*options)

// WithStashStatus copies the stash status of each stack from the stored workspace.
func WithStashStatus() Option {
	return func(o *options) { o.stashStatus = true }
}

// Project computes the workspace view of g. The workspace is managed if the entry
// segment, or a workspace segment the entrypoint belongs to, has stored workspace data.
func Project(g *graph.Graph, opts ...Option) (*Workspace, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	ep := g.EntryPoint()
	if ep.Segment == nil {
		return nil, ErrNoEntrypoint
	}

	p := &projector{g: g, opts: o, entry: ep.SegmentIndex}
	if lb, ok := g.LowerBound(); ok {
		p.lowerBound = lb.ID
	}

	root := workspaceSegment(g, ep)
	if root == nil {
		ws := &Workspace{Kind: AdHoc, SegmentIndex: ep.SegmentIndex, RefName: ep.Segment.RefName, LowerBound: p.lowerBound}
		ws.Stacks = []Stack{p.stack(0, ep.SegmentIndex)}
		return ws, nil
	}

	p.ws = root.WorkspaceMetadata()
	ws := &Workspace{
		Kind:         Managed,
		SegmentIndex: root.Index,
		RefName:      root.RefName,
		TargetRef:    p.ws.TargetRef,
		LowerBound:   p.lowerBound,
		Metadata:     p.ws,
	}
	starts := g.Outgoing(root.Index)
	p.shared = sharedSegments(g, starts)
	for _, e := range starts {
		ws.Stacks = append(ws.Stacks, p.stack(len(ws.Stacks), e.Dst))
	}
	ws.Stacks = p.pruneArchived(ws.Stacks)
	log.Debug().
		Str("workspace", root.RefName).
		Int("stacks", len(ws.Stacks)).
		Msg("projected workspace")
	return ws, nil
}

func workspaceSegment(g *graph.Graph, ep graph.EntryPoint) *graph.Segment {
	if ep.Segment.WorkspaceMetadata() != nil {
		return ep.Segment
	}
	if ep.Commit == nil || !ep.Commit.Flags.Has(graph.FlagInWorkspace) {
		return nil
	}
	for _, s := range g.Segments() {
		if s.WorkspaceMetadata() != nil {
			return s
		}
	}
	return nil
}

type projector struct {
	g          *graph.Graph
	opts       options
	ws         *refmeta.Workspace
	entry      graph.SegmentIndex
	lowerBound plumbing.Hash
	// shared are the segments on the first-parent line of more than one stack.
	shared map[graph.SegmentIndex]bool
}

func sharedSegments(g *graph.Graph, starts []graph.Edge) map[graph.SegmentIndex]bool {
	count := make(map[graph.SegmentIndex]int)
	for _, e := range starts {
		seen := make(map[graph.SegmentIndex]bool)
		for sidx := e.Dst; !seen[sidx]; {
			seen[sidx] = true
			count[sidx]++
			fp, ok := g.FirstParent(sidx)
			if !ok {
				break
			}
			sidx = fp.Dst
		}
	}
	shared := make(map[graph.SegmentIndex]bool)
	for sidx, n := range count {
		if n > 1 {
			shared[sidx] = true
		}
	}
	return shared
}

// stack follows first parents from start and groups the segments it passes by the
// local branch that starts them.
func (p *projector) stack(idx int, start graph.SegmentIndex) Stack {
	st := Stack{Index: idx}
	seen := make(map[graph.SegmentIndex]bool)
	var cur *StackSegment
	for sidx, first := start, true; !seen[sidx]; first = false {
		seen[sidx] = true
		s := p.g.Segment(sidx)
		if !first && p.endsStack(s) {
			// A stored branch at the base is part of the stack without its commits.
			if p.listed(s.RefName) && !p.shared[sidx] {
				st.Segments = append(st.Segments, StackSegment{
					RefName:           s.RefName,
					RemoteTrackingRef: s.RemoteTrackingRef,
					Metadata:          s.BranchMetadata(),
					IsEntrypoint:      sidx == p.entry,
					Segments:          []graph.SegmentIndex{sidx},
				})
			}
			st.Base = p.firstCommitBelow(sidx)
			break
		}
		if cur == nil || graph.IsLocalBranch(s.RefName) {
			st.Segments = append(st.Segments, StackSegment{
				RefName:           s.RefName,
				RemoteTrackingRef: s.RemoteTrackingRef,
				Metadata:          s.BranchMetadata(),
			})
			cur = &st.Segments[len(st.Segments)-1]
		}
		cur.Segments = append(cur.Segments, sidx)
		cur.IsEntrypoint = cur.IsEntrypoint || sidx == p.entry
		for _, c := range s.Commits {
			cur.Commits = append(cur.Commits, Commit{
				ID:        c.ID,
				ParentIDs: c.ParentIDs,
				Title:     c.Title(),
				Flags:     c.Flags,
			})
		}

		e, ok := p.g.FirstParent(sidx)
		if !ok {
			break
		}
		sidx = e.Dst
	}

	local := make(map[plumbing.Hash]bool)
	for _, seg := range st.Segments {
		for _, c := range seg.Commits {
			local[c.ID] = true
		}
	}
	for i := range st.Segments {
		p.classify(&st.Segments[i], local)
	}

	for _, seg := range st.Segments {
		if len(seg.Commits) > 0 {
			st.Tip = seg.Commits[0].ID
			break
		}
	}
	if p.ws != nil && len(st.Segments) > 0 {
		for _, seg := range st.Segments {
			si, _, ok := p.ws.FindBranch(seg.RefName)
			if !ok {
				continue
			}
			st.ID = p.ws.Stacks[si].ID
			if p.opts.stashStatus {
				st.Stash = p.ws.Stacks[si].Stash
			}
			break
		}
	}
	return st
}

// endsStack reports whether s is below the part of history that belongs to the stack.
func (p *projector) endsStack(s *graph.Segment) bool {
	if p.shared[s.Index] {
		return true
	}
	if s.IsEmpty() {
		return false
	}
	if !p.lowerBound.IsZero() && s.Commits[0].ID == p.lowerBound {
		return true
	}
	return s.Flags().Has(graph.FlagIntegrated) && !p.listed(s.RefName)
}

func (p *projector) listed(refName string) bool {
	return p.ws != nil && graph.IsLocalBranch(refName) && p.ws.ContainsBranch(refName)
}

// firstCommitBelow returns the first commit at or below sidx along first parents.
func (p *projector) firstCommitBelow(sidx graph.SegmentIndex) plumbing.Hash {
	seen := make(map[graph.SegmentIndex]bool)
	for !seen[sidx] {
		seen[sidx] = true
		if s := p.g.Segment(sidx); !s.IsEmpty() {
			return s.Commits[0].ID
		}
		e, ok := p.g.FirstParent(sidx)
		if !ok {
			break
		}
		sidx = e.Dst
	}
	return plumbing.ZeroHash
}

// pruneArchived drops every stored archived branch from its stack if neither it nor
// any branch below it has commits. Stacks left without branches are removed.
func (p *projector) pruneArchived(stacks []Stack) []Stack {
	emptied := make(map[int]bool)
	for _, stored := range p.ws.Stacks {
		for _, b := range stored.Branches {
			if !b.Archived {
				continue
			}
			si, bi, ok := findStackSegment(stacks, b.RefName)
			if !ok {
				continue
			}
			below := stacks[si].Segments[bi:]
			if slices.ContainsFunc(below, func(seg StackSegment) bool { return len(seg.Commits) > 0 }) {
				continue
			}
			stacks[si].Segments = stacks[si].Segments[:bi]
			if bi == 0 {
				emptied[si] = true
			}
		}
	}

	out := stacks[:0]
	for i, st := range stacks {
		if emptied[i] {
			log.Info().Str("stack", st.ID).Msg("pruned stack whose branches are all archived")
			continue
		}
		st.Index = len(out)
		out = append(out, st)
	}
	return out
}

func findStackSegment(stacks []Stack, refName string) (stackIdx, segmentIdx int, ok bool) {
	for si, st := range stacks {
		for i, seg := range st.Segments {
			if seg.RefName == refName {
				return si, i, true
			}
		}
	}
	return -1, -1, false
}

func (p *projector) classify(seg *StackSegment, local map[plumbing.Hash]bool) {
	seg.RefLocation = p.refLocation(seg)

	var remoteIDs map[plumbing.Hash]bool
	var upstream []graph.Commit
	if seg.RemoteTrackingRef != "" {
		if rs, ok := p.g.SegmentByRefName(seg.RemoteTrackingRef); ok {
			remoteIDs = p.reachable(rs.Index)
			upstream = p.remoteOnly(rs.Index, local)
		}
	}
	remoteTrees := make(map[plumbing.Hash]plumbing.Hash, len(upstream))
	for _, c := range upstream {
		if _, ok := remoteTrees[c.TreeID]; !ok {
			remoteTrees[c.TreeID] = c.ID
		}
	}

	localTrees := make(map[plumbing.Hash]bool)
	integrated := 0
	for i := range seg.Commits {
		c := &seg.Commits[i]
		gc := p.commit(c.ID)
		localTrees[gc.TreeID] = true
		switch {
		case c.Flags.Has(graph.FlagIntegrated):
			c.Relation = Relation{Kind: Integrated}
			integrated++
		case remoteIDs[c.ID]:
			c.Relation = Relation{Kind: LocalAndRemote, RemoteID: c.ID}
		default:
			if rid, ok := remoteTrees[gc.TreeID]; ok {
				c.Relation = Relation{Kind: LocalAndRemote, RemoteID: rid}
			}
		}
		if c.Relation.Kind != Integrated {
			seg.CommitsUnintegratedLocal = append(seg.CommitsUnintegratedLocal, *c)
		}
	}
	seg.Archived = len(seg.Commits) > 0 && integrated == len(seg.Commits)

	for _, c := range upstream {
		if localTrees[c.TreeID] {
			continue
		}
		seg.CommitsUnintegratedUpstream = append(seg.CommitsUnintegratedUpstream, Commit{
			ID:        c.ID,
			ParentIDs: c.ParentIDs,
			Title:     c.Title(),
			Flags:     c.Flags,
			Relation:  Relation{Kind: LocalAndRemote, RemoteID: c.ID},
		})
	}
}

func (p *projector) refLocation(seg *StackSegment) RefLocation {
	if p.ws == nil {
		return LocationUnknown
	}
	c, ok := p.anchorCommit(seg)
	if ok && c.Flags.Has(graph.FlagInWorkspace) {
		return ReachableFromWorkspaceCommit
	}
	return OutsideOfWorkspace
}

// anchorCommit returns the commit the segment's reference points at, following
// empty segments downwards.
func (p *projector) anchorCommit(seg *StackSegment) (*graph.Commit, bool) {
	if len(seg.Commits) > 0 {
		return p.commit(seg.Commits[0].ID), true
	}
	if len(seg.Segments) == 0 {
		return nil, false
	}
	seen := make(map[graph.SegmentIndex]bool)
	sidx := seg.Segments[len(seg.Segments)-1]
	for !seen[sidx] {
		seen[sidx] = true
		s := p.g.Segment(sidx)
		if !s.IsEmpty() {
			return &s.Commits[0], true
		}
		e, ok := p.g.FirstParent(sidx)
		if !ok {
			break
		}
		sidx = e.Dst
	}
	return nil, false
}

// reachable collects all commits reachable from sidx.
func (p *projector) reachable(sidx graph.SegmentIndex) map[plumbing.Hash]bool {
	out := make(map[plumbing.Hash]bool)
	seen := map[graph.SegmentIndex]bool{sidx: true}
	queue := []graph.SegmentIndex{sidx}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range p.g.Segment(cur).Commits {
			out[c.ID] = true
		}
		for _, e := range p.g.Outgoing(cur) {
			if !seen[e.Dst] {
				seen[e.Dst] = true
				queue = append(queue, e.Dst)
			}
		}
	}
	return out
}

// remoteOnly walks the first parents of the remote segment until it reaches an
// integrated commit or one of the stack's own commits.
func (p *projector) remoteOnly(sidx graph.SegmentIndex, local map[plumbing.Hash]bool) []graph.Commit {
	var out []graph.Commit
	seen := make(map[graph.SegmentIndex]bool)
	for !seen[sidx] {
		seen[sidx] = true
		for _, c := range p.g.Segment(sidx).Commits {
			if local[c.ID] || c.Flags.Has(graph.FlagIntegrated) {
				return out
			}
			out = append(out, c)
		}
		e, ok := p.g.FirstParent(sidx)
		if !ok {
			break
		}
		sidx = e.Dst
	}
	return out
}

func (p *projector) commit(id plumbing.Hash) *graph.Commit {
	sidx, cidx, _ := p.g.CommitByID(id)
	return &p.g.Segment(sidx).Commits[cidx]
}
