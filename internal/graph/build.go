package graph

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog/log"

	"stackgraph/internal/refmeta"
)

// FromHead builds the graph of everything reachable from HEAD.
// An unborn HEAD yields a single empty segment named after the branch.
func FromHead(repo Repository, meta refmeta.Source, opts Options) (*Graph, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Unborn() {
		g := newGraph(opts)
		seg := &Segment{RefName: head.RefName}
		md, err := lookupMetadata(meta, head.RefName)
		if err != nil {
			return nil, err
		}
		seg.Metadata = md
		g.entrySegment = g.insertSegment(seg)
		return g, nil
	}
	return FromCommitTraversal(repo, head.ID, head.RefName, meta, opts)
}

// FromCommitTraversal builds the graph of everything reachable from tip, which refName
// points to if it is not empty. Workspaces known to meta, their integration targets and
// the remote-tracking counterparts of all discovered branches are traversed as well.
func FromCommitTraversal(repo Repository, tip plumbing.Hash, refName string, meta refmeta.Source, opts Options) (*Graph, error) {
	b := &builder{
		repo:     repo,
		meta:     meta,
		opts:     opts,
		g:        newGraph(opts.clone()),
		seen:     make(map[plumbing.Hash]SegmentIndex),
		named:    make(map[string]SegmentIndex),
		cutoff:   make(map[plumbing.Hash]bool),
		extend:   make(map[plumbing.Hash]bool),
		budget:   make(map[plumbing.Hash]limit),
		refsByID: make(map[plumbing.Hash][]string),
	}
	for _, id := range opts.LimitExtensionAt {
		b.extend[id] = true
	}
	if err := b.collectRefs(); err != nil {
		return nil, err
	}
	workspaces, err := b.loadWorkspaces(refName)
	if err != nil {
		return nil, err
	}

	entry, err := b.newSegment(refName, tip)
	if err != nil {
		return nil, err
	}
	b.g.entrySegment = entry
	b.entryTip = tip
	b.push(queueItem{id: tip, kind: collectInto, segment: entry, limit: b.initialLimit()})
	if b.g.segments[entry].WorkspaceMetadata() != nil {
		b.workspaceTips = append(b.workspaceTips, tip)
	}

	for _, ws := range workspaces {
		if _, ok := b.named[ws.refName]; ok {
			continue
		}
		sidx, err := b.newSegment(ws.refName, ws.id)
		if err != nil {
			return nil, err
		}
		b.workspaceTips = append(b.workspaceTips, ws.id)
		b.push(queueItem{id: ws.id, kind: collectInto, segment: sidx, limit: b.initialLimit()})
	}
	if err := b.queueTargets(); err != nil {
		return nil, err
	}
	if err := b.flushRemotes(); err != nil {
		return nil, err
	}

	if err := b.walk(); err != nil {
		return nil, err
	}
	if sidx, ok := b.seen[tip]; ok {
		b.g.entrySegment = sidx
		b.g.entryCommit, _ = b.g.segments[sidx].CommitIndexOf(tip)
	}
	b.assignFlags()
	if err := b.computeLowerBound(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("segments", b.g.NumSegments()).
		Int("commits", b.collected).
		Int("edges", b.g.NumConnections()).
		Bool("hard_limit_hit", b.g.hardLimitHit).
		Msg("built commit graph")
	return b.g, nil
}

type instruction uint8

const (
	// collectInto appends the commit to the end of segment.
	collectInto instruction = iota
	// connectNew starts a new segment below commit of segment.
	connectNew
)

type queueItem struct {
	id      plumbing.Hash
	kind    instruction
	segment SegmentIndex
	commit  CommitIndex
	limit   limit
}

type namedTip struct {
	refName string
	id      plumbing.Hash
}

type remotePair struct {
	local, remote plumbing.Hash
}

type builder struct {
	repo Repository
	meta refmeta.Source
	opts Options
	g    *Graph

	queue []queueItem
	head  int

	seen     map[plumbing.Hash]SegmentIndex
	named    map[string]SegmentIndex
	cutoff   map[plumbing.Hash]bool
	extend   map[plumbing.Hash]bool
	budget   map[plumbing.Hash]limit
	refsByID map[plumbing.Hash][]string

	pendingRemotes []namedTip
	pushRemote     string
	collected      int
	entryTip       plumbing.Hash

	workspaceTips []plumbing.Hash
	targetTips    []plumbing.Hash
	remoteTips    []plumbing.Hash
	remotePairs   []remotePair
}

func (b *builder) initialLimit() limit {
	if b.opts.LimitHint == nil {
		return limit{unlimited: true}
	}
	return limit{n: max(*b.opts.LimitHint, 0)}
}

func (b *builder) push(item queueItem) {
	b.queue = append(b.queue, item)
}

func (b *builder) collectRefs() error {
	prefixes := []string{"refs/heads/"}
	if b.opts.CollectTags {
		prefixes = append(prefixes, "refs/tags/")
	}
	for _, prefix := range prefixes {
		refs, err := b.repo.References(prefix)
		if err != nil {
			return fmt.Errorf("listing %s references: %w", prefix, err)
		}
		for _, r := range refs {
			if b.opts.ignored(r.Name) {
				continue
			}
			b.refsByID[r.ID] = append(b.refsByID[r.ID], r.Name)
		}
	}
	for id := range b.refsByID {
		sort.Strings(b.refsByID[id])
	}
	return nil
}

// loadWorkspaces resolves all workspace references of the metadata source other than
// the entry reference. Stale workspace references are skipped.
func (b *builder) loadWorkspaces(entryRef string) ([]namedTip, error) {
	if b.meta == nil {
		return nil, nil
	}
	refs, err := b.meta.WorkspaceRefs()
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}

	var out []namedTip
	for _, ref := range refs {
		ws, err := b.meta.Workspace(ref)
		if err != nil {
			return nil, fmt.Errorf("reading workspace %s: %w", ref, err)
		}
		if ws != nil && ws.PushRemote != "" && b.pushRemote == "" {
			b.pushRemote = ws.PushRemote
		}
		if ref == entryRef || b.opts.ignored(ref) {
			continue
		}
		id, ok, err := b.repo.ResolveRef(ref)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace %s: %w", ref, err)
		}
		if !ok {
			log.Warn().Msgf("Ignoring stale workspace ref '%s' which has workspace data but doesn't exist in Git", ref)
			continue
		}
		out = append(out, namedTip{refName: ref, id: id})
	}
	return out, nil
}

func (b *builder) queueTargets() error {
	var targets []string
	for _, s := range b.g.segments {
		if ws := s.WorkspaceMetadata(); ws != nil && ws.TargetRef != "" {
			targets = append(targets, ws.TargetRef)
		}
	}
	if b.opts.ExtraTarget != "" {
		targets = append(targets, b.opts.ExtraTarget)
	}

	for _, ref := range targets {
		isExtra := ref == b.opts.ExtraTarget
		if b.opts.ignored(ref) {
			continue
		}
		id, ok, err := b.repo.ResolveRef(ref)
		if err != nil {
			return fmt.Errorf("resolving target %s: %w", ref, err)
		}
		if !ok {
			log.Warn().Msgf("Integration target '%s' doesn't exist", ref)
			continue
		}
		b.targetTips = append(b.targetTips, id)

		sidx, exists := b.named[ref]
		if !exists {
			sidx, err = b.newSegment(ref, id)
			if err != nil {
				return err
			}
			lim := b.initialLimit()
			if b.repo.IsRemoteTracking(ref) {
				lim = limit{unlimited: true}
				b.remoteTips = append(b.remoteTips, id)
			}
			b.push(queueItem{id: id, kind: collectInto, segment: sidx, limit: lim})
		}
		if isExtra {
			b.g.extraTarget = sidx
		}
	}
	return nil
}

// newSegment inserts a segment owned by refName, which points at tip.
func (b *builder) newSegment(refName string, tip plumbing.Hash) (SegmentIndex, error) {
	sidx := b.g.insertSegment(&Segment{})
	if refName == "" {
		return sidx, nil
	}
	if err := b.adopt(sidx, refName, tip); err != nil {
		return NoSegment, err
	}
	return sidx, nil
}

// adopt makes refName the owner of an anonymous segment, attaching its metadata
// and scheduling the traversal of its remote-tracking counterpart.
func (b *builder) adopt(sidx SegmentIndex, refName string, tip plumbing.Hash) error {
	seg := b.g.segments[sidx]
	seg.RefName = refName
	b.named[refName] = sidx

	md, err := lookupMetadata(b.meta, refName)
	if err != nil {
		return err
	}
	seg.Metadata = md

	if !IsLocalBranch(refName) {
		return nil
	}
	upstream, ok, err := b.repo.Upstream(refName)
	if err != nil {
		return fmt.Errorf("finding upstream of %s: %w", refName, err)
	}
	if !ok && b.pushRemote != "" {
		upstream, ok = "refs/remotes/"+b.pushRemote+"/"+ShortName(refName), true
	}
	if !ok || b.opts.ignored(upstream) {
		return nil
	}
	remoteID, exists, err := b.repo.ResolveRef(upstream)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", upstream, err)
	}
	if !exists {
		return nil
	}
	seg.RemoteTrackingRef = upstream
	b.remotePairs = append(b.remotePairs, remotePair{local: tip, remote: remoteID})
	b.pendingRemotes = append(b.pendingRemotes, namedTip{refName: upstream, id: remoteID})
	return nil
}

// flushRemotes queues a lane for every remote-tracking reference discovered so far.
func (b *builder) flushRemotes() error {
	for len(b.pendingRemotes) > 0 {
		r := b.pendingRemotes[0]
		b.pendingRemotes = b.pendingRemotes[1:]
		if _, ok := b.named[r.refName]; ok {
			continue
		}
		sidx, err := b.newSegment(r.refName, r.id)
		if err != nil {
			return err
		}
		b.remoteTips = append(b.remoteTips, r.id)
		b.push(queueItem{id: r.id, kind: collectInto, segment: sidx, limit: limit{unlimited: true}})
	}
	return nil
}

func lookupMetadata(meta refmeta.Source, refName string) (*SegmentMetadata, error) {
	if meta == nil || refName == "" {
		return nil, nil
	}
	ws, err := meta.Workspace(refName)
	if err != nil {
		return nil, fmt.Errorf("reading workspace metadata of %s: %w", refName, err)
	}
	if ws != nil {
		return &SegmentMetadata{Workspace: ws}, nil
	}
	br, err := meta.Branch(refName)
	if err != nil {
		return nil, fmt.Errorf("reading branch metadata of %s: %w", refName, err)
	}
	if br != nil {
		return &SegmentMetadata{Branch: br}, nil
	}
	return nil, nil
}
