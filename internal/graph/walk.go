package graph

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// limit is the soft budget of a lane: the number of commits it may still go past.
type limit struct {
	n         int
	unlimited bool
}

func (l limit) exhausted() bool { return !l.unlimited && l.n == 0 }

// better reports whether l allows going deeper than other.
func (l limit) better(other limit) bool {
	if other.unlimited {
		return false
	}
	return l.unlimited || l.n > other.n
}

// perParent splits what remains after the current commit among its parents.
// Each lane keeps at least one commit as long as anything remains.
func (l limit) perParent(numParents int) limit {
	if l.unlimited {
		return l
	}
	n := l.n - 1
	if n > 0 && numParents > 1 {
		n = max(n/numParents, 1)
	}
	return limit{n: max(n, 0)}
}

// effectiveLimit applies limit extensions configured for id.
func (b *builder) effectiveLimit(id plumbing.Hash, l limit) limit {
	if b.extend[id] && b.opts.LimitHint != nil && !l.unlimited {
		return limit{n: max(*b.opts.LimitHint, l.n)}
	}
	return l
}

func (b *builder) hardLimitReached() bool {
	return b.opts.HardLimit != nil && b.collected >= *b.opts.HardLimit
}

func (b *builder) walk() error {
	for b.head < len(b.queue) {
		item := b.queue[b.head]
		b.head++

		if _, ok := b.seen[item.id]; ok {
			switch item.kind {
			case collectInto:
				src := b.g.segments[item.segment]
				if src.IsEmpty() && !src.IsAnonymous() {
					b.claim(item.segment, item.id)
				} else {
					b.connectTo(item.segment, src.LastCommitIndex(), item.id)
				}
			case connectNew:
				b.connectTo(item.segment, item.commit, item.id)
			}
			b.improve(item.id, item.limit)
			if err := b.flushRemotes(); err != nil {
				return err
			}
			continue
		}

		if b.hardLimitReached() {
			b.g.hardLimitHit = true
			break
		}

		info, err := b.repo.Commit(item.id)
		if err != nil {
			return fmt.Errorf("reading commit %s: %w", item.id, err)
		}

		var target SegmentIndex
		var link *position
		switch item.kind {
		case collectInto:
			target = item.segment
		case connectNew:
			target = b.g.insertSegment(&Segment{})
			link = &position{segment: item.segment, commit: item.commit}
		}

		owner, above, others, err := b.placeCommit(target, item.id)
		if err != nil {
			return err
		}
		if above != nil {
			link = above
		}

		seg := b.g.segments[owner]
		seg.Commits = append(seg.Commits, b.newCommit(info, seg.RefName))
		cidx := seg.LastCommitIndex()
		b.seen[item.id] = owner
		b.collected++

		if link != nil {
			b.g.connect(link.segment, link.commit, owner, cidx)
		}
		for _, ref := range others {
			sidx, err := b.newSegment(ref, item.id)
			if err != nil {
				return err
			}
			b.g.connect(sidx, NoCommit, owner, cidx)
		}

		lim := b.effectiveLimit(item.id, item.limit)
		b.budget[item.id] = lim
		if len(info.ParentIDs) > 0 {
			if lim.exhausted() {
				b.cutoff[item.id] = true
			} else {
				b.queueParents(owner, cidx, info.ParentIDs, lim.perParent(len(info.ParentIDs)))
			}
		}
		if err := b.flushRemotes(); err != nil {
			return err
		}
	}
	return nil
}

type position struct {
	segment SegmentIndex
	commit  CommitIndex
}

// placeCommit decides which segment receives the commit id that a lane wants to
// append to sidx. A local branch pointing at id that does not own a segment yet
// starts a new named segment; if more than one does, the first one owns the commit
// and the others become empty segments pointing at it.
// above is the position the owner must be connected from, if it is a new segment.
func (b *builder) placeCommit(sidx SegmentIndex, id plumbing.Hash) (owner SegmentIndex, above *position, others []string, err error) {
	seg := b.g.segments[sidx]
	var candidates []string
	for _, ref := range b.refsByID[id] {
		if !IsLocalBranch(ref) || ref == seg.RefName {
			continue
		}
		if _, ok := b.named[ref]; !ok {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return sidx, nil, nil, nil
	}

	switch {
	case seg.IsEmpty() && seg.IsAnonymous():
		if err := b.adopt(sidx, candidates[0], id); err != nil {
			return NoSegment, nil, nil, err
		}
		return sidx, nil, candidates[1:], nil
	case seg.IsEmpty() && IsLocalBranch(seg.RefName):
		// The lane starts at the tip of its own branch, which keeps the commit.
		return sidx, nil, candidates, nil
	default:
		below, err := b.newSegment(candidates[0], id)
		if err != nil {
			return NoSegment, nil, nil, err
		}
		return below, &position{segment: sidx, commit: seg.LastCommitIndex()}, candidates[1:], nil
	}
}

func (b *builder) newCommit(info *CommitInfo, owner string) Commit {
	c := Commit{
		ID:        info.ID,
		ParentIDs: info.ParentIDs,
		TreeID:    info.TreeID,
		Message:   info.Message,
		Author:    info.Author,
		Committer: info.Committer,
	}
	for _, ref := range b.refsByID[info.ID] {
		if ref != owner {
			c.Refs = append(c.Refs, ref)
		}
	}
	return c
}

// queueParents schedules the parents of the commit at (sidx, cidx). A single parent
// continues the segment, the parents of a merge each start their own.
func (b *builder) queueParents(sidx SegmentIndex, cidx CommitIndex, parents []plumbing.Hash, lim limit) {
	if len(parents) == 1 {
		b.push(queueItem{id: parents[0], kind: collectInto, segment: sidx, limit: lim})
		return
	}
	for _, p := range parents {
		b.push(queueItem{id: p, kind: connectNew, segment: sidx, commit: cidx, limit: lim})
	}
}

// connectTo connects a position to the already collected commit id, splitting its
// owner so the edge lands on the first commit of a segment.
func (b *builder) connectTo(src SegmentIndex, srcCommit CommitIndex, id plumbing.Hash) {
	dst := b.seen[id]
	cidx, _ := b.g.segments[dst].CommitIndexOf(id)
	if cidx > 0 {
		dst = b.split(dst, cidx)
	}
	b.g.connect(src, srcCommit, dst, 0)
}

// claim handles a named lane whose tip was already collected by another lane.
// The named segment takes over the commits from its tip onwards, or points at the
// owner if the tip already starts a segment.
func (b *builder) claim(sidx SegmentIndex, id plumbing.Hash) {
	owner := b.seen[id]
	cidx, _ := b.g.segments[owner].CommitIndexOf(id)
	if cidx == 0 {
		b.g.connect(sidx, NoCommit, owner, 0)
		return
	}
	b.splitInto(owner, cidx, sidx)
	seg := b.g.segments[sidx]
	seg.Commits[0].Refs = swapRef(seg.Commits[0].Refs, seg.RefName, "")
}

// split divides sidx at cidx and re-targets everything that referred to the moved commits.
func (b *builder) split(sidx SegmentIndex, cidx CommitIndex) SegmentIndex {
	below := b.g.insertSegment(&Segment{})
	b.splitInto(sidx, cidx, below)
	return below
}

// splitInto moves the commits of sidx from cidx onwards into the empty segment below.
func (b *builder) splitInto(sidx SegmentIndex, cidx CommitIndex, below SegmentIndex) {
	b.g.moveTail(sidx, cidx, below)
	for _, c := range b.g.segments[below].Commits {
		b.seen[c.ID] = below
	}
	for i := b.head; i < len(b.queue); i++ {
		item := &b.queue[i]
		if item.segment != sidx {
			continue
		}
		switch item.kind {
		case collectInto:
			item.segment = below
		case connectNew:
			if item.commit >= cidx {
				item.segment = below
				item.commit -= cidx
			}
		}
	}
}

// improve raises the budget of the collected commit id to lim, resuming traversal
// below commits that were cut off and passing the gain on to queued and collected parents.
func (b *builder) improve(id plumbing.Hash, lim limit) {
	type pending struct {
		id  plumbing.Hash
		lim limit
	}
	stack := []pending{{id, lim}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		sidx, collected := b.seen[cur.id]
		if !collected {
			for i := b.head; i < len(b.queue); i++ {
				if b.queue[i].id == cur.id && cur.lim.better(b.queue[i].limit) {
					b.queue[i].limit = cur.lim
				}
			}
			continue
		}

		l := b.effectiveLimit(cur.id, cur.lim)
		if !l.better(b.budget[cur.id]) {
			continue
		}
		b.budget[cur.id] = l
		if l.exhausted() {
			continue
		}

		cidx, _ := b.g.segments[sidx].CommitIndexOf(cur.id)
		c := &b.g.segments[sidx].Commits[cidx]
		if len(c.ParentIDs) == 0 {
			continue
		}
		next := l.perParent(len(c.ParentIDs))
		if b.cutoff[cur.id] {
			delete(b.cutoff, cur.id)
			b.queueParents(sidx, cidx, c.ParentIDs, next)
			continue
		}
		for _, p := range c.ParentIDs {
			stack = append(stack, pending{p, next})
		}
	}
}
