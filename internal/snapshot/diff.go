package snapshot

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ChangeKind tells what happened to an element between two documents.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is a single difference between two documents.
type Change struct {
	Kind ChangeKind
	// Subject is "segment", "edge" or "entrypoint".
	Subject string
	Key     string
	Detail  string
}

func (c Change) String() string {
	s := fmt.Sprintf("%s %s %s", c.Kind, c.Subject, c.Key)
	if c.Detail != "" {
		s += ": " + c.Detail
	}
	return s
}

// Diff lists the differences from a to b. Segments are matched by reference name,
// anonymous ones by their tip commit, so indices may differ between a and b.
func Diff(a, b *Document) []Change {
	var changes []Change

	as, bs := segmentsByKey(a), segmentsByKey(b)
	for _, key := range sortedKeys(as, bs) {
		sa, inA := as[key]
		sb, inB := bs[key]
		switch {
		case !inA:
			changes = append(changes, Change{Kind: Added, Subject: "segment", Key: key, Detail: commitCount(sb)})
		case !inB:
			changes = append(changes, Change{Kind: Removed, Subject: "segment", Key: key, Detail: commitCount(sa)})
		default:
			if detail := segmentDetail(sa, sb); detail != "" {
				changes = append(changes, Change{Kind: Changed, Subject: "segment", Key: key, Detail: detail})
			}
		}
	}

	ea, eb := edgeSet(a), edgeSet(b)
	for _, key := range sortedKeys(ea, eb) {
		switch {
		case !ea[key]:
			changes = append(changes, Change{Kind: Added, Subject: "edge", Key: key})
		case !eb[key]:
			changes = append(changes, Change{Kind: Removed, Subject: "edge", Key: key})
		}
	}

	if from, to := entrypointKey(a), entrypointKey(b); from != to {
		changes = append(changes, Change{Kind: Changed, Subject: "entrypoint", Key: to, Detail: "was " + from})
	}
	return changes
}

func segmentKey(s *Segment) string {
	switch {
	case s.RefName != "":
		return s.RefName
	case len(s.Commits) > 0:
		return "anon:" + s.Commits[0].ID
	default:
		return fmt.Sprintf("anon#%d", s.Index)
	}
}

func segmentsByKey(d *Document) map[string]*Segment {
	out := make(map[string]*Segment, len(d.Segments))
	for i := range d.Segments {
		out[segmentKey(&d.Segments[i])] = &d.Segments[i]
	}
	return out
}

func commitCount(s *Segment) string {
	return fmt.Sprintf("%d commits", len(s.Commits))
}

func segmentDetail(a, b *Segment) string {
	var parts []string
	ids := func(s *Segment) []string {
		out := make([]string, len(s.Commits))
		for i, c := range s.Commits {
			out[i] = c.ID
		}
		return out
	}
	if !slices.Equal(ids(a), ids(b)) {
		parts = append(parts, fmt.Sprintf("commits %d -> %d", len(a.Commits), len(b.Commits)))
	} else {
		for i := range a.Commits {
			if a.Commits[i].Flags != b.Commits[i].Flags {
				parts = append(parts, fmt.Sprintf("flags of %s %s -> %s",
					short(a.Commits[i].ID), a.Commits[i].Flags, b.Commits[i].Flags))
			}
		}
	}
	if a.RemoteTrackingRef != b.RemoteTrackingRef {
		parts = append(parts, fmt.Sprintf("remote %q -> %q", a.RemoteTrackingRef, b.RemoteTrackingRef))
	}
	return strings.Join(parts, ", ")
}

func edgeSet(d *Document) map[string]bool {
	out := make(map[string]bool, len(d.Edges))
	for _, e := range d.Edges {
		src := endpoint(d, e.Src, e.SrcID)
		dst := endpoint(d, e.Dst, e.DstID)
		out[src+" -> "+dst] = true
	}
	return out
}

func endpoint(d *Document, sidx int, id string) string {
	key := fmt.Sprintf("#%d", sidx)
	if sidx >= 0 && sidx < len(d.Segments) {
		key = segmentKey(&d.Segments[sidx])
	}
	if id != "" {
		key += "@" + short(id)
	}
	return key
}

func entrypointKey(d *Document) string {
	key := endpoint(d, d.Entrypoint.Segment, "")
	if d.Entrypoint.Commit >= 0 {
		key += fmt.Sprintf("[%d]", d.Entrypoint.Commit)
	}
	return key
}

func short(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func sortedKeys[V any](a, b map[string]V) []string {
	var keys []string
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
