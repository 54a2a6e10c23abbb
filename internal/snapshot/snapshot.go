// Package snapshot provides a serializable, content-addressed document of a built
// graph, so that two builds can be stored and compared.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"stackgraph/internal/graph"
)

// Version is the document format written by Encode.
const Version = 1

// ErrUnsupportedVersion is returned by Decode for documents of another format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Document is a stable view of a graph.
type Document struct {
	Version      int        `json:"version"`
	Entrypoint   Entrypoint `json:"entrypoint"`
	Options      Options    `json:"options"`
	Segments     []Segment  `json:"segments"`
	Edges        []Edge     `json:"edges"`
	HardLimitHit bool       `json:"hard_limit_hit,omitempty"`
	LowerBound   string     `json:"lower_bound,omitempty"`
}

type Entrypoint struct {
	Segment int `json:"segment"`
	Commit  int `json:"commit"`
}

// Options are the build options that influence the shape of the graph.
type Options struct {
	LimitHint        *int     `json:"limit_hint,omitempty"`
	HardLimit        *int     `json:"hard_limit,omitempty"`
	LimitExtensionAt []string `json:"limit_extension_at,omitempty"`
	ExtraTarget      string   `json:"extra_target,omitempty"`
	CollectTags      bool     `json:"collect_tags,omitempty"`
}

type Segment struct {
	Index             int      `json:"index"`
	RefName           string   `json:"ref_name,omitempty"`
	RemoteTrackingRef string   `json:"remote_tracking_ref,omitempty"`
	Commits           []Commit `json:"commits,omitempty"`
	Workspace         bool     `json:"workspace,omitempty"`
	Branch            bool     `json:"branch,omitempty"`
}

type Commit struct {
	ID      string   `json:"id"`
	Parents []string `json:"parents,omitempty"`
	Title   string   `json:"title"`
	Refs    []string `json:"refs,omitempty"`
	Flags   string   `json:"flags"`
}

type Edge struct {
	Src       int    `json:"src"`
	SrcCommit int    `json:"src_commit"`
	SrcID     string `json:"src_id,omitempty"`
	Dst       int    `json:"dst"`
	DstCommit int    `json:"dst_commit"`
	DstID     string `json:"dst_id,omitempty"`
}

// FromGraph captures g.
func FromGraph(g *graph.Graph) *Document {
	ep := g.EntryPoint()
	doc := &Document{
		Version:      Version,
		Entrypoint:   Entrypoint{Segment: int(ep.SegmentIndex), Commit: int(ep.CommitIndex)},
		Options:      optionsOf(g.Options()),
		HardLimitHit: g.HardLimitHit(),
	}
	if lb, ok := g.LowerBound(); ok {
		doc.LowerBound = lb.ID.String()
	}
	for _, s := range g.Segments() {
		seg := Segment{
			Index:             int(s.Index),
			RefName:           s.RefName,
			RemoteTrackingRef: s.RemoteTrackingRef,
			Workspace:         s.WorkspaceMetadata() != nil,
			Branch:            s.BranchMetadata() != nil,
		}
		for i := range s.Commits {
			c := &s.Commits[i]
			commit := Commit{ID: c.ID.String(), Title: c.Title(), Refs: c.Refs, Flags: c.Flags.String()}
			for _, p := range c.ParentIDs {
				commit.Parents = append(commit.Parents, p.String())
			}
			seg.Commits = append(seg.Commits, commit)
		}
		doc.Segments = append(doc.Segments, seg)
	}
	for _, e := range g.Edges() {
		edge := Edge{Src: int(e.Src), SrcCommit: int(e.SrcCommit), Dst: int(e.Dst), DstCommit: int(e.DstCommit)}
		if !e.SrcID.IsZero() {
			edge.SrcID = e.SrcID.String()
		}
		if !e.DstID.IsZero() {
			edge.DstID = e.DstID.String()
		}
		doc.Edges = append(doc.Edges, edge)
	}
	return doc
}

func optionsOf(o graph.Options) Options {
	out := Options{
		LimitHint:   o.LimitHint,
		HardLimit:   o.HardLimit,
		ExtraTarget: o.ExtraTarget,
		CollectTags: o.CollectTags,
	}
	for _, id := range o.LimitExtensionAt {
		out.LimitExtensionAt = append(out.LimitExtensionAt, id.String())
	}
	return out
}

// Canonical returns the canonical JSON encoding of the document.
func (d *Document) Canonical() ([]byte, error) {
	return CanonicalJSON(d)
}

// Digest returns the blake3 hash of the canonical encoding as hex.
func (d *Document) Digest() (string, error) {
	data, err := d.Canonical()
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Encode writes the zstd-compressed canonical encoding to w.
func (d *Document) Encode(w io.Writer) error {
	data, err := d.Canonical()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// Decode reads a document written by Encode.
func Decode(r io.Reader) (*Document, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	var doc Document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	return &doc, nil
}
