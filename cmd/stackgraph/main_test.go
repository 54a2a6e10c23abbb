package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"stackgraph/internal/config"
)

// TestRootCommand tests that the root command is properly configured
func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "stackgraph" {
		t.Errorf("expected Use 'stackgraph', got %q", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Short description should not be empty")
	}
	for _, name := range []string{"graph", "workspace", "stats", "validate", "snapshot", "meta"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q is not registered", name)
		}
	}
	if !snapshotCmd.HasSubCommands() || !metaCmd.HasSubCommands() {
		t.Error("snapshot and meta should have subcommands")
	}
}

func TestBranchRef(t *testing.T) {
	tests := []struct{ in, want string }{
		{"main", "refs/heads/main"},
		{"feature/x", "refs/heads/feature/x"},
		{"refs/heads/main", "refs/heads/main"},
	}
	for _, tt := range tests {
		if got := branchRef(tt.in); got != tt.want {
			t.Errorf("branchRef(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// initRepo creates an on-disk repository with a two-commit master and a feature branch.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var last plumbing.Hash
	for _, msg := range []string{"first", "second"} {
		last, err = wt.Commit(msg, &git.CommitOptions{Author: sig, AllowEmptyCommits: true})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName("feature"), last)
	if err := repo.Storer.SetReference(ref); err != nil {
		t.Fatalf("branch: %v", err)
	}
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("stackgraph %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}

func TestCommandsOnRepository(t *testing.T) {
	dir := initRepo(t)

	out := execute(t, "--repo", dir, "validate")
	if !strings.HasPrefix(out, "ok: ") {
		t.Errorf("validate printed %q", out)
	}

	var stats map[string]any
	if err := json.Unmarshal([]byte(execute(t, "--repo", dir, "stats")), &stats); err != nil {
		t.Fatalf("stats is not JSON: %v", err)
	}
	if stats["commits"] != float64(2) {
		t.Errorf("expected 2 commits, got %v", stats["commits"])
	}

	out = execute(t, "--repo", dir, "graph")
	if !strings.HasPrefix(out, "digraph {") {
		t.Errorf("graph did not print dot: %q", out)
	}

	out = execute(t, "--repo", dir, "workspace")
	if !strings.Contains(out, "kind: ad-hoc") || !strings.Contains(out, "ref: refs/heads/master") {
		t.Errorf("unexpected workspace output:\n%s", out)
	}
}

func TestMetaCommands(t *testing.T) {
	dir := initRepo(t)

	out := execute(t, "--repo", dir, "meta", "add-stack", "feature", "--target", "refs/remotes/origin/main")
	if !strings.HasPrefix(out, "Added stack ") {
		t.Errorf("add-stack printed %q", out)
	}

	out = execute(t, "--repo", dir, "meta", "show")
	if !strings.Contains(out, "ref: refs/heads/feature") || !strings.Contains(out, "target_ref: refs/remotes/origin/main") {
		t.Errorf("unexpected stored workspace:\n%s", out)
	}
}

func TestSnapshotCommands(t *testing.T) {
	dir := initRepo(t)
	first := filepath.Join(t.TempDir(), "first.snap")
	second := filepath.Join(t.TempDir(), "second.snap")

	d1 := strings.TrimSpace(execute(t, "--repo", dir, "snapshot", "write", first))
	d2 := strings.TrimSpace(execute(t, "--repo", dir, "snapshot", "write", second))
	if len(d1) != 64 || d1 != d2 {
		t.Errorf("digests %q and %q should be equal blake3 hashes", d1, d2)
	}

	out := execute(t, "--repo", dir, "snapshot", "diff", first, second)
	if strings.TrimSpace(out) != "no changes" {
		t.Errorf("diff of equal snapshots printed %q", out)
	}
}

func TestZeroHardLimitIsRejected(t *testing.T) {
	dir := initRepo(t)
	t.Cleanup(func() {
		f := statsCmd.Flags().Lookup("hard-limit")
		f.Value.Set(strconv.Itoa(config.Unlimited))
		f.Changed = false
	})

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--repo", dir, "stats", "--hard-limit", "0"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatalf("expected an error, got output %q", out.String())
	}
	if !strings.Contains(err.Error(), "traversal.hard_limit") {
		t.Errorf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("stats printed %q", out.String())
	}
}
