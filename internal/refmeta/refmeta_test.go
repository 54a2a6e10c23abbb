package refmeta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsRef = "refs/heads/gitbutler/workspace"

func stores(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"file": func() Store {
			s, err := OpenFile(filepath.Join(dir, "meta", "store.yaml"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := OpenSQLite(filepath.Join(dir, "meta.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func sampleWorkspace() *Workspace {
	ws := &Workspace{TargetRef: "refs/remotes/origin/main", PushRemote: "origin"}
	ws.AddStack("refs/heads/a", "refs/heads/b")
	ws.AddStack("refs/heads/c")
	ws.Stacks[1].Stash = StashDesynced
	ws.Stacks[0].Branches[1].Archived = true
	return ws
}

func TestStores(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			got, err := s.Workspace(wsRef)
			require.NoError(t, err)
			assert.Nil(t, got, "absent workspace")
			b, err := s.Branch("refs/heads/a")
			require.NoError(t, err)
			assert.Nil(t, b, "absent branch")

			want := sampleWorkspace()
			require.NoError(t, s.SetWorkspace(wsRef, want))
			got, err = s.Workspace(wsRef)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("workspace (-want +got):\n%s", diff)
			}

			// Replacing drops stacks that are gone.
			replaced := &Workspace{}
			replaced.AddStack("refs/heads/z")
			require.NoError(t, s.SetWorkspace(wsRef, replaced))
			got, err = s.Workspace(wsRef)
			require.NoError(t, err)
			require.Len(t, got.Stacks, 1)
			assert.Equal(t, []string{"refs/heads/z"}, got.Stacks[0].RefNames())

			require.NoError(t, s.SetWorkspace("refs/heads/other-ws", &Workspace{}))
			refs, err := s.WorkspaceRefs()
			require.NoError(t, err)
			assert.Equal(t, []string{wsRef, "refs/heads/other-ws"}, refs)

			created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			branch := &Branch{Description: "login", ReviewURL: "https://example.com/pr/7", ReviewNumber: 7, CreatedAt: created, UpdatedAt: created}
			require.NoError(t, s.SetBranch("refs/heads/a", branch))
			gotBranch, err := s.Branch("refs/heads/a")
			require.NoError(t, err)
			require.NotNil(t, gotBranch)
			assert.Equal(t, "login", gotBranch.Description)
			assert.Equal(t, 7, gotBranch.ReviewNumber)
			assert.True(t, created.Equal(gotBranch.CreatedAt), "created at %s", gotBranch.CreatedAt)

			require.NoError(t, s.Remove(wsRef))
			got, err = s.Workspace(wsRef)
			require.NoError(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, s.Remove(wsRef), ErrNotFound)
			require.NoError(t, s.Remove("refs/heads/a"))
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ws := sampleWorkspace()
	require.NoError(t, s.SetWorkspace(wsRef, ws))
	ws.Stacks[0].Branches[0].RefName = "refs/heads/changed"

	got, err := s.Workspace(wsRef)
	require.NoError(t, err)
	got.Stacks[0].ID = "mutated"

	again, err := s.Workspace(wsRef)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/a", again.Stacks[0].Branches[0].RefName)
	assert.NotEqual(t, "mutated", again.Stacks[0].ID)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.yaml")
	s, err := OpenFile(path)
	require.NoError(t, err)
	want := sampleWorkspace()
	require.NoError(t, s.SetWorkspace(wsRef, want))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, err := reopened.Workspace(wsRef)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("workspace after reopening (-want +got):\n%s", diff)
	}
}

func TestFileStoreRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspaces: [not, a, map"), 0644))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestWorkspaceHelpers(t *testing.T) {
	ws := sampleWorkspace()

	si, bi, ok := ws.FindBranch("refs/heads/b")
	assert.True(t, ok)
	assert.Equal(t, 0, si)
	assert.Equal(t, 1, bi)
	assert.True(t, ws.ContainsBranch("refs/heads/c"))
	assert.False(t, ws.ContainsBranch("refs/heads/missing"))
	assert.NotEqual(t, ws.Stacks[0].ID, ws.Stacks[1].ID)

	clone := ws.Clone()
	clone.Stacks[0].Branches[0].RefName = "refs/heads/x"
	assert.Equal(t, "refs/heads/a", ws.Stacks[0].Branches[0].RefName)
	assert.Nil(t, (*Workspace)(nil).Clone())
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(BackendFile, filepath.Join(t.TempDir(), "m.yaml"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open("redis", "")
	assert.Error(t, err)
}
