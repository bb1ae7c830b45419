package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/last-genius/tagfs/internal/tagfs/engine"
	"github.com/last-genius/tagfs/internal/tagfs/store"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
)

func newTestFS(t *testing.T) *TagFS {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	e, err := engine.New(s)
	require.NoError(t, err)
	require.NoError(t, e.Init())
	return &TagFS{engine: e, uid: 1000, gid: 1000, dirHandles: make(map[fuseops.HandleID]*dirHandle)}
}

// TestLookUpInodeFindsSeededFile covers scenario S2: a fresh mount's root
// resolves the demonstration file seeded at Init.
func TestLookUpInodeFindsSeededFile(t *testing.T) {
	tfs := newTestFS(t)

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "file1"}
	require.NoError(t, tfs.LookUpInode(op))
	require.NotZero(t, op.Entry.Child)
}

func TestLookUpInodeMissingReturnsENOENT(t *testing.T) {
	tfs := newTestFS(t)

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := tfs.LookUpInode(op)
	require.Equal(t, fuse.ENOENT, err)
}

// TestCreateWriteReadRoundTrips covers a create, write, then read back of
// the exact bytes through the adapter layer (not the engine directly).
func TestCreateWriteReadRoundTrips(t *testing.T) {
	tfs := newTestFS(t)

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "greeting", Mode: 0o644}
	require.NoError(t, tfs.CreateFile(createOp))
	require.NotZero(t, createOp.Handle)

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Handle: createOp.Handle, Offset: 0, Data: []byte("hello tagfs")}
	require.NoError(t, tfs.WriteFile(writeOp))

	readOp := &fuseops.ReadFileOp{Inode: createOp.Entry.Child, Handle: createOp.Handle, Offset: 0, Dst: make([]byte, 64)}
	require.NoError(t, tfs.ReadFile(readOp))
	require.Equal(t, "hello tagfs", string(readOp.Dst[:readOp.BytesRead]))
}

// TestMkDirThenReadDirListsDotEntries covers scenario S6: a freshly created
// tag reports "." and ".." among its entries.
func TestMkDirThenReadDirListsDotEntries(t *testing.T) {
	tfs := newTestFS(t)

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "photos", Mode: 0o755}
	require.NoError(t, tfs.MkDir(mkdirOp))

	openOp := &fuseops.OpenDirOp{Inode: mkdirOp.Entry.Child}
	require.NoError(t, tfs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{Inode: mkdirOp.Entry.Child, Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 4096)}
	require.NoError(t, tfs.ReadDir(readOp))
	require.NotZero(t, readOp.BytesRead)
}

// TestUnlinkRemovesLookup covers scenario S7: unlinking the last name to a
// file makes it unreachable.
func TestUnlinkRemovesLookup(t *testing.T) {
	tfs := newTestFS(t)

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "throwaway", Mode: 0o644}
	require.NoError(t, tfs.CreateFile(createOp))

	require.NoError(t, tfs.Unlink(&fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "throwaway"}))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "throwaway"}
	require.Equal(t, fuse.ENOENT, tfs.LookUpInode(lookupOp))
}

// TestRmdirTwiceIsNotFound covers scenario S8: removing an already-removed
// tag returns ENOENT, not some stale success.
func TestRmdirTwiceIsNotFound(t *testing.T) {
	tfs := newTestFS(t)

	require.NoError(t, tfs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "empty", Mode: 0o755}))
	require.NoError(t, tfs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "empty"}))

	err := tfs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "empty"})
	require.Equal(t, fuse.ENOENT, err)
}

func TestSetInodeAttributesTruncates(t *testing.T) {
	tfs := newTestFS(t)

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "sized", Mode: 0o644}
	require.NoError(t, tfs.CreateFile(createOp))
	require.NoError(t, tfs.WriteFile(&fuseops.WriteFileOp{Inode: createOp.Entry.Child, Data: []byte("0123456789")}))

	size := uint64(4)
	attrOp := &fuseops.SetInodeAttributesOp{Inode: createOp.Entry.Child, Size: &size}
	require.NoError(t, tfs.SetInodeAttributes(attrOp))
	require.EqualValues(t, 4, attrOp.Attributes.Size)
}
