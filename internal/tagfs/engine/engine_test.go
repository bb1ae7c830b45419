package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/last-genius/tagfs/internal/tagfs/graph"
	"github.com/last-genius/tagfs/internal/tagfs/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	e, err := New(s)
	require.NoError(t, err)
	require.NoError(t, e.Init())
	return e
}

func TestInitSeedsRootAndDemoFile(t *testing.T) {
	e := newTestEngine(t)

	root, err := e.GetInode(RootInode)
	require.NoError(t, err)
	require.Equal(t, graph.NodeTag, root.Kind)
	require.EqualValues(t, 0o755, root.Tag.Attr.Mode&0o777)

	target, _, err := e.SearchInTag(root.Tag, "file1")
	require.NoError(t, err)
	require.Equal(t, graph.NodeFile, target.Kind)
}

func TestInitIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Init())

	root, err := e.GetInode(RootInode)
	require.NoError(t, err)
	// Re-init must not duplicate the seeded entry.
	count := 0
	for _, id := range root.Tag.DirLinks {
		nn, err := e.GetNameNode(id)
		require.NoError(t, err)
		if nn.Name == "file1" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestLookupMiss(t *testing.T) {
	e := newTestEngine(t)
	root, err := e.GetInode(RootInode)
	require.NoError(t, err)

	_, _, err = e.SearchInTag(root.Tag, "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateThenLookup(t *testing.T) {
	e := newTestEngine(t)

	node, handle, err := e.Create(RootInode, "x", 0o100644, 0, 0)
	require.NoError(t, err)
	require.Equal(t, graph.NodeFile, node.Kind)
	require.NotZero(t, handle)

	root, err := e.GetInode(RootInode)
	require.NoError(t, err)
	found, _, err := e.SearchInTag(root.Tag, "x")
	require.NoError(t, err)
	require.Equal(t, node.File.Hash, found.File.Hash)
}

func TestMkdirThenReaddirHasDotEntries(t *testing.T) {
	e := newTestEngine(t)

	node, _, err := e.Create(RootInode, "d", 0o040755, 0, 0)
	require.NoError(t, err)
	require.Equal(t, graph.NodeTag, node.Kind)

	entries, err := e.SortedTagEntries(node.Tag)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, nn := range entries {
		names[nn.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	e := newTestEngine(t)

	node, _, err := e.Create(RootInode, "y", 0o100644, 0, 0)
	require.NoError(t, err)

	n, err := e.WriteData(node.File.Attr.Inode, 0, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	data, err := e.ReadData(node.File.Attr.Inode, 0, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestReadPastEndOfFileIsEmpty(t *testing.T) {
	e := newTestEngine(t)
	node, _, err := e.Create(RootInode, "y", 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = e.WriteData(node.File.Attr.Inode, 0, []byte("hi"))
	require.NoError(t, err)

	data, err := e.ReadData(node.File.Attr.Inode, 2, 10)
	require.NoError(t, err)
	require.Empty(t, data)

	data, err = e.ReadData(node.File.Attr.Inode, 100, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestUnlinkRemovesFileNodeWhenLastReference(t *testing.T) {
	e := newTestEngine(t)
	node, _, err := e.Create(RootInode, "y", 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = e.WriteData(node.File.Attr.Inode, 0, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, e.Unlink(RootInode, "y"))

	_, err = e.GetInode(node.File.Attr.Inode)
	require.ErrorIs(t, err, ErrNotFound)

	root, err := e.GetInode(RootInode)
	require.NoError(t, err)
	_, _, err = e.SearchInTag(root.Tag, "y")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkRefusesTag(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Create(RootInode, "d", 0o040755, 0, 0)
	require.NoError(t, err)

	err = e.Unlink(RootInode, "d")
	require.ErrorIs(t, err, ErrIsDir)
}

func TestRmdirRefusesNonEmpty(t *testing.T) {
	e := newTestEngine(t)
	node, _, err := e.Create(RootInode, "d", 0o040755, 0, 0)
	require.NoError(t, err)
	_, _, err = e.Create(node.Tag.Attr.Inode, "inner", 0o100644, 0, 0)
	require.NoError(t, err)

	err = e.Rmdir(RootInode, "d")
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestRmdirThenRmdirAgainIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Create(RootInode, "e", 0o040755, 0, 0)
	require.NoError(t, err)

	require.NoError(t, e.Rmdir(RootInode, "e"))
	err = e.Rmdir(RootInode, "e")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetAttrTruncateShrinksAndPads(t *testing.T) {
	e := newTestEngine(t)
	node, _, err := e.Create(RootInode, "y", 0o100644, 0, 0)
	require.NoError(t, err)
	_, err = e.WriteData(node.File.Attr.Inode, 0, []byte("hello world"))
	require.NoError(t, err)

	size := uint64(5)
	updated, err := e.SetAttr(node.File.Attr.Inode, &size, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, updated.File.Attr.Size)

	data, err := e.ReadData(node.File.Attr.Inode, 0, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	bigger := uint64(10)
	updated, err = e.SetAttr(node.File.Attr.Inode, &bigger, nil)
	require.NoError(t, err)
	data, err = e.ReadData(node.File.Attr.Inode, 0, 100)
	require.NoError(t, err)
	require.Len(t, data, 10)
	require.Equal(t, []byte("hello"), data[:5])
}

func TestTwoFilesWithSameContentShareHash(t *testing.T) {
	e := newTestEngine(t)
	a, _, err := e.Create(RootInode, "a", 0o100644, 0, 0)
	require.NoError(t, err)
	b, _, err := e.Create(RootInode, "b", 0o100644, 0, 0)
	require.NoError(t, err)

	_, err = e.WriteData(a.File.Attr.Inode, 0, []byte("same"))
	require.NoError(t, err)
	_, err = e.WriteData(b.File.Attr.Inode, 0, []byte("same"))
	require.NoError(t, err)

	fa, err := e.GetInode(a.File.Attr.Inode)
	require.NoError(t, err)
	fb, err := e.GetInode(b.File.Attr.Inode)
	require.NoError(t, err)
	require.Equal(t, fa.File.Hash, fb.File.Hash)
}
