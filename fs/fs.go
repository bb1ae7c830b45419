// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/last-genius/tagfs/internal/logger"
	"github.com/last-genius/tagfs/internal/tagfs/engine"
	"github.com/last-genius/tagfs/internal/tagfs/graph"
	"github.com/last-genius/tagfs/internal/tagfs/store"
)

// ServerConfig bundles what's needed to mount a tag graph.
type ServerConfig struct {
	// BaseDir is where the persistent store lives on disk.
	BaseDir string

	// Uid and Gid own every inode the file system reports. There is a single
	// mounting user; tagfs does not model per-request credentials.
	Uid uint32
	Gid uint32
}

// NewServer opens the store at cfg.BaseDir, seeds it if necessary, and
// returns a fuse.Server ready to be handed to fuse.Mount.
func NewServer(cfg *ServerConfig) (server fuse.Server, err error) {
	s, err := store.Open(cfg.BaseDir)
	if err != nil {
		err = fmt.Errorf("opening store: %v", err)
		return
	}

	e, err := engine.New(s)
	if err != nil {
		err = fmt.Errorf("constructing engine: %v", err)
		return
	}

	if err = e.Init(); err != nil {
		err = fmt.Errorf("initializing graph: %v", err)
		return
	}

	tfs := &TagFS{
		engine:     e,
		uid:        cfg.Uid,
		gid:        cfg.Gid,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}

	server = fuseutil.NewFileSystemServer(tfs)
	return
}

////////////////////////////////////////////////////////////////////////
// TagFS type
////////////////////////////////////////////////////////////////////////

// TagFS implements fuseutil.FileSystem over a tag-graph Engine.
//
// Unlike the bucket-backed file system this package started from, TagFS
// holds no mutable state of its own beyond open directory handles: every
// node is loaded from the store fresh on each callback, and the kernel's
// serialized delivery of callbacks (see SPEC_FULL.md's concurrency model)
// means no method here needs a lock.
type TagFS struct {
	fuseutil.NotImplementedFileSystem

	engine *engine.Engine

	uid uint32
	gid uint32

	// dirHandles holds the entry snapshot taken at OpenDir time for each live
	// directory handle, keyed by the handle id the kernel was given.
	dirHandles map[fuseops.HandleID]*dirHandle
}

// dirHandle is the listing snapshot behind one open directory descriptor.
// Snapshotting at OpenDir avoids the complications of directory mutation
// mid-readdir; a fresh opendir sees current state, while a rewinddir on the
// same handle replays the same snapshot.
type dirHandle struct {
	entries []graph.NameNode
}

func (fs *TagFS) attrsFor(n graph.INode) fuseops.InodeAttributes {
	a := n.Attrs()
	mode := os.FileMode(a.Mode & 0o7777)
	if n.Kind == graph.NodeTag {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Hardlinks,
		Mode:  mode,
		Atime: a.LastAccessed.ToTime(),
		Mtime: a.LastModified.ToTime(),
		Ctime: a.LastMetaChanged.ToTime(),
		Uid:   a.UID,
		Gid:   a.GID,
	}
}

// translateErr maps the engine's sentinel errors to the errno values the
// kernel expects; anything else is passed through so fuse logs it as an
// internal error.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, engine.ErrNotSup):
		return fuse.ENOSYS
	case errors.Is(err, engine.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, engine.ErrNotDir):
		return fuse.ENOTDIR
	case errors.Is(err, engine.ErrNotEmpty):
		return fuse.ENOTEMPTY
	default:
		return err
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *TagFS) Init(op *fuseops.InitOp) (err error) {
	logger.Infof("tagfs: mounted")
	return
}

// LOCKS_EXCLUDED(none): TagFS is single-threaded; see the TagFS doc comment.
func (fs *TagFS) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	parent, err := fs.engine.GetInode(uint64(op.Parent))
	if err != nil {
		err = translateErr(err)
		return
	}
	if parent.Kind != graph.NodeTag {
		err = fuse.ENOTDIR
		return
	}

	target, _, err := fs.engine.SearchInTag(parent.Tag, op.Name)
	if err != nil {
		err = translateErr(err)
		return
	}

	op.Entry.Child = fuseops.InodeID(target.Attrs().Inode)
	op.Entry.Attributes = fs.attrsFor(target)
	return
}

func (fs *TagFS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	n, err := fs.engine.GetInode(uint64(op.Inode))
	if err != nil {
		err = translateErr(err)
		return
	}
	op.Attributes = fs.attrsFor(n)
	return
}

func (fs *TagFS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	var mode *uint32
	if op.Mode != nil {
		m := uint32(op.Mode.Perm())
		mode = &m
	}

	n, err := fs.engine.SetAttr(uint64(op.Inode), op.Size, mode)
	if err != nil {
		err = translateErr(err)
		return
	}
	op.Attributes = fs.attrsFor(n)
	return
}

func (fs *TagFS) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	// Nothing to release: every node lives in the store, not in a live,
	// refcounted map, so there is no lookup count to give back.
	return
}

func (fs *TagFS) MkDir(op *fuseops.MkDirOp) (err error) {
	node, _, err := fs.engine.Create(uint64(op.Parent), op.Name, 0o040000|uint32(op.Mode.Perm()), fs.uid, fs.gid)
	if err != nil {
		err = translateErr(err)
		return
	}
	op.Entry.Child = fuseops.InodeID(node.Attrs().Inode)
	op.Entry.Attributes = fs.attrsFor(node)
	return
}

func (fs *TagFS) MkNode(op *fuseops.MkNodeOp) (err error) {
	var kind uint32
	switch {
	case op.Mode&os.ModeType == 0:
		kind = 0o100000
	case op.Mode.IsDir():
		kind = 0o040000
	default:
		err = translateErr(engine.ErrNotSup)
		return
	}
	node, _, err := fs.engine.Create(uint64(op.Parent), op.Name, kind|uint32(op.Mode.Perm()), fs.uid, fs.gid)
	if err != nil {
		err = translateErr(err)
		return
	}
	op.Entry.Child = fuseops.InodeID(node.Attrs().Inode)
	op.Entry.Attributes = fs.attrsFor(node)
	return
}

func (fs *TagFS) CreateFile(op *fuseops.CreateFileOp) (err error) {
	node, handle, err := fs.engine.Create(uint64(op.Parent), op.Name, 0o100000|uint32(op.Mode.Perm()), fs.uid, fs.gid)
	if err != nil {
		err = translateErr(err)
		return
	}
	op.Entry.Child = fuseops.InodeID(node.Attrs().Inode)
	op.Entry.Attributes = fs.attrsFor(node)
	op.Handle = fuseops.HandleID(handle)
	return
}

func (fs *TagFS) RmDir(op *fuseops.RmDirOp) (err error) {
	if err = fs.engine.Rmdir(uint64(op.Parent), op.Name); err != nil {
		err = translateErr(err)
	}
	return
}

func (fs *TagFS) Unlink(op *fuseops.UnlinkOp) (err error) {
	if err = fs.engine.Unlink(uint64(op.Parent), op.Name); err != nil {
		err = translateErr(err)
	}
	return
}

func (fs *TagFS) OpenDir(op *fuseops.OpenDirOp) (err error) {
	n, err := fs.engine.GetInode(uint64(op.Inode))
	if err != nil {
		err = translateErr(err)
		return
	}
	if n.Kind != graph.NodeTag {
		err = fuse.ENOTDIR
		return
	}

	entries, err := fs.engine.SortedTagEntries(n.Tag)
	if err != nil {
		err = translateErr(err)
		return
	}

	handle := fuseops.HandleID(fs.engine.AllocateHandle())
	fs.dirHandles[handle] = &dirHandle{entries: entries}
	op.Handle = handle
	return
}

func (fs *TagFS) ReadDir(op *fuseops.ReadDirOp) (err error) {
	dh, ok := fs.dirHandles[op.Handle]
	if !ok {
		err = fuse.EIO
		return
	}

	offset := int(op.Offset)
	for offset < len(dh.entries) {
		nn := dh.entries[offset]
		target, resolveErr := fs.engine.Resolve(nn.Link)
		if resolveErr != nil {
			err = translateErr(resolveErr)
			return
		}

		dirent := fuseops.Dirent{
			Offset: fuseops.DirOffset(offset + 1),
			Inode:  fuseops.InodeID(target.Attrs().Inode),
			Name:   nn.Name,
			Type:   direntType(target),
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
		offset++
	}
	return
}

func direntType(n graph.INode) fuseops.DirentType {
	if n.Kind == graph.NodeTag {
		return fuseops.DT_Dir
	}
	return fuseops.DT_File
}

func (fs *TagFS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	delete(fs.dirHandles, op.Handle)
	return
}

func (fs *TagFS) OpenFile(op *fuseops.OpenFileOp) (err error) {
	n, err := fs.engine.GetInode(uint64(op.Inode))
	if err != nil {
		err = translateErr(err)
		return
	}
	if n.Kind != graph.NodeFile {
		err = syscall.EISDIR
		return
	}
	op.Handle = fuseops.HandleID(fs.engine.AllocateHandle())
	return
}

func (fs *TagFS) ReadFile(op *fuseops.ReadFileOp) (err error) {
	data, err := fs.engine.ReadData(uint64(op.Inode), op.Offset, len(op.Dst))
	if err != nil {
		err = translateErr(err)
		return
	}
	op.BytesRead = copy(op.Dst, data)
	return
}

func (fs *TagFS) WriteFile(op *fuseops.WriteFileOp) (err error) {
	_, err = fs.engine.WriteData(uint64(op.Inode), op.Offset, op.Data)
	if err != nil {
		err = translateErr(err)
	}
	return
}

func (fs *TagFS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	return
}

// SyncFile replies not-supported, like the other stubbed callbacks.
func (fs *TagFS) SyncFile(op *fuseops.SyncFileOp) (err error) {
	return fuse.ENOSYS
}

// FlushFile replies not-supported, like the other stubbed callbacks.
func (fs *TagFS) FlushFile(op *fuseops.FlushFileOp) (err error) {
	return fuse.ENOSYS
}

func (fs *TagFS) StatFS(op *fuseops.StatFSOp) (err error) {
	op.BlockSize = 512
	op.Blocks = 0
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 4096
	op.Inodes = 0
	op.InodesFree = 0
	return
}
