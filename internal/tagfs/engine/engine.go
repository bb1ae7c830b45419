// Package engine implements the tag-graph state machine: the single
// mutating entry point for every kernel verb (lookup, create, unlink,
// rmdir, setattr, read, write) layered on top of the node model (package
// graph) and the persistent store (package store).
//
// Every method here runs to completion on the single callback goroutine the
// filesystem adapter drives; none of it needs locking (see SPEC_FULL.md's
// concurrency model).
package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/last-genius/tagfs/internal/tagfs/attr"
	"github.com/last-genius/tagfs/internal/tagfs/graph"
	"github.com/last-genius/tagfs/internal/tagfs/hashutil"
	"github.com/last-genius/tagfs/internal/tagfs/store"
)

// RootInode is the fixed inode number of the root tag, present from first
// mount onward.
const RootInode = uint64(1)

// File-type bits recognised in a mode argument, matching the POSIX S_IFMT
// family. Only regular file and directory are supported; everything else is
// ErrNotSup.
const (
	modeTypeMask = 0o170000
	modeRegular  = 0o100000
	modeDir      = 0o040000
)

// Engine owns the mutable process-wide state of a mounted tag graph: the
// monotonic inode and file-handle counters and the content hasher. It reads
// and writes every node through the Store; it holds no long-lived node
// references itself.
type Engine struct {
	store  *store.Store
	hasher *hashutil.Hasher

	nextInode  uint64
	nextHandle uint64
}

// New constructs an Engine over an already-opened Store, resuming the inode
// counter from whatever inodes/ already contains (so a re-mount of an
// existing base directory never reissues a live inode number).
func New(s *store.Store) (*Engine, error) {
	existing, err := s.ListInodes()
	if err != nil {
		return nil, fmt.Errorf("engine: listing existing inodes: %w", err)
	}
	next := RootInode + 1
	for _, ino := range existing {
		if ino >= next {
			next = ino + 1
		}
	}
	return &Engine{
		store:      s,
		hasher:     hashutil.NewHasher(),
		nextInode:  next,
		nextHandle: 1,
	}, nil
}

// AllocateInode returns the next unused inode number. Inode numbers are
// never reused within a process's lifetime, even after the node they named
// is deleted.
func (e *Engine) AllocateInode() uint64 {
	ino := e.nextInode
	e.nextInode++
	return ino
}

// AllocateHandle returns the next unused file/dir handle id.
func (e *Engine) AllocateHandle() uint64 {
	h := e.nextHandle
	e.nextHandle++
	return h
}

// Init ensures the root tag exists at RootInode, and on a genuinely fresh
// store seeds one demonstration file named "file1" under it. Safe to call
// on every mount: idempotent against a store that already has a root.
func (e *Engine) Init() error {
	if _, err := e.store.ReadTagNode(rootTagID); err == nil {
		return nil
	} else if err != store.ErrNotFound {
		return fmt.Errorf("engine: init: reading root: %w", err)
	}

	root := graph.TagNode{
		ID:   rootTagID,
		Attr: attr.NewDir(RootInode, 0o755),
	}
	root.Attr.Inode = RootInode
	selfName := graph.NameNode{ID: uuid.New(), Name: ".", Link: graph.TagRef(rootTagID)}
	parentName := graph.NameNode{ID: uuid.New(), Name: "..", Link: graph.TagRef(rootTagID)}
	root.AddEntry(selfName.ID)
	root.AddEntry(parentName.ID)

	if err := e.store.WriteNameNode(selfName); err != nil {
		return err
	}
	if err := e.store.WriteNameNode(parentName); err != nil {
		return err
	}
	if err := e.store.AddNameIndex(".", selfName.ID); err != nil {
		return err
	}
	if err := e.store.AddNameIndex("..", parentName.ID); err != nil {
		return err
	}
	if err := e.store.WriteTagNode(root); err != nil {
		return err
	}
	if err := e.store.LinkInode(RootInode, graph.TagRef(rootTagID)); err != nil {
		return err
	}

	return e.seedDemoFile(&root)
}

// rootTagID is the fixed surrogate id of the root tag. It is not
// content-derived (tags never are); pinning it to the nil UUID keeps the
// root discoverable across a re-exec of the same binary without persisting
// a separate "which id is the root" record.
var rootTagID = uuid.Nil

func (e *Engine) seedDemoFile(root *graph.TagNode) error {
	content := []byte("tagfs\n")
	hash := hashutil.Sum(content)
	ino := e.AllocateInode()

	fileAttr := attr.NewFile(ino, 0o100644)
	fileAttr.Size = uint64(len(content))
	fn := graph.FileNode{Hash: hash, Attr: fileAttr}

	nameNode := graph.NameNode{ID: uuid.New(), Name: "file1", Link: graph.FileRef(hash)}
	fn.AddBackLink(nameNode.ID)
	root.AddEntry(nameNode.ID)

	if err := e.store.WriteBlob(hash, content); err != nil {
		return err
	}
	if err := e.store.WriteFileNode(fn); err != nil {
		return err
	}
	if err := e.store.WriteNameNode(nameNode); err != nil {
		return err
	}
	if err := e.store.AddNameIndex("file1", nameNode.ID); err != nil {
		return err
	}
	if err := e.store.LinkInode(ino, graph.FileRef(hash)); err != nil {
		return err
	}
	return e.store.WriteTagNode(*root)
}

// GetInode loads the node currently occupying inode number ino.
func (e *Engine) GetInode(ino uint64) (graph.INode, error) {
	ref, err := e.store.ReadInode(ino)
	if err != nil {
		return graph.INode{}, translateStoreErr(err)
	}
	return e.Resolve(ref)
}

// GetNameNode loads the NameNode identified by id.
func (e *Engine) GetNameNode(id uuid.UUID) (graph.NameNode, error) {
	n, err := e.store.ReadNameNode(id)
	if err != nil {
		return graph.NameNode{}, translateStoreErr(err)
	}
	return n, nil
}

// Resolve loads the full record a lightweight Node reference points at.
func (e *Engine) Resolve(ref graph.Node) (graph.INode, error) {
	if ref.Kind == graph.NodeFile {
		f, err := e.store.ReadFileNode(ref.Hash)
		if err != nil {
			return graph.INode{}, translateStoreErr(err)
		}
		return graph.FileINode(f), nil
	}
	tg, err := e.store.ReadTagNode(ref.ID)
	if err != nil {
		return graph.INode{}, translateStoreErr(err)
	}
	return graph.TagINode(tg), nil
}

// SearchInTag looks up name among tag's outgoing entries and returns the
// resolved target and the NameNode id that carries it. Create does not
// reject a name that already exists in the tag, so two entries can share a
// name; such ties are broken by lowest NameNode id, per DirLinks' sorted
// order.
func (e *Engine) SearchInTag(tag graph.TagNode, name string) (graph.INode, uuid.UUID, error) {
	for _, id := range tag.DirLinks {
		nn, err := e.store.ReadNameNode(id)
		if err != nil {
			return graph.INode{}, uuid.Nil, translateStoreErr(err)
		}
		if nn.Name != name {
			continue
		}
		target, err := e.Resolve(nn.Link)
		if err != nil {
			return graph.INode{}, uuid.Nil, err
		}
		return target, nn.ID, nil
	}
	return graph.INode{}, uuid.Nil, ErrNotFound
}

// Write upserts the canonical record behind n and refreshes the inode-number
// symlink to match.
func (e *Engine) Write(n graph.INode) error {
	var err error
	if n.Kind == graph.NodeFile {
		err = e.store.WriteFileNode(n.File)
	} else {
		err = e.store.WriteTagNode(n.Tag)
	}
	if err != nil {
		return err
	}
	return e.store.LinkInode(n.Attrs().Inode, n.Ref())
}

// InsertNameNode upserts n and indexes it by its literal name.
func (e *Engine) InsertNameNode(n graph.NameNode) error {
	if err := e.store.WriteNameNode(n); err != nil {
		return err
	}
	return e.store.AddNameIndex(n.Name, n.ID)
}

// Create is the central mutation behind mknod/create/mkdir: it validates the
// parent, sanitises mode, derives the node kind, allocates a fresh inode and
// identity, links the new entry into the parent, and persists everything.
func (e *Engine) Create(parentIno uint64, name string, mode uint32, uid, gid uint32) (graph.INode, uint64, error) {
	parentRef, err := e.store.ReadInode(parentIno)
	if err != nil {
		return graph.INode{}, 0, translateStoreErr(err)
	}
	if parentRef.Kind != graph.NodeTag {
		return graph.INode{}, 0, ErrNotDir
	}
	parent, err := e.store.ReadTagNode(parentRef.ID)
	if err != nil {
		return graph.INode{}, 0, translateStoreErr(err)
	}

	if uid != 0 {
		mode &^= 0o6000 // clear setuid/setgid for non-root creators
	}

	ino := e.AllocateInode()
	var node graph.INode

	switch mode & modeTypeMask {
	case modeRegular:
		fa := attr.NewFile(ino, mode&0o7777)
		fa.UID, fa.GID = uid, gid
		// Placeholder identity: no content exists yet, so there is nothing
		// real to hash. Fold the fresh inode number into the hasher so two
		// files created back to back never alias the same filenodes/ key
		// before their first write gives them a real content hash.
		var inoBuf [8]byte
		for i := range inoBuf {
			inoBuf[i] = byte(ino >> (8 * i))
		}
		_, _ = e.hasher.Write(inoBuf[:])
		hash := e.hasher.Finalize()
		fn := graph.FileNode{Hash: hash, Attr: fa}
		node = graph.FileINode(fn)
		if err := e.store.WriteBlob(hash, nil); err != nil {
			return graph.INode{}, 0, err
		}

	case modeDir:
		da := attr.NewDir(ino, mode&0o7777)
		da.UID, da.GID = uid, gid
		id := uuid.New()
		tn := graph.TagNode{ID: id, Attr: da}

		self := graph.NameNode{ID: uuid.New(), Name: ".", Link: graph.TagRef(id)}
		up := graph.NameNode{ID: uuid.New(), Name: "..", Link: parentRef}
		tn.AddEntry(self.ID)
		tn.AddEntry(up.ID)
		if err := e.InsertNameNode(self); err != nil {
			return graph.INode{}, 0, err
		}
		if err := e.InsertNameNode(up); err != nil {
			return graph.INode{}, 0, err
		}
		node = graph.TagINode(tn)

	default:
		return graph.INode{}, 0, ErrNotSup
	}

	nameNode := graph.NameNode{ID: uuid.New(), Name: name, Link: node.Ref()}
	if node.Kind == graph.NodeFile {
		node.File.AddBackLink(nameNode.ID)
	} else {
		node.Tag.AddBackLink(nameNode.ID)
	}

	parent.Touch()
	parent.AddEntry(nameNode.ID)

	if err := e.InsertNameNode(nameNode); err != nil {
		return graph.INode{}, 0, err
	}
	if err := e.Write(node); err != nil {
		return graph.INode{}, 0, err
	}
	if err := e.store.WriteTagNode(parent); err != nil {
		return graph.INode{}, 0, err
	}

	handle := e.AllocateHandle()
	return node, handle, nil
}

// Unlink removes the entry named name from parentIno. It refuses to remove
// a tag entry (ErrIsDir; Rmdir is the dedicated operation for that) and
// garbage-collects the target FileNode once its last back-reference is
// gone, since a FileNode's identity is exactly its content hash: removing
// the last name removing the record is exact, not approximate, GC.
func (e *Engine) Unlink(parentIno uint64, name string) error {
	parentRef, err := e.store.ReadInode(parentIno)
	if err != nil {
		return translateStoreErr(err)
	}
	if parentRef.Kind != graph.NodeTag {
		return ErrNotDir
	}
	parent, err := e.store.ReadTagNode(parentRef.ID)
	if err != nil {
		return translateStoreErr(err)
	}

	target, nameID, err := e.SearchInTag(parent, name)
	if err != nil {
		return err
	}
	if target.Kind != graph.NodeFile {
		return ErrIsDir
	}

	parent.RemoveEntry(nameID)
	parent.Touch()
	if err := e.store.WriteTagNode(parent); err != nil {
		return err
	}

	fn := target.File
	fn.RemoveBackLink(nameID)
	if len(fn.BackLinks) == 0 {
		fn.Attr.Hardlinks = 0
		if err := e.store.DeleteFileNode(fn.Hash); err != nil {
			return err
		}
		if err := e.store.DeleteBlob(fn.Hash); err != nil {
			return err
		}
		if err := e.store.UnlinkInode(fn.Attr.Inode); err != nil {
			return err
		}
	} else {
		fn.Attr.Hardlinks = uint32(len(fn.BackLinks))
		if err := e.store.WriteFileNode(fn); err != nil {
			return err
		}
	}

	if err := e.store.RemoveNameIndex(name, nameID); err != nil {
		return err
	}
	return e.store.DeleteNameNode(nameID)
}

// Rmdir removes the tag entry named name from parentIno, refusing unless
// the target tag's outgoing set holds only "." and "..".
func (e *Engine) Rmdir(parentIno uint64, name string) error {
	parentRef, err := e.store.ReadInode(parentIno)
	if err != nil {
		return translateStoreErr(err)
	}
	if parentRef.Kind != graph.NodeTag {
		return ErrNotDir
	}
	parent, err := e.store.ReadTagNode(parentRef.ID)
	if err != nil {
		return translateStoreErr(err)
	}

	target, nameID, err := e.SearchInTag(parent, name)
	if err != nil {
		return err
	}
	if target.Kind != graph.NodeTag {
		return ErrNotDir
	}
	if len(target.Tag.DirLinks) > 2 {
		return ErrNotEmpty
	}

	parent.RemoveEntry(nameID)
	parent.Touch()
	if err := e.store.WriteTagNode(parent); err != nil {
		return err
	}

	for _, id := range target.Tag.DirLinks {
		if err := e.store.DeleteNameNode(id); err != nil {
			return err
		}
	}
	if err := e.store.DeleteTagNode(target.Tag.ID); err != nil {
		return err
	}
	if err := e.store.UnlinkInode(target.Tag.Attr.Inode); err != nil {
		return err
	}
	if err := e.store.RemoveNameIndex(name, nameID); err != nil {
		return err
	}
	return e.store.DeleteNameNode(nameID)
}

// SetAttr applies a size truncation and/or a mode change to ino, persisting
// the result. Only regular files accept a size change; only tags and
// regular files accept a mode change (the low 12 bits).
func (e *Engine) SetAttr(ino uint64, size *uint64, mode *uint32) (graph.INode, error) {
	node, err := e.GetInode(ino)
	if err != nil {
		return graph.INode{}, err
	}

	if size != nil {
		if node.Kind != graph.NodeFile {
			return graph.INode{}, ErrNotSup
		}
		if err := e.truncate(ino, &node.File, *size); err != nil {
			return graph.INode{}, err
		}
	}

	if mode != nil {
		a := node.Attrs()
		a.Mode = *mode & 0o7777
		a.Touch()
		if node.Kind == graph.NodeFile {
			node.File.Attr = a
		} else {
			node.Tag.Attr = a
		}
	}

	if err := e.Write(node); err != nil {
		return graph.INode{}, err
	}
	return node, nil
}

// truncate resizes f's backing blob, re-hashing its content and relocating
// the FileNode record (and inode symlink) to the new identity, since a
// FileNode's hash is its content and a content change is an identity
// change.
func (e *Engine) truncate(ino uint64, f *graph.FileNode, newSize uint64) error {
	data, err := e.store.ReadBlob(f.Hash)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	data = resizeBlob(data, newSize)
	return e.relocate(ino, f, data)
}

// WriteData writes data into ino's backing blob at offset, extending it if
// necessary, and returns the number of bytes written. Only valid on a
// regular file.
func (e *Engine) WriteData(ino uint64, offset int64, data []byte) (int, error) {
	node, err := e.GetInode(ino)
	if err != nil {
		return 0, err
	}
	if node.Kind != graph.NodeFile {
		return 0, ErrIsDir
	}

	existing, err := e.store.ReadBlob(node.File.Hash)
	if err != nil && err != store.ErrNotFound {
		return 0, err
	}
	needed := int(offset) + len(data)
	if needed > len(existing) {
		existing = resizeBlob(existing, uint64(needed))
	}
	copy(existing[offset:], data)

	if err := e.relocate(ino, &node.File, existing); err != nil {
		return 0, err
	}
	return len(data), nil
}

// ReadData returns up to size bytes of ino's backing blob starting at
// offset, saturating at the end of the content rather than erroring.
func (e *Engine) ReadData(ino uint64, offset int64, size int) ([]byte, error) {
	node, err := e.GetInode(ino)
	if err != nil {
		return nil, err
	}
	if node.Kind != graph.NodeFile {
		return nil, ErrIsDir
	}

	data, err := e.store.ReadBlob(node.File.Hash)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

// relocate writes data under f's re-derived hash and repoints f's own inode
// symlink to it. If another, already-persisted FileNode happens to own that
// same hash (two independently created files converging on identical
// bytes), f's back-link is merged into that existing record rather than
// overwriting it, so the earlier owner's own name stays resolvable
// (invariant: every FileNode is uniquely keyed by its content hash). f's own
// inode still gets its own symlink into the (now shared) record, and every
// NameNode in f's back-link set is repointed at the new hash.
func (e *Engine) relocate(callerIno uint64, f *graph.FileNode, data []byte) error {
	oldHash := f.Hash
	newHash := hashutil.Sum(data)

	if err := e.store.WriteBlob(newHash, data); err != nil {
		return err
	}

	merged := *f
	merged.Hash = newHash
	merged.Attr.Size = uint64(len(data))
	merged.Attr.Touch()

	if newHash != oldHash {
		if existing, err := e.store.ReadFileNode(newHash); err == nil {
			merged = existing
			merged.Attr.Size = uint64(len(data))
			merged.Attr.Touch()
			for _, id := range f.BackLinks {
				merged.AddBackLink(id)
			}
			merged.Attr.Hardlinks = uint32(len(merged.BackLinks))
		} else if err != store.ErrNotFound {
			return err
		}

		if err := e.store.DeleteBlob(oldHash); err != nil {
			return err
		}
		if err := e.store.DeleteFileNode(oldHash); err != nil {
			return err
		}

		for _, id := range f.BackLinks {
			nn, err := e.store.ReadNameNode(id)
			if err != nil {
				return translateStoreErr(err)
			}
			nn.Link = graph.FileRef(newHash)
			if err := e.store.WriteNameNode(nn); err != nil {
				return err
			}
		}
	}

	if err := e.store.WriteFileNode(merged); err != nil {
		return err
	}
	*f = merged
	return e.store.LinkInode(callerIno, graph.FileRef(newHash))
}

func resizeBlob(data []byte, size uint64) []byte {
	if uint64(len(data)) == size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// SortedTagEntries returns tag's outgoing NameNodes ordered by NameNode id
// (their natural DirLinks order), used by readdir to offer a stable,
// resumable listing.
func (e *Engine) SortedTagEntries(tag graph.TagNode) ([]graph.NameNode, error) {
	out := make([]graph.NameNode, 0, len(tag.DirLinks))
	for _, id := range tag.DirLinks {
		nn, err := e.store.ReadNameNode(id)
		if err != nil {
			return nil, translateStoreErr(err)
		}
		out = append(out, nn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func translateStoreErr(err error) error {
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	return err
}
