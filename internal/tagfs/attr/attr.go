// Package attr implements the POSIX-shaped inode attribute record shared by
// every node kind in the tag graph.
package attr

import (
	"golang.org/x/sys/unix"

	"github.com/last-genius/tagfs/internal/tagfs/hashutil"
)

// BlockSize is the fixed block size reported to the kernel for every node.
const BlockSize = 512

// Kind discriminates the POSIX file type of a node.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

// Attr is the metadata record carried by every FileNode and TagNode.
type Attr struct {
	Inode            uint64
	OpenFileHandles  uint32
	Size             uint64
	LastAccessed     hashutil.TimePair
	LastModified     hashutil.TimePair
	LastMetaChanged  hashutil.TimePair
	Kind             Kind
	Mode             uint32 // low 12 bits: permissions + setuid/setgid/sticky
	Hardlinks        uint32
	UID              uint32
	GID              uint32
}

// Blocks returns the number of BlockSize blocks needed to hold Size bytes.
func (a Attr) Blocks() uint64 {
	return (a.Size + BlockSize - 1) / BlockSize
}

// NewFile builds a freshly allocated regular-file attribute record owned by
// the calling process, with a single hardlink (its first name).
func NewFile(inode uint64, mode uint32) Attr {
	return newAttr(inode, KindFile, mode, 1)
}

// NewDir builds a freshly allocated tag (directory) attribute record. Tags
// always report a hardlink count of 1; they are never hard-linked.
func NewDir(inode uint64, mode uint32) Attr {
	return newAttr(inode, KindDirectory, mode, 1)
}

func newAttr(inode uint64, kind Kind, mode uint32, hardlinks uint32) Attr {
	now := hashutil.Now()
	return Attr{
		Inode:           inode,
		Size:            0,
		LastAccessed:    now,
		LastModified:    now,
		LastMetaChanged: now,
		Kind:            kind,
		Mode:            mode & 0o7777,
		Hardlinks:       hardlinks,
		UID:             uint32(unix.Getuid()),
		GID:             uint32(unix.Getgid()),
	}
}

// Touch refreshes mtime and ctime to now.
func (a *Attr) Touch() {
	now := hashutil.Now()
	a.LastModified = now
	a.LastMetaChanged = now
}

// TouchAccess refreshes atime to now.
func (a *Attr) TouchAccess() {
	a.LastAccessed = hashutil.Now()
}
