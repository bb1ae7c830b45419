// Package graph defines the tag-graph node model: content-addressed
// FileNodes, surrogate-identified TagNodes, the NameNode edges that connect
// them, and the small sum types used to refer to or load a node generically.
package graph

import (
	"sort"

	"github.com/google/uuid"

	"github.com/last-genius/tagfs/internal/tagfs/attr"
	"github.com/last-genius/tagfs/internal/tagfs/hashutil"
)

// NodeKind discriminates the two variants of Node/INode.
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeTag
)

// Node is a reference to a target entity: either a file by content hash or a
// tag by surrogate id. It never carries loaded data; callers resolve it
// through the store when they need the full record.
type Node struct {
	Kind NodeKind
	Hash hashutil.Hash256 // valid iff Kind == NodeFile
	ID   uuid.UUID        // valid iff Kind == NodeTag
}

// FileRef builds a Node referring to a file by content hash.
func FileRef(h hashutil.Hash256) Node { return Node{Kind: NodeFile, Hash: h} }

// TagRef builds a Node referring to a tag by id.
func TagRef(id uuid.UUID) Node { return Node{Kind: NodeTag, ID: id} }

// Less implements the File < Tag, then by-key ordering used for deterministic
// iteration (mirrors the original prototype's BTreeSet-of-Node ordering).
func (n Node) Less(other Node) bool {
	if n.Kind != other.Kind {
		return n.Kind < other.Kind
	}
	if n.Kind == NodeFile {
		return n.Hash < other.Hash
	}
	return n.ID.String() < other.ID.String()
}

// FileNode is the canonical record for a piece of content. Its identity is
// its hash: two FileNodes with the same hash are the same file.
type FileNode struct {
	Hash      hashutil.Hash256
	Attr      attr.Attr
	BackLinks []uuid.UUID // NameNode ids that link to this file
}

// AddBackLink records that NameNode id now references this file, keeping the
// slice sorted for deterministic serialization.
func (f *FileNode) AddBackLink(id uuid.UUID) {
	f.BackLinks = insertSortedUUID(f.BackLinks, id)
}

// RemoveBackLink removes id from the back-link set, if present.
func (f *FileNode) RemoveBackLink(id uuid.UUID) {
	f.BackLinks = removeUUID(f.BackLinks, id)
}

// TagNode is a "directory" in the tag graph: a surrogate-identified
// container with outgoing named edges (its entries) and incoming edges (the
// names under which it itself is reachable).
type TagNode struct {
	ID        uuid.UUID
	Attr      attr.Attr
	BackLinks []uuid.UUID // NameNode ids that link to this tag
	DirLinks  []uuid.UUID // NameNode ids this tag contains, sorted
}

// AddBackLink records an incoming reference to this tag.
func (t *TagNode) AddBackLink(id uuid.UUID) {
	t.BackLinks = insertSortedUUID(t.BackLinks, id)
}

// RemoveBackLink removes an incoming reference, if present.
func (t *TagNode) RemoveBackLink(id uuid.UUID) {
	t.BackLinks = removeUUID(t.BackLinks, id)
}

// AddEntry adds a NameNode id to this tag's outgoing set.
func (t *TagNode) AddEntry(id uuid.UUID) {
	t.DirLinks = insertSortedUUID(t.DirLinks, id)
}

// RemoveEntry removes a NameNode id from this tag's outgoing set.
func (t *TagNode) RemoveEntry(id uuid.UUID) {
	t.DirLinks = removeUUID(t.DirLinks, id)
}

// NameNode is a directed labelled edge: a name inside a containing tag,
// pointing at a file or another tag.
type NameNode struct {
	ID   uuid.UUID
	Name string
	Link Node
}

// INode is a loaded node: the full record behind a Node reference.
type INode struct {
	Kind NodeKind
	File FileNode // valid iff Kind == NodeFile
	Tag  TagNode  // valid iff Kind == NodeTag
}

// Ref converts a loaded INode back to its lightweight Node reference. The
// conversion is total and lossless.
func (n INode) Ref() Node {
	if n.Kind == NodeFile {
		return FileRef(n.File.Hash)
	}
	return TagRef(n.Tag.ID)
}

// Attrs returns the attribute record shared by both node kinds.
func (n INode) Attrs() attr.Attr {
	if n.Kind == NodeFile {
		return n.File.Attr
	}
	return n.Tag.Attr
}

// FileINode wraps a FileNode as an INode.
func FileINode(f FileNode) INode { return INode{Kind: NodeFile, File: f} }

// TagINode wraps a TagNode as an INode.
func TagINode(tg TagNode) INode { return INode{Kind: NodeTag, Tag: tg} }

func insertSortedUUID(s []uuid.UUID, id uuid.UUID) []uuid.UUID {
	i := sort.Search(len(s), func(i int) bool { return s[i].String() >= id.String() })
	if i < len(s) && s[i] == id {
		return s
	}
	s = append(s, uuid.UUID{})
	copy(s[i+1:], s[i:])
	s[i] = id
	return s
}

func removeUUID(s []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, v := range s {
		if v == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
