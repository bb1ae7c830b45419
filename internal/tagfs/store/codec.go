package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/last-genius/tagfs/internal/tagfs/attr"
	"github.com/last-genius/tagfs/internal/tagfs/graph"
	"github.com/last-genius/tagfs/internal/tagfs/hashutil"
)

// The on-disk format is a small, self-describing, length-prefixed binary
// layout: fixed-width little-endian integers, opaque byte buffers prefixed
// by a uint32 length. It is stable within a single build of this program but
// carries no version tag and is not meant to be portable across builds.

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeInt64(w *bytes.Buffer, v int64) {
	writeUint64(w, uint64(v))
}

func writeBytes(w *bytes.Buffer, b []byte) {
	writeUint32(w, uint32(len(b)))
	w.Write(b)
}

func writeString(w *bytes.Buffer, s string) {
	writeBytes(w, []byte(s))
}

func writeUUID(w *bytes.Buffer, id uuid.UUID) {
	w.Write(id[:])
}

func writeUUIDSlice(w *bytes.Buffer, ids []uuid.UUID) {
	writeUint32(w, uint32(len(ids)))
	for _, id := range ids {
		writeUUID(w, id)
	}
}

func writeTimePair(w *bytes.Buffer, tp hashutil.TimePair) {
	writeInt64(w, tp.Secs)
	writeUint32(w, tp.Nsecs)
}

func writeAttr(w *bytes.Buffer, a attr.Attr) {
	writeUint64(w, a.Inode)
	writeUint32(w, a.OpenFileHandles)
	writeUint64(w, a.Size)
	writeTimePair(w, a.LastAccessed)
	writeTimePair(w, a.LastModified)
	writeTimePair(w, a.LastMetaChanged)
	writeUint32(w, uint32(a.Kind))
	writeUint32(w, a.Mode)
	writeUint32(w, a.Hardlinks)
	writeUint32(w, a.UID)
	writeUint32(w, a.GID)
}

type reader struct {
	r   io.Reader
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *reader) str() string {
	return string(r.bytes())
}

func (r *reader) uuid() uuid.UUID {
	var id uuid.UUID
	if r.err != nil {
		return id
	}
	if _, err := io.ReadFull(r.r, id[:]); err != nil {
		r.err = err
	}
	return id
}

func (r *reader) uuidSlice() []uuid.UUID {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = r.uuid()
	}
	return out
}

func (r *reader) timePair() hashutil.TimePair {
	secs := r.i64()
	nsecs := r.u32()
	return hashutil.TimePair{Secs: secs, Nsecs: nsecs}
}

func (r *reader) attr() attr.Attr {
	a := attr.Attr{}
	a.Inode = r.u64()
	a.OpenFileHandles = r.u32()
	a.Size = r.u64()
	a.LastAccessed = r.timePair()
	a.LastModified = r.timePair()
	a.LastMetaChanged = r.timePair()
	a.Kind = attr.Kind(r.u32())
	a.Mode = r.u32()
	a.Hardlinks = r.u32()
	a.UID = r.u32()
	a.GID = r.u32()
	return a
}

// encodeFileNode serializes a FileNode.
func encodeFileNode(f graph.FileNode) []byte {
	var buf bytes.Buffer
	writeString(&buf, string(f.Hash))
	writeAttr(&buf, f.Attr)
	writeUUIDSlice(&buf, f.BackLinks)
	return buf.Bytes()
}

func decodeFileNode(b []byte) (graph.FileNode, error) {
	r := &reader{r: bytes.NewReader(b)}
	f := graph.FileNode{}
	f.Hash = hashutil.Hash256(r.str())
	f.Attr = r.attr()
	f.BackLinks = r.uuidSlice()
	if r.err != nil {
		return f, fmt.Errorf("decode file node: %w", r.err)
	}
	return f, nil
}

// encodeTagNode serializes a TagNode.
func encodeTagNode(tg graph.TagNode) []byte {
	var buf bytes.Buffer
	writeUUID(&buf, tg.ID)
	writeAttr(&buf, tg.Attr)
	writeUUIDSlice(&buf, tg.BackLinks)
	writeUUIDSlice(&buf, tg.DirLinks)
	return buf.Bytes()
}

func decodeTagNode(b []byte) (graph.TagNode, error) {
	r := &reader{r: bytes.NewReader(b)}
	tg := graph.TagNode{}
	tg.ID = r.uuid()
	tg.Attr = r.attr()
	tg.BackLinks = r.uuidSlice()
	tg.DirLinks = r.uuidSlice()
	if r.err != nil {
		return tg, fmt.Errorf("decode tag node: %w", r.err)
	}
	return tg, nil
}

// encodeNameNode serializes a NameNode.
func encodeNameNode(n graph.NameNode) []byte {
	var buf bytes.Buffer
	writeUUID(&buf, n.ID)
	writeString(&buf, n.Name)
	writeUint32(&buf, uint32(n.Link.Kind))
	if n.Link.Kind == graph.NodeFile {
		writeString(&buf, string(n.Link.Hash))
	} else {
		writeUUID(&buf, n.Link.ID)
	}
	return buf.Bytes()
}

func decodeNameNode(b []byte) (graph.NameNode, error) {
	r := &reader{r: bytes.NewReader(b)}
	n := graph.NameNode{}
	n.ID = r.uuid()
	n.Name = r.str()
	kind := graph.NodeKind(r.u32())
	if kind == graph.NodeFile {
		n.Link = graph.FileRef(hashutil.Hash256(r.str()))
	} else {
		n.Link = graph.TagRef(r.uuid())
	}
	if r.err != nil {
		return n, fmt.Errorf("decode name node: %w", r.err)
	}
	return n, nil
}

// encodeUUIDSet serializes a bare set of NameNode ids, used for the
// namenodes/ by-name index.
func encodeUUIDSet(ids []uuid.UUID) []byte {
	var buf bytes.Buffer
	writeUUIDSlice(&buf, ids)
	return buf.Bytes()
}

func decodeUUIDSet(b []byte) ([]uuid.UUID, error) {
	r := &reader{r: bytes.NewReader(b)}
	ids := r.uuidSlice()
	if r.err != nil {
		return nil, fmt.Errorf("decode uuid set: %w", r.err)
	}
	return ids, nil
}
