// Package store implements the on-disk content-addressed persistence layer:
// six flat subdirectories under a base path (five for node records and
// indexes, plus blobs/ for file content), inode-number symlink
// shortcuts, and no durability guarantee beyond "the last successful write
// wins at the file level" (no fsync, no journal, no crash-consistency
// tooling — this is a local scratch store, not a database).
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/last-genius/tagfs/internal/tagfs/graph"
	"github.com/last-genius/tagfs/internal/tagfs/hashutil"
)

// ErrNotFound is returned when a requested key has no record in the store.
var ErrNotFound = errors.New("tagfs: not found")

const (
	dirFileNodes = "filenodes"
	dirTagNodes  = "tagnodes"
	dirNames     = "namenodes"
	dirNamesByID = "namenodes_id"
	dirInodes    = "inodes"
	dirBlobs     = "blobs"
)

// Store owns every node record for one mounted tag graph. It is not safe
// for concurrent use from more than one goroutine; the filesystem adapter
// that drives it is single-threaded by design (see the engine package).
type Store struct {
	base string
}

// Open creates (if necessary) the six subdirectories under base and
// returns a Store rooted there.
func Open(base string) (*Store, error) {
	for _, d := range []string{dirFileNodes, dirTagNodes, dirNames, dirNamesByID, dirInodes, dirBlobs} {
		if err := os.MkdirAll(filepath.Join(base, d), 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", d, err)
		}
	}
	return &Store{base: base}, nil
}

func (s *Store) path(dir, key string) string {
	return filepath.Join(s.base, dir, key)
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// nameKey turns an opaque name (any byte sequence) into a filesystem-safe
// key by hex-encoding it; names are never interpreted, only compared.
func nameKey(name string) string {
	return hex.EncodeToString([]byte(name))
}

// ReadFileNode loads the FileNode keyed by hash.
func (s *Store) ReadFileNode(hash hashutil.Hash256) (graph.FileNode, error) {
	b, err := readFile(s.path(dirFileNodes, string(hash)))
	if err != nil {
		return graph.FileNode{}, err
	}
	return decodeFileNode(b)
}

// WriteFileNode upserts f, keyed by its current hash.
func (s *Store) WriteFileNode(f graph.FileNode) error {
	return writeFileAtomic(s.path(dirFileNodes, string(f.Hash)), encodeFileNode(f))
}

// DeleteFileNode removes the FileNode record for hash, if present.
func (s *Store) DeleteFileNode(hash hashutil.Hash256) error {
	return removeIfExists(s.path(dirFileNodes, string(hash)))
}

// ReadTagNode loads the TagNode keyed by id.
func (s *Store) ReadTagNode(id uuid.UUID) (graph.TagNode, error) {
	b, err := readFile(s.path(dirTagNodes, id.String()))
	if err != nil {
		return graph.TagNode{}, err
	}
	return decodeTagNode(b)
}

// WriteTagNode upserts tg, keyed by its id.
func (s *Store) WriteTagNode(tg graph.TagNode) error {
	return writeFileAtomic(s.path(dirTagNodes, tg.ID.String()), encodeTagNode(tg))
}

// DeleteTagNode removes the TagNode record for id, if present.
func (s *Store) DeleteTagNode(id uuid.UUID) error {
	return removeIfExists(s.path(dirTagNodes, id.String()))
}

// ReadNameNode loads the NameNode keyed by id.
func (s *Store) ReadNameNode(id uuid.UUID) (graph.NameNode, error) {
	b, err := readFile(s.path(dirNamesByID, id.String()))
	if err != nil {
		return graph.NameNode{}, err
	}
	return decodeNameNode(b)
}

// WriteNameNode upserts n, keyed by its id.
func (s *Store) WriteNameNode(n graph.NameNode) error {
	return writeFileAtomic(s.path(dirNamesByID, n.ID.String()), encodeNameNode(n))
}

// DeleteNameNode removes the NameNode record for id, if present.
func (s *Store) DeleteNameNode(id uuid.UUID) error {
	return removeIfExists(s.path(dirNamesByID, id.String()))
}

// NamesWithValue returns the set of NameNode ids that currently share the
// given literal name (across any containing tag).
func (s *Store) NamesWithValue(name string) ([]uuid.UUID, error) {
	b, err := readFile(s.path(dirNames, nameKey(name)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeUUIDSet(b)
}

// AddNameIndex records that NameNode id now carries the literal name.
func (s *Store) AddNameIndex(name string, id uuid.UUID) error {
	ids, err := s.NamesWithValue(name)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return writeFileAtomic(s.path(dirNames, nameKey(name)), encodeUUIDSet(ids))
}

// RemoveNameIndex removes id from the set stored under name, deleting the
// index entry entirely once it is empty.
func (s *Store) RemoveNameIndex(name string, id uuid.UUID) error {
	ids, err := s.NamesWithValue(name)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return removeIfExists(s.path(dirNames, nameKey(name)))
	}
	return writeFileAtomic(s.path(dirNames, nameKey(name)), encodeUUIDSet(out))
}

// LinkInode atomically points inodes/<ino> at the node target refers to,
// replacing any previous symlink: remove-if-exists, then create.
func (s *Store) LinkInode(ino uint64, target graph.Node) error {
	linkPath := s.path(dirInodes, strconv.FormatUint(ino, 10))
	var rel string
	if target.Kind == graph.NodeFile {
		rel = filepath.Join("..", dirFileNodes, string(target.Hash))
	} else {
		rel = filepath.Join("..", dirTagNodes, target.ID.String())
	}
	if err := removeIfExists(linkPath); err != nil {
		return err
	}
	return os.Symlink(rel, linkPath)
}

// UnlinkInode removes the inodes/<ino> symlink, if present.
func (s *Store) UnlinkInode(ino uint64) error {
	return removeIfExists(s.path(dirInodes, strconv.FormatUint(ino, 10)))
}

// ReadInode resolves inodes/<ino> to the Node it currently refers to.
func (s *Store) ReadInode(ino uint64) (graph.Node, error) {
	linkPath := s.path(dirInodes, strconv.FormatUint(ino, 10))
	target, err := os.Readlink(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return graph.Node{}, ErrNotFound
		}
		return graph.Node{}, err
	}
	dir := filepath.Base(filepath.Dir(target))
	key := filepath.Base(target)
	switch dir {
	case dirFileNodes:
		return graph.FileRef(hashutil.Hash256(key)), nil
	case dirTagNodes:
		id, err := uuid.Parse(key)
		if err != nil {
			return graph.Node{}, fmt.Errorf("store: malformed tag symlink for inode %d: %w", ino, err)
		}
		return graph.TagRef(id), nil
	default:
		return graph.Node{}, fmt.Errorf("store: unrecognised inode symlink target %q", target)
	}
}

// ReadBlob returns the raw content bytes stored under hash.
func (s *Store) ReadBlob(hash hashutil.Hash256) ([]byte, error) {
	return readFile(s.path(dirBlobs, string(hash)))
}

// WriteBlob stores data under hash, replacing any previous content.
func (s *Store) WriteBlob(hash hashutil.Hash256, data []byte) error {
	return writeFileAtomic(s.path(dirBlobs, string(hash)), data)
}

// DeleteBlob removes the content bytes stored under hash, if present.
func (s *Store) DeleteBlob(hash hashutil.Hash256) error {
	return removeIfExists(s.path(dirBlobs, string(hash)))
}

// RenameBlob moves content from oldHash to newHash, used when a file's
// content changes and its identity (hash) must follow it.
func (s *Store) RenameBlob(oldHash, newHash hashutil.Hash256) error {
	if oldHash == newHash {
		return nil
	}
	data, err := s.ReadBlob(oldHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			data = nil
		} else {
			return err
		}
	}
	if err := s.WriteBlob(newHash, data); err != nil {
		return err
	}
	return s.DeleteBlob(oldHash)
}

// ListInodes returns every inode number currently recorded in inodes/. Used
// once at start-up to resume the inode counter after a re-mount of an
// existing base directory.
func (s *Store) ListInodes() ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, dirInodes))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
