// Package hashutil implements the content-hash and time primitives that the
// rest of tagfs builds on: a fixed-width hex-encoded digest used as the
// identity of a file's content, and an epoch-seconds/nanoseconds time pair
// that round-trips through pre-epoch instants.
package hashutil

import (
	"encoding/hex"
	"hash"
	"time"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes (SHA3-256).
const Size = 32

// Hash256 is the lowercase hex encoding of a 256-bit content digest. It is
// the identity of a FileNode: two files with equal content hash to the same
// Hash256 and are the same object.
type Hash256 string

// Zero is the hash of the empty byte string.
var Zero = Sum(nil)

// Sum hashes b in one call and returns its hex digest.
func Sum(b []byte) Hash256 {
	sum := sha3.Sum256(b)
	return Hash256(hex.EncodeToString(sum[:]))
}

// String returns h unchanged; it satisfies fmt.Stringer for logging.
func (h Hash256) String() string {
	return string(h)
}

// Hasher is a reusable incremental SHA3-256 hasher.
type Hasher struct {
	state hash.Hash
}

// NewHasher constructs a Hasher ready to accept Write calls.
func NewHasher() *Hasher {
	return &Hasher{state: sha3.New256()}
}

// Write feeds more content into the digest.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.state.Write(p)
}

// Finalize returns the current digest and resets the hasher to its initial
// (empty) state, so the same Hasher value can be reused for the next file.
func (h *Hasher) Finalize() Hash256 {
	sum := h.state.Sum(nil)
	digest := Hash256(hex.EncodeToString(sum))
	h.state.Reset()
	return digest
}

// TimePair is a (seconds, nanoseconds) pair since the Unix epoch. Secs may be
// negative to represent an instant before 1970.
type TimePair struct {
	Secs  int64
	Nsecs uint32
}

// Now returns the current wall-clock time as a TimePair.
func Now() TimePair {
	return FromTime(time.Now())
}

// FromTime converts t to a TimePair.
func FromTime(t time.Time) TimePair {
	secs := t.Unix()
	nsecs := uint32(t.Nanosecond())
	return TimePair{Secs: secs, Nsecs: nsecs}
}

// ToTime converts tp back to a time.Time, handling secs < 0 by subtracting
// from the epoch rather than adding a negative duration that would overflow
// the nanosecond component's unsigned representation.
func (tp TimePair) ToTime() time.Time {
	if tp.Secs < 0 {
		return time.Unix(0, 0).Add(-time.Duration(-tp.Secs) * time.Second).Add(time.Duration(tp.Nsecs))
	}
	return time.Unix(tp.Secs, int64(tp.Nsecs))
}
