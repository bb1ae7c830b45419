package engine

import "errors"

// Sentinel errors the filesystem adapter translates to kernel errno values.
// They are deliberately plain values (comparable with errors.Is) rather than
// a hierarchy of error types: the adapter only ever needs to know which of
// these five buckets an engine call failed with.
var (
	ErrNotFound = errors.New("tagfs: not found")
	ErrNotSup   = errors.New("tagfs: not supported")
	ErrIsDir    = errors.New("tagfs: is a tag")
	ErrNotDir   = errors.New("tagfs: not a tag")
	ErrNotEmpty = errors.New("tagfs: tag not empty")
)
