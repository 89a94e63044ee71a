package queue

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks a document that exists but does not parse.
var ErrCorrupt = errors.New("corrupt document")

// ReadError is recoverable: the document is treated as empty.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError means the in-memory state that triggered the write was not
// persisted and may be lost on restart.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
