package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an addressed node does not exist.
	ErrNotFound = errors.New("node not found")
	// ErrAlreadyExists is returned when a node to be created is already present.
	ErrAlreadyExists = errors.New("node already exists")
	// ErrFatal marks backend failures that are not otherwise classified.
	ErrFatal = errors.New("fatal backend error")
)

// NodeError records a failed operation on a node.
type NodeError struct {
	Op   string // "create", "move", "delete", "read", "write", ...
	Path string // Path of the node the operation failed on
	Err  error  // Underlying error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// NotFound returns a NodeError wrapping ErrNotFound.
func NotFound(op, path string) error {
	return &NodeError{Op: op, Path: path, Err: ErrNotFound}
}

// AlreadyExists returns a NodeError wrapping ErrAlreadyExists.
func AlreadyExists(op, path string) error {
	return &NodeError{Op: op, Path: path, Err: ErrAlreadyExists}
}

// Fatal wraps err as a NodeError that also matches ErrFatal.
func Fatal(op, path string, err error) error {
	return &NodeError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrFatal, err)}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is or wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
