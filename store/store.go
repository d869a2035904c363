package store

import (
	"context"
	"io"
)

// State is the phase a transfer is in.
type State int

const (
	StateEncryption State = iota
	StateUpload
	StateDownload
	StateDecryption
)

func (s State) String() string {
	switch s {
	case StateEncryption:
		return "encryption"
	case StateUpload:
		return "upload"
	case StateDownload:
		return "download"
	case StateDecryption:
		return "decryption"
	default:
		return "unknown"
	}
}

// Progress describes how far a transfer got. Total is negative when the size
// of the transfer is not known in advance.
type Progress struct {
	State State
	Done  int64
	Total int64
}

// Bounded reports whether the total size of the transfer is known.
func (p Progress) Bounded() bool { return p.Total >= 0 }

// Percent returns the completed percentage, or -1 for unbounded transfers.
func (p Progress) Percent() int {
	if !p.Bounded() {
		return -1
	}
	if p.Total == 0 {
		return 100
	}
	return int(p.Done * 100 / p.Total)
}

// ProgressFunc receives progress updates. A nil ProgressFunc discards them.
type ProgressFunc func(Progress)

// Report forwards p to f unless f is nil.
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// ContentStore is a plaintext storage backend such as a local directory or a
// WebDAV share. Implementations must be safe for concurrent use.
//
// File and Folder only build node references; they perform no I/O.
type ContentStore interface {
	// Root returns the root folder of the store.
	Root() *Folder
	// Resolve returns the folder at the slash separated path below Root.
	Resolve(ctx context.Context, path string) (*Folder, error)
	// File returns a reference to the file name in parent. size may be UnknownSize.
	File(parent *Folder, name string, size int64) *File
	// Folder returns a reference to the folder name in parent.
	Folder(parent *Folder, name string) *Folder
	// Exists reports whether node exists with the same node type.
	Exists(ctx context.Context, node Node) (bool, error)
	// List returns the children of folder.
	List(ctx context.Context, folder *Folder) ([]Node, error)
	// Create creates folder and any missing ancestors.
	Create(ctx context.Context, folder *Folder) (*Folder, error)
	// MoveFolder moves src to dst. dst must not exist.
	MoveFolder(ctx context.Context, src, dst *Folder) (*Folder, error)
	// MoveFile moves src to dst. dst must not exist.
	MoveFile(ctx context.Context, src, dst *File) (*File, error)
	// Delete removes node; folders are removed with their contents.
	Delete(ctx context.Context, node Node) error
	// Read copies the contents of file into w.
	Read(ctx context.Context, file *File, w io.Writer, progress ProgressFunc) error
	// Write stores length bytes from r as file. Without replace an existing file
	// results in ErrAlreadyExists. length may be UnknownSize.
	Write(ctx context.Context, file *File, r io.Reader, progress ProgressFunc, replace bool, length int64) (*File, error)
	// CurrentAccount checks the authentication against the backend and returns
	// the account name.
	CurrentAccount(ctx context.Context) (string, error)
}
