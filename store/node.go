// Package store defines the plaintext content store that vaultfs persists its
// ciphertext into, together with an implementation on top of any
// absfs.FileSystem.
//
// A content store knows nothing about encryption. It stores opaque files in a
// folder hierarchy and is addressed with slash separated paths.
package store

import (
	"path"
	"strings"
	"time"
)

// Node is a file or folder of a content store.
type Node interface {
	Name() string
	Path() string
	Parent() *Folder
}

// Folder is a folder node. A folder without parent is the root of its store.
type Folder struct {
	parent *Folder
	name   string
	path   string
}

// NewRoot returns a root folder located at p.
func NewRoot(p string) *Folder {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return &Folder{name: path.Base(p), path: p}
}

// NewFolder returns the folder named name inside parent.
func NewFolder(parent *Folder, name string) *Folder {
	return &Folder{parent: parent, name: name, path: path.Join(parent.path, name)}
}

func (f *Folder) Name() string    { return f.name }
func (f *Folder) Path() string    { return f.path }
func (f *Folder) Parent() *Folder { return f.parent }

// IsRoot reports whether f is the root of its store.
func (f *Folder) IsRoot() bool { return f.parent == nil }

func (f *Folder) String() string { return f.path }

// File is a file node. Size and modification time are optional; they are known
// for nodes returned by List and Write.
type File struct {
	parent   *Folder
	name     string
	path     string
	size     int64
	modified time.Time
}

// UnknownSize marks a file whose size has not been determined.
const UnknownSize int64 = -1

// NewFile returns the file named name inside parent. Pass UnknownSize and a zero
// time when size or modification time are not known.
func NewFile(parent *Folder, name string, size int64, modified time.Time) *File {
	return &File{
		parent:   parent,
		name:     name,
		path:     path.Join(parent.path, name),
		size:     size,
		modified: modified,
	}
}

func (f *File) Name() string    { return f.name }
func (f *File) Path() string    { return f.path }
func (f *File) Parent() *Folder { return f.parent }

// Size returns the size of the file and whether it is known.
func (f *File) Size() (int64, bool) { return f.size, f.size >= 0 }

// Modified returns the modification time and whether it is known.
func (f *File) Modified() (time.Time, bool) { return f.modified, !f.modified.IsZero() }

func (f *File) String() string { return f.path }
