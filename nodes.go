package vaultfs

import (
	"path"
	"sort"
	"time"

	"github.com/absfs/vaultfs/store"
)

// CryptoNode is a cleartext node of an unlocked vault. Two nodes denote the
// same entry when their paths are equal; use SameNode to compare them.
type CryptoNode interface {
	Name() string
	Path() string
	Parent() *CryptoFolder
	encrypted() cipherName
}

// SameNode reports whether a and b denote the same cleartext entry.
func SameNode(a, b CryptoNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Path() == b.Path()
}

// sortNodes orders nodes by cleartext name.
func sortNodes(nodes []CryptoNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
}

// cipherName is the name a node is stored under in the shard of its parent.
type cipherName struct {
	// full is the encrypted name including any prefix or suffix
	full string
	// short is the surrogate stored instead of full when full exceeds the
	// shortening threshold, empty otherwise
	short string
}

func (n cipherName) long() bool { return n.short != "" }

// stored returns the name of the node inside the parent shard.
func (n cipherName) stored() string {
	if n.long() {
		return n.short
	}
	return n.full
}

type nodeBase struct {
	parent *CryptoFolder
	name   string
	path   string
	cipher cipherName
}

func newNodeBase(parent *CryptoFolder, name string, cn cipherName) nodeBase {
	return nodeBase{parent: parent, name: name, path: path.Join(parent.path, name), cipher: cn}
}

func (n *nodeBase) Name() string          { return n.name }
func (n *nodeBase) Path() string          { return n.path }
func (n *nodeBase) Parent() *CryptoFolder { return n.parent }
func (n *nodeBase) String() string        { return n.path }
func (n *nodeBase) encrypted() cipherName { return n.cipher }

// CryptoFolder is a cleartext folder. The root folder of a vault has no
// parent and no directory file.
type CryptoFolder struct {
	nodeBase
	// dirFile holds the directory id of the folder
	dirFile *store.File
	// wrapper is the folder dirFile lives in, nil for legacy vaults
	wrapper *store.Folder
}

func newRootFolder() *CryptoFolder {
	return &CryptoFolder{nodeBase: nodeBase{path: "/"}}
}

// IsRoot reports whether f is the root folder of its vault.
func (f *CryptoFolder) IsRoot() bool { return f.parent == nil }

// DirFile returns the store file holding the directory id of f, nil for the
// root folder.
func (f *CryptoFolder) DirFile() *store.File { return f.dirFile }

// CryptoFile is a cleartext file. Its size is the cleartext size, or
// store.UnknownSize.
type CryptoFile struct {
	nodeBase
	size     int64
	modified time.Time
	// content holds header and chunks
	content *store.File
	// wrapper is the long name folder around content, nil for short names
	wrapper *store.Folder
}

// Size returns the cleartext size and whether it is known.
func (f *CryptoFile) Size() (int64, bool) { return f.size, f.size >= 0 }

// Modified returns the modification time of the ciphertext and whether it is
// known.
func (f *CryptoFile) Modified() (time.Time, bool) { return f.modified, !f.modified.IsZero() }

// ContentFile returns the store file holding the ciphertext of f.
func (f *CryptoFile) ContentFile() *store.File { return f.content }

// CryptoSymlink is a symbolic link found while listing. Links can be listed
// and deleted but not followed.
type CryptoSymlink struct {
	nodeBase
	link *store.File
	// wrapper is the folder link lives in, nil for legacy vaults
	wrapper *store.Folder
}

// LinkFile returns the store file holding the encrypted link target.
func (s *CryptoSymlink) LinkFile() *store.File { return s.link }
