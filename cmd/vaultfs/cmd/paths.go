package cmd

import (
	"context"
	"path"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/store"
)

// cleanPath returns p as an absolute cleartext path.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func optionalPath(args []string) string {
	if len(args) == 0 {
		return "/"
	}
	return cleanPath(args[0])
}

// splitPath returns the parent folder and the name of p. The root has no
// name.
func splitPath(p string) (dir, name string) {
	p = cleanPath(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// lookupNode returns the existing node at cleartext path p.
func lookupNode(ctx context.Context, repo *vaultfs.Repository, p string) (vaultfs.CryptoNode, error) {
	dir, name := splitPath(p)
	if name == "" {
		return repo.Root(), nil
	}
	parent, err := repo.Resolve(ctx, dir)
	if err != nil {
		return nil, err
	}
	children, err := repo.List(ctx, parent)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, store.NotFound("lookup", cleanPath(p))
}
