package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// SkipFolder can be returned by a WalkFunc to skip the folder it was called
// for.
var SkipFolder = errors.New("skip this folder")

// WalkFunc is called for every node visited by Walk. err is set when the
// children of a folder could not be listed; returning nil continues with
// the next node.
type WalkFunc func(node CryptoNode, err error) error

// Walk visits folder and everything below it in lexical order of the
// cleartext names, folders before their children.
func (r *Repository) Walk(ctx context.Context, folder *CryptoFolder, fn WalkFunc) error {
	err := r.walk(ctx, folder, fn)
	if errors.Is(err, SkipFolder) {
		return nil
	}
	return err
}

func (r *Repository) walk(ctx context.Context, folder *CryptoFolder, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, listErr := r.List(ctx, folder)
	if err := fn(folder, listErr); err != nil || listErr != nil {
		return err
	}
	sortNodes(children)
	for _, child := range children {
		var err error
		if sub, ok := child.(*CryptoFolder); ok {
			err = r.walk(ctx, sub, fn)
		} else {
			err = fn(child, nil)
		}
		if err != nil && !errors.Is(err, SkipFolder) {
			return err
		}
	}
	return nil
}

// Verify decrypts file completely and discards the cleartext.
func (r *Repository) Verify(ctx context.Context, file *CryptoFile) error {
	return r.Read(ctx, file, io.Discard, nil)
}

// VerifyAll verifies every file below folder and returns the cleartext paths
// of the files that failed. Folders that cannot be listed count as failed.
func (r *Repository) VerifyAll(ctx context.Context, folder *CryptoFolder) ([]string, error) {
	var failed []string
	err := r.Walk(ctx, folder, func(node CryptoNode, err error) error {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrVaultLocked) {
				return err
			}
			r.codec.logger.Warn("verification failed", "path", node.Path(), "error", err)
			failed = append(failed, node.Path())
			return nil
		}
		file, ok := node.(*CryptoFile)
		if !ok {
			return nil
		}
		if err := r.Verify(ctx, file); err != nil {
			if errors.Is(err, ErrVaultLocked) || ctx.Err() != nil {
				return err
			}
			r.codec.logger.Warn("verification failed", "path", file.Path(), "error", err)
			failed = append(failed, file.Path())
		}
		return nil
	})
	if err != nil {
		return failed, fmt.Errorf("verification walk failed: %w", err)
	}
	if len(failed) > 0 {
		return failed, fmt.Errorf("%d nodes failed verification", len(failed))
	}
	return nil, nil
}
