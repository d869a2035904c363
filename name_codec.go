package vaultfs

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"

	"github.com/absfs/vaultfs/store"
)

// layout is the on-disk organisation of a vault format. The set is closed:
// modernLayout serves formats 7 and 8, legacyLayout formats 5 and 6.
type layout interface {
	dirIDInfo(ctx context.Context, f *CryptoFolder) (DirIDInfo, error)
	file(ctx context.Context, parent *CryptoFolder, name string, size int64) (*CryptoFile, error)
	folder(ctx context.Context, parent *CryptoFolder, name string) (*CryptoFolder, error)
	exists(ctx context.Context, node CryptoNode) (bool, error)
	list(ctx context.Context, f *CryptoFolder) ([]CryptoNode, error)
	create(ctx context.Context, f *CryptoFolder) (*CryptoFolder, error)
	moveFolder(ctx context.Context, src, dst *CryptoFolder) (*CryptoFolder, error)
	moveFile(ctx context.Context, src, dst *CryptoFile) (*CryptoFile, error)
	delete(ctx context.Context, node CryptoNode) error
	write(ctx context.Context, f *CryptoFile, r io.Reader, progress store.ProgressFunc, replace bool, length int64) (*CryptoFile, error)
	migrateNames(ctx context.Context, f *CryptoFolder) (int, error)
}

// vaultCodec is the state shared by both layouts.
type vaultCodec struct {
	vault     Vault
	store     store.ContentStore
	dataRoot  *store.Folder
	registry  *Registry
	cache     *dirIDCache
	pipeline  *contentPipeline
	logger    *slog.Logger
	threshold int
}

// cryptor looks up the cryptor of the vault. The lookup happens on every
// operation so locking the vault takes effect immediately.
func (c *vaultCodec) cryptor() (*Cryptor, error) {
	cr, ok := c.registry.Get(c.vault.ID)
	if !ok || cr.Destroyed() {
		return nil, ErrVaultLocked
	}
	return cr, nil
}

// shardLocation returns d/<h[0:2]>/<h[2:]> for the hash h of dirID.
func (c *vaultCodec) shardLocation(dirID string) (*store.Folder, error) {
	cr, err := c.cryptor()
	if err != nil {
		return nil, err
	}
	return shardFolder(c.store, c.dataRoot, cr.FileNameCryptor(), dirID)
}

func shardFolder(cs store.ContentStore, dataRoot *store.Folder, names *FileNameCryptor, dirID string) (*store.Folder, error) {
	hash, err := names.HashDirectoryID(dirID)
	if err != nil {
		return nil, err
	}
	return cs.Folder(cs.Folder(dataRoot, hash[:2]), hash[2:]), nil
}

// readDirID returns the directory id stored in the directory file of f.
func (c *vaultCodec) readDirID(ctx context.Context, f *CryptoFolder) (string, error) {
	var buf bytes.Buffer
	if err := c.store.Read(ctx, f.dirFile, &buf, nil); err != nil {
		if store.IsNotFound(err) {
			return "", &CorruptionError{
				Path:    f.Path(),
				Message: ErrNoDirFile.Error(),
				Err:     fmt.Errorf("%w: %w", ErrNoDirFile, store.ErrNotFound),
			}
		}
		return "", err
	}
	if buf.Len() == 0 {
		return "", NewCorruptionError(f.Path(), ErrEmptyDirFile)
	}
	return buf.String(), nil
}

// resolveInfo returns the cached directory id info of f or computes it with
// read and caches it under key.
func (c *vaultCodec) resolveInfo(ctx context.Context, f *CryptoFolder, key dirIDKey) (DirIDInfo, error) {
	if info, ok := c.cache.get(key); ok {
		return info, nil
	}
	id := ""
	if !f.IsRoot() {
		var err error
		if id, err = c.readDirID(ctx, f); err != nil {
			return DirIDInfo{}, err
		}
	}
	shard, err := c.shardLocation(id)
	if err != nil {
		return DirIDInfo{}, err
	}
	info := DirIDInfo{ID: id, Shard: shard}
	c.cache.put(key, info)
	return info, nil
}

// encryptName encrypts name with the parent directory id as associated data.
func (c *vaultCodec) encryptName(enc NameEncoding, parentID, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	cr, err := c.cryptor()
	if err != nil {
		return "", err
	}
	return cr.FileNameCryptor().EncryptFilename(enc, name, []byte(parentID))
}

// decryptName decrypts an encrypted name fragment. Unreadable names are
// logged and reported with ok false.
func (c *vaultCodec) decryptName(enc NameEncoding, parentID, ciphertext, storedAs string) (string, bool) {
	cr, err := c.cryptor()
	if err != nil {
		return "", false
	}
	name, err := cr.FileNameCryptor().DecryptFilename(enc, ciphertext, []byte(parentID))
	if err != nil {
		c.logger.Warn("skipping entry with unreadable name", "node", storedAs, "error", err)
		return "", false
	}
	return name, true
}

// shortenedName returns the surrogate of a name that exceeds the threshold.
func shortenedName(enc NameEncoding, full, suffix string) string {
	sum := sha1.Sum([]byte(full))
	return enc.encode(sum[:]) + suffix
}

// shorten applies the shortening threshold to an encrypted name.
func (c *vaultCodec) shorten(enc NameEncoding, full, suffix string) cipherName {
	if len(full) > c.threshold {
		return cipherName{full: full, short: shortenedName(enc, full, suffix)}
	}
	return cipherName{full: full}
}

// readText reads a small store file such as a name side-car.
func (c *vaultCodec) readText(ctx context.Context, f *store.File) (string, error) {
	var buf bytes.Buffer
	if err := c.store.Read(ctx, f, &buf, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeText writes a small store file.
func (c *vaultCodec) writeText(ctx context.Context, f *store.File, text string, replace bool) error {
	_, err := c.store.Write(ctx, f, bytes.NewReader([]byte(text)), nil, replace, int64(len(text)))
	return err
}

// ensureFolder creates f unless it already exists.
func (c *vaultCodec) ensureFolder(ctx context.Context, f *store.Folder) error {
	if _, err := c.store.Create(ctx, f); err != nil && !store.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// cleartextSize returns the cleartext size of a content file, or
// store.UnknownSize if the ciphertext size is unknown or invalid.
func (c *vaultCodec) cleartextSize(cr *Cryptor, content *store.File) int64 {
	size, ok := content.Size()
	if !ok {
		return store.UnknownSize
	}
	body := size - int64(cr.FileHeaderCryptor().HeaderSize())
	if body < 0 {
		c.logger.Debug("content file shorter than its header", "node", content.Path(), "size", size)
		return store.UnknownSize
	}
	plain, err := cr.FileContentCryptor().CleartextSize(body)
	if err != nil {
		c.logger.Debug("content file has an invalid size", "node", content.Path(), "error", err)
		return store.UnknownSize
	}
	return plain
}

// collectSubfolders returns every folder below f, deepest first. Broken
// subfolders are returned but not descended into.
func (c *vaultCodec) collectSubfolders(ctx context.Context, l layout, f *CryptoFolder) ([]*CryptoFolder, error) {
	var found []*CryptoFolder
	queue := []*CryptoFolder{f}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := l.list(ctx, next)
		if err != nil {
			if next != f && IsCorruptionError(err) {
				c.logger.Warn("not descending into broken folder", "path", next.Path(), "error", err)
				continue
			}
			return nil, err
		}
		for _, child := range children {
			if sub, ok := child.(*CryptoFolder); ok {
				found = append(found, sub)
				queue = append(queue, sub)
			}
		}
	}
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found, nil
}

// deleteShards removes the shards of f and of all folders below it and
// evicts them from the cache. The directory file of f is left in place.
func (c *vaultCodec) deleteShards(ctx context.Context, l layout, f *CryptoFolder) error {
	subfolders, err := c.collectSubfolders(ctx, l, f)
	if err != nil {
		return err
	}
	for _, sub := range append(subfolders, f) {
		info, err := l.dirIDInfo(ctx, sub)
		if err != nil {
			if sub != f && IsCorruptionError(err) {
				continue
			}
			return err
		}
		if err := c.store.Delete(ctx, info.Shard); err != nil && !store.IsNotFound(err) {
			return err
		}
	}
	c.cache.evictSubtree(f.Path())
	return nil
}

// requireShard fails unless the shard of parent exists. It keeps writes
// into deleted folders from recreating orphaned shards.
func (c *vaultCodec) requireShard(ctx context.Context, parent *CryptoFolder, shard *store.Folder) error {
	ok, err := c.store.Exists(ctx, shard)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if parent.IsRoot() {
		return NewCorruptionError(parent.Path(), ErrRootFolderMissing)
	}
	return store.NotFound("resolve", parent.Path())
}

// alreadyExists reports node as existing under its cleartext path.
func alreadyExists(op string, node CryptoNode) error {
	return store.AlreadyExists(op, node.Path())
}
