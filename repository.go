package vaultfs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/absfs/vaultfs/store"
)

// Repository gives cleartext access to the contents of an unlocked vault.
// The vault must stay registered in the Registry the repository was created
// with; every operation fails with ErrVaultLocked once it is locked.
//
// A Repository is safe for concurrent use. It does not coordinate with other
// clients writing the same vault.
type Repository struct {
	vault  Vault
	store  store.ContentStore
	codec  *vaultCodec
	layout layout

	rootOnce sync.Once
	root     *CryptoFolder
}

// NewRepository returns the repository of vault v stored in cs. The layout
// is chosen by the vault format: 7 and 8 use the modern layout, 5 and 6 the
// legacy one.
func NewRepository(ctx context.Context, v Vault, cs store.ContentStore, registry *Registry, opts ...Option) (*Repository, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := ValidateVault(v); err != nil {
		return nil, err
	}
	location, err := cs.Resolve(ctx, v.Location)
	if err != nil {
		return nil, err
	}

	codec := &vaultCodec{
		vault:    v,
		store:    cs,
		dataRoot: cs.Folder(location, DataDirName),
		registry: registry,
		cache:    newDirIDCache(o.dirIDCacheSize),
		pipeline: newContentPipeline(cs, o),
		logger:   o.logger.With("vault", v.ID),
	}
	r := &Repository{vault: v, store: cs, codec: codec}
	switch v.Format {
	case 8:
		codec.threshold = v.ShorteningThreshold
		r.layout = &modernLayout{vaultCodec: codec}
	case 7:
		codec.threshold = DefaultShorteningThreshold
		r.layout = &modernLayout{vaultCodec: codec}
	case 5, 6:
		codec.threshold = LegacyShorteningThreshold
		r.layout = &legacyLayout{vaultCodec: codec, migrate: o.legacyNameMigration, parallel: o.parallel}
	default:
		return nil, &UnsupportedVaultFormatError{Format: v.Format, Min: MinVaultFormat, Max: MaxVaultFormat}
	}
	return r, nil
}

// Vault returns the vault of the repository.
func (r *Repository) Vault() Vault { return r.vault }

// Root returns the root folder. The same instance is returned on every call.
func (r *Repository) Root() *CryptoFolder {
	r.rootOnce.Do(func() { r.root = newRootFolder() })
	return r.root
}

// Resolve returns the folder at the slash separated cleartext path p. It
// performs no existence check for the last segment.
func (r *Repository) Resolve(ctx context.Context, p string) (*CryptoFolder, error) {
	folder := r.Root()
	for _, segment := range strings.Split(path.Clean("/"+p), "/") {
		if segment == "" {
			continue
		}
		next, err := r.layout.folder(ctx, folder, segment)
		if err != nil {
			return nil, err
		}
		folder = next
	}
	return folder, nil
}

// File returns the file name in parent. size is the cleartext size if known,
// store.UnknownSize otherwise.
func (r *Repository) File(ctx context.Context, parent *CryptoFolder, name string, size int64) (*CryptoFile, error) {
	return r.layout.file(ctx, parent, name, size)
}

// Folder returns the folder name in parent.
func (r *Repository) Folder(ctx context.Context, parent *CryptoFolder, name string) (*CryptoFolder, error) {
	return r.layout.folder(ctx, parent, name)
}

// Exists reports whether node exists.
func (r *Repository) Exists(ctx context.Context, node CryptoNode) (bool, error) {
	return r.layout.exists(ctx, node)
}

// List returns the children of folder. Entries that cannot be decrypted are
// skipped.
func (r *Repository) List(ctx context.Context, folder *CryptoFolder) ([]CryptoNode, error) {
	return r.layout.list(ctx, folder)
}

// Create creates folder. It fails with store.ErrAlreadyExists if a file or
// folder of the same name exists.
func (r *Repository) Create(ctx context.Context, folder *CryptoFolder) (*CryptoFolder, error) {
	created, err := r.layout.create(ctx, folder)
	return created, cleartextConflict("create", folder, err)
}

// MoveFolder moves src to dst, which must not exist.
func (r *Repository) MoveFolder(ctx context.Context, src, dst *CryptoFolder) (*CryptoFolder, error) {
	moved, err := r.layout.moveFolder(ctx, src, dst)
	return moved, cleartextConflict("move", dst, err)
}

// MoveFile moves src to dst, which must not exist.
func (r *Repository) MoveFile(ctx context.Context, src, dst *CryptoFile) (*CryptoFile, error) {
	moved, err := r.layout.moveFile(ctx, src, dst)
	return moved, cleartextConflict("move", dst, err)
}

// Delete removes node. Folders are removed with everything below them.
func (r *Repository) Delete(ctx context.Context, node CryptoNode) error {
	return r.layout.delete(ctx, node)
}

// Read decrypts file into w.
func (r *Repository) Read(ctx context.Context, file *CryptoFile, w io.Writer, progress store.ProgressFunc) error {
	cr, err := r.codec.cryptor()
	if err != nil {
		return err
	}
	return r.codec.pipeline.decrypt(ctx, cr, file.content, w, progress)
}

// Write encrypts length bytes of r into file. length may be
// store.UnknownSize. Without replace an existing file results in
// store.ErrAlreadyExists.
func (r *Repository) Write(ctx context.Context, file *CryptoFile, data io.Reader, progress store.ProgressFunc, replace bool, length int64) (*CryptoFile, error) {
	written, err := r.layout.write(ctx, file, data, progress, replace, length)
	return written, cleartextConflict("write", file, err)
}

// CurrentAccount checks the backend authentication and returns the account
// name.
func (r *Repository) CurrentAccount(ctx context.Context) (string, error) {
	return r.store.CurrentAccount(ctx)
}

// AvailableName returns name if parent has no entry of that name, otherwise
// the first free "name (n)". Counters are placed before the extension.
func (r *Repository) AvailableName(ctx context.Context, parent *CryptoFolder, name string) (string, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	candidate := name
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := r.nameTaken(ctx, parent, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
}

func (r *Repository) nameTaken(ctx context.Context, parent *CryptoFolder, name string) (bool, error) {
	file, err := r.layout.file(ctx, parent, name, store.UnknownSize)
	if err != nil {
		return false, err
	}
	if ok, err := r.layout.exists(ctx, file); err != nil || ok {
		return ok, err
	}
	folder, err := r.layout.folder(ctx, parent, name)
	if err != nil {
		return false, err
	}
	return r.layout.exists(ctx, folder)
}

// MigrateLegacyNames renames the shortened names in folder whose full name
// fits the shortening threshold and returns how many were renamed. It is a
// no-op for vaults of format 7 and 8.
func (r *Repository) MigrateLegacyNames(ctx context.Context, folder *CryptoFolder) (int, error) {
	return r.layout.migrateNames(ctx, folder)
}

// cleartextConflict replaces the ciphertext path of an already exists error
// with the cleartext path of target.
func cleartextConflict(op string, target CryptoNode, err error) error {
	if err != nil && store.IsAlreadyExists(err) {
		return store.AlreadyExists(op, target.Path())
	}
	return err
}
