package vaultfs

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/absfs/vaultfs/store"
)

// Node names of formats 5 and 6.
const (
	legacyDirPrefix     = "0"
	legacySymlinkPrefix = "1S"
	legacyLongSuffix    = ".lng"
	metadataDirName     = "m"
)

// legacyLayout stores every node as a single file named by its base32
// encrypted name. Folders are files prefixed with 0 holding the directory
// id, symlinks are prefixed with 1S. Long names are replaced by a .lng
// surrogate whose full name lives in the global m/ namespace.
type legacyLayout struct {
	*vaultCodec
	migrate  bool
	parallel ParallelConfig
}

func (l *legacyLayout) dirIDInfo(ctx context.Context, f *CryptoFolder) (DirIDInfo, error) {
	var modified time.Time
	if f.dirFile != nil {
		modified, _ = f.dirFile.Modified()
	}
	return l.resolveInfo(ctx, f, legacyKey(f, modified))
}

// fragment strips the type prefix from an encrypted legacy name.
func fragment(full string) string {
	if strings.HasPrefix(full, legacySymlinkPrefix) {
		return strings.TrimPrefix(full, legacySymlinkPrefix)
	}
	return strings.TrimPrefix(full, legacyDirPrefix)
}

func (l *legacyLayout) nameFor(enc, prefix string) cipherName {
	return l.shorten(Base32, prefix+enc, legacyLongSuffix)
}

func (l *legacyLayout) locate(ctx context.Context, parent *CryptoFolder, name, prefix string) (DirIDInfo, cipherName, error) {
	info, err := l.dirIDInfo(ctx, parent)
	if err != nil {
		return DirIDInfo{}, cipherName{}, err
	}
	enc, err := l.encryptName(Base32, info.ID, name)
	if err != nil {
		return DirIDInfo{}, cipherName{}, err
	}
	return info, l.nameFor(enc, prefix), nil
}

func (l *legacyLayout) file(ctx context.Context, parent *CryptoFolder, name string, size int64) (*CryptoFile, error) {
	info, cn, err := l.locate(ctx, parent, name, "")
	if err != nil {
		return nil, err
	}
	return &CryptoFile{
		nodeBase: newNodeBase(parent, name, cn),
		size:     size,
		content:  l.store.File(info.Shard, cn.stored(), store.UnknownSize),
	}, nil
}

func (l *legacyLayout) folder(ctx context.Context, parent *CryptoFolder, name string) (*CryptoFolder, error) {
	info, cn, err := l.locate(ctx, parent, name, legacyDirPrefix)
	if err != nil {
		return nil, err
	}
	return &CryptoFolder{
		nodeBase: newNodeBase(parent, name, cn),
		dirFile:  l.store.File(info.Shard, cn.stored(), store.UnknownSize),
	}, nil
}

// metadataFile returns the side-car of a surrogate name: m/<s[0:2]>/<s[2:4]>/<s>.
func (l *legacyLayout) metadataFile(short string) *store.File {
	m := l.store.Folder(l.dataRoot.Parent(), metadataDirName)
	return l.store.File(l.store.Folder(l.store.Folder(m, short[:2]), short[2:4]), short, store.UnknownSize)
}

// writeMetadata persists the full name of a long node.
func (l *legacyLayout) writeMetadata(ctx context.Context, cn cipherName) error {
	if !cn.long() {
		return nil
	}
	side := l.metadataFile(cn.short)
	if err := l.ensureFolder(ctx, side.Parent()); err != nil {
		return err
	}
	return l.writeText(ctx, side, cn.full, true)
}

// resolveSurrogate returns the full encrypted name behind a .lng surrogate.
func (l *legacyLayout) resolveSurrogate(ctx context.Context, short string) (string, error) {
	if len(short) < 4 {
		return "", NewCorruptionError(short, errors.New("surrogate name too short"))
	}
	full, err := l.readText(ctx, l.metadataFile(short))
	if err != nil {
		if store.IsNotFound(err) {
			return "", NewCorruptionError(short, errors.New("long name metadata missing"))
		}
		return "", err
	}
	return strings.TrimSpace(full), nil
}

// occupied reports whether a file, folder or symlink is stored under the
// encrypted fragment enc in shard.
func (l *legacyLayout) occupied(ctx context.Context, shard *store.Folder, enc string) (bool, error) {
	for _, prefix := range []string{"", legacyDirPrefix, legacySymlinkPrefix} {
		cn := l.nameFor(enc, prefix)
		ok, err := l.store.Exists(ctx, l.store.File(shard, cn.stored(), store.UnknownSize))
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (l *legacyLayout) exists(ctx context.Context, node CryptoNode) (bool, error) {
	switch n := node.(type) {
	case *CryptoFile:
		return l.store.Exists(ctx, n.content)
	case *CryptoSymlink:
		return l.store.Exists(ctx, n.link)
	case *CryptoFolder:
		if n.IsRoot() {
			info, err := l.dirIDInfo(ctx, n)
			if err != nil {
				return false, err
			}
			return l.store.Exists(ctx, info.Shard)
		}
		return l.store.Exists(ctx, n.dirFile)
	}
	return false, NewValidationError("node", node, "unknown node type")
}

func (l *legacyLayout) list(ctx context.Context, f *CryptoFolder) ([]CryptoNode, error) {
	nodes, _, err := l.listEntries(ctx, f, l.migrate)
	return nodes, err
}

func (l *legacyLayout) migrateNames(ctx context.Context, f *CryptoFolder) (int, error) {
	_, migrated, err := l.listEntries(ctx, f, true)
	return migrated, err
}

// listEntries lists f, decrypting names in parallel. With migrate set,
// surrogate names whose full name fits the threshold again are renamed to
// the full name.
func (l *legacyLayout) listEntries(ctx context.Context, f *CryptoFolder, migrate bool) ([]CryptoNode, int, error) {
	cr, err := l.cryptor()
	if err != nil {
		return nil, 0, err
	}
	info, err := l.dirIDInfo(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	children, err := l.store.List(ctx, info.Shard)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, 0, err
		}
		if f.IsRoot() {
			return nil, 0, NewCorruptionError(f.Path(), ErrRootFolderMissing)
		}
		return nil, 0, nil
	}

	files := make([]*store.File, 0, len(children))
	for _, child := range children {
		if file, ok := child.(*store.File); ok {
			files = append(files, file)
		}
	}

	var migrated atomic.Int32
	results, errs := parallelMap(ctx, l.parallel, files, func(file *store.File) (CryptoNode, error) {
		node, err := l.toCleartext(ctx, cr, f, info, file)
		if err != nil || node == nil || !migrate {
			return node, err
		}
		if l.migrateNode(ctx, node) {
			migrated.Add(1)
		}
		return node, nil
	})

	nodes := make([]CryptoNode, 0, len(results))
	for i, node := range results {
		if errs[i] != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, ctxErr
			}
			l.logger.Warn("skipping unreadable entry", "node", files[i].Path(), "error", errs[i])
			continue
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes, int(migrated.Load()), nil
}

func (l *legacyLayout) toCleartext(ctx context.Context, cr *Cryptor, parent *CryptoFolder, info DirIDInfo, file *store.File) (CryptoNode, error) {
	stored := file.Name()
	cn := cipherName{full: stored}
	if strings.HasSuffix(stored, legacyLongSuffix) {
		full, err := l.resolveSurrogate(ctx, stored)
		if err != nil {
			return nil, err
		}
		cn = cipherName{full: full, short: stored}
	}

	enc := strings.ToUpper(fragment(cn.full))
	cleartext, ok := l.decryptName(Base32, info.ID, enc, file.Path())
	if !ok {
		return nil, nil
	}
	base := newNodeBase(parent, cleartext, cn)
	switch {
	case strings.HasPrefix(cn.full, legacyDirPrefix):
		return &CryptoFolder{nodeBase: base, dirFile: file}, nil
	case strings.HasPrefix(cn.full, legacySymlinkPrefix):
		return &CryptoSymlink{nodeBase: base, link: file}, nil
	default:
		modified, _ := file.Modified()
		return &CryptoFile{nodeBase: base, size: l.cleartextSize(cr, file), modified: modified, content: file}, nil
	}
}

// migrateNode renames a long node to its full name once that fits the
// threshold. Failures leave the node untouched.
func (l *legacyLayout) migrateNode(ctx context.Context, node CryptoNode) bool {
	cn := node.encrypted()
	if !cn.long() || len(cn.full) > l.threshold {
		return false
	}
	var src *store.File
	switch n := node.(type) {
	case *CryptoFile:
		src = n.content
	case *CryptoFolder:
		src = n.dirFile
	case *CryptoSymlink:
		src = n.link
	}
	moved, err := l.store.MoveFile(ctx, src, l.store.File(src.Parent(), cn.full, store.UnknownSize))
	if err != nil {
		l.logger.Warn("failed to migrate long name", "node", src.Path(), "error", err)
		return false
	}
	l.logger.Info("migrated long name", "from", src.Name(), "to", moved.Name())

	short := cipherName{full: cn.full}
	switch n := node.(type) {
	case *CryptoFile:
		n.cipher, n.content = short, moved
	case *CryptoFolder:
		n.cipher, n.dirFile = short, moved
		l.cache.evict(n.Path())
	case *CryptoSymlink:
		n.cipher, n.link = short, moved
	}
	return true
}

func (l *legacyLayout) create(ctx context.Context, f *CryptoFolder) (*CryptoFolder, error) {
	if f.IsRoot() {
		return nil, alreadyExists("create", f)
	}
	cn := f.encrypted()
	shard := f.dirFile.Parent()
	if err := l.requireShard(ctx, f.parent, shard); err != nil {
		return nil, err
	}
	taken, err := l.occupied(ctx, shard, fragment(cn.full))
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists("create", f)
	}
	if err := l.writeMetadata(ctx, cn); err != nil {
		return nil, err
	}

	dirID := uuid.NewString()
	dirShard, err := l.shardLocation(dirID)
	if err != nil {
		return nil, err
	}
	if err := l.ensureFolder(ctx, dirShard); err != nil {
		return nil, err
	}
	if err := l.writeText(ctx, f.dirFile, dirID, false); err != nil {
		if store.IsAlreadyExists(err) {
			return nil, alreadyExists("create", f)
		}
		return nil, err
	}
	l.cache.evictSubtree(f.Path())
	l.cache.put(legacyKey(f, time.Time{}), DirIDInfo{ID: dirID, Shard: dirShard})
	return f, nil
}

func (l *legacyLayout) moveFolder(ctx context.Context, src, dst *CryptoFolder) (*CryptoFolder, error) {
	if src.IsRoot() || dst.IsRoot() {
		return nil, NewValidationError("folder", "/", "the root folder cannot be moved")
	}
	moved, err := l.moveEntry(ctx, src.dirFile, dst, dst.dirFile)
	if err != nil {
		return nil, err
	}
	l.cache.evictSubtree(src.Path())
	l.cache.evictSubtree(dst.Path())
	return &CryptoFolder{nodeBase: dst.nodeBase, dirFile: moved}, nil
}

func (l *legacyLayout) moveFile(ctx context.Context, src, dst *CryptoFile) (*CryptoFile, error) {
	moved, err := l.moveEntry(ctx, src.content, dst, dst.content)
	if err != nil {
		return nil, err
	}
	modified, _ := moved.Modified()
	return &CryptoFile{nodeBase: dst.nodeBase, size: src.size, modified: modified, content: moved}, nil
}

// moveEntry moves the store file of a node to target, the store file of dst.
func (l *legacyLayout) moveEntry(ctx context.Context, from *store.File, dst CryptoNode, target *store.File) (*store.File, error) {
	cn := dst.encrypted()
	if err := l.requireShard(ctx, dst.Parent(), target.Parent()); err != nil {
		return nil, err
	}
	taken, err := l.occupied(ctx, target.Parent(), fragment(cn.full))
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists("move", dst)
	}
	if err := l.writeMetadata(ctx, cn); err != nil {
		return nil, err
	}
	return l.store.MoveFile(ctx, from, target)
}

func (l *legacyLayout) delete(ctx context.Context, node CryptoNode) error {
	switch n := node.(type) {
	case *CryptoFile:
		return l.store.Delete(ctx, n.content)
	case *CryptoSymlink:
		return l.store.Delete(ctx, n.link)
	case *CryptoFolder:
		if n.IsRoot() {
			return NewValidationError("folder", "/", "the root folder cannot be deleted")
		}
		if err := l.deleteShards(ctx, l, n); err != nil {
			return err
		}
		return l.store.Delete(ctx, n.dirFile)
	}
	return NewValidationError("node", node, "unknown node type")
}

func (l *legacyLayout) write(ctx context.Context, f *CryptoFile, r io.Reader, progress store.ProgressFunc, replace bool, length int64) (*CryptoFile, error) {
	cr, err := l.cryptor()
	if err != nil {
		return nil, err
	}
	cn := f.encrypted()
	shard := f.content.Parent()
	if err := l.requireShard(ctx, f.parent, shard); err != nil {
		return nil, err
	}
	enc := fragment(cn.full)
	for _, prefix := range []string{legacyDirPrefix, legacySymlinkPrefix} {
		other := l.nameFor(enc, prefix)
		ok, err := l.store.Exists(ctx, l.store.File(shard, other.stored(), store.UnknownSize))
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, alreadyExists("write", f)
		}
	}
	if !replace {
		ok, err := l.store.Exists(ctx, f.content)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, alreadyExists("write", f)
		}
	}
	if err := l.writeMetadata(ctx, cn); err != nil {
		return nil, err
	}

	stored, err := l.pipeline.encrypt(ctx, cr, f.content, r, progress, replace, length)
	if err != nil {
		if store.IsAlreadyExists(err) {
			return nil, alreadyExists("write", f)
		}
		return nil, err
	}
	size := length
	if size < 0 {
		size = l.cleartextSize(cr, stored)
	}
	modified, _ := stored.Modified()
	return &CryptoFile{nodeBase: f.nodeBase, size: size, modified: modified, content: stored}, nil
}
