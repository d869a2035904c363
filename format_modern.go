package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/absfs/vaultfs/store"
)

// Node names of formats 7 and 8.
const (
	modernSuffix        = ".c9r"
	shortenedSuffix     = ".c9s"
	dirFileName         = "dir.c9r"
	nameFileName        = "name.c9s"
	contentsFileName    = "contents.c9r"
	symlinkFileName     = "symlink.c9r"
	dirIDBackupFileName = "dirid.c9r"
)

// modernLayout stores every node under its base64url encrypted name with a
// .c9r suffix. Folders are wrapper folders holding a dir.c9r file; names
// longer than the threshold live in a .c9s wrapper whose name.c9s holds the
// full encrypted name.
type modernLayout struct {
	*vaultCodec
}

func (m *modernLayout) dirIDInfo(ctx context.Context, f *CryptoFolder) (DirIDInfo, error) {
	info, err := m.resolveInfo(ctx, f, modernKey(f))
	if err != nil && errors.Is(err, ErrNoDirFile) && f.wrapper != nil {
		link := m.store.File(f.wrapper, symlinkFileName, store.UnknownSize)
		if ok, _ := m.store.Exists(ctx, link); ok {
			return DirIDInfo{}, fmt.Errorf("%s: %w", f.Path(), ErrSymlinkUnsupported)
		}
	}
	return info, err
}

// locate returns the shard of parent and the encrypted name of name in it.
func (m *modernLayout) locate(ctx context.Context, parent *CryptoFolder, name string) (DirIDInfo, cipherName, error) {
	info, err := m.dirIDInfo(ctx, parent)
	if err != nil {
		return DirIDInfo{}, cipherName{}, err
	}
	enc, err := m.encryptName(Base64URL, info.ID, name)
	if err != nil {
		return DirIDInfo{}, cipherName{}, err
	}
	return info, m.shorten(Base64URL, enc+modernSuffix, shortenedSuffix), nil
}

func (m *modernLayout) fileNode(parent *CryptoFolder, name string, cn cipherName, shard *store.Folder, content *store.File) *CryptoFile {
	f := &CryptoFile{nodeBase: newNodeBase(parent, name, cn), size: store.UnknownSize}
	if cn.long() {
		f.wrapper = m.store.Folder(shard, cn.short)
	}
	if content == nil {
		if f.wrapper != nil {
			content = m.store.File(f.wrapper, contentsFileName, store.UnknownSize)
		} else {
			content = m.store.File(shard, cn.full, store.UnknownSize)
		}
	}
	f.content = content
	return f
}

func (m *modernLayout) folderNode(parent *CryptoFolder, name string, cn cipherName, shard *store.Folder) *CryptoFolder {
	wrapper := m.store.Folder(shard, cn.stored())
	return &CryptoFolder{
		nodeBase: newNodeBase(parent, name, cn),
		dirFile:  m.store.File(wrapper, dirFileName, store.UnknownSize),
		wrapper:  wrapper,
	}
}

func (m *modernLayout) file(ctx context.Context, parent *CryptoFolder, name string, size int64) (*CryptoFile, error) {
	info, cn, err := m.locate(ctx, parent, name)
	if err != nil {
		return nil, err
	}
	f := m.fileNode(parent, name, cn, info.Shard, nil)
	f.size = size
	return f, nil
}

func (m *modernLayout) folder(ctx context.Context, parent *CryptoFolder, name string) (*CryptoFolder, error) {
	info, cn, err := m.locate(ctx, parent, name)
	if err != nil {
		return nil, err
	}
	return m.folderNode(parent, name, cn, info.Shard), nil
}

// shardOf returns the shard folder a non-root node is stored in.
func shardOf(node CryptoNode) *store.Folder {
	switch n := node.(type) {
	case *CryptoFile:
		if n.wrapper != nil {
			return n.wrapper.Parent()
		}
		return n.content.Parent()
	case *CryptoFolder:
		if n.wrapper != nil {
			return n.wrapper.Parent()
		}
		return n.dirFile.Parent()
	case *CryptoSymlink:
		if n.wrapper != nil {
			return n.wrapper.Parent()
		}
		return n.link.Parent()
	}
	return nil
}

// occupied reports whether any node is stored under cn in shard.
func (m *modernLayout) occupied(ctx context.Context, shard *store.Folder, cn cipherName) (bool, error) {
	wrapper := m.store.Folder(shard, cn.stored())
	for _, n := range []store.Node{
		m.store.File(shard, cn.stored(), store.UnknownSize),
		m.store.File(wrapper, dirFileName, store.UnknownSize),
		m.store.File(wrapper, contentsFileName, store.UnknownSize),
		m.store.File(wrapper, symlinkFileName, store.UnknownSize),
	} {
		ok, err := m.store.Exists(ctx, n)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *modernLayout) exists(ctx context.Context, node CryptoNode) (bool, error) {
	switch n := node.(type) {
	case *CryptoFile:
		return m.store.Exists(ctx, n.content)
	case *CryptoSymlink:
		return m.store.Exists(ctx, n.link)
	case *CryptoFolder:
		if n.IsRoot() {
			info, err := m.dirIDInfo(ctx, n)
			if err != nil {
				return false, err
			}
			return m.store.Exists(ctx, info.Shard)
		}
		return m.store.Exists(ctx, n.dirFile)
	}
	return false, NewValidationError("node", node, "unknown node type")
}

func (m *modernLayout) list(ctx context.Context, f *CryptoFolder) ([]CryptoNode, error) {
	cr, err := m.cryptor()
	if err != nil {
		return nil, err
	}
	info, err := m.dirIDInfo(ctx, f)
	if err != nil {
		return nil, err
	}
	children, err := m.store.List(ctx, info.Shard)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		if f.IsRoot() {
			return nil, NewCorruptionError(f.Path(), ErrRootFolderMissing)
		}
		link := m.store.File(f.wrapper, symlinkFileName, store.UnknownSize)
		if ok, _ := m.store.Exists(ctx, link); ok {
			return nil, fmt.Errorf("%s: %w", f.Path(), ErrSymlinkUnsupported)
		}
		return nil, nil
	}

	nodes := make([]CryptoNode, 0, len(children))
	for _, child := range children {
		node, err := m.toCleartext(ctx, cr, f, info, child)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.logger.Warn("skipping unreadable entry", "node", child.Path(), "error", err)
			continue
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// toCleartext maps a shard entry to its cleartext node. Entries that are not
// vault nodes or whose names cannot be decrypted yield nil.
func (m *modernLayout) toCleartext(ctx context.Context, cr *Cryptor, parent *CryptoFolder, info DirIDInfo, child store.Node) (CryptoNode, error) {
	name := child.Name()
	switch c := child.(type) {
	case *store.File:
		if name == dirIDBackupFileName || !strings.HasSuffix(name, modernSuffix) {
			return nil, nil
		}
		cleartext, ok := m.decryptName(Base64URL, info.ID, strings.TrimSuffix(name, modernSuffix), c.Path())
		if !ok {
			return nil, nil
		}
		f := m.fileNode(parent, cleartext, cipherName{full: name}, info.Shard, c)
		f.size = m.cleartextSize(cr, c)
		f.modified, _ = c.Modified()
		return f, nil
	case *store.Folder:
		switch {
		case strings.HasSuffix(name, shortenedSuffix):
			return m.longNode(ctx, cr, parent, info, c)
		case strings.HasSuffix(name, modernSuffix):
			cleartext, ok := m.decryptName(Base64URL, info.ID, strings.TrimSuffix(name, modernSuffix), c.Path())
			if !ok {
				return nil, nil
			}
			return m.folderNode(parent, cleartext, cipherName{full: name}, info.Shard), nil
		}
	}
	return nil, nil
}

// resolveSurrogate returns the full encrypted name of a .c9s wrapper.
func (m *modernLayout) resolveSurrogate(ctx context.Context, wrapper *store.Folder) (string, error) {
	full, err := m.readText(ctx, m.store.File(wrapper, nameFileName, store.UnknownSize))
	if err != nil {
		if store.IsNotFound(err) {
			return "", NewCorruptionError(wrapper.Path(), errors.New("name file missing"))
		}
		return "", err
	}
	return strings.TrimSpace(full), nil
}

func (m *modernLayout) longNode(ctx context.Context, cr *Cryptor, parent *CryptoFolder, info DirIDInfo, wrapper *store.Folder) (CryptoNode, error) {
	full, err := m.resolveSurrogate(ctx, wrapper)
	if err != nil {
		return nil, err
	}
	cleartext, ok := m.decryptName(Base64URL, info.ID, strings.TrimSuffix(full, modernSuffix), wrapper.Path())
	if !ok {
		return nil, nil
	}
	contents, err := m.store.List(ctx, wrapper)
	if err != nil {
		return nil, err
	}
	cn := cipherName{full: full, short: wrapper.Name()}
	for _, n := range contents {
		payload, ok := n.(*store.File)
		if !ok {
			continue
		}
		switch payload.Name() {
		case dirFileName:
			return m.folderNode(parent, cleartext, cn, info.Shard), nil
		case contentsFileName:
			f := m.fileNode(parent, cleartext, cn, info.Shard, payload)
			f.size = m.cleartextSize(cr, payload)
			f.modified, _ = payload.Modified()
			return f, nil
		case symlinkFileName:
			return &CryptoSymlink{nodeBase: newNodeBase(parent, cleartext, cn), link: payload, wrapper: wrapper}, nil
		}
	}
	return nil, NewCorruptionError(wrapper.Path(), errors.New("wrapper holds no payload"))
}

func (m *modernLayout) create(ctx context.Context, f *CryptoFolder) (*CryptoFolder, error) {
	if f.IsRoot() {
		return nil, alreadyExists("create", f)
	}
	cn := f.encrypted()
	if err := m.requireShard(ctx, f.parent, f.wrapper.Parent()); err != nil {
		return nil, err
	}
	taken, err := m.occupied(ctx, f.wrapper.Parent(), cn)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists("create", f)
	}

	if err := m.ensureFolder(ctx, f.wrapper); err != nil {
		return nil, err
	}
	if cn.long() {
		if err := m.writeText(ctx, m.store.File(f.wrapper, nameFileName, store.UnknownSize), cn.full, true); err != nil {
			return nil, err
		}
	}

	dirID := uuid.NewString()
	shard, err := m.shardLocation(dirID)
	if err != nil {
		return nil, err
	}
	if err := m.ensureFolder(ctx, shard); err != nil {
		return nil, err
	}
	if err := m.writeText(ctx, f.dirFile, dirID, false); err != nil {
		if store.IsAlreadyExists(err) {
			return nil, alreadyExists("create", f)
		}
		return nil, err
	}
	m.cache.evictSubtree(f.Path())
	m.cache.put(modernKey(f), DirIDInfo{ID: dirID, Shard: shard})
	m.backupDirID(ctx, shard, dirID)
	return f, nil
}

// backupDirID stores the encrypted directory id inside its own shard so the
// tree can be rebuilt if directory files get lost. Failures are logged only.
func (m *modernLayout) backupDirID(ctx context.Context, shard *store.Folder, dirID string) {
	cr, err := m.cryptor()
	if err == nil {
		backup := m.store.File(shard, dirIDBackupFileName, store.UnknownSize)
		_, err = m.pipeline.encrypt(ctx, cr, backup, strings.NewReader(dirID), nil, true, int64(len(dirID)))
	}
	if err != nil {
		m.logger.Warn("failed to write directory id backup", "shard", shard.Path(), "error", err)
	}
}

func (m *modernLayout) moveFolder(ctx context.Context, src, dst *CryptoFolder) (*CryptoFolder, error) {
	if src.IsRoot() || dst.IsRoot() {
		return nil, NewValidationError("folder", "/", "the root folder cannot be moved")
	}
	dcn := dst.encrypted()
	if err := m.requireShard(ctx, dst.parent, dst.wrapper.Parent()); err != nil {
		return nil, err
	}
	taken, err := m.occupied(ctx, dst.wrapper.Parent(), dcn)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists("move", dst)
	}

	if !src.encrypted().long() && !dcn.long() {
		if _, err := m.store.MoveFolder(ctx, src.wrapper, dst.wrapper); err != nil {
			return nil, err
		}
	} else {
		if err := m.ensureFolder(ctx, dst.wrapper); err != nil {
			return nil, err
		}
		if dcn.long() {
			if err := m.writeText(ctx, m.store.File(dst.wrapper, nameFileName, store.UnknownSize), dcn.full, true); err != nil {
				return nil, err
			}
		}
		if _, err := m.store.MoveFile(ctx, src.dirFile, dst.dirFile); err != nil {
			return nil, err
		}
		if err := m.store.Delete(ctx, src.wrapper); err != nil {
			return nil, err
		}
	}
	m.cache.evictSubtree(src.Path())
	m.cache.evictSubtree(dst.Path())
	return dst, nil
}

func (m *modernLayout) moveFile(ctx context.Context, src, dst *CryptoFile) (*CryptoFile, error) {
	dcn := dst.encrypted()
	if err := m.requireShard(ctx, dst.parent, shardOf(dst)); err != nil {
		return nil, err
	}
	taken, err := m.occupied(ctx, shardOf(dst), dcn)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, alreadyExists("move", dst)
	}

	if dcn.long() {
		if err := m.ensureFolder(ctx, dst.wrapper); err != nil {
			return nil, err
		}
		if err := m.writeText(ctx, m.store.File(dst.wrapper, nameFileName, store.UnknownSize), dcn.full, true); err != nil {
			return nil, err
		}
	}
	moved, err := m.store.MoveFile(ctx, src.content, dst.content)
	if err != nil {
		return nil, err
	}
	if src.wrapper != nil {
		if err := m.store.Delete(ctx, src.wrapper); err != nil {
			return nil, err
		}
	}
	out := m.fileNode(dst.parent, dst.name, dcn, shardOf(dst), moved)
	out.size = src.size
	out.modified, _ = moved.Modified()
	return out, nil
}

func (m *modernLayout) delete(ctx context.Context, node CryptoNode) error {
	switch n := node.(type) {
	case *CryptoFile:
		if n.wrapper != nil {
			return m.store.Delete(ctx, n.wrapper)
		}
		return m.store.Delete(ctx, n.content)
	case *CryptoSymlink:
		if n.wrapper != nil {
			return m.store.Delete(ctx, n.wrapper)
		}
		return m.store.Delete(ctx, n.link)
	case *CryptoFolder:
		if n.IsRoot() {
			return NewValidationError("folder", "/", "the root folder cannot be deleted")
		}
		if err := m.deleteShards(ctx, m, n); err != nil {
			return err
		}
		return m.store.Delete(ctx, n.wrapper)
	}
	return NewValidationError("node", node, "unknown node type")
}

func (m *modernLayout) write(ctx context.Context, f *CryptoFile, r io.Reader, progress store.ProgressFunc, replace bool, length int64) (*CryptoFile, error) {
	cr, err := m.cryptor()
	if err != nil {
		return nil, err
	}
	cn := f.encrypted()
	shard := shardOf(f)
	if err := m.requireShard(ctx, f.parent, shard); err != nil {
		return nil, err
	}
	wrapper := m.store.Folder(shard, cn.stored())
	for _, other := range []string{dirFileName, symlinkFileName} {
		ok, err := m.store.Exists(ctx, m.store.File(wrapper, other, store.UnknownSize))
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, alreadyExists("write", f)
		}
	}
	if !replace {
		ok, err := m.store.Exists(ctx, f.content)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, alreadyExists("write", f)
		}
	}
	created := false
	if cn.long() {
		ok, err := m.store.Exists(ctx, f.wrapper)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := m.ensureFolder(ctx, f.wrapper); err != nil {
				return nil, err
			}
			created = true
		}
		if err := m.writeText(ctx, m.store.File(f.wrapper, nameFileName, store.UnknownSize), cn.full, true); err != nil {
			if created {
				m.store.Delete(context.WithoutCancel(ctx), f.wrapper)
			}
			return nil, err
		}
	}

	stored, err := m.pipeline.encrypt(ctx, cr, f.content, r, progress, replace, length)
	if err != nil {
		// A wrapper without contents would list as a broken node.
		if created {
			if derr := m.store.Delete(context.WithoutCancel(ctx), f.wrapper); derr != nil {
				m.logger.Warn("failed to remove incomplete long name wrapper", "path", f.wrapper.Path(), "error", derr)
			}
		}
		if store.IsAlreadyExists(err) {
			return nil, alreadyExists("write", f)
		}
		return nil, err
	}
	out := m.fileNode(f.parent, f.name, cn, shard, stored)
	out.size = length
	if length < 0 {
		out.size = m.cleartextSize(cr, stored)
	}
	out.modified, _ = stored.Modified()
	return out, nil
}

func (m *modernLayout) migrateNames(context.Context, *CryptoFolder) (int, error) {
	return 0, nil
}
