package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/google/uuid"
)

const copyBufferSize = 32 * 1024

// stagingPrefix marks in-flight writes. List skips such names.
const stagingPrefix = ".vaultfs-staging-"

// FileSystemStore implements ContentStore on top of an absfs.FileSystem. All
// nodes live below the configured root path.
type FileSystemStore struct {
	fs      absfs.FileSystem
	root    *Folder
	account string
}

// FileSystemOption configures a FileSystemStore.
type FileSystemOption func(*FileSystemStore)

// WithAccount sets the account name reported by CurrentAccount.
func WithAccount(name string) FileSystemOption {
	return func(s *FileSystemStore) {
		s.account = name
	}
}

// NewFileSystemStore returns a store rooted at rootPath of fs.
func NewFileSystemStore(fs absfs.FileSystem, rootPath string, opts ...FileSystemOption) *FileSystemStore {
	s := &FileSystemStore{
		fs:      fs,
		root:    NewRoot(rootPath),
		account: "local",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemoryStore returns a store backed by a fresh in-memory filesystem.
func NewMemoryStore(opts ...FileSystemOption) (*FileSystemStore, error) {
	fs, err := memfs.NewFS()
	if err != nil {
		return nil, fmt.Errorf("failed to create memory filesystem: %w", err)
	}
	return NewFileSystemStore(fs, "/", opts...), nil
}

// FileSystem returns the underlying filesystem.
func (s *FileSystemStore) FileSystem() absfs.FileSystem {
	return s.fs
}

func (s *FileSystemStore) Root() *Folder {
	return s.root
}

func (s *FileSystemStore) Resolve(ctx context.Context, p string) (*Folder, error) {
	folder := s.root
	for _, segment := range strings.Split(p, "/") {
		if segment == "" || segment == "." {
			continue
		}
		if segment == ".." {
			return nil, &NodeError{Op: "resolve", Path: p, Err: errors.New("path must not contain '..'")}
		}
		folder = NewFolder(folder, segment)
	}
	return folder, nil
}

func (s *FileSystemStore) File(parent *Folder, name string, size int64) *File {
	return NewFile(parent, name, size, time.Time{})
}

func (s *FileSystemStore) Folder(parent *Folder, name string) *Folder {
	return NewFolder(parent, name)
}

func (s *FileSystemStore) Exists(ctx context.Context, node Node) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := s.fs.Stat(node.Path())
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, Fatal("stat", node.Path(), err)
	}
	switch node.(type) {
	case *Folder:
		return info.IsDir(), nil
	default:
		return !info.IsDir(), nil
	}
}

func (s *FileSystemStore) List(ctx context.Context, folder *Folder) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(folder.Path())
	if err != nil {
		if isNotExist(err) {
			return nil, NotFound("list", folder.Path())
		}
		return nil, Fatal("list", folder.Path(), err)
	}
	if !info.IsDir() {
		return nil, NotFound("list", folder.Path())
	}

	dir, err := s.fs.Open(folder.Path())
	if err != nil {
		return nil, Fatal("list", folder.Path(), err)
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Fatal("list", folder.Path(), err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	nodes := make([]Node, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." || name == "" || strings.HasPrefix(name, stagingPrefix) {
			continue
		}
		if fi.IsDir() {
			nodes = append(nodes, NewFolder(folder, name))
		} else {
			nodes = append(nodes, NewFile(folder, name, fi.Size(), fi.ModTime()))
		}
	}
	return nodes, nil
}

func (s *FileSystemStore) Create(ctx context.Context, folder *Folder) (*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.fs.Stat(folder.Path()); err == nil {
		return nil, AlreadyExists("create", folder.Path())
	} else if !isNotExist(err) {
		return nil, Fatal("create", folder.Path(), err)
	}
	if err := s.fs.MkdirAll(folder.Path(), 0o755); err != nil {
		return nil, Fatal("create", folder.Path(), err)
	}
	return folder, nil
}

func (s *FileSystemStore) MoveFolder(ctx context.Context, src, dst *Folder) (*Folder, error) {
	if err := s.move(ctx, src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (s *FileSystemStore) MoveFile(ctx context.Context, src, dst *File) (*File, error) {
	if err := s.move(ctx, src, dst); err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(dst.Path())
	if err != nil {
		return nil, Fatal("move", dst.Path(), err)
	}
	return NewFile(dst.Parent(), dst.Name(), info.Size(), info.ModTime()), nil
}

func (s *FileSystemStore) move(ctx context.Context, src, dst Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.fs.Stat(src.Path()); err != nil {
		if isNotExist(err) {
			return NotFound("move", src.Path())
		}
		return Fatal("move", src.Path(), err)
	}
	if _, err := s.fs.Stat(dst.Path()); err == nil {
		return AlreadyExists("move", dst.Path())
	}
	if err := s.fs.MkdirAll(path.Dir(dst.Path()), 0o755); err != nil {
		return Fatal("move", dst.Path(), err)
	}
	if err := s.fs.Rename(src.Path(), dst.Path()); err != nil {
		return Fatal("move", src.Path(), err)
	}
	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, node Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.fs.Stat(node.Path()); err != nil {
		if isNotExist(err) {
			return NotFound("delete", node.Path())
		}
		return Fatal("delete", node.Path(), err)
	}
	if err := s.fs.RemoveAll(node.Path()); err != nil {
		return Fatal("delete", node.Path(), err)
	}
	return nil
}

func (s *FileSystemStore) Read(ctx context.Context, file *File, w io.Writer, progress ProgressFunc) error {
	f, err := s.fs.Open(file.Path())
	if err != nil {
		if isNotExist(err) {
			return NotFound("read", file.Path())
		}
		return Fatal("read", file.Path(), err)
	}
	defer f.Close()

	total := UnknownSize
	if info, err := f.Stat(); err == nil {
		if info.IsDir() {
			return NotFound("read", file.Path())
		}
		total = info.Size()
	}
	if _, err := copyWithProgress(ctx, w, f, StateDownload, total, progress); err != nil {
		return &NodeError{Op: "read", Path: file.Path(), Err: err}
	}
	return nil
}

func (s *FileSystemStore) Write(ctx context.Context, file *File, r io.Reader, progress ProgressFunc, replace bool, length int64) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info, err := s.fs.Stat(file.Path()); err == nil {
		if info.IsDir() || !replace {
			return nil, AlreadyExists("write", file.Path())
		}
	} else if !isNotExist(err) {
		return nil, Fatal("write", file.Path(), err)
	}
	if info, err := s.fs.Stat(file.Parent().Path()); err != nil || !info.IsDir() {
		return nil, NotFound("write", file.Parent().Path())
	}

	// Contents land in a sibling first so a failed replace keeps the old file.
	staged := path.Join(file.Parent().Path(), stagingPrefix+file.Name()+"-"+uuid.NewString())
	f, err := s.fs.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, Fatal("write", file.Path(), err)
	}
	if _, err := copyWithProgress(ctx, f, r, StateUpload, length, progress); err != nil {
		f.Close()
		s.fs.Remove(staged)
		return nil, &NodeError{Op: "write", Path: file.Path(), Err: err}
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(staged)
		return nil, Fatal("write", file.Path(), err)
	}
	if err := s.commit(staged, file.Path()); err != nil {
		s.fs.Remove(staged)
		return nil, Fatal("write", file.Path(), err)
	}

	info, err := s.fs.Stat(file.Path())
	if err != nil {
		return nil, Fatal("write", file.Path(), err)
	}
	return NewFile(file.Parent(), file.Name(), info.Size(), info.ModTime()), nil
}

// commit renames staged over target. Some file systems refuse to rename onto
// an existing file, so the target is removed and the rename retried once.
func (s *FileSystemStore) commit(staged, target string) error {
	err := s.fs.Rename(staged, target)
	if err == nil {
		return nil
	}
	if _, serr := s.fs.Stat(target); serr != nil {
		return err
	}
	if rerr := s.fs.Remove(target); rerr != nil {
		return err
	}
	return s.fs.Rename(staged, target)
}

func (s *FileSystemStore) CurrentAccount(ctx context.Context) (string, error) {
	if _, err := s.fs.Stat(s.root.Path()); err != nil {
		return "", Fatal("account", s.root.Path(), err)
	}
	return s.account, nil
}

// copyWithProgress copies src to dst, reporting progress after every buffer
// and aborting as soon as ctx is done.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, state State, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var done int64
	progress.Report(Progress{State: state, Done: 0, Total: total})
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += int64(n)
			progress.Report(Progress{State: state, Done: done, Total: total})
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			return done, rerr
		}
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist) || os.IsNotExist(err)
}
