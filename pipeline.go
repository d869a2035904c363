package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/absfs/absfs"
	"github.com/google/uuid"

	"github.com/absfs/vaultfs/store"
)

// contentPipeline moves file contents between cleartext streams and the
// content store. Ciphertext is staged in a temporary file on the staging
// filesystem, so the store always sees a complete file of known size.
type contentPipeline struct {
	store  store.ContentStore
	fs     absfs.FileSystem
	dir    string
	logger *slog.Logger
}

func newContentPipeline(cs store.ContentStore, o *options) *contentPipeline {
	return &contentPipeline{store: cs, fs: o.stagingFS, dir: o.stagingDir, logger: o.logger}
}

// stage creates a temporary file. The returned function closes and removes it.
func (p *contentPipeline) stage() (absfs.File, func(), error) {
	if err := p.fs.MkdirAll(p.dir, 0o700); err != nil {
		return nil, nil, NewIOError("stage", p.dir, err)
	}
	name := path.Join(p.dir, "vaultfs-"+uuid.NewString()+".tmp")
	f, err := p.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, NewIOError("stage", name, err)
	}
	cleanup := func() {
		f.Close()
		if err := p.fs.Remove(name); err != nil {
			p.logger.Warn("failed to remove staging file", "path", name, "error", err)
		}
	}
	return f, cleanup, nil
}

// encrypt reads cleartext from r and stores it encrypted as dst. length is
// the cleartext size or store.UnknownSize.
func (p *contentPipeline) encrypt(ctx context.Context, cr *Cryptor, dst *store.File, r io.Reader, progress store.ProgressFunc, replace bool, length int64) (*store.File, error) {
	tmp, cleanup, err := p.stage()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	hc := cr.FileHeaderCryptor()
	cc := cr.FileContentCryptor()
	header, err := hc.Create()
	if err != nil {
		return nil, err
	}
	defer header.Destroy()

	encHeader, err := hc.EncryptHeader(header)
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Write(encHeader); err != nil {
		return nil, NewIOError("stage", dst.Path(), err)
	}

	buf := make([]byte, cc.CleartextChunkSize())
	var done int64
	progress.Report(store.Progress{State: store.StateEncryption, Done: 0, Total: length})
	for chunkNo := int64(0); ; chunkNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			chunk, err := cc.EncryptChunk(buf[:n], chunkNo, header)
			if err != nil {
				return nil, err
			}
			if _, err := tmp.Write(chunk); err != nil {
				return nil, NewIOError("stage", dst.Path(), err)
			}
			done += int64(n)
			progress.Report(store.Progress{State: store.StateEncryption, Done: done, Total: length})
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return nil, NewIOError("read", dst.Path(), rerr)
		}
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, NewIOError("stage", dst.Path(), err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, NewIOError("stage", dst.Path(), err)
	}
	return p.store.Write(ctx, dst, tmp, progress, replace, size)
}

// decrypt downloads src and writes its cleartext to w.
func (p *contentPipeline) decrypt(ctx context.Context, cr *Cryptor, src *store.File, w io.Writer, progress store.ProgressFunc) error {
	tmp, cleanup, err := p.stage()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := p.store.Read(ctx, src, tmp, progress); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return NewIOError("stage", src.Path(), err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return NewIOError("stage", src.Path(), err)
	}

	hc := cr.FileHeaderCryptor()
	cc := cr.FileContentCryptor()
	total := store.UnknownSize
	if body := size - int64(hc.HeaderSize()); body >= 0 {
		if n, err := cc.CleartextSize(body); err == nil {
			total = n
		}
	}

	encHeader := make([]byte, hc.HeaderSize())
	if _, err := io.ReadFull(tmp, encHeader); err != nil {
		return &AuthenticationError{
			Path:     src.Path(),
			ChunkIdx: -1,
			Message:  fmt.Sprintf("file of %d bytes is too short for a header", size),
			Err:      ErrInvalidCiphertext,
		}
	}
	header, err := hc.DecryptHeader(encHeader)
	if err != nil {
		return &AuthenticationError{Path: src.Path(), ChunkIdx: -1, Message: "header: " + err.Error(), Err: err}
	}
	defer header.Destroy()

	buf := make([]byte, cc.CiphertextChunkSize())
	var done int64
	progress.Report(store.Progress{State: store.StateDecryption, Done: 0, Total: total})
	for chunkNo := int64(0); ; chunkNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(tmp, buf)
		if n > 0 {
			chunk, err := cc.DecryptChunk(buf[:n], chunkNo, header)
			if err != nil {
				return &AuthenticationError{Path: src.Path(), ChunkIdx: chunkNo, Message: err.Error(), Err: err}
			}
			if _, err := w.Write(chunk); err != nil {
				return NewIOError("write", src.Path(), err)
			}
			done += int64(len(chunk))
			progress.Report(store.Progress{State: store.StateDecryption, Done: done, Total: total})
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			return nil
		}
		if rerr != nil {
			return NewIOError("stage", src.Path(), rerr)
		}
	}
}
