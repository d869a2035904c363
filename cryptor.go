package vaultfs

import (
	"sync"

	"github.com/awnumar/memguard"
)

// keyring exposes the masterkey subkeys to the primitives of one Cryptor. The
// key bytes stay in a locked buffer until the cryptor is destroyed.
type keyring struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

func (k *keyring) use(fn func(encKey, macKey []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.buf == nil || !k.buf.IsAlive() {
		return ErrDestroyed
	}
	b := k.buf.Bytes()
	return fn(b[:subkeySize], b[subkeySize:])
}

func (k *keyring) destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
}

// Cryptor bundles the name, header and content ciphers of an unlocked vault.
// It is safe for concurrent use. After Destroy every operation fails with
// ErrDestroyed.
type Cryptor struct {
	combo   CipherCombo
	keys    *keyring
	names   *FileNameCryptor
	header  FileHeaderCryptor
	content FileContentCryptor
}

// NewCryptor builds a cryptor for combo from mk. mk may be destroyed
// afterwards; the cryptor keeps its own copy of the key material.
func NewCryptor(mk *Masterkey, combo CipherCombo) (*Cryptor, error) {
	buf, err := mk.open()
	if err != nil {
		return nil, err
	}
	keys := &keyring{buf: buf}
	header, content, err := newContentCryptors(combo, keys)
	if err != nil {
		keys.destroy()
		return nil, err
	}
	return &Cryptor{
		combo:   combo,
		keys:    keys,
		names:   &FileNameCryptor{keys: keys},
		header:  header,
		content: content,
	}, nil
}

// CipherCombo returns the cipher combo of the cryptor.
func (c *Cryptor) CipherCombo() CipherCombo { return c.combo }

// FileNameCryptor returns the name cipher.
func (c *Cryptor) FileNameCryptor() *FileNameCryptor { return c.names }

// FileHeaderCryptor returns the header cipher.
func (c *Cryptor) FileHeaderCryptor() FileHeaderCryptor { return c.header }

// FileContentCryptor returns the chunk cipher.
func (c *Cryptor) FileContentCryptor() FileContentCryptor { return c.content }

// Destroy wipes the key material.
func (c *Cryptor) Destroy() {
	if c != nil {
		c.keys.destroy()
	}
}

// Destroyed reports whether Destroy has been called.
func (c *Cryptor) Destroyed() bool {
	return c.keys.use(func(_, _ []byte) error { return nil }) != nil
}
