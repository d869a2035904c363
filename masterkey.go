package vaultfs

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

const (
	subkeySize    = 32
	masterkeySize = 2 * subkeySize
)

// Masterkey is the raw key material of a vault: an encryption subkey followed
// by a MAC subkey. The bytes live in a memguard enclave and are only exposed
// while a cryptor or the config codec needs them.
//
// Call Destroy when done. A destroyed Masterkey returns ErrDestroyed.
type Masterkey struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// GenerateMasterkey returns fresh random key material.
func GenerateMasterkey() *Masterkey {
	return &Masterkey{enclave: memguard.NewEnclaveRandom(masterkeySize)}
}

// NewMasterkey builds a Masterkey from its two subkeys. The arguments are not
// modified; wipe them yourself when they are no longer needed.
func NewMasterkey(encKey, macKey []byte) (*Masterkey, error) {
	if err := ValidateKey(encKey, subkeySize); err != nil {
		return nil, err
	}
	if err := ValidateKey(macKey, subkeySize); err != nil {
		return nil, err
	}
	buf := make([]byte, masterkeySize)
	copy(buf, encKey)
	copy(buf[subkeySize:], macKey)
	// NewEnclave wipes buf
	return &Masterkey{enclave: memguard.NewEnclave(buf)}, nil
}

// open returns the key material in a locked buffer. The caller must destroy it.
func (m *Masterkey) open() (*memguard.LockedBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enclave == nil {
		return nil, ErrDestroyed
	}
	buf, err := m.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening masterkey enclave: %w", err)
	}
	return buf, nil
}

// Raw returns a copy of encKey || macKey. It is the key vault configs are
// signed with. The caller should wipe the returned slice.
func (m *Masterkey) Raw() ([]byte, error) {
	buf, err := m.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return append([]byte(nil), buf.Bytes()...), nil
}

// withSubkeys calls fn with the two subkeys. The slices are only valid during
// the call.
func (m *Masterkey) withSubkeys(fn func(encKey, macKey []byte) error) error {
	buf, err := m.open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	b := buf.Bytes()
	return fn(b[:subkeySize], b[subkeySize:])
}

// Destroy drops the key material. It is safe to call more than once.
func (m *Masterkey) Destroy() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.enclave = nil
	m.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (m *Masterkey) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enclave == nil
}
