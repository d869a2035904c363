package vaultfs

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// NameEncoding is the alphabet encrypted names are written in
type NameEncoding uint8

const (
	// Base64URL is used by vault formats 7 and newer
	Base64URL NameEncoding = iota
	// Base32 is used by vault formats 5 and 6
	Base32
)

func (e NameEncoding) encode(b []byte) string {
	if e == Base32 {
		return base32.StdEncoding.EncodeToString(b)
	}
	return base64.URLEncoding.EncodeToString(b)
}

func (e NameEncoding) decode(s string) ([]byte, error) {
	if e == Base32 {
		return base32.StdEncoding.DecodeString(s)
	}
	return base64.URLEncoding.DecodeString(s)
}

// FileNameCryptor encrypts node names deterministically with AES-SIV. The
// associated data is the directory id of the parent, binding a name to its
// folder.
type FileNameCryptor struct {
	keys *keyring
}

func (c *FileNameCryptor) siv(fn func(*sivCipher) error) error {
	return c.keys.use(func(encKey, macKey []byte) error {
		s, err := newSIV(macKey, encKey)
		if err != nil {
			return err
		}
		return fn(s)
	})
}

// EncryptFilename encrypts the NFC form of cleartext.
func (c *FileNameCryptor) EncryptFilename(enc NameEncoding, cleartext string, ad ...[]byte) (string, error) {
	var out string
	err := c.siv(func(s *sivCipher) error {
		out = enc.encode(s.Seal([]byte(norm.NFC.String(cleartext)), ad...))
		return nil
	})
	return out, err
}

// DecryptFilename reverses EncryptFilename. Malformed input fails with
// ErrInvalidCiphertext, a wrong key or associated data with an
// AuthenticationError.
func (c *FileNameCryptor) DecryptFilename(enc NameEncoding, ciphertext string, ad ...[]byte) (string, error) {
	raw, err := enc.decode(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	var out string
	err = c.siv(func(s *sivCipher) error {
		plain, oerr := s.Open(raw, ad...)
		if oerr != nil {
			return oerr
		}
		out = string(plain)
		return nil
	})
	if err != nil {
		if IsAuthenticationError(err) {
			return "", NewAuthenticationError(ciphertext, err)
		}
		return "", err
	}
	return out, nil
}

// HashDirectoryID returns the shard name of a directory id:
// base32(SHA-1(SIV(id))).
func (c *FileNameCryptor) HashDirectoryID(dirID string) (string, error) {
	var out string
	err := c.siv(func(s *sivCipher) error {
		sum := sha1.Sum(s.Seal([]byte(dirID)))
		out = base32.StdEncoding.EncodeToString(sum[:])
		return nil
	})
	return out, err
}
