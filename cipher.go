package vaultfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// FileHeader is the decrypted header of a file. ContentKey encrypts the
// chunks of that file only.
type FileHeader struct {
	Nonce      []byte
	ContentKey []byte
}

// Destroy wipes the content key.
func (h *FileHeader) Destroy() {
	if h != nil {
		clear(h.ContentKey)
	}
}

// FileHeaderCryptor creates, encrypts and decrypts file headers
type FileHeaderCryptor interface {
	// Create returns a header with a fresh nonce and content key
	Create() (*FileHeader, error)

	// HeaderSize returns the size of an encrypted header in bytes
	HeaderSize() int

	// EncryptHeader encrypts h under the masterkey
	EncryptHeader(h *FileHeader) ([]byte, error)

	// DecryptHeader authenticates and decrypts an encrypted header
	DecryptHeader(ciphertext []byte) (*FileHeader, error)
}

// FileContentCryptor encrypts and decrypts the chunks of a file
type FileContentCryptor interface {
	CleartextChunkSize() int
	CiphertextChunkSize() int

	// CleartextSize converts a ciphertext body size (without header)
	CleartextSize(ciphertextSize int64) (int64, error)

	// CiphertextSize converts a cleartext size to a ciphertext body size
	CiphertextSize(cleartextSize int64) int64

	// EncryptChunk encrypts chunk number chunkNo of the file with header h
	EncryptChunk(cleartext []byte, chunkNo int64, h *FileHeader) ([]byte, error)

	// DecryptChunk authenticates and decrypts chunk number chunkNo
	DecryptChunk(ciphertext []byte, chunkNo int64, h *FileHeader) ([]byte, error)
}

func newContentCryptors(combo CipherCombo, keys *keyring) (FileHeaderCryptor, FileContentCryptor, error) {
	switch combo {
	case SIVCTRMAC:
		return &ctrmacHeaderCryptor{keys: keys},
			&ctrmacContentCryptor{keys: keys, chunkLayout: chunkLayout{cleartext: CleartextChunkSize, overhead: ctrmacNonceSize + ctrmacMacSize}},
			nil
	case SIVGCM:
		return &gcmHeaderCryptor{keys: keys},
			&gcmContentCryptor{chunkLayout: chunkLayout{cleartext: CleartextChunkSize, overhead: gcmNonceSize + gcmTagSize}},
			nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, combo)
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

func newHeader(nonceSize int) (*FileHeader, error) {
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	key, err := randomBytes(contentKeySize)
	if err != nil {
		return nil, err
	}
	return &FileHeader{Nonce: nonce, ContentKey: key}, nil
}

func aesCTR(key, iv, dst, src []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(dst, src)
	return nil
}

func aesGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func hmacSHA256(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// SIV_CTRMAC

type ctrmacHeaderCryptor struct {
	keys *keyring
}

func (c *ctrmacHeaderCryptor) Create() (*FileHeader, error) { return newHeader(ctrmacNonceSize) }

func (c *ctrmacHeaderCryptor) HeaderSize() int {
	return ctrmacNonceSize + headerPayloadSize + ctrmacMacSize
}

func (c *ctrmacHeaderCryptor) EncryptHeader(h *FileHeader) ([]byte, error) {
	if err := ValidateBuffer(h.Nonce, "nonce", ctrmacNonceSize); err != nil {
		return nil, err
	}
	out := make([]byte, c.HeaderSize())
	copy(out, h.Nonce[:ctrmacNonceSize])
	payload := encodeHeaderPayload(h.ContentKey)
	defer clear(payload)

	err := c.keys.use(func(encKey, macKey []byte) error {
		body := out[ctrmacNonceSize : ctrmacNonceSize+headerPayloadSize]
		if err := aesCTR(encKey, h.Nonce[:ctrmacNonceSize], body, payload); err != nil {
			return err
		}
		copy(out[ctrmacNonceSize+headerPayloadSize:], hmacSHA256(macKey, out[:ctrmacNonceSize+headerPayloadSize]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ctrmacHeaderCryptor) DecryptHeader(ciphertext []byte) (*FileHeader, error) {
	if len(ciphertext) != c.HeaderSize() {
		return nil, &AuthenticationError{ChunkIdx: -1, Message: "invalid header size", Err: ErrInvalidCiphertext}
	}
	nonce := ciphertext[:ctrmacNonceSize]
	body := ciphertext[ctrmacNonceSize : ctrmacNonceSize+headerPayloadSize]
	tag := ciphertext[ctrmacNonceSize+headerPayloadSize:]

	var h *FileHeader
	err := c.keys.use(func(encKey, macKey []byte) error {
		if !hmac.Equal(tag, hmacSHA256(macKey, ciphertext[:ctrmacNonceSize+headerPayloadSize])) {
			return &AuthenticationError{ChunkIdx: -1, Message: "header MAC mismatch"}
		}
		payload := make([]byte, headerPayloadSize)
		defer clear(payload)
		if err := aesCTR(encKey, nonce, payload, body); err != nil {
			return err
		}
		h = &FileHeader{Nonce: append([]byte(nil), nonce...), ContentKey: decodeHeaderPayload(payload)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

type ctrmacContentCryptor struct {
	keys *keyring
	chunkLayout
}

func (c *ctrmacContentCryptor) EncryptChunk(cleartext []byte, chunkNo int64, h *FileHeader) ([]byte, error) {
	if err := c.checkCleartext(cleartext); err != nil {
		return nil, err
	}
	nonce, err := randomBytes(ctrmacNonceSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, ctrmacNonceSize+len(cleartext), ctrmacNonceSize+len(cleartext)+ctrmacMacSize)
	copy(out, nonce)
	if err := aesCTR(h.ContentKey, nonce, out[ctrmacNonceSize:], cleartext); err != nil {
		return nil, err
	}
	err = c.keys.use(func(_, macKey []byte) error {
		out = append(out, hmacSHA256(macKey, h.Nonce, chunkNumber(chunkNo), out)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ctrmacContentCryptor) DecryptChunk(ciphertext []byte, chunkNo int64, h *FileHeader) ([]byte, error) {
	if err := c.checkCiphertext(ciphertext, chunkNo); err != nil {
		return nil, err
	}
	body := ciphertext[:len(ciphertext)-ctrmacMacSize]
	tag := ciphertext[len(ciphertext)-ctrmacMacSize:]

	err := c.keys.use(func(_, macKey []byte) error {
		if !hmac.Equal(tag, hmacSHA256(macKey, h.Nonce, chunkNumber(chunkNo), body)) {
			return &AuthenticationError{ChunkIdx: chunkNo, Message: "chunk MAC mismatch"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(body)-ctrmacNonceSize)
	if err := aesCTR(h.ContentKey, body[:ctrmacNonceSize], out, body[ctrmacNonceSize:]); err != nil {
		return nil, err
	}
	return out, nil
}

// SIV_GCM

type gcmHeaderCryptor struct {
	keys *keyring
}

func (c *gcmHeaderCryptor) Create() (*FileHeader, error) { return newHeader(gcmNonceSize) }

func (c *gcmHeaderCryptor) HeaderSize() int {
	return gcmNonceSize + headerPayloadSize + gcmTagSize
}

func (c *gcmHeaderCryptor) EncryptHeader(h *FileHeader) ([]byte, error) {
	if err := ValidateBuffer(h.Nonce, "nonce", gcmNonceSize); err != nil {
		return nil, err
	}
	payload := encodeHeaderPayload(h.ContentKey)
	defer clear(payload)

	var out []byte
	err := c.keys.use(func(encKey, _ []byte) error {
		aead, err := aesGCM(encKey)
		if err != nil {
			return err
		}
		nonce := h.Nonce[:gcmNonceSize]
		out = aead.Seal(append([]byte(nil), nonce...), nonce, payload, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gcmHeaderCryptor) DecryptHeader(ciphertext []byte) (*FileHeader, error) {
	if len(ciphertext) != c.HeaderSize() {
		return nil, &AuthenticationError{ChunkIdx: -1, Message: "invalid header size", Err: ErrInvalidCiphertext}
	}
	nonce := ciphertext[:gcmNonceSize]

	var h *FileHeader
	err := c.keys.use(func(encKey, _ []byte) error {
		aead, err := aesGCM(encKey)
		if err != nil {
			return err
		}
		payload, err := aead.Open(nil, nonce, ciphertext[gcmNonceSize:], nil)
		if err != nil {
			return &AuthenticationError{ChunkIdx: -1, Message: "header tag mismatch"}
		}
		defer clear(payload)
		h = &FileHeader{Nonce: append([]byte(nil), nonce...), ContentKey: decodeHeaderPayload(payload)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

type gcmContentCryptor struct {
	chunkLayout
}

func (c *gcmContentCryptor) EncryptChunk(cleartext []byte, chunkNo int64, h *FileHeader) ([]byte, error) {
	if err := c.checkCleartext(cleartext); err != nil {
		return nil, err
	}
	aead, err := aesGCM(h.ContentKey)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(gcmNonceSize)
	if err != nil {
		return nil, err
	}
	aad := append(chunkNumber(chunkNo), h.Nonce...)
	return aead.Seal(nonce, nonce, cleartext, aad), nil
}

func (c *gcmContentCryptor) DecryptChunk(ciphertext []byte, chunkNo int64, h *FileHeader) ([]byte, error) {
	if err := c.checkCiphertext(ciphertext, chunkNo); err != nil {
		return nil, err
	}
	aead, err := aesGCM(h.ContentKey)
	if err != nil {
		return nil, err
	}
	aad := append(chunkNumber(chunkNo), h.Nonce...)
	out, err := aead.Open(make([]byte, 0, len(ciphertext)), ciphertext[:gcmNonceSize], ciphertext[gcmNonceSize:], aad)
	if err != nil {
		return nil, &AuthenticationError{ChunkIdx: chunkNo, Message: "chunk tag mismatch"}
	}
	return out, nil
}
