package vaultfs

import (
	"encoding/binary"
	"fmt"
)

// Encrypted file layout
//
// ┌─────────────────────────────────────┐
// │ File header                         │ <- nonce, encrypted payload, tag
// │ - payload: 8 reserved bytes (0xFF)  │
// │            32 byte content key      │
// ├─────────────────────────────────────┤
// │ Chunk 0                             │
// │ ├─ Nonce                            │
// │ ├─ Ciphertext (up to 32 KiB)        │
// │ └─ Tag                              │
// ├─────────────────────────────────────┤
// │ Chunk 1                             │
// │ └─ ...                              │
// └─────────────────────────────────────┘
//
// Every chunk is bound to its index and to the header nonce, so chunks cannot
// be reordered or moved between files. An empty file consists of the header
// only.

const (
	// CleartextChunkSize is the payload size of every chunk but the last
	CleartextChunkSize = 32 * 1024

	headerReservedSize = 8
	contentKeySize     = 32
	headerPayloadSize  = headerReservedSize + contentKeySize

	ctrmacNonceSize = 16
	ctrmacMacSize   = 32
	gcmNonceSize    = 12
	gcmTagSize      = 16
)

// chunkLayout computes sizes for a chunked cipher with a fixed per-chunk
// overhead.
type chunkLayout struct {
	cleartext int
	overhead  int
}

func (l chunkLayout) CleartextChunkSize() int  { return l.cleartext }
func (l chunkLayout) CiphertextChunkSize() int { return l.cleartext + l.overhead }

// CleartextSize returns the cleartext size of a ciphertext body, excluding
// the header. Bodies whose last chunk cannot hold any payload are invalid.
func (l chunkLayout) CleartextSize(ciphertextSize int64) (int64, error) {
	if ciphertextSize < 0 {
		return 0, NewValidationError("ciphertextSize", ciphertextSize, "size cannot be negative")
	}
	full := ciphertextSize / int64(l.CiphertextChunkSize())
	rest := ciphertextSize % int64(l.CiphertextChunkSize())
	if rest > 0 && rest <= int64(l.overhead) {
		return 0, &CorruptionError{Message: fmt.Sprintf("invalid ciphertext size %d", ciphertextSize), Err: ErrInvalidCiphertext}
	}
	size := full * int64(l.cleartext)
	if rest > 0 {
		size += rest - int64(l.overhead)
	}
	return size, nil
}

// CiphertextSize returns the ciphertext body size of cleartextSize bytes.
func (l chunkLayout) CiphertextSize(cleartextSize int64) int64 {
	if cleartextSize <= 0 {
		return 0
	}
	full := cleartextSize / int64(l.cleartext)
	rest := cleartextSize % int64(l.cleartext)
	size := full * int64(l.CiphertextChunkSize())
	if rest > 0 {
		size += rest + int64(l.overhead)
	}
	return size
}

func (l chunkLayout) checkCleartext(chunk []byte) error {
	if len(chunk) > l.cleartext {
		return NewValidationError("chunk", len(chunk), fmt.Sprintf("chunk exceeds %d bytes", l.cleartext))
	}
	return nil
}

func (l chunkLayout) checkCiphertext(chunk []byte, chunkNo int64) error {
	if len(chunk) < l.overhead || len(chunk) > l.CiphertextChunkSize() {
		return &AuthenticationError{ChunkIdx: chunkNo, Message: fmt.Sprintf("invalid chunk size %d", len(chunk)), Err: ErrInvalidCiphertext}
	}
	return nil
}

// encodeHeaderPayload returns the reserved bytes followed by the content key.
func encodeHeaderPayload(contentKey []byte) []byte {
	payload := make([]byte, headerPayloadSize)
	for i := 0; i < headerReservedSize; i++ {
		payload[i] = 0xff
	}
	copy(payload[headerReservedSize:], contentKey)
	return payload
}

func decodeHeaderPayload(payload []byte) []byte {
	return append([]byte(nil), payload[headerReservedSize:]...)
}

// chunkNumber encodes the index of a chunk as big endian uint64.
func chunkNumber(chunkNo int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(chunkNo))
	return b
}
