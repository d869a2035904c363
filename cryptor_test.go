package vaultfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCryptor(t *testing.T, combo CipherCombo) *Cryptor {
	t.Helper()
	mk := GenerateMasterkey()
	defer mk.Destroy()
	c, err := NewCryptor(mk, combo)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	return c
}

func TestCryptor_HeaderRoundTrip(t *testing.T) {
	tests := []struct {
		combo      CipherCombo
		headerSize int
	}{
		{combo: SIVCTRMAC, headerSize: 88},
		{combo: SIVGCM, headerSize: 68},
	}
	for _, tt := range tests {
		t.Run(tt.combo.String(), func(t *testing.T) {
			c := newTestCryptor(t, tt.combo)
			hc := c.FileHeaderCryptor()
			assert.Equal(t, tt.headerSize, hc.HeaderSize())

			h, err := hc.Create()
			require.NoError(t, err)
			ct, err := hc.EncryptHeader(h)
			require.NoError(t, err)
			assert.Len(t, ct, tt.headerSize)

			decrypted, err := hc.DecryptHeader(ct)
			require.NoError(t, err)
			assert.Equal(t, h.Nonce, decrypted.Nonce)
			assert.Equal(t, h.ContentKey, decrypted.ContentKey)

			ct[len(ct)-1] ^= 0x01
			_, err = hc.DecryptHeader(ct)
			assert.True(t, IsAuthenticationError(err))

			_, err = hc.DecryptHeader(ct[:10])
			assert.True(t, IsAuthenticationError(err))
		})
	}
}

func TestCryptor_ChunkRoundTrip(t *testing.T) {
	for _, combo := range []CipherCombo{SIVCTRMAC, SIVGCM} {
		t.Run(combo.String(), func(t *testing.T) {
			c := newTestCryptor(t, combo)
			h, err := c.FileHeaderCryptor().Create()
			require.NoError(t, err)
			cc := c.FileContentCryptor()

			for _, size := range []int{0, 1, 10, CleartextChunkSize} {
				cleartext := bytes.Repeat([]byte{0x5a}, size)
				ct, err := cc.EncryptChunk(cleartext, 3, h)
				require.NoError(t, err)
				assert.Len(t, ct, size+cc.CiphertextChunkSize()-cc.CleartextChunkSize())

				pt, err := cc.DecryptChunk(ct, 3, h)
				require.NoError(t, err)
				assert.Equal(t, cleartext, pt)

				// a chunk is bound to its position
				_, err = cc.DecryptChunk(ct, 4, h)
				assert.True(t, IsAuthenticationError(err), "size %d", size)
			}

			_, err = cc.EncryptChunk(make([]byte, CleartextChunkSize+1), 0, h)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestCryptor_ChunkBoundToHeader(t *testing.T) {
	c := newTestCryptor(t, SIVCTRMAC)
	hc, cc := c.FileHeaderCryptor(), c.FileContentCryptor()
	h1, err := hc.Create()
	require.NoError(t, err)
	h2, err := hc.Create()
	require.NoError(t, err)
	h2.ContentKey = h1.ContentKey

	ct, err := cc.EncryptChunk([]byte("payload"), 0, h1)
	require.NoError(t, err)
	_, err = cc.DecryptChunk(ct, 0, h2)
	assert.True(t, IsAuthenticationError(err))
}

func TestChunkLayout_Sizes(t *testing.T) {
	l := chunkLayout{cleartext: CleartextChunkSize, overhead: 48}
	ctChunk := int64(CleartextChunkSize + 48)

	tests := []struct {
		cleartext  int64
		ciphertext int64
	}{
		{0, 0},
		{1, 49},
		{10, 58},
		{CleartextChunkSize, ctChunk},
		{CleartextChunkSize + 1, ctChunk + 49},
		{3 * CleartextChunkSize, 3 * ctChunk},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ciphertext, l.CiphertextSize(tt.cleartext), "ciphertext size of %d", tt.cleartext)
		got, err := l.CleartextSize(tt.ciphertext)
		require.NoError(t, err)
		assert.Equal(t, tt.cleartext, got, "cleartext size of %d", tt.ciphertext)
	}

	for _, invalid := range []int64{1, 48, ctChunk + 48} {
		_, err := l.CleartextSize(invalid)
		assert.True(t, IsCorruptionError(err), "size %d", invalid)
	}
}

func TestCryptor_Destroy(t *testing.T) {
	mk := GenerateMasterkey()
	c, err := NewCryptor(mk, SIVCTRMAC)
	require.NoError(t, err)
	mk.Destroy()

	_, err = c.FileNameCryptor().EncryptFilename(Base64URL, "still works", nil)
	require.NoError(t, err)

	c.Destroy()
	assert.True(t, c.Destroyed())
	_, err = c.FileNameCryptor().EncryptFilename(Base64URL, "x", nil)
	assert.ErrorIs(t, err, ErrDestroyed)
	h := &FileHeader{Nonce: make([]byte, 16), ContentKey: make([]byte, 32)}
	_, err = c.FileHeaderCryptor().EncryptHeader(h)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestNewCryptor_UnknownCombo(t *testing.T) {
	mk := GenerateMasterkey()
	defer mk.Destroy()
	_, err := NewCryptor(mk, CipherCombo("ROT13"))
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}
