package vaultfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// sivCipher implements AES-SIV (RFC 5297), a deterministic authenticated
// cipher. Equal plaintexts under equal associated data encrypt to equal
// ciphertexts, which is what makes encrypted names addressable.
//
// The MAC key drives S2V (CMAC), the encryption key drives CTR. Both keys must
// have the same AES key size.
type sivCipher struct {
	mac cipher.Block
	ctr cipher.Block
}

const sivTagSize = 16

func newSIV(macKey, encKey []byte) (*sivCipher, error) {
	if len(macKey) != len(encKey) {
		return nil, fmt.Errorf("AES-SIV requires keys of equal size, got %d and %d bytes", len(macKey), len(encKey))
	}
	mac, err := aes.NewCipher(macKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	ctr, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &sivCipher{mac: mac, ctr: ctr}, nil
}

// Seal returns tag || ciphertext.
func (s *sivCipher) Seal(plaintext []byte, ad ...[]byte) []byte {
	tag := s.s2v(plaintext, ad)
	out := make([]byte, sivTagSize+len(plaintext))
	copy(out, tag)
	s.xorCTR(tag, out[sivTagSize:], plaintext)
	return out
}

// Open verifies and decrypts tag || ciphertext.
func (s *sivCipher) Open(sealed []byte, ad ...[]byte) ([]byte, error) {
	if len(sealed) < sivTagSize {
		return nil, ErrInvalidCiphertext
	}
	tag := sealed[:sivTagSize]
	plaintext := make([]byte, len(sealed)-sivTagSize)
	s.xorCTR(tag, plaintext, sealed[sivTagSize:])
	if subtle.ConstantTimeCompare(tag, s.s2v(plaintext, ad)) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// s2v derives the synthetic IV from the associated data and the plaintext.
func (s *sivCipher) s2v(plaintext []byte, ad [][]byte) []byte {
	d := s.cmac(make([]byte, 16))
	for _, a := range ad {
		d = gfDouble(d)
		xorInto(d, s.cmac(a))
	}

	var t []byte
	if len(plaintext) >= 16 {
		t = append([]byte(nil), plaintext...)
		xorInto(t[len(t)-16:], d)
	} else {
		t = gfDouble(d)
		xorInto(t, padBlock(plaintext))
	}
	return s.cmac(t)
}

// cmac computes AES-CMAC (RFC 4493) of data under the MAC key.
func (s *sivCipher) cmac(data []byte) []byte {
	l := make([]byte, 16)
	s.mac.Encrypt(l, l)
	k1 := gfDouble(l)
	k2 := gfDouble(k1)

	n := (len(data) + 15) / 16
	complete := n > 0 && len(data)%16 == 0
	if n == 0 {
		n = 1
	}

	last := make([]byte, 16)
	if complete {
		copy(last, data[16*(n-1):])
		xorInto(last, k1)
	} else {
		last = padBlock(data[16*(n-1):])
		xorInto(last, k2)
	}

	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorInto(mac, data[16*i:16*(i+1)])
		s.mac.Encrypt(mac, mac)
	}
	xorInto(mac, last)
	s.mac.Encrypt(mac, mac)
	return mac
}

// xorCTR runs AES-CTR with the counter derived from the tag. Bits 31 and 63
// of the counter are cleared.
func (s *sivCipher) xorCTR(tag, dst, src []byte) {
	iv := make([]byte, 16)
	copy(iv, tag)
	iv[8] &= 0x7f
	iv[12] &= 0x7f
	cipher.NewCTR(s.ctr, iv).XORKeyStream(dst, src)
}

// gfDouble multiplies a 128-bit block by x in GF(2^128).
func gfDouble(b []byte) []byte {
	hi := binary.BigEndian.Uint64(b[:8])
	lo := binary.BigEndian.Uint64(b[8:])
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], hi<<1|lo>>63)
	binary.BigEndian.PutUint64(out[8:], lo<<1)
	if hi>>63 != 0 {
		out[15] ^= 0x87
	}
	return out
}

// padBlock applies 10* padding to a partial block.
func padBlock(partial []byte) []byte {
	out := make([]byte, 16)
	copy(out, partial)
	out[len(partial)] = 0x80
	return out
}

func xorInto(dst, src []byte) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] ^= src[i]
	}
}
