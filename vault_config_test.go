package vaultfs

import (
	"bytes"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultConfig_SignParseVerify(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, masterkeySize)
	cfg := NewVaultConfig(8, SIVGCM, 180)

	token, err := cfg.Sign(key)
	require.NoError(t, err)

	unverified, err := ParseUnverifiedVaultConfig(token)
	require.NoError(t, err)
	assert.Equal(t, MasterkeyFileKeyID, unverified.KeyID)
	assert.Equal(t, 8, unverified.Format)

	name, err := unverified.MasterkeyFileName()
	require.NoError(t, err)
	assert.Equal(t, MasterkeyFileName, name)

	verified, err := unverified.Verify(key)
	require.NoError(t, err)
	assert.Equal(t, cfg, *verified)
}

func TestVaultConfig_WrongKey(t *testing.T) {
	token, err := NewVaultConfig(8, SIVCTRMAC, DefaultShorteningThreshold).Sign(bytes.Repeat([]byte{1}, masterkeySize))
	require.NoError(t, err)

	unverified, err := ParseUnverifiedVaultConfig(token)
	require.NoError(t, err)

	_, err = unverified.Verify(bytes.Repeat([]byte{2}, masterkeySize))
	require.Error(t, err)
	assert.True(t, IsSignatureInvalid(err))
}

func TestVaultConfig_FormatSubstitution(t *testing.T) {
	key := bytes.Repeat([]byte{3}, masterkeySize)
	token, err := NewVaultConfig(8, SIVCTRMAC, DefaultShorteningThreshold).Sign(key)
	require.NoError(t, err)

	unverified, err := ParseUnverifiedVaultConfig(token)
	require.NoError(t, err)
	unverified.Format = 7

	_, err = unverified.Verify(key)
	require.Error(t, err)
	assert.True(t, IsVaultConfigError(err))
	assert.False(t, IsSignatureInvalid(err))
}

func TestVaultConfig_FormatBounds(t *testing.T) {
	key := bytes.Repeat([]byte{4}, masterkeySize)
	for _, format := range []int{4, 9} {
		token, err := NewVaultConfig(format, SIVCTRMAC, DefaultShorteningThreshold).Sign(key)
		require.NoError(t, err)
		unverified, err := ParseUnverifiedVaultConfig(token)
		require.NoError(t, err)

		_, err = unverified.Verify(key)
		assert.True(t, IsUnsupportedVaultFormat(err), "format %d: %v", format, err)
	}
}

func TestVaultConfig_ShorteningThresholdFallback(t *testing.T) {
	key := bytes.Repeat([]byte{5}, masterkeySize)
	claims := jwt.MapClaims{
		"format":              8,
		"cipherCombo":         "SIV_CTRMAC",
		"shorteningThreshold": 150,
		"jti":                 "legacy-claims",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = MasterkeyFileKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	unverified, err := ParseUnverifiedVaultConfig(signed)
	require.NoError(t, err)
	cfg, err := unverified.Verify(key)
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.ShorteningThreshold)
	assert.Equal(t, "legacy-claims", cfg.ID)
}

func TestVaultConfig_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUnverifiedVaultConfig(tt.token)
			assert.True(t, IsVaultConfigError(err))
		})
	}

	t.Run("unsupported key scheme", func(t *testing.T) {
		u := &UnverifiedVaultConfig{KeyID: "hub+https://example.com/key"}
		_, err := u.MasterkeyFileName()
		assert.True(t, IsVaultConfigError(err))
	})
}
