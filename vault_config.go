package vaultfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MasterkeyFileKeyID is the key id of vaults whose masterkey lives in
// masterkey.cryptomator next to the vault config.
const MasterkeyFileKeyID = "masterkeyfile:" + MasterkeyFileName

const masterkeyFileScheme = "masterkeyfile:"

var configSigningMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// VaultConfig is the signed metadata of a vault of format 8 or newer.
type VaultConfig struct {
	ID                  string
	KeyID               string
	Format              int
	CipherCombo         CipherCombo
	ShorteningThreshold int
}

// NewVaultConfig returns a config with a fresh id, signed by the masterkey
// file of the vault.
func NewVaultConfig(format int, combo CipherCombo, threshold int) VaultConfig {
	return VaultConfig{
		ID:                  uuid.NewString(),
		KeyID:               MasterkeyFileKeyID,
		Format:              format,
		CipherCombo:         combo,
		ShorteningThreshold: threshold,
	}
}

type vaultConfigClaims struct {
	Format              int    `json:"format"`
	CipherCombo         string `json:"cipherCombo"`
	MaxFilenameLen      int    `json:"maxFilenameLen,omitempty"`
	ShorteningThreshold int    `json:"shorteningThreshold,omitempty"`
	jwt.RegisteredClaims
}

func (c *vaultConfigClaims) threshold() int {
	if c.MaxFilenameLen > 0 {
		return c.MaxFilenameLen
	}
	return c.ShorteningThreshold
}

// Sign encodes the config as a compact JWS signed with HMAC-SHA256 under the
// raw masterkey.
func (c VaultConfig) Sign(rawKey []byte) (string, error) {
	claims := vaultConfigClaims{
		Format:         c.Format,
		CipherCombo:    c.CipherCombo.String(),
		MaxFilenameLen: c.ShorteningThreshold,
		RegisteredClaims: jwt.RegisteredClaims{
			ID: c.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = c.KeyID
	signed, err := token.SignedString(rawKey)
	if err != nil {
		return "", fmt.Errorf("signing vault config: %w", err)
	}
	return signed, nil
}

// UnverifiedVaultConfig carries the claims needed to find the key of a vault
// before the config signature can be checked. Nothing in it is trusted.
type UnverifiedVaultConfig struct {
	Token  string
	KeyID  string
	Format int
}

// ParseUnverifiedVaultConfig reads the key id and format of token without
// checking its signature.
func ParseUnverifiedVaultConfig(token string) (*UnverifiedVaultConfig, error) {
	token = strings.TrimSpace(token)
	var claims vaultConfigClaims
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return nil, &VaultConfigError{Kind: ConfigMalformed, Message: "cannot parse token", Err: err}
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return nil, &VaultConfigError{Kind: ConfigMalformed, Message: "missing kid header"}
	}
	return &UnverifiedVaultConfig{Token: token, KeyID: kid, Format: claims.Format}, nil
}

// MasterkeyFileName returns the name of the masterkey file referenced by the
// key id, or an error for unsupported key schemes.
func (u *UnverifiedVaultConfig) MasterkeyFileName() (string, error) {
	name, ok := strings.CutPrefix(u.KeyID, masterkeyFileScheme)
	if !ok || name == "" || strings.ContainsAny(name, "/\\") {
		return "", &VaultConfigError{Kind: ConfigMalformed, Message: fmt.Sprintf("unsupported key id %q", u.KeyID)}
	}
	return name, nil
}

// Verify checks the signature of the token with rawKey and returns the
// trusted config. The signed format must equal the one read without
// verification.
func (u *UnverifiedVaultConfig) Verify(rawKey []byte) (*VaultConfig, error) {
	var claims vaultConfigClaims
	parsed, err := jwt.ParseWithClaims(u.Token, &claims, func(*jwt.Token) (any, error) {
		return rawKey, nil
	}, jwt.WithValidMethods(configSigningMethods))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, &VaultConfigError{Kind: ConfigSignatureInvalid, Message: "vault config not signed by this key", Err: err}
		}
		return nil, &VaultConfigError{Kind: ConfigMalformed, Message: "invalid vault config", Err: err}
	}
	if claims.Format != u.Format {
		return nil, &VaultConfigError{Kind: ConfigMalformed, Message: fmt.Sprintf("format %d does not match unverified format %d", claims.Format, u.Format)}
	}
	if err := checkVaultFormat(claims.Format, MaxVaultFormat); err != nil {
		return nil, err
	}

	combo := CipherCombo(claims.CipherCombo)
	if !combo.Valid() {
		return nil, &VaultConfigError{Kind: ConfigMalformed, Message: fmt.Sprintf("unknown cipher combo %q", claims.CipherCombo), Err: ErrUnsupportedCipher}
	}
	threshold := claims.threshold()
	if threshold <= 0 {
		threshold = DefaultShorteningThreshold
	}
	kid, _ := parsed.Header["kid"].(string)
	return &VaultConfig{
		ID:                  claims.ID,
		KeyID:               kid,
		Format:              claims.Format,
		CipherCombo:         combo,
		ShorteningThreshold: threshold,
	}, nil
}
