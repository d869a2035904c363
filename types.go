package vaultfs

import (
	"fmt"
)

// CipherCombo names the content cipher used by a vault
type CipherCombo string

const (
	// SIVCTRMAC encrypts names with AES-SIV and contents with AES-CTR + HMAC-SHA256
	SIVCTRMAC CipherCombo = "SIV_CTRMAC"
	// SIVGCM encrypts names with AES-SIV and contents with AES-GCM
	SIVGCM CipherCombo = "SIV_GCM"
)

// String returns the name of the cipher combo as stored in the vault config
func (c CipherCombo) String() string {
	return string(c)
}

// Valid reports whether c is a known cipher combo
func (c CipherCombo) Valid() bool {
	return c == SIVCTRMAC || c == SIVGCM
}

// Vault format bounds and naming limits.
const (
	// MinVaultFormat is the oldest vault format that can be opened
	MinVaultFormat = 5
	// MaxVaultFormat is the newest vault format that can be opened
	MaxVaultFormat = 8
	// MaxVaultFormatWithoutConfig is the newest format that has no vault config file
	MaxVaultFormatWithoutConfig = 7
	// PassphraseNormalizationFormat is the first format normalizing passphrases to NFC
	PassphraseNormalizationFormat = 6

	// DefaultShorteningThreshold is the default maximum length of an encrypted name
	DefaultShorteningThreshold = 220
	// LegacyShorteningThreshold is the maximum length of an encrypted name in formats 5 and 6
	LegacyShorteningThreshold = 129

	// missingConfigVersion is stored in masterkey files of vaults that have a vault config
	missingConfigVersion = 999
)

// Well known file names inside a vault location.
const (
	MasterkeyFileName   = "masterkey.cryptomator"
	VaultConfigFileName = "vault.cryptomator"
	BackupSuffix        = ".bkup"
	DataDirName         = "d"
)

// Vault describes a vault and its current lock state
type Vault struct {
	// ID identifies the vault; at most one cryptor is registered per ID
	ID string
	// Name is the display name of the vault
	Name string
	// Location is the path of the vault folder inside its content store
	Location string
	// Format is the vault format version, 0 when not yet known
	Format int
	// ShorteningThreshold is the maximum encrypted name length, 0 when not yet known
	ShorteningThreshold int
	// CipherCombo is the content cipher of the vault
	CipherCombo CipherCombo
	// Unlocked reports whether a cryptor for the vault is registered
	Unlocked bool
}

func (v Vault) String() string {
	return fmt.Sprintf("%s (%s, format %d)", v.Name, v.Location, v.Format)
}

// withFormat returns a copy of v upgraded to the given format data
func (v Vault) withFormat(format, threshold int, combo CipherCombo) Vault {
	v.Format = format
	v.ShorteningThreshold = threshold
	v.CipherCombo = combo
	return v
}

// checkVaultFormat rejects formats outside of [MinVaultFormat, maxFormat]
func checkVaultFormat(format, maxFormat int) error {
	if format < MinVaultFormat || format > maxFormat {
		return &UnsupportedVaultFormatError{Format: format, Min: MinVaultFormat, Max: maxFormat}
	}
	return nil
}
