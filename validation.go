package vaultfs

import (
	"fmt"
	"strings"
)

// Input validation helpers

// ValidateBuffer checks if a buffer is valid (non-nil and has expected size)
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return &ValidationError{
			Field:   name,
			Message: "buffer cannot be nil",
		}
	}
	if minSize > 0 && len(buf) < minSize {
		return &ValidationError{
			Field:   name,
			Value:   len(buf),
			Message: fmt.Sprintf("buffer too small: got %d bytes, need at least %d bytes", len(buf), minSize),
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}

	return nil
}

// ValidateName checks that name can be used as the cleartext name of a node
func ValidateName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Field: "name", Message: "name cannot be empty"}
	case name == "." || name == "..":
		return &ValidationError{Field: "name", Value: name, Message: "name cannot be a relative path element"}
	case strings.ContainsAny(name, "/\x00"):
		return &ValidationError{Field: "name", Value: name, Message: "name cannot contain '/' or NUL"}
	}
	return nil
}

// ValidatePassphrase checks that a passphrase is not empty
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return &ValidationError{Field: "passphrase", Message: "passphrase cannot be empty", Err: ErrInvalidPassphrase}
	}
	return nil
}

// ValidateShorteningThreshold checks that encrypted names can still be
// shortened below the threshold
func ValidateShorteningThreshold(threshold int) error {
	// a shortened name is a 28 character hash plus a suffix
	if threshold < 36 {
		return &ValidationError{
			Field:   "shorteningThreshold",
			Value:   threshold,
			Message: fmt.Sprintf("threshold %d is too small to hold a shortened name", threshold),
		}
	}
	return nil
}

// ValidateVault checks the fields of a vault descriptor a repository is
// built from
func ValidateVault(v Vault) error {
	if v.ID == "" {
		return &ValidationError{Field: "id", Message: "vault id cannot be empty"}
	}
	if err := checkVaultFormat(v.Format, MaxVaultFormat); err != nil {
		return err
	}
	if v.Format == MaxVaultFormat {
		if err := ValidateShorteningThreshold(v.ShorteningThreshold); err != nil {
			return err
		}
	}
	return nil
}
