package vaultfs

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ValidationError represents an invalid argument or configuration value
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents ciphertext that failed authentication, either
// because it was tampered with or because it belongs to a different key
type AuthenticationError struct {
	Path     string // Cleartext or ciphertext path, if applicable
	ChunkIdx int64  // Chunk index, or -1 when not chunk related
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *AuthenticationError) Error() string {
	if e.Path != "" && e.ChunkIdx >= 0 {
		return fmt.Sprintf("authentication error: %s (chunk %d): %s", e.Path, e.ChunkIdx, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	if e.Err == nil {
		return ErrAuthFailed
	}
	return e.Err
}

// CorruptionError represents a structural inconsistency of the vault such as a
// missing directory file or a missing root folder
type CorruptionError struct {
	Path    string // Path of the inconsistent node
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IOError represents a storage or transport failure not otherwise classified
type IOError struct {
	Operation string // "read", "write", "list", "create", ...
	Path      string // Node path
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// UnsupportedVaultFormatError is returned for vault formats this package
// cannot read
type UnsupportedVaultFormatError struct {
	Format int // Format found in the vault
	Min    int // Lowest supported format
	Max    int // Highest supported format
}

func (e *UnsupportedVaultFormatError) Error() string {
	if e.Format < e.Min {
		return fmt.Sprintf("unsupported vault format %d: older than %d", e.Format, e.Min)
	}
	return fmt.Sprintf("unsupported vault format %d: newer than %d", e.Format, e.Max)
}

// ConfigErrorKind distinguishes the ways a vault config can be invalid
type ConfigErrorKind uint8

const (
	// ConfigMalformed marks a token that cannot be parsed or has invalid claims
	ConfigMalformed ConfigErrorKind = iota
	// ConfigSignatureInvalid marks a token whose signature does not match the key
	ConfigSignatureInvalid
)

// VaultConfigError represents an invalid vault configuration token
type VaultConfigError struct {
	Kind    ConfigErrorKind
	Message string
	Err     error
}

func (e *VaultConfigError) Error() string {
	if e.Kind == ConfigSignatureInvalid {
		return fmt.Sprintf("vault config error: signature invalid: %s", e.Message)
	}
	return fmt.Sprintf("vault config error: %s", e.Message)
}

func (e *VaultConfigError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrAuthFailed           = errors.New("authentication failed - data may be corrupted or tampered")
	ErrInvalidPassphrase    = errors.New("invalid passphrase")
	ErrInvalidKey           = errors.New("invalid encryption key")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
	ErrUnsupportedCipher    = errors.New("unsupported cipher combo")
	ErrNoDirFile            = errors.New("directory file missing")
	ErrEmptyDirFile         = errors.New("directory file is empty")
	ErrRootFolderMissing    = errors.New("root folder of vault is missing")
	ErrSymlinkUnsupported   = errors.New("symlinks are not supported")
	ErrMissingVaultConfig   = errors.New("vault requires a vault config file which is missing")
	ErrVaultLocked          = errors.New("vault is locked")
	ErrVaultAlreadyUnlocked = errors.New("vault is already unlocked")
	ErrDestroyed            = errors.New("key material has been destroyed")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(path string, err error) error {
	return &AuthenticationError{
		Path:     path,
		ChunkIdx: -1,
		Message:  err.Error(),
		Err:      err,
	}
}

// NewCorruptionError creates a new corruption error wrapping one of the
// structural sentinel errors
func NewCorruptionError(path string, err error) error {
	return &CorruptionError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae) || errors.Is(err, ErrAuthFailed)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsUnsupportedVaultFormat checks if an error reports an unsupported vault
// format, including a legacy vault whose required config file is missing
func IsUnsupportedVaultFormat(err error) bool {
	var ue *UnsupportedVaultFormatError
	return errors.As(err, &ue) || errors.Is(err, ErrMissingVaultConfig)
}

// IsVaultConfigError checks if an error is a vault config error
func IsVaultConfigError(err error) bool {
	var ve *VaultConfigError
	return errors.As(err, &ve)
}

// IsSignatureInvalid checks if an error reports a vault config signed by a
// different key
func IsSignatureInvalid(err error) bool {
	var ve *VaultConfigError
	return errors.As(err, &ve) && ve.Kind == ConfigSignatureInvalid
}
