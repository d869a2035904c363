package vaultfs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/absfs/vaultfs/store"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &ValidationError{
				Field:   "shorteningThreshold",
				Value:   10,
				Message: "too small",
			},
			wantMsg: "validation error: shorteningThreshold: too small",
		},
		{
			name:    "without field",
			err:     &ValidationError{Message: "invalid vault"},
			wantMsg: "validation error: invalid vault",
		},
		{
			name: "with wrapped error",
			err: &ValidationError{
				Field:   "passphrase",
				Message: "passphrase cannot be empty",
				Err:     ErrInvalidPassphrase,
			},
			wantMsg: "validation error: passphrase: passphrase cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
			if tt.err.Err != nil && !errors.Is(tt.err, tt.err.Err) {
				t.Errorf("ValidationError does not unwrap to %v", tt.err.Err)
			}
		})
	}
}

func TestAuthenticationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *AuthenticationError
		wantMsg string
	}{
		{
			name:    "with path and chunk",
			err:     &AuthenticationError{Path: "/d/AB/CDEF/x.c9r", ChunkIdx: 5, Message: "tag mismatch"},
			wantMsg: "authentication error: /d/AB/CDEF/x.c9r (chunk 5): tag mismatch",
		},
		{
			name:    "header",
			err:     &AuthenticationError{Path: "/d/AB/CDEF/x.c9r", ChunkIdx: -1, Message: "header: tag mismatch"},
			wantMsg: "authentication error: /d/AB/CDEF/x.c9r: header: tag mismatch",
		},
		{
			name:    "without path",
			err:     &AuthenticationError{ChunkIdx: -1, Message: "key unwrap failed"},
			wantMsg: "authentication error: key unwrap failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("AuthenticationError.Error() = %q, want %q", got, tt.wantMsg)
			}
			// without an underlying error the generic sentinel is reported
			if !errors.Is(tt.err, ErrAuthFailed) {
				t.Error("AuthenticationError should match ErrAuthFailed")
			}
		})
	}
}

func TestCorruptionError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		target  error
	}{
		{
			name:    "root missing",
			err:     NewCorruptionError("/", ErrRootFolderMissing),
			wantMsg: "corruption error: /: root folder of vault is missing",
			target:  ErrRootFolderMissing,
		},
		{
			name:    "empty directory file",
			err:     NewCorruptionError("/docs", ErrEmptyDirFile),
			wantMsg: "corruption error: /docs: directory file is empty",
			target:  ErrEmptyDirFile,
		},
		{
			name: "missing directory file",
			err: &CorruptionError{
				Path:    "/docs",
				Message: ErrNoDirFile.Error(),
				Err:     fmt.Errorf("%w: %w", ErrNoDirFile, store.ErrNotFound),
			},
			wantMsg: "corruption error: /docs: directory file missing",
			target:  store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("CorruptionError.Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("CorruptionError does not match %v", tt.target)
			}
		})
	}
}

func TestIOError(t *testing.T) {
	baseErr := errors.New("permission denied")

	tests := []struct {
		name    string
		err     *IOError
		wantMsg string
	}{
		{
			name:    "with path",
			err:     &IOError{Operation: "stage", Path: "/tmp/x", Message: "permission denied", Err: baseErr},
			wantMsg: "io error: stage /tmp/x: permission denied",
		},
		{
			name:    "operation only",
			err:     &IOError{Operation: "read", Message: "connection reset"},
			wantMsg: "io error: read: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("IOError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestUnsupportedVaultFormatError(t *testing.T) {
	older := &UnsupportedVaultFormatError{Format: 4, Min: MinVaultFormat, Max: MaxVaultFormat}
	if got, want := older.Error(), "unsupported vault format 4: older than 5"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	newer := &UnsupportedVaultFormatError{Format: 9, Min: MinVaultFormat, Max: MaxVaultFormat}
	if got, want := newer.Error(), "unsupported vault format 9: newer than 8"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestVaultConfigError(t *testing.T) {
	malformed := &VaultConfigError{Kind: ConfigMalformed, Message: "missing format claim"}
	if got, want := malformed.Error(), "vault config error: missing format claim"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	signature := &VaultConfigError{Kind: ConfigSignatureInvalid, Message: "bad signature"}
	if got, want := signature.Error(), "vault config error: signature invalid: bad signature"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if IsSignatureInvalid(malformed) || !IsSignatureInvalid(signature) {
		t.Error("IsSignatureInvalid does not distinguish the error kinds")
	}
}

func TestErrorCheckers(t *testing.T) {
	ve := &ValidationError{Message: "test"}
	ae := &AuthenticationError{Message: "test"}
	ce := &CorruptionError{Message: "test"}
	ie := &IOError{Operation: "read", Message: "test"}
	ue := &UnsupportedVaultFormatError{Format: 4, Min: 5, Max: 8}
	cfg := &VaultConfigError{Message: "test"}
	genericErr := errors.New("generic error")

	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"IsValidationError with ValidationError", ve, IsValidationError, true},
		{"IsValidationError with other error", genericErr, IsValidationError, false},
		{"IsAuthenticationError with AuthenticationError", ae, IsAuthenticationError, true},
		{"IsAuthenticationError with wrapped sentinel", fmt.Errorf("read: %w", ErrAuthFailed), IsAuthenticationError, true},
		{"IsAuthenticationError with other error", genericErr, IsAuthenticationError, false},
		{"IsCorruptionError with CorruptionError", ce, IsCorruptionError, true},
		{"IsCorruptionError with other error", genericErr, IsCorruptionError, false},
		{"IsIOError with IOError", ie, IsIOError, true},
		{"IsIOError with other error", genericErr, IsIOError, false},
		{"IsUnsupportedVaultFormat with format error", ue, IsUnsupportedVaultFormat, true},
		{"IsUnsupportedVaultFormat with missing config", ErrMissingVaultConfig, IsUnsupportedVaultFormat, true},
		{"IsUnsupportedVaultFormat with other error", genericErr, IsUnsupportedVaultFormat, false},
		{"IsVaultConfigError with VaultConfigError", cfg, IsVaultConfigError, true},
		{"IsVaultConfigError with other error", genericErr, IsVaultConfigError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("error checker = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Run("NewValidationError", func(t *testing.T) {
		err := NewValidationError("field", 123, "invalid value")
		ve, ok := err.(*ValidationError)
		if !ok {
			t.Fatal("NewValidationError should create ValidationError")
		}
		if ve.Field != "field" || ve.Value != 123 || ve.Message != "invalid value" {
			t.Errorf("NewValidationError fields incorrect: %+v", ve)
		}
	})

	t.Run("NewAuthenticationError", func(t *testing.T) {
		baseErr := errors.New("tag mismatch")
		err := NewAuthenticationError("/path", baseErr)
		ae, ok := err.(*AuthenticationError)
		if !ok {
			t.Fatal("NewAuthenticationError should create AuthenticationError")
		}
		if ae.Path != "/path" || ae.ChunkIdx != -1 || !errors.Is(err, baseErr) {
			t.Errorf("NewAuthenticationError fields incorrect: %+v", ae)
		}
	})

	t.Run("NewCorruptionError", func(t *testing.T) {
		err := NewCorruptionError("/path", ErrNoDirFile)
		ce, ok := err.(*CorruptionError)
		if !ok {
			t.Fatal("NewCorruptionError should create CorruptionError")
		}
		if ce.Path != "/path" || ce.Message != ErrNoDirFile.Error() {
			t.Errorf("NewCorruptionError fields incorrect: %+v", ce)
		}
	})

	t.Run("NewIOError", func(t *testing.T) {
		baseErr := errors.New("test")
		err := NewIOError("read", "/path", baseErr)
		ie, ok := err.(*IOError)
		if !ok {
			t.Fatal("NewIOError should create IOError")
		}
		if ie.Operation != "read" || ie.Path != "/path" || !errors.Is(err, baseErr) {
			t.Errorf("NewIOError fields incorrect: %+v", ie)
		}
	})
}
