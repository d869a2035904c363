package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// PassphraseProvider supplies the passphrase of a vault, for example from a
// terminal prompt or the environment.
type PassphraseProvider interface {
	Passphrase(ctx context.Context, v Vault) (string, error)
}

// PassphraseFunc adapts a function to a PassphraseProvider.
type PassphraseFunc func(ctx context.Context, v Vault) (string, error)

// Passphrase calls f.
func (f PassphraseFunc) Passphrase(ctx context.Context, v Vault) (string, error) {
	return f(ctx, v)
}

// StaticPassphrase always returns the same passphrase.
type StaticPassphrase string

// Passphrase returns p.
func (p StaticPassphrase) Passphrase(context.Context, Vault) (string, error) {
	if p == "" {
		return "", ErrInvalidPassphrase
	}
	return string(p), nil
}

// EnvPassphrase reads the passphrase from an environment variable.
type EnvPassphrase struct {
	envVar string
}

// NewEnvPassphrase returns a provider reading envVar.
func NewEnvPassphrase(envVar string) *EnvPassphrase {
	return &EnvPassphrase{envVar: envVar}
}

// Passphrase returns the value of the environment variable.
func (e *EnvPassphrase) Passphrase(context.Context, Vault) (string, error) {
	value := os.Getenv(e.envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set: %w", e.envVar, ErrNoPassphrase)
	}
	return value, nil
}

// ErrNoPassphrase is returned by providers that have no passphrase to offer.
var ErrNoPassphrase = errors.New("no passphrase available")

// FirstPassphrase asks each provider in order and returns the first
// passphrase. Providers failing with ErrNoPassphrase are skipped.
type FirstPassphrase []PassphraseProvider

// Passphrase returns the passphrase of the first provider that has one.
func (m FirstPassphrase) Passphrase(ctx context.Context, v Vault) (string, error) {
	for _, provider := range m {
		passphrase, err := provider.Passphrase(ctx, v)
		if err == nil {
			return passphrase, nil
		}
		if !errors.Is(err, ErrNoPassphrase) {
			return "", err
		}
	}
	return "", ErrNoPassphrase
}

// UnlockWith unlocks v with the passphrase of pp.
func (p *Provider) UnlockWith(ctx context.Context, v Vault, pp PassphraseProvider) (Vault, error) {
	passphrase, err := pp.Passphrase(ctx, v)
	if err != nil {
		return Vault{}, err
	}
	return p.UnlockVault(ctx, v, passphrase)
}
