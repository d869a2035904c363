package vaultfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassphraseProviders(t *testing.T) {
	ctx := context.Background()
	t.Setenv("VAULTFS_TEST_PASSPHRASE", "from env")

	p, err := StaticPassphrase("static").Passphrase(ctx, Vault{})
	require.NoError(t, err)
	assert.Equal(t, "static", p)

	_, err = StaticPassphrase("").Passphrase(ctx, Vault{})
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	p, err = NewEnvPassphrase("VAULTFS_TEST_PASSPHRASE").Passphrase(ctx, Vault{})
	require.NoError(t, err)
	assert.Equal(t, "from env", p)

	_, err = NewEnvPassphrase("VAULTFS_TEST_UNSET").Passphrase(ctx, Vault{})
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestFirstPassphrase(t *testing.T) {
	ctx := context.Background()
	prompted := false
	prompt := PassphraseFunc(func(context.Context, Vault) (string, error) {
		prompted = true
		return "prompted", nil
	})

	p, err := FirstPassphrase{NewEnvPassphrase("VAULTFS_TEST_UNSET"), prompt}.Passphrase(ctx, Vault{})
	require.NoError(t, err)
	assert.Equal(t, "prompted", p)
	assert.True(t, prompted)

	broken := PassphraseFunc(func(context.Context, Vault) (string, error) {
		return "", errors.New("terminal closed")
	})
	_, err = FirstPassphrase{broken, prompt}.Passphrase(ctx, Vault{})
	assert.EqualError(t, err, "terminal closed")

	_, err = FirstPassphrase{}.Passphrase(ctx, Vault{})
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestProvider_UnlockWith(t *testing.T) {
	env := newTestEnv(t)
	v := env.create(t, NewVault{Location: "/v"}, "secret")

	_, err := env.provider.UnlockWith(env.ctx, v, StaticPassphrase("wrong"))
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	unlocked, err := env.provider.UnlockWith(env.ctx, v, StaticPassphrase("secret"))
	require.NoError(t, err)
	assert.True(t, unlocked.Unlocked)
}
