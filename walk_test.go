package vaultfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Walk(t *testing.T) {
	env := newTestEnv(t)
	repo := env.repository(t, NewVault{Location: "/v"})
	root := repo.Root()
	b := mkdir(t, env, repo, root, "b")
	mkdir(t, env, repo, b, "sub")
	writeString(t, env, repo, b, "inner", "1")
	writeString(t, env, repo, root, "a", "2")
	mkdir(t, env, repo, root, "skipped")
	writeString(t, env, repo, root, "c", "3")

	var visited []string
	err := repo.Walk(env.ctx, root, func(node CryptoNode, err error) error {
		require.NoError(t, err)
		visited = append(visited, node.Path())
		if node.Name() == "skipped" {
			return SkipFolder
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/b", "/b/inner", "/b/sub", "/c", "/skipped"}, visited)
}

func TestRepository_WalkCancelled(t *testing.T) {
	env := newTestEnv(t)
	repo := env.repository(t, NewVault{Location: "/v"})
	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	err := repo.Walk(ctx, repo.Root(), func(CryptoNode, error) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepository_VerifyAll(t *testing.T) {
	env := newTestEnv(t)
	repo := env.repository(t, NewVault{Location: "/v"})
	root := repo.Root()
	docs := mkdir(t, env, repo, root, "docs")
	writeString(t, env, repo, docs, "good", "fine")
	bad := writeString(t, env, repo, docs, "bad", "tampered")
	writeString(t, env, repo, root, "top", "ok")

	failed, err := repo.VerifyAll(env.ctx, root)
	require.NoError(t, err)
	assert.Empty(t, failed)

	data := env.readStoreFile(t, bad.ContentFile().Path())
	data[len(data)-1] ^= 0xFF
	_, err = env.store.Write(env.ctx, bad.ContentFile(), bytes.NewReader(data), nil, true, int64(len(data)))
	require.NoError(t, err)

	failed, err = repo.VerifyAll(env.ctx, root)
	require.Error(t, err)
	assert.Equal(t, []string{"/docs/bad"}, failed)
	assert.True(t, IsAuthenticationError(repo.Verify(env.ctx, bad)))
}
