package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/absfs/memfs"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/store"
	"github.com/absfs/vaultfs/vaultstore"
)

func init() {
	color.NoColor = true
}

func memoryRepository(t *testing.T, nv vaultfs.NewVault) *vaultfs.Repository {
	t.Helper()
	ctx := context.Background()
	cs, err := store.NewMemoryStore()
	require.NoError(t, err)
	staging, err := memfs.NewFS()
	require.NoError(t, err)
	p, err := vaultfs.NewProvider(cs, vaultfs.NewRegistry(),
		vaultfs.WithLogger(slog.New(slog.DiscardHandler)),
		vaultfs.WithScryptCost(2),
		vaultfs.WithStagingFS(staging, "/staging"),
	)
	require.NoError(t, err)
	t.Cleanup(p.Registry().Clear)
	v, err := p.Create(ctx, nv, "secret")
	require.NoError(t, err)
	v, err = p.UnlockVault(ctx, v, "secret")
	require.NoError(t, err)
	repo, err := p.Repository(ctx, v)
	require.NoError(t, err)
	return repo
}

func put(t *testing.T, repo *vaultfs.Repository, p, content string) {
	t.Helper()
	ctx := context.Background()
	dir, name := splitPath(p)
	parent, err := repo.Resolve(ctx, dir)
	require.NoError(t, err)
	file, err := repo.File(ctx, parent, name, int64(len(content)))
	require.NoError(t, err)
	_, err = repo.Write(ctx, file, strings.NewReader(content), nil, false, int64(len(content)))
	require.NoError(t, err)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{-1, "-"},
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.n), "size %d", tt.n)
	}
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "upload  50% of 2.0 KiB", formatProgress(store.Progress{State: store.StateUpload, Done: 1024, Total: 2048}))
	assert.Equal(t, "decryption 10 B", formatProgress(store.Progress{State: store.StateDecryption, Done: 10, Total: store.UnknownSize}))
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in, dir, name string
	}{
		{"/", "/", ""},
		{"", "/", ""},
		{"a", "/", "a"},
		{"/a/b/", "/a", "b"},
		{"a/../b", "/", "b"},
	}
	for _, tt := range tests {
		dir, name := splitPath(tt.in)
		assert.Equal(t, tt.dir, dir, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
	}
	assert.Equal(t, "/", optionalPath(nil))
	assert.Equal(t, "/docs", optionalPath([]string{"docs/"}))
}

func TestFolderCommands(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepository(t, vaultfs.NewVault{Location: "/v"})

	_, err := makeFolder(ctx, repo, "/a/b", false)
	assert.True(t, store.IsNotFound(err))

	folder, err := makeFolder(ctx, repo, "/a/b/c", true)
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", folder.Path())
	_, err = makeFolder(ctx, repo, "/a/b", true)
	require.NoError(t, err)
	_, err = makeFolder(ctx, repo, "/a", false)
	assert.True(t, store.IsAlreadyExists(err))

	put(t, repo, "/a/note.txt", "hello")
	_, err = makeFolder(ctx, repo, "/a/note.txt/x", true)
	assert.True(t, store.IsAlreadyExists(err))

	node, err := lookupNode(ctx, repo, "/a/note.txt")
	require.NoError(t, err)
	assert.IsType(t, &vaultfs.CryptoFile{}, node)
	_, err = lookupNode(ctx, repo, "/a/missing")
	assert.True(t, store.IsNotFound(err))
	root, err := lookupNode(ctx, repo, "/")
	require.NoError(t, err)
	assert.Same(t, repo.Root(), root)
}

func TestPutTarget(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepository(t, vaultfs.NewVault{Location: "/v"})
	_, err := makeFolder(ctx, repo, "/docs", false)
	require.NoError(t, err)
	put(t, repo, "/docs/existing.txt", "x")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"dir/report.pdf"}, "/report.pdf"},
		{[]string{"report.pdf", "/docs"}, "/docs/report.pdf"},
		{[]string{"report.pdf", "/new/"}, "/new/report.pdf"},
		{[]string{"report.pdf", "/docs/renamed.pdf"}, "/docs/renamed.pdf"},
		{[]string{"report.pdf", "/docs/existing.txt"}, "/docs/existing.txt"},
	}
	for _, tt := range tests {
		got, err := putTarget(ctx, repo, tt.args[0], tt.args)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.args)
	}
}

func TestMoveAndRemove(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepository(t, vaultfs.NewVault{Location: "/v"})
	_, err := makeFolder(ctx, repo, "/src/inner", true)
	require.NoError(t, err)
	put(t, repo, "/src/inner/f", "data")
	put(t, repo, "/top", "top")

	moved, err := moveNode(ctx, repo, "/src", "/dst")
	require.NoError(t, err)
	assert.Equal(t, "/dst", moved.Path())
	moved, err = moveNode(ctx, repo, "/top", "/dst/top-renamed")
	require.NoError(t, err)
	assert.Equal(t, "/dst/top-renamed", moved.Path())
	_, err = moveNode(ctx, repo, "/", "/x")
	assert.True(t, vaultfs.IsValidationError(err))

	node, err := lookupNode(ctx, repo, "/dst/inner/f")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, repo.Read(ctx, node.(*vaultfs.CryptoFile), &buf, nil))
	assert.Equal(t, "data", buf.String())

	_, err = removeNode(ctx, repo, "/dst", false)
	assert.ErrorIs(t, err, errFolderNotEmpty)
	_, err = removeNode(ctx, repo, "/dst", true)
	require.NoError(t, err)
	_, err = lookupNode(ctx, repo, "/dst")
	assert.True(t, store.IsNotFound(err))
}

func TestBuildTree(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepository(t, vaultfs.NewVault{Location: "/v"})
	_, err := makeFolder(ctx, repo, "/docs/2024", true)
	require.NoError(t, err)
	put(t, repo, "/docs/2024/report.pdf", "pdf")
	put(t, repo, "/readme", "hi")

	tree, err := buildTree(ctx, repo, repo.Root())
	require.NoError(t, err)
	out := tree.Print()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "/", lines[0])
	assert.Contains(t, lines[1], "docs/")
	assert.Contains(t, lines[2], "2024/")
	assert.Contains(t, lines[3], "report.pdf")
	assert.Contains(t, lines[4], "readme")
}

func TestMigrateTree(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepository(t, vaultfs.NewVault{Location: "/v"})
	_, err := makeFolder(ctx, repo, "/a/b", true)
	require.NoError(t, err)
	n, err := migrateTree(ctx, repo, repo.Root())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testConfig(t *testing.T) *config {
	dir := t.TempDir()
	return &config{
		Catalogue:  filepath.Join(dir, "config", "vaults.db"),
		StagingDir: t.TempDir(),
		LogLevel:   "error",
		ScryptCost: 2,
		NoColor:    true,
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	t.Setenv(passphraseEnv, "secret")
	c := testConfig(t)
	s, err := newSession(c, io.Discard, io.Discard)
	require.NoError(t, err)

	_, err = s.lookup("")
	assert.Error(t, err)

	location, err := absLocation(filepath.Join(t.TempDir(), "work"))
	require.NoError(t, err)
	v, err := s.provider.Create(ctx, vaultfs.NewVault{Name: "work", Location: location, Format: 7}, "secret")
	require.NoError(t, err)

	d, err := inspectVault(ctx, s.provider, v)
	require.NoError(t, err)
	assert.Equal(t, 7, d.Format)
	assert.False(t, d.HasConfig)
	assert.Equal(t, vaultfs.MasterkeyFileName, d.KeyFile)

	record := vaultstore.FromVault(v)
	record.Format = 0
	require.NoError(t, s.catalogue.Put(record))
	s.vault = "work"

	repo, err := s.open(ctx)
	require.NoError(t, err)
	put(t, repo, "/hello.txt", "hello")
	node, err := lookupNode(ctx, repo, "/hello.txt")
	require.NoError(t, err)
	size, known := node.(*vaultfs.CryptoFile).Size()
	assert.True(t, known)
	assert.EqualValues(t, 5, size)

	stored, err := s.catalogue.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Format)
	assert.Equal(t, vaultfs.DefaultShorteningThreshold, stored.ShorteningThreshold)

	_, err = s.open(ctx)
	assert.ErrorIs(t, err, vaultfs.ErrVaultAlreadyUnlocked)
	require.NoError(t, s.Close())
	assert.Zero(t, s.registry.Len())
}

func TestNewLogger(t *testing.T) {
	c := &config{LogLevel: "info", LogFormat: "json"}
	var buf bytes.Buffer
	logger, err := newLogger(c, &buf)
	require.NoError(t, err)
	logger.Info("hello", "vault", "v1")
	assert.Contains(t, buf.String(), `"vault":"v1"`)

	c.LogLevel = "loud"
	_, err = newLogger(c, &buf)
	assert.Error(t, err)
	c.LogLevel, c.LogFormat = "info", "xml"
	_, err = newLogger(c, &buf)
	assert.Error(t, err)
}
