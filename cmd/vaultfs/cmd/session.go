package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absfs/osfs"
	"github.com/fatih/color"
	"go.etcd.io/bbolt"
	"golang.org/x/term"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/store"
	"github.com/absfs/vaultfs/vaultstore"
)

// passphraseEnv is checked before prompting for a passphrase.
const passphraseEnv = "VAULTFS_PASSPHRASE"

// session is the state shared by the commands of one invocation.
type session struct {
	out        io.Writer
	logger     *slog.Logger
	catalogue  *vaultstore.Catalogue
	provider   *vaultfs.Provider
	registry   *vaultfs.Registry
	passphrase vaultfs.PassphraseProvider
	vault      string
}

func newSession(c *config, out, errOut io.Writer) (*session, error) {
	logger, err := newLogger(c, errOut)
	if err != nil {
		return nil, err
	}
	if c.NoColor {
		color.NoColor = true
	}

	fs, err := osfs.NewFS()
	if err != nil {
		return nil, fmt.Errorf("open local filesystem: %w", err)
	}
	opts := []vaultfs.Option{
		vaultfs.WithLogger(logger),
		vaultfs.WithLegacyNameMigration(c.MigrateLegacyNames),
	}
	if c.ScryptCost > 0 {
		opts = append(opts, vaultfs.WithScryptCost(c.ScryptCost))
	}
	if c.DirCacheSize > 0 {
		opts = append(opts, vaultfs.WithDirIDCacheSize(c.DirCacheSize))
	}
	if c.StagingDir != "" {
		opts = append(opts, vaultfs.WithStagingFS(fs, c.StagingDir))
	}
	registry := vaultfs.NewRegistry()
	cs := store.NewFileSystemStore(fs, "/", store.WithAccount(accountName()))
	provider, err := vaultfs.NewProvider(cs, registry, opts...)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(c.Catalogue), 0o700); err != nil {
		return nil, fmt.Errorf("create catalogue directory: %w", err)
	}
	catalogue, err := vaultstore.Open(c.Catalogue, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	passphrase := vaultfs.FirstPassphrase{
		vaultfs.NewEnvPassphrase(passphraseEnv),
		vaultfs.PassphraseFunc(promptVaultPassphrase),
	}
	return &session{
		out:        out,
		logger:     logger,
		catalogue:  catalogue,
		provider:   provider,
		registry:   registry,
		passphrase: passphrase,
		vault:      c.Vault,
	}, nil
}

// Close locks every vault unlocked during the session and closes the
// catalogue.
func (s *session) Close() error {
	s.registry.Clear()
	return s.catalogue.Close()
}

// lookup returns the catalogue record for key, falling back to the
// configured default vault.
func (s *session) lookup(key string) (vaultstore.Record, error) {
	if key == "" {
		key = s.vault
	}
	if key == "" {
		return vaultstore.Record{}, errors.New("no vault selected, pass --vault or set VAULTFS_VAULT")
	}
	return s.catalogue.Find(key)
}

// open unlocks the selected vault and returns a repository for it. Format
// data learned while unlocking is written back to the catalogue.
func (s *session) open(ctx context.Context) (*vaultfs.Repository, error) {
	r, err := s.lookup("")
	if err != nil {
		return nil, err
	}
	v, err := s.provider.UnlockWith(ctx, r.Vault(), s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", r.Name, err)
	}
	if err := s.catalogue.UpdateFormat(v); err != nil {
		s.logger.Warn("failed to update catalogue", "vault", v.ID, "error", err)
	}
	return s.provider.Repository(ctx, v)
}

// absLocation returns dir as an absolute slash separated path.
func absLocation(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(abs), nil
}

func accountName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "local"
}

func promptVaultPassphrase(_ context.Context, v vaultfs.Vault) (string, error) {
	return promptPassword(fmt.Sprintf("Passphrase for %s: ", v.Name))
}

func promptPassword(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal and %s is not set: %w", passphraseEnv, vaultfs.ErrNoPassphrase)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(password), nil
}

// newPassphrase reads a new passphrase from the environment variable env or
// prompts for it twice.
func newPassphrase(env, prompt string) (string, error) {
	if p := os.Getenv(env); p != "" {
		return p, nil
	}
	first, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}
	second, err := promptPassword("Repeat: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}
