package vaultfs

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absfs/absfs"
	"github.com/absfs/osfs"
)

// DefaultDirIDCacheSize is the number of directory ids kept per repository
const DefaultDirIDCacheSize = 1000

// Option configures a Repository or a Provider
type Option func(*options)

type options struct {
	logger              *slog.Logger
	dirIDCacheSize      int
	stagingFS           absfs.FileSystem
	stagingDir          string
	legacyNameMigration bool
	scryptCost          int
	parallel            ParallelConfig
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDirIDCacheSize sets the capacity of the directory id cache.
func WithDirIDCacheSize(n int) Option {
	return func(o *options) { o.dirIDCacheSize = n }
}

// WithStagingFS sets the filesystem and directory file contents are staged
// in while they are encrypted or decrypted. Defaults to the temp directory of
// the local filesystem.
func WithStagingFS(fs absfs.FileSystem, dir string) Option {
	return func(o *options) {
		o.stagingFS = fs
		o.stagingDir = dir
	}
}

// WithLegacyNameMigration enables renaming shortened names of format 5 and 6
// vaults back to their full form while listing, once they fit the threshold.
func WithLegacyNameMigration(enabled bool) Option {
	return func(o *options) { o.legacyNameMigration = enabled }
}

// WithScryptCost sets the scrypt cost parameter for new masterkey files.
func WithScryptCost(n int) Option {
	return func(o *options) { o.scryptCost = n }
}

// WithParallel configures parallel name decryption of legacy listings.
func WithParallel(p ParallelConfig) Option {
	return func(o *options) { o.parallel = p }
}

func newOptions(opts []Option) (*options, error) {
	o := &options{
		dirIDCacheSize: DefaultDirIDCacheSize,
		scryptCost:     DefaultScryptCost,
		parallel:       DefaultParallelConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.stagingFS == nil {
		fs, err := osfs.NewFS()
		if err != nil {
			return nil, fmt.Errorf("failed to open local filesystem: %w", err)
		}
		o.stagingFS = fs
	}
	if o.stagingDir == "" {
		o.stagingDir = o.stagingFS.TempDir()
	}
	return o, nil
}

// Validate checks that the options are usable
func (o *options) Validate() error {
	if o.dirIDCacheSize < 1 {
		return NewValidationError("dirIDCacheSize", o.dirIDCacheSize, "cache size must be at least 1")
	}
	if o.scryptCost < 2 || o.scryptCost&(o.scryptCost-1) != 0 {
		return NewValidationError("scryptCost", o.scryptCost, "scrypt cost must be a power of two greater than 1")
	}
	if err := o.parallel.Validate(); err != nil {
		return &ValidationError{Field: "parallel", Message: err.Error(), Err: err}
	}
	if o.stagingFS == nil && o.stagingDir != "" {
		return &ValidationError{Field: "stagingFS", Message: "staging directory without filesystem", Err: errors.New("missing filesystem")}
	}
	return nil
}
