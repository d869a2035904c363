package vaultfs

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/absfs/vaultfs/store"
)

// NewVault describes a vault to be created. Zero fields take defaults: the
// newest format, SIV_GCM for format 8 and SIV_CTRMAC below, and the
// shortening threshold of the format.
type NewVault struct {
	Name                string
	Location            string
	Format              int
	CipherCombo         CipherCombo
	ShorteningThreshold int
}

// UnlockToken carries the masterkey file of a vault between
// CreateUnlockToken and Unlock.
type UnlockToken struct {
	Vault       Vault
	KeyFileName string
	KeyFile     []byte
}

// Provider creates vaults in a content store and unlocks and locks them.
// Unlocked vaults are tracked in its Registry.
type Provider struct {
	store    store.ContentStore
	registry *Registry
	opts     *options
	rawOpts  []Option
}

// NewProvider returns a provider for vaults stored in cs.
func NewProvider(cs store.ContentStore, registry *Registry, opts ...Option) (*Provider, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Provider{store: cs, registry: registry, opts: o, rawOpts: opts}, nil
}

// Registry returns the registry of unlocked vaults.
func (p *Provider) Registry() *Registry { return p.registry }

// defaultThreshold returns the shortening threshold of format.
func defaultThreshold(format int) int {
	if format <= PassphraseNormalizationFormat {
		return LegacyShorteningThreshold
	}
	return DefaultShorteningThreshold
}

// Create initialises a vault at nv.Location protected by passphrase. The
// returned vault is locked.
func (p *Provider) Create(ctx context.Context, nv NewVault, passphrase string) (Vault, error) {
	if err := ValidatePassphrase(passphrase); err != nil {
		return Vault{}, err
	}
	format := nv.Format
	if format == 0 {
		format = MaxVaultFormat
	}
	if err := checkVaultFormat(format, MaxVaultFormat); err != nil {
		return Vault{}, err
	}
	combo := nv.CipherCombo
	switch {
	case combo == "" && format == MaxVaultFormat:
		combo = SIVGCM
	case combo == "":
		combo = SIVCTRMAC
	case !combo.Valid(), format < MaxVaultFormat && combo != SIVCTRMAC:
		return Vault{}, &ValidationError{Field: "cipherCombo", Value: combo, Message: "cipher combo not available for this format", Err: ErrUnsupportedCipher}
	}
	threshold := nv.ShorteningThreshold
	if threshold == 0 || format < MaxVaultFormat {
		threshold = defaultThreshold(format)
	}
	if err := ValidateShorteningThreshold(threshold); err != nil {
		return Vault{}, err
	}

	location, err := p.store.Resolve(ctx, nv.Location)
	if err != nil {
		return Vault{}, err
	}
	if err := p.ensureFolder(ctx, location); err != nil {
		return Vault{}, err
	}
	keyFile := p.store.File(location, MasterkeyFileName, store.UnknownSize)
	if ok, err := p.store.Exists(ctx, keyFile); err != nil {
		return Vault{}, err
	} else if ok {
		return Vault{}, store.AlreadyExists("create", keyFile.Path())
	}

	mk := GenerateMasterkey()
	defer mk.Destroy()

	version := format
	if format == MaxVaultFormat {
		version = missingConfigVersion
	}
	locked, err := LockMasterkey(mk, normalizePassphrase(passphrase, format), version, p.opts.scryptCost)
	if err != nil {
		return Vault{}, err
	}
	data, err := locked.Marshal()
	if err != nil {
		return Vault{}, err
	}
	if err := p.writeFile(ctx, keyFile, data, false); err != nil {
		return Vault{}, err
	}

	if format == MaxVaultFormat {
		raw, err := mk.Raw()
		if err != nil {
			return Vault{}, err
		}
		token, err := NewVaultConfig(format, combo, threshold).Sign(raw)
		clear(raw)
		if err != nil {
			return Vault{}, err
		}
		configFile := p.store.File(location, VaultConfigFileName, store.UnknownSize)
		if err := p.writeFile(ctx, configFile, []byte(token), false); err != nil {
			return Vault{}, err
		}
	}

	if err := p.createRootShard(ctx, mk, combo, format, location); err != nil {
		return Vault{}, err
	}

	name := nv.Name
	if name == "" {
		name = path.Base(location.Path())
	}
	v := Vault{
		ID:                  uuid.NewString(),
		Name:                name,
		Location:            nv.Location,
		Format:              format,
		ShorteningThreshold: threshold,
		CipherCombo:         combo,
	}
	p.opts.logger.Info("vault created", "vault", v.ID, "location", location.Path(), "format", format, "cipherCombo", combo)
	return v, nil
}

func (p *Provider) createRootShard(ctx context.Context, mk *Masterkey, combo CipherCombo, format int, location *store.Folder) error {
	cr, err := NewCryptor(mk, combo)
	if err != nil {
		return err
	}
	defer cr.Destroy()
	shard, err := shardFolder(p.store, p.store.Folder(location, DataDirName), cr.FileNameCryptor(), "")
	if err != nil {
		return err
	}
	if err := p.ensureFolder(ctx, shard); err != nil {
		return err
	}
	if format >= MaxVaultFormatWithoutConfig {
		backup := p.store.File(shard, dirIDBackupFileName, store.UnknownSize)
		pipeline := newContentPipeline(p.store, p.opts)
		if _, err := pipeline.encrypt(ctx, cr, backup, strings.NewReader(""), nil, true, 0); err != nil {
			p.opts.logger.Warn("failed to write directory id backup", "shard", shard.Path(), "error", err)
		}
	}
	return nil
}

// ReadVaultConfig returns the unverified config of v, or nil if the vault
// has no config file.
func (p *Provider) ReadVaultConfig(ctx context.Context, v Vault) (*UnverifiedVaultConfig, error) {
	location, err := p.store.Resolve(ctx, v.Location)
	if err != nil {
		return nil, err
	}
	data, err := p.readFile(ctx, p.store.File(location, VaultConfigFileName, store.UnknownSize))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseUnverifiedVaultConfig(string(data))
}

// keyFile returns the masterkey file of v as referenced by unverified.
func (p *Provider) keyFile(ctx context.Context, v Vault, unverified *UnverifiedVaultConfig) (*store.File, error) {
	name := MasterkeyFileName
	if unverified != nil {
		var err error
		if name, err = unverified.MasterkeyFileName(); err != nil {
			return nil, err
		}
	}
	location, err := p.store.Resolve(ctx, v.Location)
	if err != nil {
		return nil, err
	}
	return p.store.File(location, name, store.UnknownSize), nil
}

// CreateUnlockToken reads the masterkey file of v. unverified is the config
// of the vault, nil for vaults without config file.
func (p *Provider) CreateUnlockToken(ctx context.Context, v Vault, unverified *UnverifiedVaultConfig) (*UnlockToken, error) {
	f, err := p.keyFile(ctx, v, unverified)
	if err != nil {
		return nil, err
	}
	data, err := p.readFile(ctx, f)
	if err != nil {
		return nil, err
	}
	return &UnlockToken{Vault: v, KeyFileName: f.Name(), KeyFile: data}, nil
}

// passphraseFormat returns the format that decides passphrase
// normalization: the config format if there is a config, the masterkey
// file version otherwise.
func passphraseFormat(file *MasterkeyFile, unverified *UnverifiedVaultConfig) int {
	if unverified != nil {
		return unverified.Format
	}
	return file.Version
}

// Unlock unwraps the masterkey with passphrase, verifies the vault config
// and registers a cryptor for the vault. The returned vault carries the
// trusted format data.
func (p *Provider) Unlock(ctx context.Context, token *UnlockToken, unverified *UnverifiedVaultConfig, passphrase string) (Vault, error) {
	if err := ctx.Err(); err != nil {
		return Vault{}, err
	}
	if _, ok := p.registry.Get(token.Vault.ID); ok {
		return Vault{}, ErrVaultAlreadyUnlocked
	}
	cr, v, err := openCryptor(token, unverified, passphrase)
	if err != nil {
		return Vault{}, err
	}
	if !p.registry.PutIfAbsent(token.Vault.ID, cr) {
		cr.Destroy()
		return Vault{}, ErrVaultAlreadyUnlocked
	}
	v.Unlocked = true
	p.opts.logger.Info("vault unlocked", "vault", v.ID, "format", v.Format, "cipherCombo", v.CipherCombo)
	return v, nil
}

// openCryptor checks the masterkey file of token against the vault config,
// unwraps the masterkey and builds the cryptor of the vault. The returned
// vault carries the trusted format data.
func openCryptor(token *UnlockToken, unverified *UnverifiedVaultConfig, passphrase string) (*Cryptor, Vault, error) {
	file, err := ParseMasterkeyFile(token.KeyFile)
	if err != nil {
		return nil, Vault{}, err
	}
	if unverified == nil {
		if file.Version == missingConfigVersion {
			return nil, Vault{}, ErrMissingVaultConfig
		}
		if err := checkVaultFormat(file.Version, MaxVaultFormatWithoutConfig); err != nil {
			return nil, Vault{}, err
		}
	}

	mk, err := file.Unlock(normalizePassphrase(passphrase, passphraseFormat(file, unverified)))
	if err != nil {
		return nil, Vault{}, err
	}
	defer mk.Destroy()

	format, threshold, combo := file.Version, defaultThreshold(file.Version), SIVCTRMAC
	if unverified != nil {
		raw, err := mk.Raw()
		if err != nil {
			return nil, Vault{}, err
		}
		cfg, err := unverified.Verify(raw)
		clear(raw)
		if err != nil {
			return nil, Vault{}, err
		}
		format, threshold = cfg.Format, cfg.ShorteningThreshold
		if format == MaxVaultFormat {
			combo = cfg.CipherCombo
		}
	}

	cr, err := NewCryptor(mk, combo)
	if err != nil {
		return nil, Vault{}, err
	}
	return cr, token.Vault.withFormat(format, threshold, combo), nil
}

// UnlockVault reads config and masterkey file of v and unlocks it.
func (p *Provider) UnlockVault(ctx context.Context, v Vault, passphrase string) (Vault, error) {
	unverified, err := p.ReadVaultConfig(ctx, v)
	if err != nil {
		return Vault{}, err
	}
	token, err := p.CreateUnlockToken(ctx, v, unverified)
	if err != nil {
		return Vault{}, err
	}
	return p.Unlock(ctx, token, unverified, passphrase)
}

// IsVaultPasswordValid reports whether passphrase unlocks v. It runs the
// same checks as Unlock but does not register the vault. Vaults that Unlock
// rejects for other reasons than the passphrase yield an error.
func (p *Provider) IsVaultPasswordValid(ctx context.Context, v Vault, unverified *UnverifiedVaultConfig, passphrase string) (bool, error) {
	token, err := p.CreateUnlockToken(ctx, v, unverified)
	if err != nil {
		return false, err
	}
	cr, _, err := openCryptor(token, unverified, passphrase)
	if err != nil {
		if errors.Is(err, ErrInvalidPassphrase) {
			return false, nil
		}
		return false, err
	}
	cr.Destroy()
	return true, nil
}

// ChangePassword re-wraps the masterkey of v under newPass. A backup of the
// current masterkey file is written before it is replaced.
func (p *Provider) ChangePassword(ctx context.Context, v Vault, unverified *UnverifiedVaultConfig, oldPass, newPass string) error {
	if err := ValidatePassphrase(newPass); err != nil {
		return err
	}
	keyFile, err := p.keyFile(ctx, v, unverified)
	if err != nil {
		return err
	}
	data, err := p.readFile(ctx, keyFile)
	if err != nil {
		return err
	}
	file, err := ParseMasterkeyFile(data)
	if err != nil {
		return err
	}

	format := v.Format
	if unverified != nil {
		format = unverified.Format
	} else if format == 0 {
		format = file.Version
	}
	updated, err := changeMasterkeyPassphrase(data, normalizePassphrase(oldPass, format), normalizePassphrase(newPass, format), 0)
	if err != nil {
		return err
	}

	backup := p.store.File(keyFile.Parent(), backupFileName(keyFile.Name(), data), store.UnknownSize)
	if err := p.writeFile(ctx, backup, data, false); err != nil && !store.IsAlreadyExists(err) {
		return err
	}
	if err := p.writeFile(ctx, keyFile, updated, true); err != nil {
		return err
	}
	p.opts.logger.Info("vault password changed", "vault", v.ID, "backup", backup.Name())
	return nil
}

// Lock destroys the cryptor of v and returns the vault marked as locked.
func (p *Provider) Lock(v Vault) Vault {
	if p.registry.Remove(v.ID) {
		p.opts.logger.Info("vault locked", "vault", v.ID)
	}
	v.Unlocked = false
	return v
}

// Repository returns a repository for the unlocked vault v using the
// options of the provider.
func (p *Provider) Repository(ctx context.Context, v Vault) (*Repository, error) {
	if _, ok := p.registry.Get(v.ID); !ok {
		return nil, ErrVaultLocked
	}
	return NewRepository(ctx, v, p.store, p.registry, p.rawOpts...)
}

func (p *Provider) ensureFolder(ctx context.Context, f *store.Folder) error {
	if _, err := p.store.Create(ctx, f); err != nil && !store.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func (p *Provider) readFile(ctx context.Context, f *store.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.store.Read(ctx, f, &buf, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Provider) writeFile(ctx context.Context, f *store.File, data []byte, replace bool) error {
	_, err := p.store.Write(ctx, f, bytes.NewReader(data), nil, replace, int64(len(data)))
	return err
}
