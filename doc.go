// Package vaultfs provides cleartext access to Cryptomator compatible vaults
// stored on any plaintext content store.
//
// # Overview
//
// A vault is a folder on a content store (a local directory, an in-memory
// filesystem, a WebDAV share) holding a masterkey file, an optional signed
// vault config and the encrypted tree below d/. vaultfs never keeps the
// cleartext tree on the store: names are encrypted with AES-SIV bound to the
// directory id of their parent, contents are encrypted in 32 KiB chunks.
//
// # Vault Formats
//
//   - Format 8: vault config token (HS256 signed with the masterkey), cipher
//     combo SIV_GCM or SIV_CTRMAC, configurable name shortening threshold
//   - Format 7: base64url names with .c9r suffix, .c9s wrappers for long names
//   - Formats 5 and 6: base32 names with 0 and 1S prefixes, .lng surrogates
//     whose full names live below m/
//
// Formats 5 to 7 have no vault config and always use SIV_CTRMAC.
//
// # Basic Usage
//
//	cs := store.NewFileSystemStore(osfs, "/mnt/share")
//	provider, err := vaultfs.NewProvider(cs, vaultfs.NewRegistry())
//	if err != nil {
//	    return err
//	}
//
//	v, err := provider.Create(ctx, vaultfs.NewVault{Location: "/vaults/work"}, passphrase)
//	if err != nil {
//	    return err
//	}
//	v, err = provider.UnlockVault(ctx, v, passphrase)
//	if err != nil {
//	    return err
//	}
//	defer provider.Lock(v)
//
//	repo, err := provider.Repository(ctx, v)
//	if err != nil {
//	    return err
//	}
//	file, err := repo.File(ctx, repo.Root(), "notes.txt", store.UnknownSize)
//	if err != nil {
//	    return err
//	}
//	_, err = repo.Write(ctx, file, strings.NewReader("hello"), nil, false, 5)
//
// # Locking
//
// Unlocked vaults are represented by a Cryptor registered in a Registry under
// the vault id. Repositories look the cryptor up on every operation, so
// Provider.Lock takes effect immediately and later operations fail with
// ErrVaultLocked. Destroying a cryptor wipes its key material.
//
// # Errors
//
// Failures are reported with typed errors that can be inspected with
// errors.As or the IsXxx helpers:
//
//   - AuthenticationError: ciphertext failed authentication
//   - CorruptionError: the vault structure is inconsistent, for example a
//     missing directory file or root folder
//   - UnsupportedVaultFormatError and VaultConfigError: the vault cannot be
//     opened
//   - ValidationError: invalid arguments or options
//
// Store level conditions are reported with store.ErrNotFound and
// store.ErrAlreadyExists. Paths in these errors are cleartext paths where
// the repository knows them.
//
// # Concurrency
//
// Provider, Registry and Repository are safe for concurrent use. vaultfs does
// not lock the vault against other clients modifying it at the same time.
package vaultfs
