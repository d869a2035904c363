package vaultfs

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

// Scrypt parameters used when wrapping a masterkey.
const (
	DefaultScryptCost      = 1 << 15
	DefaultScryptBlockSize = 8
	scryptParallelism      = 1
	scryptSaltSize         = 8
)

// MasterkeyFile is the passphrase protected form of a Masterkey as persisted
// in masterkey.cryptomator. Byte fields are base64 encoded in JSON.
type MasterkeyFile struct {
	Version          int    `json:"version"`
	ScryptSalt       []byte `json:"scryptSalt"`
	ScryptCostParam  int    `json:"scryptCostParam"`
	ScryptBlockSize  int    `json:"scryptBlockSize"`
	PrimaryMasterKey []byte `json:"primaryMasterKey"`
	HmacMasterKey    []byte `json:"hmacMasterKey"`
	VersionMac       []byte `json:"versionMac"`
}

// ParseMasterkeyFile decodes the JSON contents of a masterkey file.
func ParseMasterkeyFile(data []byte) (*MasterkeyFile, error) {
	var f MasterkeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &CorruptionError{Path: MasterkeyFileName, Message: "invalid masterkey file", Err: err}
	}
	switch {
	case len(f.ScryptSalt) == 0:
		return nil, NewCorruptionError(MasterkeyFileName, errors.New("missing scryptSalt"))
	case f.ScryptCostParam <= 1 || f.ScryptBlockSize <= 0:
		return nil, NewCorruptionError(MasterkeyFileName, errors.New("invalid scrypt parameters"))
	case len(f.PrimaryMasterKey) == 0 || len(f.HmacMasterKey) == 0:
		return nil, NewCorruptionError(MasterkeyFileName, errors.New("missing wrapped keys"))
	}
	return &f, nil
}

// Marshal encodes the masterkey file as JSON.
func (f *MasterkeyFile) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding masterkey file: %w", err)
	}
	return data, nil
}

// Unlock derives the key encryption key from passphrase and unwraps the
// masterkey. A wrong passphrase results in ErrInvalidPassphrase.
func (f *MasterkeyFile) Unlock(passphrase string) (*Masterkey, error) {
	kek, err := scrypt.Key([]byte(passphrase), f.ScryptSalt, f.ScryptCostParam, f.ScryptBlockSize, scryptParallelism, subkeySize)
	if err != nil {
		return nil, NewValidationError("scrypt", f.ScryptCostParam, err.Error())
	}
	defer clear(kek)

	encKey, err := unwrapKey(kek, f.PrimaryMasterKey)
	if err != nil {
		return nil, passphraseError(err)
	}
	defer clear(encKey)
	macKey, err := unwrapKey(kek, f.HmacMasterKey)
	if err != nil {
		return nil, passphraseError(err)
	}
	defer clear(macKey)

	if !hmac.Equal(f.VersionMac, versionMac(macKey, f.Version)) {
		return nil, &AuthenticationError{Path: MasterkeyFileName, ChunkIdx: -1, Message: "version MAC mismatch"}
	}
	return NewMasterkey(encKey, macKey)
}

func passphraseError(err error) error {
	if errors.Is(err, ErrInvalidKey) {
		return ErrInvalidPassphrase
	}
	return err
}

// LockMasterkey wraps mk under passphrase. version is written into the file
// and authenticated by versionMac.
func LockMasterkey(mk *Masterkey, passphrase string, version, scryptCost int) (*MasterkeyFile, error) {
	if scryptCost <= 1 {
		scryptCost = DefaultScryptCost
	}
	salt := make([]byte, scryptSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	kek, err := scrypt.Key([]byte(passphrase), salt, scryptCost, DefaultScryptBlockSize, scryptParallelism, subkeySize)
	if err != nil {
		return nil, NewValidationError("scryptCost", scryptCost, err.Error())
	}
	defer clear(kek)

	f := &MasterkeyFile{
		Version:         version,
		ScryptSalt:      salt,
		ScryptCostParam: scryptCost,
		ScryptBlockSize: DefaultScryptBlockSize,
	}
	err = mk.withSubkeys(func(encKey, macKey []byte) error {
		var werr error
		if f.PrimaryMasterKey, werr = wrapKey(kek, encKey); werr != nil {
			return werr
		}
		if f.HmacMasterKey, werr = wrapKey(kek, macKey); werr != nil {
			return werr
		}
		f.VersionMac = versionMac(macKey, version)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// changeMasterkeyPassphrase re-wraps the masterkey in data under newPass and
// returns the encoded file. The version of the file is kept.
func changeMasterkeyPassphrase(data []byte, oldPass, newPass string, scryptCost int) ([]byte, error) {
	f, err := ParseMasterkeyFile(data)
	if err != nil {
		return nil, err
	}
	mk, err := f.Unlock(oldPass)
	if err != nil {
		return nil, err
	}
	defer mk.Destroy()

	if scryptCost <= 1 {
		scryptCost = f.ScryptCostParam
	}
	updated, err := LockMasterkey(mk, newPass, f.Version, scryptCost)
	if err != nil {
		return nil, err
	}
	return updated.Marshal()
}

// versionMac authenticates the version number with the MAC subkey.
func versionMac(macKey []byte, version int) []byte {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], uint32(int32(version)))
	mac := hmac.New(sha256.New, macKey)
	mac.Write(v[:])
	return mac.Sum(nil)
}

// normalizePassphrase applies NFC normalization for vault formats that
// require it.
func normalizePassphrase(passphrase string, format int) string {
	if format >= PassphraseNormalizationFormat {
		return norm.NFC.String(passphrase)
	}
	return passphrase
}

// backupFileName returns the name of the backup copy of the file name whose
// contents are data. Different contents never share a backup name.
func backupFileName(name string, data []byte) string {
	sum := sha256.Sum256(data)
	return name + "." + hex.EncodeToString(sum[:4]) + BackupSuffix
}
