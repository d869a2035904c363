// Package vaultstore persists the list of known vaults in a BBolt database.
package vaultstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/absfs/vaultfs"
)

// ErrNotFound is returned for vault ids that are not in the catalogue.
var ErrNotFound = errors.New("vault not found")

var vaultsBucket = []byte("vaults")

// Record is a persisted vault descriptor. Lock state is never stored.
type Record struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Location            string              `json:"location"`
	Format              int                 `json:"format"`
	ShorteningThreshold int                 `json:"shorteningThreshold"`
	CipherCombo         vaultfs.CipherCombo `json:"cipherCombo,omitempty"`
	Added               time.Time           `json:"added"`
}

// FromVault returns the record of v.
func FromVault(v vaultfs.Vault) Record {
	return Record{
		ID:                  v.ID,
		Name:                v.Name,
		Location:            v.Location,
		Format:              v.Format,
		ShorteningThreshold: v.ShorteningThreshold,
		CipherCombo:         v.CipherCombo,
	}
}

// Vault returns the locked vault described by r.
func (r Record) Vault() vaultfs.Vault {
	return vaultfs.Vault{
		ID:                  r.ID,
		Name:                r.Name,
		Location:            r.Location,
		Format:              r.Format,
		ShorteningThreshold: r.ShorteningThreshold,
		CipherCombo:         r.CipherCombo,
	}
}

// Catalogue stores vault records keyed by vault id.
type Catalogue struct {
	db  *bbolt.DB
	now func() time.Time
}

// New returns a catalogue backed by db.
func New(db *bbolt.DB) (*Catalogue, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(vaultsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating vault bucket: %w", err)
	}
	return &Catalogue{db: db, now: time.Now}, nil
}

// Open opens the BBolt database at path and returns its catalogue.
func Open(path string, options *bbolt.Options) (*Catalogue, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	c, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Catalogue) Close() error {
	return c.db.Close()
}

// Put stores r, replacing any record with the same id. Added is kept from
// an existing record and set to the current time for new ones.
func (c *Catalogue) Put(r Record) error {
	if r.ID == "" {
		return &vaultfs.ValidationError{Field: "id", Message: "vault id cannot be empty"}
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(vaultsBucket)
		if existing := b.Get([]byte(r.ID)); existing != nil {
			var old Record
			if err := json.Unmarshal(existing, &old); err == nil && !old.Added.IsZero() {
				r.Added = old.Added
			}
		}
		if r.Added.IsZero() {
			r.Added = c.now().UTC()
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

// Get returns the record of the vault id.
func (c *Catalogue) Get(id string) (Record, error) {
	var r Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(vaultsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &r)
	})
	return r, err
}

// Find returns the record whose id or name equals key. Ids take precedence.
func (c *Catalogue) Find(key string) (Record, error) {
	if r, err := c.Get(key); err == nil || !errors.Is(err, ErrNotFound) {
		return r, err
	}
	records, err := c.List()
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.Name == key {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%s: %w", key, ErrNotFound)
}

// List returns all records ordered by name, then id.
func (c *Catalogue) List() ([]Record, error) {
	var records []Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(vaultsBucket).ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding record %s: %w", k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Delete removes the record of the vault id.
func (c *Catalogue) Delete(id string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(vaultsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// UpdateFormat records the format data learned while unlocking v, which
// may differ from the stored record after another client upgraded the vault.
func (c *Catalogue) UpdateFormat(v vaultfs.Vault) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(vaultsBucket)
		data := b.Get([]byte(v.ID))
		if data == nil {
			return fmt.Errorf("%s: %w", v.ID, ErrNotFound)
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if r.Format == v.Format && r.ShorteningThreshold == v.ShorteningThreshold && r.CipherCombo == v.CipherCombo {
			return nil
		}
		r.Format = v.Format
		r.ShorteningThreshold = v.ShorteningThreshold
		r.CipherCombo = v.CipherCombo
		updated, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), updated)
	})
}
