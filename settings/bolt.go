package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const settingsBucket = "settings"

// Bolt persists settings in a BoltDB file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the settings database at path.
func OpenBolt(path string) (*Bolt, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings db %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Get returns the value for key, or "" if unset or unreadable.
func (b *Bolt) Get(key string) string {
	var v string
	_ = b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(settingsBucket)).Get([]byte(key)); data != nil {
			v = string(data)
		}
		return nil
	})
	return v
}

// Set validates and stores value. An empty value removes the key.
func (b *Bolt) Set(key, value string) error {
	v, err := Validate(key, value)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucket))
		if v == "" {
			return bucket.Delete([]byte(key))
		}
		return bucket.Put([]byte(key), []byte(v))
	})
}

// Delete removes key.
func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Delete([]byte(key))
	})
}

// All returns every stored setting.
func (b *Bolt) All() (map[string]string, error) {
	out := make(map[string]string)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
