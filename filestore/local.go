// Package filestore holds uploaded files for the scanner.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by Open and Remove for unknown files.
var ErrNotFound = errors.New("file not found")

const (
	filesBucket = "files"
	blobDir     = "blobs"
	indexFile   = "index.db"
)

// Local keeps file content under a directory and metadata in a BoltDB index
// next to it. It implements clamav.FileStore.
type Local struct {
	root string
	db   *bbolt.DB
}

// OpenLocal opens or creates a store rooted at dir.
func OpenLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, blobDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(filepath.Join(dir, indexFile), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open file index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(filesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create files bucket: %w", err)
	}

	return &Local{root: dir, db: db}, nil
}

// Close closes the index.
func (l *Local) Close() error {
	return l.db.Close()
}

// Put copies r into the store under a new id.
func (l *Local) Put(ctx context.Context, name string, r io.Reader) (*clamav.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := &clamav.File{ID: uuid.NewString(), Name: name}

	tmp, err := os.CreateTemp(filepath.Join(l.root, blobDir), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	f.Size = n

	if err := os.Rename(tmp.Name(), l.blobPath(f.ID)); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file: %w", err)
	}
	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).Put([]byte(f.ID), data)
	})
	if err != nil {
		_ = os.Remove(l.blobPath(f.ID))
		return nil, fmt.Errorf("failed to index file: %w", err)
	}

	return f, nil
}

// Load returns the file with id, or nil if there is none.
func (l *Local) Load(_ context.Context, id string) (*clamav.File, error) {
	var f *clamav.File
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(filesBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		f = &clamav.File{}
		return json.Unmarshal(data, f)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", id, err)
	}
	return f, nil
}

// Open returns a reader of the file content.
func (l *Local) Open(_ context.Context, f *clamav.File) (io.ReadCloser, error) {
	rc, err := os.Open(l.blobPath(f.ID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, f.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", f.ID, err)
	}
	return rc, nil
}

// Remove deletes the file content and its index entry.
func (l *Local) Remove(_ context.Context, f *clamav.File) error {
	found := false
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(filesBucket))
		if bucket.Get([]byte(f.ID)) != nil {
			found = true
		}
		return bucket.Delete([]byte(f.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to unindex file %s: %w", f.ID, err)
	}

	err = os.Remove(l.blobPath(f.ID))
	if errors.Is(err, os.ErrNotExist) {
		if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, f.ID)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove file %s: %w", f.ID, err)
	}
	return nil
}

// List returns every stored file ordered by name, then id.
func (l *Local) List(_ context.Context) ([]clamav.File, error) {
	var files []clamav.File
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).ForEach(func(_, v []byte) error {
			var f clamav.File
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sortFiles(files)
	return files, nil
}

func (l *Local) blobPath(id string) string {
	// ids are uuids, but never let one escape the blob directory.
	return filepath.Join(l.root, blobDir, filepath.Base(id))
}

func sortFiles(files []clamav.File) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name < files[j].Name
		}
		return files[i].ID < files[j].ID
	})
}
