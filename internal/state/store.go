// Package state holds the visited set and the session snapshot stores.
package state

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists opaque session snapshot records keyed by session id.
type Store interface {
	Put(id string, data []byte) error
	Get(id string) ([]byte, error)
	List() ([]string, error)
	Delete(id string) error
	Close() error
}

var bucketSessions = []byte("sessions")

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Put stores data under id, replacing any previous record.
func (s *BoltStore) Put(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(id), data)
	})
}

// Get returns the record for id.
func (s *BoltStore) Get(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// List returns all stored ids in key order.
func (s *BoltStore) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Delete removes the record for id.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// FileStore implements Store as one gzip-compressed file per record.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

const fileStoreExt = ".json.gz"

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id)+fileStoreExt)
}

// Put writes data to a temp file and renames it into place.
func (s *FileStore) Put(id string, data []byte) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(id))
}

// Get reads and decompresses the record for id.
func (s *FileStore) Get(id string) ([]byte, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

// List returns all stored ids sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, fileStoreExt) {
			ids = append(ids, strings.TrimSuffix(name, fileStoreExt))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the record for id.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *MemoryStore) Put(id string, data []byte) error {
	s.mu.Lock()
	s.records[id] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record for id.
func (s *MemoryStore) Get(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// List returns all stored ids sorted.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the record for id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
