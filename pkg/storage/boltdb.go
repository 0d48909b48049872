package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSeq = []byte("__seq__")
)

// BoltStore implements Store on top of BoltDB, with one bucket created
// on demand per table the first time a row is written to it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "agentic-fabric.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeq)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func tableBucket(table string) []byte {
	return []byte("table:" + table)
}

// Put upserts a row's raw content under table/id.
func (s *BoltStore) Put(table, id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tableBucket(table))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// Get retrieves a row's raw content, or nil if it does not exist.
func (s *BoltStore) Get(table, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// List returns every row's raw content for a table.
func (s *BoltStore) List(table string) ([][]byte, error) {
	var rows [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			rows = append(rows, append([]byte(nil), v...))
			return nil
		})
	})
	return rows, err
}

// Delete removes a row. Not an error if it doesn't exist.
func (s *BoltStore) Delete(table, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// NextID returns a monotonically increasing id scoped to table.
func (s *BoltStore) NextID(table string) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeq)
		key := []byte(table)
		var next uint64 = 1
		if v := b.Get(key); v != nil {
			next = binary.BigEndian.Uint64(v) + 1
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		if err := b.Put(key, buf); err != nil {
			return err
		}
		id = next
		return nil
	})
	return id, err
}
