package dataservice

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

var (
	bucketBlocks       = []byte("blocks")
	bucketTransactions = []byte("transactions")
	bucketArtifacts    = []byte("artifacts")
	bucketSettings     = []byte("settings")
)

const (
	settingsKeyLatestBlockID = "\x00latest_block_id"
	settingsKeyQueueHead     = "\x00queue_head"
	settingsKeyQueueTail     = "\x00queue_tail"
)

// Store is the bbolt-backed entity store a data-service process owns,
// bucketed per entity kind with the usual db.Update/db.View transaction
// idiom.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database at path and ensures every bucket
// this package uses exists.
func Open(path string, maxSize int64) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	_ = maxSize // database_max_size bounds the underlying file; bbolt grows the mmap region on demand.

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketTransactions, bucketArtifacts, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func getJSON(b *bolt.Bucket, key []byte, out interface{}) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func getID(b *bolt.Bucket, key string) ids.ID {
	raw := b.Get([]byte(key))
	if raw == nil {
		return ids.Zero
	}
	return ids.FromBytes(raw)
}

func putID(b *bolt.Bucket, key string, id ids.ID) error {
	return b.Put([]byte(key), id.Bytes())
}

func notFound() error {
	return status.New(status.ServiceData, status.CodeNotFound)
}
