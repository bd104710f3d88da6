package storage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("doc_snapshots")

// SnapshotCache keeps serialized replicated-document snapshots in a
// local bbolt file, so a page can be reloaded with its full edit state
// (tombstones included) instead of re-seeding from relational rows.
type SnapshotCache struct {
	db *bolt.DB
}

func OpenSnapshotCache(path string) (*SnapshotCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot cache: %w", err)
	}
	return &SnapshotCache{db: db}, nil
}

func (c *SnapshotCache) Close() error {
	return c.db.Close()
}

// Put stores the snapshot for a page, replacing any previous one.
func (c *SnapshotCache) Put(pageID string, data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(pageID), data)
	})
}

// Get returns the stored snapshot, or nil when none exists.
func (c *SnapshotCache) Get(pageID string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get([]byte(pageID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Delete drops the snapshot for a page, typically after page deletion.
func (c *SnapshotCache) Delete(pageID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(pageID))
	})
}
