// Package state persists crawl progress so an interrupted scan can pick
// up where it stopped instead of re-walking the whole site.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/knowlet/scanner/internal/crawler"
)

var (
	bucketCrawl = []byte("crawl")
	keyVisited  = []byte("visited")
	keyFrontier = []byte("frontier")
)

// BoltStore keeps crawl state in a single-file bbolt database. Safe for
// one writer; the crawl engine saves after every page.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the state database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCrawl)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &BoltStore{db: db, path: path}, nil
}

// Save overwrites the stored visited set and frontier in one transaction.
func (s *BoltStore) Save(visited []string, frontier []crawler.FrontierItem) error {
	visitedData, err := json.Marshal(visited)
	if err != nil {
		return fmt.Errorf("marshal visited set: %w", err)
	}
	frontierData, err := json.Marshal(frontier)
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrawl)
		if b == nil {
			return fmt.Errorf("state bucket missing")
		}
		if err := b.Put(keyVisited, visitedData); err != nil {
			return err
		}
		return b.Put(keyFrontier, frontierData)
	})
}

// Load returns the stored state. A fresh database yields empty slices
// and no error.
func (s *BoltStore) Load() (visited []string, frontier []crawler.FrontierItem, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrawl)
		if b == nil {
			return fmt.Errorf("state bucket missing")
		}
		if data := b.Get(keyVisited); data != nil {
			if err := json.Unmarshal(data, &visited); err != nil {
				return fmt.Errorf("unmarshal visited set: %w", err)
			}
		}
		if data := b.Get(keyFrontier); data != nil {
			if err := json.Unmarshal(data, &frontier); err != nil {
				return fmt.Errorf("unmarshal frontier: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return visited, frontier, nil
}

// Clear drops the stored state, keeping the database usable.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrawl)
		if b == nil {
			return nil
		}
		if err := b.Delete(keyVisited); err != nil {
			return err
		}
		return b.Delete(keyFrontier)
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
