package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var responseBucket = []byte("responses")

// responseCache stores reasoner responses keyed by the prompt digest, so
// reruns over an unchanged tree replay deterministically without spending
// tokens.
type responseCache struct {
	db *bolt.DB
}

func openResponseCache(path string) (*responseCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating llm cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening llm cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responseBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing llm cache: %w", err)
	}
	return &responseCache{db: db}, nil
}

func (c *responseCache) get(key []byte) (string, bool) {
	var text string
	var found bool
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(responseBucket).Get(key); v != nil {
			text = string(v)
			found = true
		}
		return nil
	})
	return text, found
}

func (c *responseCache) put(key []byte, text string) {
	c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responseBucket).Put(key, []byte(text))
	})
}

func (c *responseCache) close() error {
	return c.db.Close()
}
