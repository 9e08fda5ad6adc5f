package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
)

// Cache is a content-addressed disk cache for transcode outputs. Keys are
// derived from the source bytes and the target format, so repeat sends of
// the same sticker or voice clip skip re-encoding.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives a stable cache key for content converted to the target
// extension (e.g. ".gif").
func (c *Cache) Key(content []byte, targetExt string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64(content), targetExt)
}

// Get returns the cached output for a key, or nil on miss.
func (c *Cache) Get(key string) []byte {
	data, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

// Put stores an output under a key. Failures are ignorable: the cache is an
// optimization, not a durability layer.
func (c *Cache) Put(key string, data []byte) error {
	return os.WriteFile(filepath.Join(c.dir, key), data, 0644)
}

// Path returns the on-disk location of a key, whether or not it exists.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key)
}
