package fetch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// diskCache is one file per entry, named by fingerprint. Entries are
// write-once and never revalidated against the origin; deleting the
// directory wholesale is the supported way to force a refetch.
type diskCache struct {
	dir string
}

func newDiskCache(dir string) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &diskCache{dir: dir}, nil
}

func (c *diskCache) path(key string) string {
	return filepath.Join(c.dir, key+".cache")
}

func (c *diskCache) get(key string) ([]byte, bool, error) {
	body, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (c *diskCache) put(key string, body []byte) error {
	return os.WriteFile(c.path(key), body, 0o644)
}
