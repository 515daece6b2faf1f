package datastore

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/guardian/kuberunner/common/errs"
)

/**
Cache is the local staging directory. Payloads are written here before being put to the store, and results
land here on their way back before being decoded and deleted
*/
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return nil, errs.Configuration("create cache directory", mkErr)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

func (c *Cache) Write(name string, content []byte) (string, error) {
	target := c.Path(name)
	if writeErr := ioutil.WriteFile(target, content, 0600); writeErr != nil {
		return "", errs.Transfer("cache "+name, writeErr)
	}
	return target, nil
}

func (c *Cache) Read(name string) ([]byte, error) {
	content, readErr := ioutil.ReadFile(c.Path(name))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, errs.NotFound("read cached "+name, readErr)
		}
		return nil, errs.Transfer("read cached "+name, readErr)
	}
	return content, nil
}

// Delete removes the local copy; an already-missing file is not an error.
func (c *Cache) Delete(name string) error {
	if rmErr := os.Remove(c.Path(name)); rmErr != nil && !os.IsNotExist(rmErr) {
		return errs.Transfer("delete cached "+name, rmErr)
	}
	return nil
}

func (c *Cache) Exists(name string) bool {
	_, statErr := os.Stat(c.Path(name))
	return statErr == nil
}
