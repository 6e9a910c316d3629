package catalog

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"github.com/go-errors/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// Store persists the catalog as JSON
// Writers and readers in other processes are serialised by a file lock
type Store struct {
	path string
}

// NewStore creates a store at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the cache file
func (s *Store) Path() string {
	return s.path
}

// Load reads the catalog from disk
// A missing, partial or empty file returns a MissingCacheError
func (s *Store) Load() (*Catalog, error) {
	b, err := lockedfile.Read(s.path)
	if err != nil {
		return nil, &MissingCacheError{Path: s.path, Err: err}
	}
	var c Catalog
	if err = json.Unmarshal(b, &c); err != nil {
		return nil, &MissingCacheError{Path: s.path, Err: err}
	}
	if c.Empty() {
		return nil, &MissingCacheError{Path: s.path, Err: errors.New("no servers in cache")}
	}
	return &c, nil
}

// Save writes the catalog to disk
func (s *Store) Save(c *Catalog) error {
	if err := util.EnsureDirectory(filepath.Dir(s.path)); err != nil {
		return err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return errors.WrapPrefix(err, "failed encoding server list", 0)
	}
	if err = lockedfile.Write(s.path, bytes.NewReader(b), 0o600); err != nil {
		return errors.WrapPrefix(err, "failed writing server list cache", 0)
	}
	return nil
}
