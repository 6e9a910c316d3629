// Package metadata stores the small JSON records that describe the current and last connection
// and the refresh deadlines of the cached API data
package metadata

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-errors/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// ErrNoMetadata is returned when a record does not exist
var ErrNoMetadata = errors.New("no metadata stored")

// Connection is the record of the active connection
type Connection struct {
	Server        string            `json:"connected_server"`
	Protocol      protocol.Protocol `json:"connected_protocol"`
	ConnectedTime int64             `json:"connected_time"`
	DisplayIP     string            `json:"display_server_ip"`
}

// ConnectedAt returns the connect time, zero when unknown
func (c Connection) ConnectedAt() time.Time {
	if c.ConnectedTime == 0 {
		return time.Time{}
	}
	return time.Unix(c.ConnectedTime, 0)
}

// LastConnection is the record that survives a disconnect for reconnecting to the previous server
type LastConnection struct {
	Server   string            `json:"connected_server"`
	Protocol protocol.Protocol `json:"connected_protocol"`
	IP       string            `json:"ip"`
}

// Cache holds the unix deadlines for refreshing the cached API data
type Cache struct {
	ServersDeadline      int64 `json:"servers_deadline"`
	LoadsDeadline        int64 `json:"loads_deadline"`
	ClientConfigDeadline int64 `json:"clientconfig_deadline"`
}

// Store reads and writes the metadata files
type Store struct {
	paths util.Paths
}

// NewStore creates a metadata store for the paths
func NewStore(paths util.Paths) *Store {
	return &Store{paths: paths}
}

func read(path string, v interface{}) error {
	b, err := lockedfile.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNoMetadata
		}
		return errors.WrapPrefix(err, "failed reading metadata "+path, 0)
	}
	if err = json.Unmarshal(b, v); err != nil {
		return errors.WrapPrefix(err, "failed decoding metadata "+path, 0)
	}
	return nil
}

func write(path string, v interface{}) error {
	if err := util.EnsureDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.WrapPrefix(err, "failed encoding metadata", 0)
	}
	if err = lockedfile.Write(path, bytes.NewReader(b), 0o600); err != nil {
		return errors.WrapPrefix(err, "failed writing metadata "+path, 0)
	}
	return nil
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.WrapPrefix(err, "failed removing metadata "+path, 0)
	}
	return nil
}

// Current returns the record of the active connection
func (s *Store) Current() (Connection, error) {
	var c Connection
	err := read(s.paths.ConnectionMetadata(), &c)
	return c, err
}

// SaveCurrent writes the record of the active connection
func (s *Store) SaveCurrent(c Connection) error {
	return write(s.paths.ConnectionMetadata(), c)
}

// SetConnectedTime updates the connect time of the current record
func (s *Store) SetConnectedTime(t time.Time) error {
	c, err := s.Current()
	if err != nil {
		return err
	}
	c.ConnectedTime = t.Unix()
	return s.SaveCurrent(c)
}

// ClearCurrent removes the record of the active connection
func (s *Store) ClearCurrent() error {
	return remove(s.paths.ConnectionMetadata())
}

// Last returns the last connection record
func (s *Store) Last() (LastConnection, error) {
	var l LastConnection
	err := read(s.paths.LastConnectionMetadata(), &l)
	return l, err
}

// SaveLast writes the last connection record
func (s *Store) SaveLast(l LastConnection) error {
	return write(s.paths.LastConnectionMetadata(), l)
}

// Cache returns the refresh deadlines, a missing file gives zero deadlines
func (s *Store) Cache() Cache {
	var c Cache
	if err := read(s.paths.CacheMetadata(), &c); err != nil && !errors.Is(err, ErrNoMetadata) {
		log.Logger.Warningf("ignoring cache metadata: %v", err)
		return Cache{}
	}
	return c
}

// SaveCache writes the refresh deadlines
func (s *Store) SaveCache(c Cache) error {
	return write(s.paths.CacheMetadata(), c)
}
