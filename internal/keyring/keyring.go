// Package keyring stores the session, VPN credentials and account name in the user keyring
package keyring

import (
	"encoding/json"
	"sync"

	"github.com/go-errors/errors"
	gokeyring "github.com/zalando/go-keyring"
)

// Service is the keyring service under which every entry is stored
const Service = "ProtonVPN"

// ErrNotFound is returned when an entry does not exist in the keyring
var ErrNotFound = errors.New("keyring entry not found")

// Backend is a keyring implementation
type Backend interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// System is the backend that uses the Secret Service of the desktop session
type System struct{}

// Get implements Backend
func (System) Get(service, key string) (string, error) {
	v, err := gokeyring.Get(service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

// Set implements Backend
func (System) Set(service, key, value string) error {
	return gokeyring.Set(service, key, value)
}

// Delete implements Backend
func (System) Delete(service, key string) error {
	err := gokeyring.Delete(service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Memory is an in-memory backend, used in tests and in CI mode
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func memKey(service, key string) string {
	return service + "\x00" + key
}

// Get implements Backend
func (m *Memory) Get(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[memKey(service, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Backend
func (m *Memory) Set(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[memKey(service, key)] = value
	return nil
}

// Delete implements Backend
func (m *Memory) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(service, key)
	if _, ok := m.m[k]; !ok {
		return ErrNotFound
	}
	delete(m.m, k)
	return nil
}

// Len returns the amount of stored entries
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

// Adapter reads and writes the typed entries through a Backend
type Adapter struct {
	backend Backend
	service string
}

// NewAdapter creates an adapter over the backend
func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend, service: Service}
}

// CorruptEntryError is returned when a keyring entry cannot be decoded
type CorruptEntryError struct {
	Key string
	Err error
}

func (e *CorruptEntryError) Error() string {
	return "keyring entry '" + e.Key + "' is corrupt: " + e.Err.Error()
}

func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

func (a *Adapter) load(key string, v interface{}) error {
	raw, err := a.backend.Get(a.service, key)
	if err != nil {
		return err
	}
	if err = json.Unmarshal([]byte(raw), v); err != nil {
		return &CorruptEntryError{Key: key, Err: err}
	}
	return nil
}

func (a *Adapter) store(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.WrapPrefix(err, "failed encoding keyring entry "+key, 0)
	}
	if err = a.backend.Set(a.service, key, string(b)); err != nil {
		return errors.WrapPrefix(err, "failed storing keyring entry "+key, 0)
	}
	return nil
}

func (a *Adapter) remove(key string) error {
	err := a.backend.Delete(a.service, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return errors.WrapPrefix(err, "failed deleting keyring entry "+key, 0)
	}
	return nil
}
