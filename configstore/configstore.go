// Package configstore implements a narrow contract for settings
// persistence: NetworkManager needs somewhere to read and persist a
// handful of user-visible settings (recent servers, proxy, auto-connect)
// without owning a general configuration system.
package configstore

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ConfigStore is a small persisted key/value store. The only implementation
// in this module is FileStore; tests may supply a fake.
type ConfigStore interface {
	// Get returns the stored value for key, and whether it was present.
	Get(key string) (string, bool)

	// SetKey stores value under key. userVisible marks the write as
	// user-initiated (vs. one NetworkManager makes on its own, like
	// updating recent-servers). SetKey returns false without writing
	// when the store is read-only, matching the abort path
	// set_parameters takes when persistence is rejected.
	SetKey(key, value string, userVisible bool) bool
}

// FileStore persists key/value pairs as a single JSON file, in the same
// load-whole-file/rewrite-whole-file style used elsewhere in this codebase for JSON
// backends use for their JSON persistence.
type FileStore struct {
	mu       sync.Mutex
	path     string
	readOnly bool
	values   map[string]string
}

// NewFileStore opens (or creates) the config file at path. readOnly mirrors
// the original's config.is_modifiable() == False case: writes are rejected
// rather than erroring, since a read-only config is an expected runtime
// mode (e.g. a locked-down system config), not a failure.
func NewFileStore(path string, readOnly bool) (*FileStore, error) {
	fs := &FileStore{path: path, readOnly: readOnly, values: make(map[string]string)}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, errors.Wrapf(err, "configstore: reading %s", path)
	}
	if len(b) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(b, &fs.values); err != nil {
		return nil, errors.Wrapf(err, "configstore: parsing %s", path)
	}
	return fs, nil
}

// Get implements ConfigStore.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.values[key]
	return v, ok
}

// SetKey implements ConfigStore.
func (fs *FileStore) SetKey(key, value string, userVisible bool) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return false
	}
	fs.values[key] = value
	if err := fs.persist(); err != nil {
		// Persistence failing is the same abort condition as read-only:
		// the caller must not believe the value stuck.
		return false
	}
	return true
}

func (fs *FileStore) persist() error {
	b, err := json.MarshalIndent(fs.values, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fs.path, b, 0600)
}
