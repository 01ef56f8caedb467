package configstore

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tempPath(t *testing.T) string {
	dir, err := ioutil.TempDir("", "configstore")
	assert.NoError(t, err)
	return filepath.Join(dir, "config.json")
}

func TestSetThenGet(t *testing.T) {
	fs, err := NewFileStore(tempPath(t), false)
	assert.NoError(t, err)

	ok := fs.SetKey("server", "electrum.ltc.xurious.com:50002:s", true)
	assert.True(t, ok)

	v, ok := fs.Get("server")
	assert.True(t, ok)
	assert.Equal(t, "electrum.ltc.xurious.com:50002:s", v)
}

func TestGetMissingKey(t *testing.T) {
	fs, err := NewFileStore(tempPath(t), false)
	assert.NoError(t, err)
	_, ok := fs.Get("nope")
	assert.False(t, ok)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	fs, err := NewFileStore(tempPath(t), true)
	assert.NoError(t, err)
	ok := fs.SetKey("server", "x", true)
	assert.False(t, ok)
	_, exists := fs.Get("server")
	assert.False(t, exists)
}

func TestPersistsAcrossReload(t *testing.T) {
	path := tempPath(t)
	fs, err := NewFileStore(path, false)
	assert.NoError(t, err)
	assert.True(t, fs.SetKey("auto_connect", "true", false))

	fs2, err := NewFileStore(path, false)
	assert.NoError(t, err)
	v, ok := fs2.Get("auto_connect")
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}
