package registry

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgererrors "voter-ledger/errors"
)

func TestResolveAssignsOnce(t *testing.T) {
	d, err := NewDirectory(DirectoryConfig{})
	require.NoError(t, err)

	key, created, err := d.Resolve("ABC1234567")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, key)

	again, created, err := d.Resolve("ABC1234567")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key, again)

	other, _, err := d.Resolve("XYZ7654321")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	_, ok := d.Lookup("NOP0000000")
	assert.False(t, ok)
}

func TestResolveConcurrent(t *testing.T) {
	d, err := NewDirectory(DirectoryConfig{})
	require.NoError(t, err)

	keys := make([]string, 20)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _, err := d.Resolve("ABC1234567")
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	for _, k := range keys {
		assert.Equal(t, keys[0], k)
	}
	assert.Len(t, d.Entries(), 1)
}

func TestDirectoryValidation(t *testing.T) {
	d, err := NewDirectory(DirectoryConfig{IDPattern: EPICPattern})
	require.NoError(t, err)

	_, _, err = d.Resolve("")
	assert.ErrorIs(t, err, ledgererrors.ErrInvalidArgument)

	_, _, err = d.Resolve("not-an-epic")
	assert.ErrorIs(t, err, ledgererrors.ErrInvalidArgument)

	_, _, err = d.Resolve("ABC1234567")
	assert.NoError(t, err)

	_, err = NewDirectory(DirectoryConfig{IDPattern: "("})
	assert.Error(t, err)
}

func TestDirectoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry", "voters.json")
	d, err := NewDirectory(DirectoryConfig{FilePath: path, AutoSave: true})
	require.NoError(t, err)

	key, _, err := d.Resolve("ABC1234567")
	require.NoError(t, err)
	_, _, err = d.Resolve("AAA0000001")
	require.NoError(t, err)

	reopened, err := NewDirectory(DirectoryConfig{FilePath: path})
	require.NoError(t, err)
	got, ok := reopened.Lookup("ABC1234567")
	require.True(t, ok)
	assert.Equal(t, key, got)

	entries := reopened.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "AAA0000001", entries[0].VoterID)
}
