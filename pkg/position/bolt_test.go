package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreGetEmpty(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, ok, err := store.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStoreSetAndGet(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.SetFile("mysql-bin.000004"))
	require.NoError(t, store.SetPos(1572))

	pos, ok, err := store.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mysql-bin.000004", pos.LogFile)
	assert.Equal(t, uint32(1572), pos.LogPos)
}

func TestBoltStoreRotateThenAdvance(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.SetFile("mysql-bin.000001"))
	require.NoError(t, store.SetPos(4))
	require.NoError(t, store.SetPos(512))
	require.NoError(t, store.SetFile("mysql-bin.000002"))
	require.NoError(t, store.SetPos(4))

	pos, ok, err := store.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mysql-bin.000002", pos.LogFile)
	assert.Equal(t, uint32(4), pos.LogPos)
}
