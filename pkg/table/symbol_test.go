package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolMapPutAndReuse(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSymbolMapWriter(dir, "sym")
	require.NoError(t, err)

	k0, err := w.Put("alpha")
	require.NoError(t, err)
	k1, err := w.Put("beta")
	require.NoError(t, err)
	again, err := w.Put("alpha")
	require.NoError(t, err)

	assert.Equal(t, int32(0), k0)
	assert.Equal(t, int32(1), k1)
	assert.Equal(t, k0, again)
	assert.Equal(t, int32(2), w.Count())
	require.NoError(t, w.Close())
}

func TestSymbolMapRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSymbolMapWriter(dir, "sym")
	require.NoError(t, err)
	values := []string{"a", "bb", "", "value with spaces", "üñïçôdé"}
	for _, v := range values {
		_, err := w.Put(v)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := OpenSymbolMapReader(dir, "sym")
	require.NoError(t, err)
	assert.Equal(t, values, r.Values())

	for i, v := range values {
		got, ok := r.ValueOf(int32(i))
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	_, ok := r.ValueOf(int32(len(values)))
	assert.False(t, ok)
	_, ok = r.ValueOf(-1)
	assert.False(t, ok)
}

func TestSymbolMapWriterResumesExisting(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSymbolMapWriter(dir, "sym")
	require.NoError(t, err)
	_, err = w.Put("one")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := OpenSymbolMapWriter(dir, "sym")
	require.NoError(t, err)
	key, err := w2.Put("one")
	require.NoError(t, err)
	assert.Equal(t, int32(0), key)

	key2, err := w2.Put("two")
	require.NoError(t, err)
	assert.Equal(t, int32(1), key2)
	require.NoError(t, w2.Close())
}

func TestSymbolMapReaderMissingFile(t *testing.T) {
	r, err := OpenSymbolMapReader(t.TempDir(), "absent")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Count())
}
