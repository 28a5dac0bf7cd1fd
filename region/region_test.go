package region

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.region")

	r, err := Create(path, 1<<20)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), r.Size())

	// scribble through a view, reopen, and read it back
	b := r.View(4096, 8)
	require.NotNil(t, b)
	copy(b, "famradix")
	man := r.Manifest()
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	assert.Equal(t, man.ID, r2.Manifest().ID)
	assert.Equal(t, man.Size, r2.Manifest().Size)
	assert.Equal(t, []byte("famradix"), r2.View(4096, 8))
}

func TestCreateRoundsUpToPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.region")
	r, err := Create(path, 100)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(pageBytes), r.Size())
}

func TestCreateRejectsZeroSize(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "zero.region"), 0)
	require.ErrorIs(t, err, ErrSizeInvalid)
}

func TestViewBounds(t *testing.T) {
	r, err := Create(filepath.Join(t.TempDir(), "bounds.region"), 1<<16)
	require.NoError(t, err)
	defer r.Close()

	assert.Nil(t, r.View(0, 8), "gptr 0 is null, not the region base")
	assert.NotNil(t, r.Raw(0, 8), "raw access reaches the reserved base")
	assert.NotNil(t, r.View(1<<16-8, 8))
	assert.Nil(t, r.View(1<<16-4, 8))
	assert.Nil(t, r.Raw(1<<16, 1))
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.region")
	r, err := Create(path, 1<<16)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// shrink the backing file behind the manifest's back
	require.NoError(t, os.Truncate(path, 4096))

	_, err = Open(path)
	require.ErrorIs(t, err, ErrFileShort)
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.manifest")
	man := NewManifest(1 << 20)
	require.NoError(t, WriteManifest(path, man))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, man, got)
}
