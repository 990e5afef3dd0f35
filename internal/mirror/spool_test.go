package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spoolFiles(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, SpoolPattern))
	require.NoError(t, err)

	return matches
}

func TestSpool_WithReleasesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	spool := NewSpool(dir, 0)

	var path string

	err := spool.With(context.Background(), func(f *os.File) error {
		path = f.Name()

		assert.Equal(t, int64(1), spool.InUse())

		_, err := io.Copy(spool.Writer(f), strings.NewReader("hello"))

		return err
	})
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.NoFileExists(t, path)
	assert.Equal(t, int64(0), spool.InUse())
	assert.Equal(t, int64(1), spool.Acquired())
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_WithReleasesOnError(t *testing.T) {
	dir := t.TempDir()
	spool := NewSpool(dir, 0)
	boom := errors.New("boom")

	err := spool.With(context.Background(), func(f *os.File) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), spool.InUse())
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_WithReleasesOnPanic(t *testing.T) {
	dir := t.TempDir()
	spool := NewSpool(dir, 0)

	assert.Panics(t, func() {
		_ = spool.With(context.Background(), func(f *os.File) error {
			panic("unexpected")
		})
	})

	assert.Equal(t, int64(0), spool.InUse())
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_FileClosedByCaller(t *testing.T) {
	dir := t.TempDir()
	spool := NewSpool(dir, 0)

	err := spool.With(context.Background(), func(f *os.File) error {
		return f.Close()
	})
	require.NoError(t, err)
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_CreateFailure(t *testing.T) {
	spool := NewSpool(filepath.Join(t.TempDir(), "missing"), 0)

	called := false
	err := spool.With(context.Background(), func(f *os.File) error {
		called = true

		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, int64(0), spool.InUse())
	assert.Equal(t, int64(0), spool.Acquired())
}

func TestSpool_Limit(t *testing.T) {
	spool := NewSpool(t.TempDir(), 4)

	err := spool.With(context.Background(), func(f *os.File) error {
		w := spool.Writer(f)

		_, err := w.Write([]byte("abc"))
		require.NoError(t, err)

		_, err = w.Write([]byte("de"))

		return err
	})

	require.ErrorIs(t, err, ErrSpoolLimit)
}

func TestSpool_DirDefaultsToTemp(t *testing.T) {
	assert.Equal(t, os.TempDir(), NewSpool("", 0).Dir())
	assert.Equal(t, "/data", NewSpool("/data", 0).Dir())
}
