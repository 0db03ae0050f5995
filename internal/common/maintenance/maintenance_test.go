package maintenance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	if age > 0 {
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, old, old))
	}
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "translink_trip_updates_old.pb"), 10*24*time.Hour)
	touch(t, filepath.Join(dir, "translink_trip_updates_new.pb"), time.Hour)
	touch(t, filepath.Join(dir, "notes.txt"), 10*24*time.Hour)

	removed, err := CleanupOldFiles(dir, "*.pb", 7*24*time.Hour, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, "translink_trip_updates_old.pb"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "translink_trip_updates_new.pb"))
	assert.NoError(t, err)
	// Non-matching files survive regardless of age.
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestCleanupKeepsLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "translink_alerts_latest.pb"), 30*24*time.Hour)

	removed, err := CleanupOldFiles(dir, "*.pb", 7*24*time.Hour, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = os.Stat(filepath.Join(dir, "translink_alerts_latest.pb"))
	assert.NoError(t, err)
}

func TestCleanupRemovesAgedDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "gtfs_1700000000")
	require.NoError(t, os.Mkdir(sub, 0o755))
	touch(t, filepath.Join(sub, "agency.txt"), 0)
	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(sub, old, old))

	removed, err := CleanupOldFiles(dir, "gtfs_*", 30*24*time.Hour, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(sub)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupMissingDirIsNoop(t *testing.T) {
	removed, err := CleanupOldFiles(filepath.Join(t.TempDir(), "absent"), "*.pb", time.Hour, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
