package remote

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinitions(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestFileFetcher_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("Should load a valid document", func(t *testing.T) {
		t.Parallel()

		// Arrange
		path := filepath.Join(t.TempDir(), "flags.json")
		writeDefinitions(t, path, definitionsBody)
		fetcher := NewFileFetcher(nil, path)

		// Act
		result, err := fetcher.Fetch(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, result.Snapshot.FlagCount())
	})

	t.Run("Should report unchanged content as not modified", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "flags.json")
		writeDefinitions(t, path, definitionsBody)
		fetcher := NewFileFetcher(nil, path)

		_, err := fetcher.Fetch(context.Background())
		require.NoError(t, err)
		result, err := fetcher.Fetch(context.Background())

		require.NoError(t, err)
		assert.True(t, result.NotModified)
	})

	t.Run("Should reject documents that violate the schema", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "flags.json")
		writeDefinitions(t, path, `{"flags": [{"id": 1, "key": "a", "rollout_percentage": 150}]}`)

		_, err := NewFileFetcher(nil, path).Fetch(context.Background())

		assert.Error(t, err)
	})

	t.Run("Should fail when the file is missing", func(t *testing.T) {
		t.Parallel()

		_, err := NewFileFetcher(nil, filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())

		assert.Error(t, err)
	})
}

func TestFileFetcher_Watch(t *testing.T) {
	t.Parallel()

	t.Run("Should notify when the file changes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		dir := t.TempDir()
		path := filepath.Join(dir, "flags.json")
		writeDefinitions(t, path, definitionsBody)
		fetcher := NewFileFetcher(nil, path)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var changes atomic.Int32
		done := make(chan error, 1)
		go func() { done <- fetcher.Watch(ctx, func() { changes.Add(1) }) }()

		// Act: keep writing until the watcher is registered and reports.
		require.Eventually(t, func() bool {
			writeDefinitions(t, path, definitionsBody)
			return changes.Load() > 0
		}, 5*time.Second, 50*time.Millisecond)

		// Assert
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not stop after cancellation")
		}
	})
}
