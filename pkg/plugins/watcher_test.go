package plugins

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_EvictsRemovedPlugin(t *testing.T) {
	pluginsDir := t.TempDir()
	root := installPlugin(t, pluginsDir, "ticker", "ticker", "Ticker", tickerSource)

	loader := NewLoader(pluginsDir, getTestLogger())
	_, err := loader.LoadPlugin(context.Background(), "ticker", nil, root, HostCollaborators{})
	require.NoError(t, err)

	watcher, err := NewWatcher(loader, getTestLogger())
	require.NoError(t, err)
	defer watcher.Close()

	evicted := make(chan []string, 1)
	watcher.OnEvict = func(root string, ids []string) {
		evicted <- ids
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	require.NoError(t, os.RemoveAll(root))

	select {
	case ids := <-evicted:
		assert.Equal(t, []string{"ticker"}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("module was not evicted")
	}

	_, ok := loader.Module("ticker")
	assert.False(t, ok)
}

func TestWatcher_IgnoresUnloadedDirectories(t *testing.T) {
	pluginsDir := t.TempDir()
	root := installPlugin(t, pluginsDir, "ticker", "ticker", "Ticker", tickerSource)

	loader := NewLoader(pluginsDir, getTestLogger())
	watcher, err := NewWatcher(loader, getTestLogger())
	require.NoError(t, err)
	defer watcher.Close()

	called := make(chan struct{}, 1)
	watcher.OnEvict = func(string, []string) { called <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	require.NoError(t, os.RemoveAll(root))

	select {
	case <-called:
		t.Fatal("nothing was loaded, nothing should be evicted")
	case <-time.After(200 * time.Millisecond):
	}
}
