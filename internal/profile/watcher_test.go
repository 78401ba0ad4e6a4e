// ABOUTME: Tests for the debounced profile watcher
// ABOUTME: Uses a temp directory and short debounce windows

package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateSink struct {
	mu      sync.Mutex
	updates []string
}

func (u *updateSink) add(content string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, content)
}

func (u *updateSink) all() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.updates))
	copy(out, u.updates)
	return out
}

func TestWatcher_MissingFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.md")
	w := NewWatcher(path, 0, func(string) {}, slog.New(slog.DiscardHandler))

	content, err := w.Content()
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestWatcher_ContentReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.md")
	require.NoError(t, os.WriteFile(path, []byte("# Me\n"), 0644))
	w := NewWatcher(path, 0, func(string) {}, slog.New(slog.DiscardHandler))

	content, err := w.Content()
	require.NoError(t, err)
	assert.Equal(t, "# Me\n", content)
}

func TestWatcher_DeliversSettledContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.md")
	sink := &updateSink{}

	w := NewWatcher(path, 50*time.Millisecond, sink.add, slog.New(slog.DiscardHandler))
	require.NoError(t, w.Start(t.Context()))

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	require.Eventually(t, func() bool {
		return len(sink.all()) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	updates := sink.all()
	assert.Equal(t, "v1", updates[len(updates)-1])
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.md")
	sink := &updateSink{}

	w := NewWatcher(path, 100*time.Millisecond, sink.add, slog.New(slog.DiscardHandler))
	require.NoError(t, w.Start(t.Context()))

	// A burst of writes inside one debounce window.
	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, os.WriteFile(path, []byte(v), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(sink.all()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Whatever fired, the delivered content is the settled final state.
	updates := sink.all()
	assert.Equal(t, "v3", updates[len(updates)-1])
	assert.LessOrEqual(t, len(updates), 2)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.md")
	sink := &updateSink{}

	w := NewWatcher(path, 30*time.Millisecond, sink.add, slog.New(slog.DiscardHandler))
	require.NoError(t, w.Start(t.Context()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("noise"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sink.all())
}
