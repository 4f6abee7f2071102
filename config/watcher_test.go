package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventSink struct {
	mu      sync.Mutex
	batches [][]FileEvent
}

func (s *eventSink) record(events []FileEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
}

func (s *eventSink) all() []FileEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FileEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func fastWatcher(t *testing.T, paths ...string) (*FileWatcher, *eventSink) {
	t.Helper()
	w, err := NewFileWatcher(paths,
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	sink := &eventSink{}
	w.OnChange(sink.record)
	return w, sink
}

func TestNewFileWatcher_Defaults(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWatcher([]string{dir})
	require.NoError(t, err)

	assert.Equal(t, []string{dir}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounce)
	assert.True(t, w.extensions[".yaml"])
}

func TestNewFileWatcher_NonExistentPath(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/scenarios"})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}

func TestFileWatcher_DirectoryCreatedLater(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenarios")
	w, sink := fastWatcher(t, dir)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.Mkdir(dir, 0755))
	// 等目录被加入监听后再写文件
	time.Sleep(50 * time.Millisecond)
	f := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(f, []byte("name: a"), 0644))

	assert.Eventually(t, func() bool {
		for _, e := range sink.all() {
			if e.Path == f {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DirectoryEvents(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("name: a"), 0644))

	w, sink := fastWatcher(t, dir)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	created := filepath.Join(dir, "b.yml")
	require.NoError(t, os.WriteFile(created, []byte("name: b"), 0644))
	// ignored extension
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		for _, e := range sink.all() {
			if e.Path == created && e.Op == FileOpCreate {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(existing))
	assert.Eventually(t, func() bool {
		for _, e := range sink.all() {
			if e.Path == existing && e.Op == FileOpRemove {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, e := range sink.all() {
		assert.NotEqual(t, ".txt", filepath.Ext(e.Path))
	}
}

func TestFileWatcher_WriteEvent(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a: 1"), 0644))

	w, sink := fastWatcher(t, f)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// 同目录下的其他文件不属于监听项
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(f), "other.yaml"), []byte("b: 2"), 0644))
	require.NoError(t, os.WriteFile(f, []byte("a: 2"), 0644))

	assert.Eventually(t, func() bool {
		events := sink.all()
		return len(events) == 1 && events[0].Op == FileOpWrite && events[0].Path == f
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_StartStop(t *testing.T) {
	w, _ := fastWatcher(t, t.TempDir())
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.NoError(t, w.Stop())
}

func TestMergeOp(t *testing.T) {
	tests := []struct {
		name string
		prev []FileOp
		next FileOp
		want FileOp
	}{
		{"first event", nil, FileOpWrite, FileOpWrite},
		{"write after create", []FileOp{FileOpCreate}, FileOpWrite, FileOpCreate},
		{"remove wins", []FileOp{FileOpCreate}, FileOpRemove, FileOpRemove},
		{"recreated", []FileOp{FileOpRemove}, FileOpCreate, FileOpWrite},
		{"write after write", []FileOp{FileOpWrite}, FileOpWrite, FileOpWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending := map[string]FileOp{}
			for _, op := range tt.prev {
				pending["f"] = op
			}
			assert.Equal(t, tt.want, mergeOp(pending, "f", tt.next))
		})
	}
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
