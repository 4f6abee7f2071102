package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileOp 是合并后的文件变更类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	}
	return "UNKNOWN"
}

type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher 监听文件与目录（只看目录的直接子项）的变更，
// 在 debounce 窗口内合并事件后批量回调。
// 单个文件或尚不存在的路径通过监听其父目录实现。
type FileWatcher struct {
	paths      []string
	extensions map[string]bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	callbacks []func([]FileEvent)
	fsw       *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
}

type WatcherOption func(*FileWatcher)

// WithDebounceDelay 设置事件合并窗口，默认 100ms
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounce = d }
}

// WithExtensions 限定目录中被关注的文件扩展名
func WithExtensions(exts ...string) WatcherOption {
	return func(w *FileWatcher) {
		w.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			w.extensions[strings.ToLower(e)] = true
		}
	}
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		extensions: map[string]bool{".yaml": true, ".yml": true, ".json": true},
		debounce:   100 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve watch path %s: %w", p, err)
		}
		w.paths = append(w.paths, abs)
	}
	return w, nil
}

// OnChange 注册回调；每批事件按路径排序，同一路径只出现一次
func (w *FileWatcher) OnChange(callback func([]FileEvent)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Start 开始监听，直到 ctx 结束或调用 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range w.watchDirs() {
		err := fsw.Add(dir)
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("parent of watched path is missing, skipping", zap.String("dir", dir))
			continue
		}
		if err != nil {
			fsw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw, w.cancel, w.done = fsw, cancel, make(chan struct{})
	go w.loop(ctx, fsw, w.done)

	w.logger.Info("file watcher started", zap.Strings("paths", w.paths))
	return nil
}

// watchDirs 返回需要交给 fsnotify 的目录：已存在的目录本身，
// 以及文件或缺失路径的父目录
func (w *FileWatcher) watchDirs() []string {
	var dirs []string
	for _, p := range w.paths {
		dir := p
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			dir = filepath.Dir(p)
			if err != nil {
				w.logger.Warn("watched path does not exist, waiting for creation", zap.String("path", p))
			}
		}
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Stop 停止监听并等待事件循环退出；可重复调用
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return nil
	}
	fsw, cancel, done := w.fsw, w.cancel, w.done
	w.fsw = nil
	w.mu.Unlock()

	cancel()
	<-done
	err := fsw.Close()
	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw != nil
}

func (w *FileWatcher) Paths() []string {
	return slices.Clone(w.paths)
}

// relevant 判断事件路径是否属于某个被监听项
func (w *FileWatcher) relevant(name string) bool {
	for _, p := range w.paths {
		if name == p {
			return true
		}
		if filepath.Dir(name) == p && w.extensions[strings.ToLower(filepath.Ext(name))] {
			return true
		}
	}
	return false
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	pending := make(map[string]FileOp)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && slices.Contains(w.paths, ev.Name) {
				// 被监听的目录此刻才出现
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fsw.Add(ev.Name); err != nil {
						w.logger.Warn("failed to watch created directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			op, ok := toFileOp(ev.Op)
			if !ok || !w.relevant(ev.Name) {
				continue
			}
			pending[ev.Name] = mergeOp(pending, ev.Name, op)
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			w.dispatch(pending)
			pending = make(map[string]FileOp)
		}
	}
}

func toFileOp(op fsnotify.Op) (FileOp, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return FileOpRemove, true
	case op.Has(fsnotify.Create):
		return FileOpCreate, true
	case op.Has(fsnotify.Write):
		return FileOpWrite, true
	}
	return 0, false
}

// mergeOp 合并同一窗口内同一路径的多个事件：
// 新建后写入仍是新建，删除后重建视为写入，删除总是覆盖之前的操作
func mergeOp(pending map[string]FileOp, path string, next FileOp) FileOp {
	prev, ok := pending[path]
	switch {
	case !ok, next == FileOpRemove:
		return next
	case prev == FileOpRemove && next == FileOpCreate:
		return FileOpWrite
	case prev == FileOpCreate:
		return FileOpCreate
	}
	return next
}

func (w *FileWatcher) dispatch(pending map[string]FileOp) {
	if len(pending) == 0 {
		return
	}
	now := time.Now()
	events := make([]FileEvent, 0, len(pending))
	for path, op := range pending {
		events = append(events, FileEvent{Path: path, Op: op, Timestamp: now})
	}
	slices.SortFunc(events, func(a, b FileEvent) int { return strings.Compare(a.Path, b.Path) })

	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("dispatching file events", zap.Int("count", len(events)))
	for _, cb := range callbacks {
		cb(events)
	}
}
