package codeblock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/BaSui01/chatflow/agent/conversation"
	"go.uber.org/zap"
)

// DefaultSavedLimit 是 AutoSaver 记录的最近写入数
const DefaultSavedLimit = 256

// AutoSaver accumulates streamed output and saves each labeled block once
// its closing fence has arrived. A block is saved again only if its
// content changes. Only the most recent writes are remembered.
type AutoSaver struct {
	saver  *Saver
	logger *zap.Logger
	limit  int

	mu      sync.Mutex
	pending strings.Builder
	seen    map[string]string // filename -> checksum
	saved   []savedEntry
}

type savedEntry struct {
	filename string
	file     SavedFile
}

// NewAutoSaver creates an AutoSaver writing through saver.
func NewAutoSaver(saver *Saver, logger *zap.Logger) *AutoSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoSaver{
		saver:  saver,
		logger: logger.With(zap.String("component", "codeblock_autosave")),
		limit:  DefaultSavedLimit,
		seen:   make(map[string]string),
	}
}

// WithLimit sets how many writes are remembered. n <= 0 keeps the current limit.
func (a *AutoSaver) WithLimit(n int) *AutoSaver {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > 0 {
		a.limit = n
		a.trimLocked()
	}
	return a
}

// OnFlush is a FlushListener.
func (a *AutoSaver) OnFlush(output string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending.WriteString(output)
	text := a.pending.String()
	idx := fencePattern.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return
	}
	a.saveLocked(Extract(text))

	// keep only what follows the last complete block
	a.pending.Reset()
	a.pending.WriteString(text[idx[len(idx)-1][1]:])
}

// Observer saves the blocks of every chat message.
func (a *AutoSaver) Observer() conversation.Observer {
	return func(chatID string, msg conversation.Message) {
		blocks := Extract(msg.Content)
		if len(blocks) == 0 {
			return
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.saveLocked(blocks)
	}
}

// Saved returns the files written so far.
func (a *AutoSaver) Saved() []SavedFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SavedFile, len(a.saved))
	for i, e := range a.saved {
		out[i] = e.file
	}
	return out
}

func (a *AutoSaver) saveLocked(blocks []Block) {
	for _, b := range blocks {
		if b.Filename == "" {
			a.logger.Debug("skipping code block without filename", zap.String("language", b.Language))
			continue
		}
		sum := sha256.Sum256([]byte(b.Code))
		if a.seen[b.Filename] == hex.EncodeToString(sum[:]) {
			continue
		}
		sf, err := a.saver.Save(b)
		if errors.Is(err, ErrPathEscape) {
			a.logger.Warn("rejected code block filename", zap.String("filename", b.Filename))
			continue
		}
		if err != nil {
			a.logger.Error("failed to save code block", zap.String("filename", b.Filename), zap.Error(err))
			continue
		}
		a.seen[b.Filename] = sf.Checksum
		a.saved = append(a.saved, savedEntry{filename: b.Filename, file: sf})
	}
	a.trimLocked()
}

// trimLocked 丢弃最旧的记录，seen 只保留仍在记录中的文件名
func (a *AutoSaver) trimLocked() {
	if len(a.saved) <= a.limit {
		return
	}
	dropped := a.saved[:len(a.saved)-a.limit]
	a.saved = append([]savedEntry(nil), a.saved[len(a.saved)-a.limit:]...)

	live := make(map[string]bool, len(a.saved))
	for _, e := range a.saved {
		live[e.filename] = true
	}
	for _, e := range dropped {
		if !live[e.filename] {
			delete(a.seen, e.filename)
		}
	}
}
