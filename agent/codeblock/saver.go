package codeblock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNoFilename is returned for blocks without a filename label.
	ErrNoFilename = errors.New("code block has no filename")
	// ErrPathEscape is returned when a filename points outside the directory.
	ErrPathEscape = errors.New("filename escapes the target directory")
)

// SavedFile describes one written block.
type SavedFile struct {
	Path     string `json:"path"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"`
}

// Saver writes labeled code blocks into a directory.
type Saver struct {
	dir    string
	logger *zap.Logger
}

// NewSaver creates the directory if needed.
func NewSaver(dir string, logger *zap.Logger) (*Saver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Saver{dir: abs, logger: logger.With(zap.String("component", "codeblock_saver"))}, nil
}

// Dir returns the absolute target directory.
func (s *Saver) Dir() string { return s.dir }

// Resolve maps a block filename to a path inside the directory.
func (s *Saver) Resolve(filename string) (string, error) {
	if filename == "" {
		return "", ErrNoFilename
	}
	if filepath.IsAbs(filename) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, filename)
	}
	path := filepath.Join(s.dir, filepath.Clean(filename))
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, filename)
	}
	return path, nil
}

// Save writes the block, overwriting an existing file.
func (s *Saver) Save(b Block) (SavedFile, error) {
	path, err := s.Resolve(b.Filename)
	if err != nil {
		return SavedFile{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return SavedFile{}, fmt.Errorf("failed to create directory: %w", err)
	}
	data := []byte(b.Code)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return SavedFile{}, fmt.Errorf("failed to write %s: %w", b.Filename, err)
	}

	sum := sha256.Sum256(data)
	saved := SavedFile{Path: path, Size: len(data), Checksum: hex.EncodeToString(sum[:])}
	s.logger.Info("code block saved", zap.String("path", path), zap.Int("size", saved.Size))
	return saved, nil
}
