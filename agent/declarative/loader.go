package declarative

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScenarioLoader loads ScenarioDefinition from files or raw bytes.
type ScenarioLoader interface {
	// LoadFile parses a .yaml, .yml or .json file.
	LoadFile(path string) (*ScenarioDefinition, error)
	// LoadBytes parses data in the given format ("yaml" or "json").
	LoadBytes(data []byte, format string) (*ScenarioDefinition, error)
	// LoadDir loads every scenario file directly under dir, keyed by name.
	LoadDir(dir string) (map[string]*ScenarioDefinition, error)
}

type decodeFunc func(data []byte, def *ScenarioDefinition, strict bool) error

var formats = map[string]decodeFunc{
	"yaml": decodeYAML,
	"json": decodeJSON,
}

func decodeYAML(data []byte, def *ScenarioDefinition, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(def); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, def *ScenarioDefinition, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(def); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

// YAMLLoader reads scenario files in YAML or JSON.
type YAMLLoader struct {
	strict bool
}

// LoaderOption configures a YAMLLoader.
type LoaderOption func(*YAMLLoader)

// Strict rejects keys that do not map to a ScenarioDefinition field.
func Strict() LoaderOption {
	return func(l *YAMLLoader) { l.strict = true }
}

func NewYAMLLoader(opts ...LoaderOption) *YAMLLoader {
	l := &YAMLLoader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile picks the format from the extension. A scenario without a name
// is named after the file.
func (l *YAMLLoader) LoadFile(path string) (*ScenarioDefinition, error) {
	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	def, err := l.LoadBytes(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

func (l *YAMLLoader) LoadBytes(data []byte, format string) (*ScenarioDefinition, error) {
	format = strings.ToLower(format)
	if format == "yml" {
		format = "yaml"
	}
	decode, ok := formats[format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	def := &ScenarioDefinition{}
	if err := decode(data, def, l.strict); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadDir is not recursive; unrelated files are skipped and a name used by
// two files is an error.
func (l *YAMLLoader) LoadDir(dir string) (map[string]*ScenarioDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	defs := make(map[string]*ScenarioDefinition)
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || detectFormat(e.Name()) == "" {
			continue
		}
		def, err := l.LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("duplicate scenario name %q in %s and %s", def.Name, prev, e.Name())
		}
		seen[def.Name] = e.Name()
		defs[def.Name] = def
	}
	return defs, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	return ""
}
