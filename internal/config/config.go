package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ini "github.com/go-ini/ini"

	"keybridge/internal/common"
)

// Entry is one key/value pair of a section, in file order.
type Entry struct {
	Key   string
	Value string
}

type ConfigError struct {
	msg string
	err error
}

func (e ConfigError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e ConfigError) Unwrap() error { return e.err }

// Store is a read-only view of a keybridge configuration file. Lookups take
// a path of the form "section/key"; a path without a slash names a key in
// the default section.
type Store struct {
	path string
	file *ini.File
}

func loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		SpaceBeforeInlineComment:  true,
		UnescapeValueDoubleQuotes: true,
	}
}

// Empty returns a store in which every lookup yields its default.
func Empty() *Store {
	return &Store{file: ini.Empty(loadOptions())}
}

// Parse reads configuration from memory.
func Parse(data []byte) (*Store, error) {
	file, err := ini.LoadSources(loadOptions(), data)
	if err != nil {
		return nil, ConfigError{msg: "parse config", err: err}
	}
	return &Store{file: file}, nil
}

// Load reads the file at path. A missing file is not an error: the daemon
// runs on defaults until one is created.
func Load(path string) (*Store, error) {
	if path == "" {
		return Empty(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			store := Empty()
			store.path = path
			return store, nil
		}
		return nil, ConfigError{msg: fmt.Sprintf("stat %s", path), err: err}
	}
	if info.IsDir() {
		return nil, ConfigError{msg: fmt.Sprintf("%s is a directory", path)}
	}
	file, err := ini.LoadSources(loadOptions(), filepath.Clean(path))
	if err != nil {
		return nil, ConfigError{msg: fmt.Sprintf("load %s", path), err: err}
	}
	return &Store{path: path, file: file}, nil
}

// ResolvePath picks the configuration file: the CLI value, then
// $KEYBRIDGE_CONFIG, then the XDG default.
func ResolvePath(cliPath string) string {
	if cliPath != "" {
		return cliPath
	}
	return common.DefaultConfigPath()
}

func (s *Store) Path() string { return s.path }

// Dir is the directory relative paths in the configuration resolve against.
func (s *Store) Dir() string {
	if s.path == "" {
		return "."
	}
	return filepath.Dir(s.path)
}

func splitPath(path string) (string, string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ini.DefaultSection, path
	}
	return path[:idx], path[idx+1:]
}

func (s *Store) key(path string) *ini.Key {
	section, name := splitPath(path)
	sec, err := s.file.GetSection(section)
	if err != nil {
		return nil
	}
	key, err := sec.GetKey(name)
	if err != nil {
		return nil
	}
	return key
}

// Section returns every entry of the named section in file order. A key
// repeated in the file appears once, holding its last value.
func (s *Store) Section(name string) []Entry {
	sec, err := s.file.GetSection(name)
	if err != nil {
		return nil
	}
	keys := sec.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k.Name(), Value: k.Value()})
	}
	return out
}

func (s *Store) Has(path string) bool {
	return s.key(path) != nil
}

func (s *Store) String(path, def string) string {
	key := s.key(path)
	if key == nil {
		return def
	}
	return key.String()
}

// Int parses the value as an integer literal in any base Go accepts
// (0x, 0o, 0b prefixes). Unparsable values yield def.
func (s *Store) Int(path string, def int) int {
	key := s.key(path)
	if key == nil {
		return def
	}
	v, err := key.Int()
	if err != nil {
		return def
	}
	return v
}

func (s *Store) Bool(path string, def bool) bool {
	key := s.key(path)
	if key == nil {
		return def
	}
	v, err := key.Bool()
	if err != nil {
		return def
	}
	return v
}

// List splits a comma separated value, dropping empty items.
func (s *Store) List(path string) []string {
	return splitComma(s.String(path, ""))
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
