package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths locates everything affchat keeps on disk. The base is ~/.affchat
// unless AFFCHAT_HOME points elsewhere.
type Paths struct {
	Base    string
	Config  string
	EnvFile string
	Data    string
	Logs    string
}

// ResolvePaths computes the standard layout.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("AFFCHAT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(home, ".affchat")
	}
	return PathsAt(base), nil
}

// PathsAt lays out the standard files under base.
func PathsAt(base string) Paths {
	return Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		EnvFile: filepath.Join(base, ".env"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
	}
}

// ClientDB is the SQLite file holding client-local state.
func (p Paths) ClientDB() string { return filepath.Join(p.Data, "client.db") }

// DeskDB is the SQLite file backing the support desk.
func (p Paths) DeskDB() string { return filepath.Join(p.Data, "desk.db") }

// EnsureDirs creates the base, data and log directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dotted key such as "desk.auth.token".
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	segs := strings.Split(raw, ".")
	for _, s := range segs {
		switch {
		case s == "":
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q contains empty segment", raw)}
		case blockedKeys[s]:
			return nil, &ConfigError{Message: "config path contains blocked key: " + s}
		}
	}
	return segs, nil
}

// parent walks to the map holding the last segment of path. With create set,
// missing or non-map intermediates are replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	return m, true
}

// GetValueAtPath reads a value from a decoded YAML document.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath writes value, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
