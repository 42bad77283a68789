// Package xdg locates burrow's files under the XDG base directories.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "burrow"

// Kind selects an XDG base directory.
type Kind int

const (
	Config Kind = iota
	Data
)

type base struct {
	env      string
	fallback string // relative to $HOME
}

var bases = map[Kind]base{
	Config: {"XDG_CONFIG_HOME", ".config"},
	Data:   {"XDG_DATA_HOME", filepath.Join(".local", "share")},
}

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Data:
		return "data"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Dir returns the burrow directory under the base of kind k. An empty or
// relative environment value falls back to the home directory default.
func Dir(k Kind) (string, error) {
	b, ok := bases[k]
	if !ok {
		return "", fmt.Errorf("unknown directory kind %v", k)
	}
	if dir := os.Getenv(b.env); filepath.IsAbs(dir) {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s directory: %w", k, err)
	}
	return filepath.Join(home, b.fallback, appName), nil
}

// File joins name onto Dir(k). With create set the directory is made first.
func File(k Kind, name string, create bool) (string, error) {
	dir, err := Dir(k)
	if err != nil {
		return "", err
	}
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating %s directory: %w", k, err)
		}
	}
	return filepath.Join(dir, name), nil
}
