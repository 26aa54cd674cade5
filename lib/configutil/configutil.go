// Package configutil loads json5 configuration files with optional
// <name>.local.<ext> sibling files merged on top, so machine-specific
// overrides stay out of version control.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadConfig loads name plus, when present, its <name>.local.<ext>
// sibling, whose values take precedence. It returns os.ErrNotExist when
// neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T

	base, err := readInto(name, &out)
	if err != nil {
		return out, err
	}

	ext := filepath.Ext(name)
	localName := strings.TrimSuffix(name, ext) + ".local" + ext

	var override T
	local, err := readInto(localName, &override)
	if err != nil {
		return out, err
	}
	if local {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merging %s: %w", localName, err)
		}
		slog.Info("merged local config overrides", "file", localName)
	}

	if !base && !local {
		return out, os.ErrNotExist
	}
	return out, nil
}

// readInto reports whether the file existed with content. A missing file
// is not an error here, ReadConfig decides that once it has seen both
// candidates.
func readInto[T any](path string, out *T) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(raw, out)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

// ReadRecursively walks from the working directory up to the filesystem
// root looking for a config file with the given name, so commands work
// from any subdirectory of a checkout.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
