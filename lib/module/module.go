// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/magiskd/magiskd/lib/props"
)

// Marker file names.
const (
	PropFile      = "module.prop"
	RemoveMarker  = "remove"
	DisableMarker = "disable"
	UpdateMarker  = "update"
	UninstallFile = "uninstall.sh"
)

// coreDir holds shared scripts, not a module.
const coreDir = ".core"

// idPattern is the set of valid module ids.
var idPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]+$`)

// Info is the parsed module.prop of one module plus its marker state.
type Info struct {
	ID          string `cbor:"id"`
	Name        string `cbor:"name"`
	Version     string `cbor:"version"`
	VersionCode int    `cbor:"version_code"`
	Author      string `cbor:"author"`
	Description string `cbor:"description"`

	Disabled bool `cbor:"disabled"`
	Removing bool `cbor:"removing"`
	Updated  bool `cbor:"updated"`
}

// ValidID reports whether id is usable as a module directory name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ReadProp parses a module.prop file.
func ReadProp(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()
	return ParseProp(file, path)
}

// ParseProp parses module.prop content. source names the content in
// errors.
func ParseProp(r io.Reader, source string) (Info, error) {
	var info Info
	var parseErr error
	err := props.Scan(r, func(key, value string) bool {
		switch key {
		case "id":
			info.ID = value
		case "name":
			info.Name = value
		case "version":
			info.Version = value
		case "versionCode":
			code, err := strconv.Atoi(value)
			if err != nil {
				parseErr = fmt.Errorf("versionCode %q: %w", value, err)
				return false
			}
			info.VersionCode = code
		case "author":
			info.Author = value
		case "description":
			info.Description = value
		}
		return true
	})
	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", source, err)
	}
	if parseErr != nil {
		return Info{}, fmt.Errorf("parsing %s: %w", source, parseErr)
	}
	if info.ID == "" {
		return Info{}, fmt.Errorf("%s: missing id", source)
	}
	if !ValidID(info.ID) {
		return Info{}, fmt.Errorf("%s: invalid id %q", source, info.ID)
	}
	return info, nil
}

// moduleDirs returns the module directories under root in directory
// order. A missing root is an empty tree.
func moduleDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == coreDir {
			continue
		}
		dirs = append(dirs, entry.Name())
	}
	return dirs, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// List returns every module under root. Directories without a
// readable module.prop are skipped; the returned error slice reports
// them so the caller can log each one.
func List(root string) ([]Info, []error, error) {
	dirs, err := moduleDirs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("listing modules in %s: %w", root, err)
	}
	var modules []Info
	var skipped []error
	for _, name := range dirs {
		dir := filepath.Join(root, name)
		info, err := ReadProp(filepath.Join(dir, PropFile))
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		info.Disabled = exists(filepath.Join(dir, DisableMarker))
		info.Removing = exists(filepath.Join(dir, RemoveMarker))
		info.Updated = exists(filepath.Join(dir, UpdateMarker))
		modules = append(modules, info)
	}
	return modules, skipped, nil
}

// touchAll creates marker in every module directory under root and
// returns how many were marked.
func touchAll(root, marker string) (int, error) {
	dirs, err := moduleDirs(root)
	if err != nil {
		return 0, fmt.Errorf("listing modules in %s: %w", root, err)
	}
	var errs []error
	marked := 0
	for _, name := range dirs {
		path := filepath.Join(root, name, marker)
		file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		file.Close()
		marked++
	}
	return marked, errors.Join(errs...)
}

// MarkAllForRemoval creates the remove marker in every module under
// root. The modules are deleted by the next [Prune].
func MarkAllForRemoval(root string) (int, error) {
	return touchAll(root, RemoveMarker)
}

// DisableAll creates the disable marker in every module under root.
// Safe mode uses it so that the next boot loads no modules.
func DisableAll(root string) (int, error) {
	return touchAll(root, DisableMarker)
}

// Uninstaller runs a module's uninstall script before its directory
// is deleted.
type Uninstaller func(script string) error

// Prune deletes every module under root carrying the remove marker,
// running its uninstall script first when uninstall is non-nil, and
// clears the update marker of the rest. It returns the ids removed.
func Prune(root string, uninstall Uninstaller) ([]string, error) {
	dirs, err := moduleDirs(root)
	if err != nil {
		return nil, fmt.Errorf("listing modules in %s: %w", root, err)
	}
	var removed []string
	var errs []error
	for _, name := range dirs {
		dir := filepath.Join(root, name)
		if !exists(filepath.Join(dir, RemoveMarker)) {
			os.Remove(filepath.Join(dir, UpdateMarker))
			continue
		}
		script := filepath.Join(dir, UninstallFile)
		if uninstall != nil && exists(script) {
			if err := uninstall(script); err != nil {
				errs = append(errs, fmt.Errorf("uninstalling %s: %w", name, err))
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

// Upgrade moves every staged module from updateRoot into root,
// replacing any existing module with the same id and preserving its
// disable marker. The update root is removed afterwards.
func Upgrade(updateRoot, root string) ([]string, error) {
	dirs, err := moduleDirs(updateRoot)
	if err != nil {
		return nil, fmt.Errorf("listing staged modules in %s: %w", updateRoot, err)
	}
	if len(dirs) == 0 {
		return nil, os.RemoveAll(updateRoot)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", root, err)
	}

	var upgraded []string
	for _, name := range dirs {
		target := filepath.Join(root, name)
		disable := false
		if exists(target) {
			disable = exists(filepath.Join(target, DisableMarker))
			if err := os.RemoveAll(target); err != nil {
				return upgraded, fmt.Errorf("removing old module %s: %w", name, err)
			}
		}
		if err := os.Rename(filepath.Join(updateRoot, name), target); err != nil {
			return upgraded, fmt.Errorf("moving module %s into place: %w", name, err)
		}
		if disable {
			file, err := os.Create(filepath.Join(target, DisableMarker))
			if err != nil {
				return upgraded, fmt.Errorf("carrying disable marker for %s: %w", name, err)
			}
			file.Close()
		}
		upgraded = append(upgraded, name)
	}
	return upgraded, os.RemoveAll(updateRoot)
}
