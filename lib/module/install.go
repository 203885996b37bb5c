// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/magiskd/magiskd/lib/binhash"
)

// maxEntrySize bounds a single extracted file.
const maxEntrySize = 512 << 20

// ErrUnsafePath is returned when a zip entry would escape the module
// directory.
var ErrUnsafePath = errors.New("module: zip entry escapes module directory")

// Installed describes a staged install.
type Installed struct {
	Info Info

	// Dir is the staged module directory under the update root.
	Dir string

	// Digest is the SHA-256 of the zip file.
	Digest [32]byte
}

// Install extracts the module zip at zipPath into
// <updateRoot>/<id>, where id comes from the zip's module.prop. An
// existing staged copy of the same module is replaced. On any error
// nothing is left in the update root for this module.
func Install(ctx context.Context, zipPath, updateRoot string) (Installed, error) {
	digest, err := binhash.HashFile(zipPath)
	if err != nil {
		return Installed{}, err
	}

	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return Installed{}, fmt.Errorf("opening module zip %s: %w", zipPath, err)
	}
	defer reader.Close()

	info, err := readZipProp(&reader.Reader)
	if err != nil {
		return Installed{}, err
	}

	if err := os.MkdirAll(updateRoot, 0755); err != nil {
		return Installed{}, fmt.Errorf("creating %s: %w", updateRoot, err)
	}
	// Extract into a scratch directory and rename so a failed install
	// never leaves a half-written module behind.
	scratch, err := os.MkdirTemp(updateRoot, ".install-")
	if err != nil {
		return Installed{}, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return Installed{}, err
		}
		if err := extractEntry(entry, scratch); err != nil {
			return Installed{}, err
		}
	}

	target := filepath.Join(updateRoot, info.ID)
	if err := os.RemoveAll(target); err != nil {
		return Installed{}, fmt.Errorf("removing previous staged %s: %w", info.ID, err)
	}
	if err := os.Rename(scratch, target); err != nil {
		return Installed{}, fmt.Errorf("staging module %s: %w", info.ID, err)
	}

	return Installed{Info: info, Dir: target, Digest: digest}, nil
}

// readZipProp parses module.prop from the zip root.
func readZipProp(reader *zip.Reader) (Info, error) {
	for _, entry := range reader.File {
		if entry.Name != PropFile {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return Info{}, fmt.Errorf("opening %s in zip: %w", PropFile, err)
		}
		defer rc.Close()
		return ParseProp(io.LimitReader(rc, 1<<20), "zip:"+PropFile)
	}
	return Info{}, fmt.Errorf("module zip has no %s", PropFile)
}

// safeJoin resolves a zip entry name under dir, rejecting absolute
// names and any name with a ".." element.
func safeJoin(dir, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	for _, element := range strings.Split(name, "/") {
		if element == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return dir, nil
	}
	return filepath.Join(dir, filepath.FromSlash(cleaned)), nil
}

func extractEntry(entry *zip.File, dir string) error {
	target, err := safeJoin(dir, entry.Name)
	if err != nil {
		return err
	}
	mode := entry.Mode()

	switch {
	case mode.IsDir():
		return os.MkdirAll(target, 0755)
	case mode&os.ModeSymlink != 0:
		return fmt.Errorf("%w: symlink %q", ErrUnsafePath, entry.Name)
	case !mode.IsRegular():
		return fmt.Errorf("module zip entry %q has unsupported type %s", entry.Name, mode.Type())
	}
	if entry.UncompressedSize64 > maxEntrySize {
		return fmt.Errorf("module zip entry %q is %d bytes, limit is %d", entry.Name, entry.UncompressedSize64, maxEntrySize)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening %q in zip: %w", entry.Name, err)
	}
	defer rc.Close()

	perm := mode.Perm() | 0600
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, io.LimitReader(rc, maxEntrySize))
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return fmt.Errorf("extracting %q: %w", entry.Name, err)
	}
	return nil
}
