// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeModule(t *testing.T, root, id, prop string, markers ...string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating module dir: %v", err)
	}
	if prop != "" {
		if err := os.WriteFile(filepath.Join(dir, PropFile), []byte(prop), 0644); err != nil {
			t.Fatalf("writing module.prop: %v", err)
		}
	}
	for _, marker := range markers {
		if err := os.WriteFile(filepath.Join(dir, marker), nil, 0644); err != nil {
			t.Fatalf("writing marker: %v", err)
		}
	}
	return dir
}

func prop(id string) string {
	return "id=" + id + "\nname=Module " + id + "\nversion=v1\nversionCode=1\nauthor=someone\ndescription=does things\n"
}

func TestParseProp(t *testing.T) {
	info, err := ParseProp(strings.NewReader(`
# comment
id=example.module
name = Example
version=v2.1
versionCode=210
author=dev
description=a module with = in it
`), "test")
	if err != nil {
		t.Fatalf("ParseProp: %v", err)
	}
	want := Info{
		ID:          "example.module",
		Name:        "Example",
		Version:     "v2.1",
		VersionCode: 210,
		Author:      "dev",
		Description: "a module with = in it",
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("ParseProp mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePropErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing id", "name=x\n", "missing id"},
		{"invalid id", "id=../etc\n", "invalid id"},
		{"numeric first", "id=1abc\n", "invalid id"},
		{"bad version code", "id=abc\nversionCode=ten\n", "versionCode"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseProp(strings.NewReader(test.content), "test")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not mention %q", err, test.wantErr)
			}
		})
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "alpha", prop("alpha"))
	writeModule(t, root, "beta", prop("beta"), DisableMarker, RemoveMarker)
	writeModule(t, root, "broken", "")
	writeModule(t, root, coreDir, "")

	modules, skipped, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skipped) != 1 {
		t.Errorf("expected one skipped module, got %v", skipped)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2: %+v", len(modules), modules)
	}
	if modules[0].ID != "alpha" || modules[0].Disabled || modules[0].Removing {
		t.Errorf("alpha = %+v", modules[0])
	}
	if modules[1].ID != "beta" || !modules[1].Disabled || !modules[1].Removing {
		t.Errorf("beta = %+v", modules[1])
	}
}

func TestListMissingRoot(t *testing.T) {
	modules, skipped, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(modules) != 0 || len(skipped) != 0 {
		t.Errorf("List(missing) = %v, %v, %v; want empty", modules, skipped, err)
	}
}

func TestMarkAllForRemovalThenPrune(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "alpha", prop("alpha"))
	betaDir := writeModule(t, root, "beta", prop("beta"))
	if err := os.WriteFile(filepath.Join(betaDir, UninstallFile), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	marked, err := MarkAllForRemoval(root)
	if err != nil {
		t.Fatalf("MarkAllForRemoval: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked %d modules, want 2", marked)
	}

	var scripts []string
	removed, err := Prune(root, func(script string) error {
		scripts = append(scripts, script)
		return nil
	})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	sort.Strings(removed)
	if diff := cmp.Diff([]string{"alpha", "beta"}, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{filepath.Join(betaDir, UninstallFile)}, scripts); diff != "" {
		t.Errorf("uninstall scripts mismatch (-want +got):\n%s", diff)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("expected empty module root, found %d entries", len(entries))
	}
}

func TestPruneKeepsUnmarked(t *testing.T) {
	root := t.TempDir()
	dir := writeModule(t, root, "alpha", prop("alpha"), UpdateMarker)

	removed, err := Prune(root, nil)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed %v, want none", removed)
	}
	if !exists(filepath.Join(dir, PropFile)) {
		t.Error("unmarked module was deleted")
	}
	if exists(filepath.Join(dir, UpdateMarker)) {
		t.Error("update marker should be cleared")
	}
}

func TestDisableAll(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "alpha", prop("alpha"))
	writeModule(t, root, "beta", prop("beta"), DisableMarker)

	if _, err := DisableAll(root); err != nil {
		t.Fatalf("DisableAll: %v", err)
	}
	modules, _, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, module := range modules {
		if !module.Disabled {
			t.Errorf("%s not disabled", module.ID)
		}
	}
}

func TestUpgradeCarriesDisable(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "modules")
	updateRoot := filepath.Join(base, "modules_update")

	writeModule(t, root, "alpha", "id=alpha\nversion=old\n", DisableMarker)
	writeModule(t, updateRoot, "alpha", "id=alpha\nversion=new\n")
	writeModule(t, updateRoot, "gamma", prop("gamma"))

	upgraded, err := Upgrade(updateRoot, root)
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "gamma"}, upgraded); diff != "" {
		t.Errorf("upgraded mismatch (-want +got):\n%s", diff)
	}

	info, err := ReadProp(filepath.Join(root, "alpha", PropFile))
	if err != nil {
		t.Fatalf("ReadProp: %v", err)
	}
	if info.Version != "new" {
		t.Errorf("alpha version = %q, want new", info.Version)
	}
	if !exists(filepath.Join(root, "alpha", DisableMarker)) {
		t.Error("disable marker not carried over")
	}
	if exists(updateRoot) {
		t.Error("update root should be removed")
	}
}
