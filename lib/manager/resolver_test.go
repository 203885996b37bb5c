// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/magiskd/magiskd/lib/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memoryStore is an in-memory StringStore.
type memoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	deletes int
}

func (store *memoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	value, ok := store.strings[key]
	return value, ok, nil
}

func (store *memoryStore) DeleteString(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.strings, key)
	store.deletes++
	return nil
}

// fixture is a fake app data root where each installed package
// directory is owned by a fake uid.
type fixture struct {
	t        *testing.T
	root     string
	registry string
	mu       sync.Mutex
	owners   map[string]int
	lookups  atomic.Int64
	store    *memoryStore
	cache    *Cache
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	directory := t.TempDir()
	f := &fixture{
		t:        t,
		root:     filepath.Join(directory, "user_de"),
		registry: filepath.Join(directory, "packages.xml"),
		owners:   make(map[string]int),
		store:    &memoryStore{strings: make(map[string]string)},
		cache:    NewCache(),
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(f.registry, []byte("<packages/>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f.resolver = NewResolver(Config{
		Cache:      f.cache,
		Store:      f.store,
		AppDataDir: f.root,
		Registry:   f.registry,
		Owner:      f.owner,
		Logger:     testLogger(),
	})
	return f
}

func (f *fixture) owner(path string) (int, error) {
	f.lookups.Add(1)
	if _, err := os.Stat(path); err != nil {
		return -1, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := f.owners[path]
	if !ok {
		return AIDRoot, nil
	}
	return uid, nil
}

func (f *fixture) install(userID int, pkg string, appID int) {
	f.t.Helper()
	path := filepath.Join(f.root, strconv.Itoa(userID), pkg)
	if err := os.MkdirAll(path, 0o755); err != nil {
		f.t.Fatalf("MkdirAll: %v", err)
	}
	f.mu.Lock()
	f.owners[path] = ToUID(userID, appID)
	f.mu.Unlock()
}

func (f *fixture) uninstall(userID int, pkg string) {
	f.t.Helper()
	if err := os.RemoveAll(filepath.Join(f.root, strconv.Itoa(userID), pkg)); err != nil {
		f.t.Fatalf("RemoveAll: %v", err)
	}
}

func (f *fixture) addUser(userID int) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Join(f.root, strconv.Itoa(userID)), 0o755); err != nil {
		f.t.Fatalf("MkdirAll: %v", err)
	}
}

// replaceRegistry rewrites the package registry the way the package
// manager does: a new file renamed over the old one.
func (f *fixture) replaceRegistry() {
	f.t.Helper()
	temporary := f.registry + ".new"
	if err := os.WriteFile(temporary, []byte("<packages version=\"2\"/>"), 0o644); err != nil {
		f.t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Rename(temporary, f.registry); err != nil {
		f.t.Fatalf("Rename: %v", err)
	}
}

func TestGetManagerDefaultPackage(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)

	uid, pkg, err := f.resolver.GetManager(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetManager: %v", err)
	}
	if uid != 10123 || pkg != DefaultPackage {
		t.Errorf("GetManager(0) = %d, %q; want 10123, %q", uid, pkg, DefaultPackage)
	}
	if appID, cached := f.cache.Snapshot(); appID != 10123 || cached != "" {
		t.Errorf("cache = %d, %q; want 10123 with default package", appID, cached)
	}
}

func TestGetManagerStability(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)
	f.install(10, DefaultPackage, 10123)
	ctx := context.Background()

	uid, pkg, err := f.resolver.GetManager(ctx, 0)
	if err != nil {
		t.Fatalf("first GetManager: %v", err)
	}

	lookupsBefore := f.lookups.Load()
	f.uninstall(10, DefaultPackage)

	secondUID, secondPkg, err := f.resolver.GetManager(ctx, 0)
	if err != nil {
		t.Fatalf("second GetManager: %v", err)
	}
	if secondUID != uid || secondPkg != pkg {
		t.Errorf("second GetManager = %d, %q; want %d, %q", secondUID, secondPkg, uid, pkg)
	}
	// The resolved path checks the requested user's directory once and
	// never scans other users.
	if lookups := f.lookups.Load() - lookupsBefore; lookups != 1 {
		t.Errorf("resolved lookup performed %d ownership checks, want 1", lookups)
	}
}

func TestGetManagerFollowsReinstall(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)
	ctx := context.Background()

	if _, _, err := f.resolver.GetManager(ctx, 0); err != nil {
		t.Fatalf("GetManager: %v", err)
	}

	// Reinstalled under a new app id without a registry change.
	f.install(0, DefaultPackage, 10200)
	uid, _, err := f.resolver.GetManager(ctx, 0)
	if err != nil {
		t.Fatalf("GetManager after reinstall: %v", err)
	}
	if uid != 10200 {
		t.Errorf("GetManager after reinstall = %d, want 10200", uid)
	}
	if appID, _ := f.cache.Snapshot(); appID != 10200 {
		t.Errorf("cache app id = %d, want 10200", appID)
	}
}

func TestGetManagerAfterRegistryRewrite(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)
	f.install(10, DefaultPackage, 10123)
	ctx := context.Background()

	f.resolver.NeedRefresh()
	if uid, _, err := f.resolver.GetManager(ctx, 10); err != nil || uid != ToUID(10, 10123) {
		t.Fatalf("GetManager(10) = %d, %v; want %d", uid, err, ToUID(10, 10123))
	}

	f.install(0, DefaultPackage, 10300)
	f.install(10, DefaultPackage, 10300)
	f.replaceRegistry()
	if !f.resolver.NeedRefresh() {
		t.Fatal("NeedRefresh did not observe the rewritten registry")
	}
	uid, pkg, err := f.resolver.GetManager(ctx, 10)
	if err != nil {
		t.Fatalf("GetManager after rewrite: %v", err)
	}
	if uid != ToUID(10, 10300) || pkg != DefaultPackage {
		t.Errorf("GetManager(10) = %d, %q; want %d, %q", uid, pkg, ToUID(10, 10300), DefaultPackage)
	}
}

func TestGetManagerRequestedUserFirst(t *testing.T) {
	f := newFixture(t)
	f.addUser(0)
	f.install(10, DefaultPackage, 10200)
	f.install(11, DefaultPackage, 10300)
	ctx := context.Background()

	// Installed only in other users: not found for user 0, but the
	// first match in directory order is cached.
	uid, pkg, err := f.resolver.GetManager(ctx, 0)
	if !errors.Is(err, ErrNotFound) || uid != -1 || pkg != "" {
		t.Fatalf("GetManager(0) = %d, %q, %v; want -1, empty, ErrNotFound", uid, pkg, err)
	}
	if appID, _ := f.cache.Snapshot(); appID != 10200 {
		t.Fatalf("cached app id = %d, want 10200 from user 10", appID)
	}

	uid, pkg, err = f.resolver.GetManager(ctx, 10)
	if err != nil || uid != ToUID(10, 10200) || pkg != DefaultPackage {
		t.Errorf("GetManager(10) = %d, %q, %v; want %d", uid, pkg, err, ToUID(10, 10200))
	}
}

func TestGetManagerPrefersRequestedUserOverOthers(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10200)
	f.install(11, DefaultPackage, 10300)

	uid, _, err := f.resolver.GetManager(context.Background(), 11)
	if err != nil {
		t.Fatalf("GetManager(11): %v", err)
	}
	if uid != ToUID(11, 10300) {
		t.Errorf("GetManager(11) = %d, want the user 11 install %d", uid, ToUID(11, 10300))
	}
}

func TestGetManagerRepackaged(t *testing.T) {
	f := newFixture(t)
	f.store.strings[settings.KeySuManager] = "io.hidden.app"
	f.install(0, "io.hidden.app", 10456)
	f.install(0, DefaultPackage, 10123)

	uid, pkg, err := f.resolver.GetManager(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetManager: %v", err)
	}
	if uid != 10456 || pkg != "io.hidden.app" {
		t.Errorf("GetManager = %d, %q; want the repackaged app", uid, pkg)
	}
	if f.store.deletes != 0 {
		t.Errorf("repackaged name deleted %d times while still installed", f.store.deletes)
	}
}

func TestGetManagerPurgesStaleRepackagedName(t *testing.T) {
	f := newFixture(t)
	f.store.strings[settings.KeySuManager] = "io.uninstalled"
	f.install(0, DefaultPackage, 10123)
	f.addUser(10)

	uid, pkg, err := f.resolver.GetManager(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetManager: %v", err)
	}
	if uid != 10123 || pkg != DefaultPackage {
		t.Errorf("GetManager = %d, %q; want fallback to default package", uid, pkg)
	}
	if _, ok := f.store.strings[settings.KeySuManager]; ok {
		t.Error("stale repackaged name was not purged")
	}
}

func TestGetManagerTotalMiss(t *testing.T) {
	f := newFixture(t)
	f.addUser(0)
	f.addUser(10)

	uid, pkg, err := f.resolver.GetManager(context.Background(), 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetManager error = %v, want ErrNotFound", err)
	}
	if uid != -1 || pkg != "" {
		t.Errorf("GetManager = %d, %q; want -1, empty", uid, pkg)
	}
	if appID, cached := f.cache.Snapshot(); appID != -1 || cached != "" {
		t.Errorf("cache after miss = %d, %q; want unresolved", appID, cached)
	}
}

func TestGetManagerResolvedButAbsentForUser(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)
	f.addUser(10)
	ctx := context.Background()

	if _, _, err := f.resolver.GetManager(ctx, 0); err != nil {
		t.Fatalf("GetManager(0): %v", err)
	}
	if _, _, err := f.resolver.GetManager(ctx, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetManager(10) error = %v, want ErrNotFound", err)
	}
	// Not found for one user is not a global invalidation.
	if appID, _ := f.cache.Snapshot(); appID != 10123 {
		t.Errorf("cache app id = %d after per-user miss, want 10123", appID)
	}
}

func TestGetManagerIgnoresNonAppOwners(t *testing.T) {
	f := newFixture(t)
	// Owned by root: not an installed application.
	if err := os.MkdirAll(filepath.Join(f.root, "0", DefaultPackage), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if _, _, err := f.resolver.GetManager(context.Background(), 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetManager error = %v, want ErrNotFound for a root-owned directory", err)
	}
}

func TestGetManagerConcurrent(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)

	const goroutines = 16
	results := make(chan int, goroutines)
	var waitGroup sync.WaitGroup
	for range goroutines {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			uid, _, err := f.resolver.GetManager(context.Background(), 0)
			if err != nil {
				uid = -2
			}
			results <- uid
		}()
	}
	waitGroup.Wait()
	close(results)
	for uid := range results {
		if uid != 10123 {
			t.Errorf("concurrent GetManager = %d, want 10123", uid)
		}
	}
}

func TestNeedRefresh(t *testing.T) {
	f := newFixture(t)
	f.install(0, DefaultPackage, 10123)

	if !f.resolver.NeedRefresh() {
		t.Fatal("first NeedRefresh should observe the registry")
	}
	if f.resolver.NeedRefresh() {
		t.Fatal("NeedRefresh without a change should return false")
	}

	if _, _, err := f.resolver.GetManager(context.Background(), 0); err != nil {
		t.Fatalf("GetManager: %v", err)
	}

	f.replaceRegistry()
	if !f.resolver.NeedRefresh() {
		t.Fatal("NeedRefresh after replacing the registry should return true")
	}
	if appID, _ := f.cache.Snapshot(); appID != -1 {
		t.Errorf("cache app id = %d after refresh, want -1", appID)
	}
	if f.resolver.NeedRefresh() {
		t.Error("NeedRefresh should return true only once per change")
	}
}

func TestNeedRefreshMissingRegistry(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.registry); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if f.resolver.NeedRefresh() {
		t.Error("a missing registry should not trigger a refresh")
	}
}

func TestNeedRefreshConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	const goroutines = 16
	var winners atomic.Int64
	var waitGroup sync.WaitGroup
	for range goroutines {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if f.resolver.NeedRefresh() {
				winners.Add(1)
			}
		}()
	}
	waitGroup.Wait()
	if winners.Load() != 1 {
		t.Errorf("%d goroutines observed the change, want exactly 1", winners.Load())
	}
}

func TestAppNoList(t *testing.T) {
	f := newFixture(t)
	f.install(0, "com.example.a", 10005)
	f.install(0, "com.example.b", 10007)
	f.install(10, "com.example.b", 10007)
	f.install(10, "com.example.c", 19999)
	f.install(0, "android", 1000)

	list := f.resolver.AppNoList()
	for _, number := range []uint{5, 7, 9999} {
		if !list.Test(number) {
			t.Errorf("app number %d not marked", number)
		}
	}
	if list.Count() != 3 {
		t.Errorf("Count = %d, want 3", list.Count())
	}
}

func TestUIDHelpers(t *testing.T) {
	tests := []struct {
		uid    int
		appID  int
		userID int
	}{
		{0, 0, 0},
		{2000, 2000, 0},
		{10123, 10123, 0},
		{1010123, 10123, 10},
		{9910001, 10001, 99},
	}
	for _, test := range tests {
		if got := ToAppID(test.uid); got != test.appID {
			t.Errorf("ToAppID(%d) = %d, want %d", test.uid, got, test.appID)
		}
		if got := ToUserID(test.uid); got != test.userID {
			t.Errorf("ToUserID(%d) = %d, want %d", test.uid, got, test.userID)
		}
		if got := ToUID(test.userID, test.appID); got != test.uid {
			t.Errorf("ToUID(%d, %d) = %d, want %d", test.userID, test.appID, got, test.uid)
		}
	}
	if IsAppID(AIDShell) || !IsAppID(AIDAppStart) || !IsAppID(AIDAppEnd) || IsAppID(AIDAppEnd+1) {
		t.Error("IsAppID range check is wrong")
	}
}

func TestAppDataDir(t *testing.T) {
	if got := AppDataDir("/data", 23); got != "/data/user" {
		t.Errorf("AppDataDir(sdk 23) = %q", got)
	}
	if got := AppDataDir("/data", 34); got != "/data/user_de" {
		t.Errorf("AppDataDir(sdk 34) = %q", got)
	}
}
