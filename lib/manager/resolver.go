// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/lib/settings"
)

// ErrNotFound is returned by [Resolver.GetManager] when no manager is
// installed for the requested user.
var ErrNotFound = errors.New("manager: not installed")

// StringStore is the slice of the settings store the resolver needs.
type StringStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	DeleteString(ctx context.Context, key string) error
}

// Config holds the parameters for [NewResolver].
type Config struct {
	// Cache holds resolved state. Required.
	Cache *Cache

	// Store supplies the repackaged manager name. Required.
	Store StringStore

	// AppDataDir is the per-user app data root (see [AppDataDir]),
	// holding <user>/<package> directories.
	AppDataDir string

	// Registry is the system package registry file watched for
	// rewrites.
	Registry string

	// DefaultPackage overrides [DefaultPackage].
	DefaultPackage string

	// Owner returns the uid owning path. Defaults to stat(2).
	Owner func(path string) (int, error)

	Logger *slog.Logger
}

// Resolver finds the manager app. It is safe for concurrent use.
type Resolver struct {
	cache          *Cache
	store          StringStore
	appDataDir     string
	registry       string
	defaultPackage string
	owner          func(string) (int, error)
	logger         *slog.Logger
}

// NewResolver returns a Resolver for cfg.
func NewResolver(cfg Config) *Resolver {
	resolver := &Resolver{
		cache:          cfg.Cache,
		store:          cfg.Store,
		appDataDir:     cfg.AppDataDir,
		registry:       cfg.Registry,
		defaultPackage: cfg.DefaultPackage,
		owner:          cfg.Owner,
		logger:         cfg.Logger,
	}
	if resolver.defaultPackage == "" {
		resolver.defaultPackage = DefaultPackage
	}
	if resolver.owner == nil {
		resolver.owner = statOwner
	}
	if resolver.logger == nil {
		resolver.logger = slog.New(slog.DiscardHandler)
	}
	return resolver
}

func statOwner(path string) (int, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return -1, err
	}
	return int(stat.Uid), nil
}

// NeedRefresh drops the cache if the package registry was replaced
// since the last call. It returns true exactly once per observed
// change. An unreadable registry counts as unchanged.
func (resolver *Resolver) NeedRefresh() bool {
	var stat unix.Stat_t
	if err := unix.Stat(resolver.registry, &stat); err != nil {
		resolver.logger.Debug("package registry unavailable", "path", resolver.registry, "error", err)
		return false
	}
	inode := uint64(stat.Ino)
	previous := resolver.cache.registryInode.Load()
	if previous == inode {
		return false
	}
	if !resolver.cache.registryInode.CompareAndSwap(previous, inode) {
		// Another caller already observed this change.
		return false
	}
	resolver.cache.Reset()
	return true
}

// AppNoList marks every installed app, across all users, by app number
// (app id minus [AIDAppStart]).
func (resolver *Resolver) AppNoList() *bitset.BitSet {
	list := bitset.New(AIDAppEnd - AIDAppStart + 1)
	for _, user := range resolver.users() {
		userDir := filepath.Join(resolver.appDataDir, strconv.Itoa(user))
		entries, err := os.ReadDir(userDir)
		if err != nil {
			resolver.logger.Debug("listing app data", "path", userDir, "error", err)
			continue
		}
		for _, entry := range entries {
			uid, err := resolver.owner(filepath.Join(userDir, entry.Name()))
			if err != nil {
				continue
			}
			if appID := ToAppID(uid); IsAppID(appID) {
				list.Set(uint(appID - AIDAppStart))
			}
		}
	}
	return list
}

// users lists the numeric user directories below the app data root in
// directory order.
func (resolver *Resolver) users() []int {
	entries, err := os.ReadDir(resolver.appDataDir)
	if err != nil {
		resolver.logger.Debug("listing users", "path", resolver.appDataDir, "error", err)
		return nil
	}
	var users []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		user, err := strconv.Atoi(entry.Name())
		if err != nil || user < 0 {
			continue
		}
		users = append(users, user)
	}
	return users
}

// installedAppID returns the app id of pkg in userID, or -1 if it is
// not installed there.
func (resolver *Resolver) installedAppID(userID int, pkg string) int {
	path := filepath.Join(resolver.appDataDir, strconv.Itoa(userID), pkg)
	uid, err := resolver.owner(path)
	if err != nil {
		return -1
	}
	appID := ToAppID(uid)
	if !IsAppID(appID) {
		resolver.logger.Debug("ignoring data directory outside the app range",
			"path", path,
			"uid", uid,
		)
		return -1
	}
	return appID
}

// locate checks pkg in userID first, then in every other user. found
// reports whether pkg is installed anywhere; inUser reports whether
// that hit was userID itself.
func (resolver *Resolver) locate(userID int, pkg string) (appID int, found, inUser bool) {
	if appID = resolver.installedAppID(userID, pkg); appID >= 0 {
		return appID, true, true
	}
	for _, other := range resolver.users() {
		if other == userID {
			continue
		}
		if appID = resolver.installedAppID(other, pkg); appID >= 0 {
			return appID, true, false
		}
	}
	return -1, false, false
}

// GetManager returns the manager's uid and package for userID. When no
// manager is installed for that user it returns uid -1, an empty
// package, and [ErrNotFound]. Other errors come from the settings
// store.
func (resolver *Resolver) GetManager(ctx context.Context, userID int) (int, string, error) {
	cache := resolver.cache
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.appID >= 0 {
		pkg := cache.pkg
		if pkg == "" {
			pkg = resolver.defaultPackage
		}
		// One stat confirms the install and yields its current owner,
		// which follows a reinstall under a new app id.
		if appID := resolver.installedAppID(userID, pkg); appID >= 0 {
			cache.appID = appID
			return ToUID(userID, appID), pkg, nil
		}
		return resolver.notFound(userID, pkg)
	}

	repackaged, ok, err := resolver.store.GetString(ctx, settings.KeySuManager)
	if err != nil {
		return -1, "", fmt.Errorf("reading repackaged manager name: %w", err)
	}
	if ok && repackaged != "" {
		appID, found, inUser := resolver.locate(userID, repackaged)
		if found {
			cache.appID = appID
			cache.pkg = repackaged
			if inUser {
				return ToUID(userID, appID), repackaged, nil
			}
			return resolver.notFound(userID, repackaged)
		}
		resolver.logger.Info("repackaged manager no longer installed, forgetting it", "package", repackaged)
		if err := resolver.store.DeleteString(ctx, settings.KeySuManager); err != nil {
			resolver.logger.Warn("removing stale repackaged manager name", "package", repackaged, "error", err)
		}
	}

	appID, found, inUser := resolver.locate(userID, resolver.defaultPackage)
	if found {
		cache.appID = appID
		cache.pkg = ""
		if inUser {
			return ToUID(userID, appID), resolver.defaultPackage, nil
		}
		return resolver.notFound(userID, resolver.defaultPackage)
	}

	cache.resetLocked()
	return resolver.notFound(userID, resolver.defaultPackage)
}

func (resolver *Resolver) notFound(userID int, pkg string) (int, string, error) {
	resolver.logger.Warn("cannot find manager", "package", pkg, "user", userID)
	return -1, "", ErrNotFound
}
