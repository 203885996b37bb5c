// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"sync"
	"sync/atomic"
)

// Cache memoizes the manager's identity. The zero value is not ready;
// use [NewCache].
type Cache struct {
	mu    sync.Mutex
	appID int
	pkg   string

	registryInode atomic.Uint64
}

// NewCache returns an unresolved cache.
func NewCache() *Cache {
	return &Cache{appID: -1}
}

// Snapshot returns the cached app id (-1 when unresolved) and package.
func (cache *Cache) Snapshot() (appID int, pkg string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.appID, cache.pkg
}

// Reset drops the cached identity.
func (cache *Cache) Reset() {
	cache.mu.Lock()
	cache.resetLocked()
	cache.mu.Unlock()
}

func (cache *Cache) resetLocked() {
	cache.appID = -1
	cache.pkg = ""
}
