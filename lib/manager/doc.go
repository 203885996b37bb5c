// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager answers "which app is the manager for this Android
// user, and what is its uid".
//
// The manager is normally the default package, but the user may have
// repackaged it under a random name (recorded in the settings store
// under [settings.KeySuManager]). Either way the app's data directory
// under the per-user app data root tells whether it is installed for a
// given user, and the directory's owner gives its app id.
//
// Results are memoized in a [Cache]. A resolved cache answers with a
// single stat of the requested user's data directory. The cache is
// dropped whenever the system package registry is rewritten, which the
// package manager does by replacing the file: [Resolver.NeedRefresh]
// notices the new inode with one stat and an atomic compare-and-swap,
// taking the cache mutex only when the inode actually changed.
//
// Android uids encode the user: uid = user*[AIDUserOffset] + appID.
package manager
