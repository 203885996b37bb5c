// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import "path/filepath"

// Android uid layout.
const (
	AIDRoot       = 0
	AIDShell      = 2000
	AIDAppStart   = 10000
	AIDAppEnd     = 19999
	AIDUserOffset = 100000
)

// DefaultPackage is the manager's package name when not repackaged.
const DefaultPackage = "com.topjohnwu.magisk"

// ToAppID strips the user from uid.
func ToAppID(uid int) int {
	return uid % AIDUserOffset
}

// ToUserID extracts the user from uid.
func ToUserID(uid int) int {
	return uid / AIDUserOffset
}

// ToUID combines a user and an app id.
func ToUID(userID, appID int) int {
	return userID*AIDUserOffset + appID
}

// IsAppID reports whether appID lies in the range assigned to
// installed applications.
func IsAppID(appID int) bool {
	return appID >= AIDAppStart && appID <= AIDAppEnd
}

// AppDataDir returns the per-user app data root below dataRoot:
// device-encrypted storage from Android 7.0 (SDK 24), credential
// storage before that.
func AppDataDir(dataRoot string, sdk int) string {
	if sdk >= 24 {
		return filepath.Join(dataRoot, "user_de")
	}
	return filepath.Join(dataRoot, "user")
}
