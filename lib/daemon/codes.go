// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import "fmt"

// RequestCode is the first int32 a client writes on a new connection.
// Codes below syncBarrier are answered inline; codes between the two
// barriers are handled as independent tasks; codes above stageBarrier
// are boot stages, serialized against each other.
type RequestCode int32

const (
	StartDaemon RequestCode = iota
	CheckVersion
	CheckVersionCode
	GetPath
	StopDaemon
	syncBarrier
	Superuser
	ZygoteRestart
	Denylist
	SQLiteCmd
	RemoveModules
	InstallModule
	stageBarrier
	PostFsData
	LateStart
	BootComplete
	requestEnd
)

var requestNames = map[RequestCode]string{
	StartDaemon:      "start-daemon",
	CheckVersion:     "check-version",
	CheckVersionCode: "check-version-code",
	GetPath:          "get-path",
	StopDaemon:       "stop-daemon",
	Superuser:        "superuser",
	ZygoteRestart:    "zygote-restart",
	Denylist:         "denylist",
	SQLiteCmd:        "sqlite",
	RemoveModules:    "remove-modules",
	InstallModule:    "install-module",
	PostFsData:       "post-fs-data",
	LateStart:        "late-start",
	BootComplete:     "boot-complete",
}

func (code RequestCode) String() string {
	if name, ok := requestNames[code]; ok {
		return name
	}
	return fmt.Sprintf("RequestCode(%d)", int32(code))
}

// Valid reports whether code names a request. Barriers and anything
// out of range are invalid.
func (code RequestCode) Valid() bool {
	_, ok := requestNames[code]
	return ok
}

// IsBootStage reports whether code is one of the serialized boot
// stage triggers.
func (code RequestCode) IsBootStage() bool {
	return code > stageBarrier && code < requestEnd
}

// rootOnly lists requests only uid 0 may make.
var rootOnly = map[RequestCode]bool{
	PostFsData:    true,
	LateStart:     true,
	BootComplete:  true,
	ZygoteRestart: true,
	SQLiteCmd:     true,
	Denylist:      true,
	StopDaemon:    true,
	GetPath:       true,
	InstallModule: true,
}

// Response codes written after the request code is read.
const (
	RespondError        int32 = -1
	RespondOK           int32 = 0
	RespondRootRequired int32 = 1
	RespondAccessDenied int32 = 2
)

// DenyRequest is the sub-command of a [Denylist] request.
type DenyRequest int32

const (
	DenyEnforce DenyRequest = iota
	DenyDisable
	DenyAdd
	DenyRemove
	DenyList
	DenyStatus
)

// DenyResponse is the result code of a [Denylist] request.
type DenyResponse int32

const (
	DenyOK DenyResponse = iota
	DenyEnforced
	DenyNotEnforced
	DenyItemExist
	DenyItemNotExist
	DenyInvalidPackage
	DenyNoNamespace
	DenyError
)

func (response DenyResponse) String() string {
	switch response {
	case DenyOK:
		return "ok"
	case DenyEnforced:
		return "denylist is enforced"
	case DenyNotEnforced:
		return "denylist is not enforced"
	case DenyItemExist:
		return "target already exists in the denylist"
	case DenyItemNotExist:
		return "target does not exist in the denylist"
	case DenyInvalidPackage:
		return "invalid package name"
	case DenyNoNamespace:
		return "mount namespace is not supported"
	case DenyError:
		return "daemon error"
	default:
		return fmt.Sprintf("DenyResponse(%d)", int32(response))
	}
}
