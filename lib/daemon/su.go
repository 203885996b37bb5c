// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/magiskd/magiskd/lib/manager"
	"github.com/magiskd/magiskd/lib/peercred"
	"github.com/magiskd/magiskd/lib/settings"
	"github.com/magiskd/magiskd/lib/sockio"
)

// defaultPath is the PATH of a root shell that does not keep the
// caller's environment.
const defaultPath = "/system/bin:/system/xbin:/sbin:/vendor/bin:/debug_ramdisk"

// SuRequest asks for a shell running as TargetUID.
type SuRequest struct {
	TargetUID int `cbor:"target_uid"`

	// Login starts a login shell (argv[0] prefixed with "-").
	Login bool `cbor:"login"`

	// KeepEnv passes Env through unchanged instead of a minimal
	// environment.
	KeepEnv bool     `cbor:"keep_env"`
	Env     []string `cbor:"env,omitempty"`

	// Shell overrides the daemon's default shell.
	Shell string `cbor:"shell,omitempty"`

	// Command is passed to the shell with -c. Empty means an
	// interactive shell.
	Command string `cbor:"command,omitempty"`
}

// SuResponse is the daemon's verdict on a [SuRequest].
type SuResponse struct {
	Allowed bool   `cbor:"allowed"`
	Reason  string `cbor:"reason,omitempty"`
}

// handleSuperuser negotiates a root shell. The client sends a CBOR
// [SuRequest]; the daemon answers with a CBOR [SuResponse]. When
// allowed the client passes stdin, stdout and stderr as descriptors
// (any may be absent), and the daemon writes the shell's exit code
// once it finishes.
func (s *Server) handleSuperuser(ctx context.Context, conn *net.UnixConn, cred peercred.SockCred) error {
	var request SuRequest
	if err := sockio.ReadRecord(conn, &request); err != nil {
		sockio.WriteRecord(conn, SuResponse{Reason: "malformed request"})
		return fmt.Errorf("reading su request: %w", err)
	}

	verdict := s.suVerdict(ctx, int(cred.UID))
	s.logger.Info("superuser request",
		"uid", cred.UID,
		"pid", cred.PID,
		"target", request.TargetUID,
		"allowed", verdict.Allowed,
		"reason", verdict.Reason,
	)
	if err := sockio.WriteRecord(conn, verdict); err != nil || !verdict.Allowed {
		return err
	}

	stdio := make([]*os.File, 3)
	defer func() {
		for _, file := range stdio {
			if file != nil {
				file.Close()
			}
		}
	}()
	for i := range stdio {
		file, err := sockio.RecvFD(conn)
		if err != nil {
			return fmt.Errorf("receiving stdio descriptor %d: %w", i, err)
		}
		stdio[i] = file
	}

	cmd := s.suCommand(ctx, request)
	// A nil *os.File must stay a nil interface so exec uses /dev/null.
	if stdio[0] != nil {
		cmd.Stdin = stdio[0]
	}
	if stdio[1] != nil {
		cmd.Stdout = stdio[1]
	}
	if stdio[2] != nil {
		cmd.Stderr = stdio[2]
	}

	status := int32(0)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			s.logger.Error("starting root shell", "error", err)
			return sockio.WriteInt(conn, RespondError)
		}
		status = int32(exitErr.ExitCode())
	}
	return sockio.WriteInt(conn, status)
}

// suVerdict applies the multiuser mode, the stored policy, the manager
// exemption and the root access mode, in that order. A policy that
// would need to ask the user is denied.
func (s *Server) suVerdict(ctx context.Context, uid int) SuResponse {
	if uid == manager.AIDRoot {
		return SuResponse{Allowed: true, Reason: "caller is root"}
	}

	current, err := s.settings.Settings(ctx)
	if err != nil {
		s.logger.Error("reading settings", "error", err)
		return SuResponse{Reason: "settings unavailable"}
	}

	evalUID := uid
	switch current.MultiuserMode {
	case settings.MultiuserOwnerOnly:
		if manager.ToUserID(uid) != 0 {
			return SuResponse{Reason: "root is restricted to the owner user"}
		}
	case settings.MultiuserOwnerManaged:
		evalUID = manager.ToAppID(uid)
	}

	policy, err := s.settings.Policy(ctx, evalUID)
	if err != nil {
		s.logger.Error("reading policy", "uid", evalUID, "error", err)
		return SuResponse{Reason: "policy unavailable"}
	}

	if s.resolver.NeedRefresh() {
		s.logger.Debug("package registry changed, manager cache dropped")
	}
	managerUID, _, managerErr := s.resolver.GetManager(ctx, manager.ToUserID(evalUID))
	if managerErr == nil && manager.ToAppID(managerUID) == manager.ToAppID(uid) {
		return SuResponse{Allowed: true, Reason: "caller is the manager"}
	}

	switch current.RootAccess {
	case settings.RootAccessDisabled:
		return SuResponse{Reason: "root access is disabled"}
	case settings.RootAccessAdbOnly:
		if uid != manager.AIDShell {
			return SuResponse{Reason: "root access is limited to adb"}
		}
	case settings.RootAccessAppsOnly:
		if uid == manager.AIDShell {
			return SuResponse{Reason: "root access is limited to apps"}
		}
	}

	switch policy.Policy {
	case settings.PolicyAllow:
		return SuResponse{Allowed: true, Reason: "allowed by policy"}
	case settings.PolicyDeny:
		return SuResponse{Reason: "denied by policy"}
	}
	if managerErr != nil {
		return SuResponse{Reason: "no manager installed"}
	}
	return SuResponse{Reason: "no stored policy"}
}

// suCommand builds the shell process for request.
func (s *Server) suCommand(ctx context.Context, request SuRequest) *exec.Cmd {
	shell := request.Shell
	if shell == "" {
		shell = s.shell
	}
	var args []string
	if request.Command != "" {
		args = append(args, "-c", request.Command)
	}
	cmd := exec.CommandContext(ctx, shell, args...)
	if request.Login {
		cmd.Args[0] = "-" + filepath.Base(shell)
	}

	if request.KeepEnv {
		cmd.Env = append([]string{}, request.Env...)
	} else {
		cmd.Env = []string{
			"PATH=" + defaultPath,
			"SHELL=" + shell,
			"HOME=/",
		}
		if request.TargetUID == manager.AIDRoot {
			cmd.Env = append(cmd.Env, "USER=root", "LOGNAME=root")
		}
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if request.TargetUID != os.Getuid() {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: uint32(request.TargetUID),
			Gid: uint32(request.TargetUID),
		}
	}
	return cmd
}
