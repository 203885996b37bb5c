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
	"path/filepath"
	"strings"

	"github.com/magiskd/magiskd/lib/binhash"
	"github.com/magiskd/magiskd/lib/manager"
	"github.com/magiskd/magiskd/lib/module"
	"github.com/magiskd/magiskd/lib/selinux"
	"github.com/magiskd/magiskd/lib/settings"
	"github.com/magiskd/magiskd/lib/sockio"
)

// pruneSuAccess deletes the policies of apps that are no longer
// installed in any user. Policies for uids outside the app range are
// kept. An empty app list means the data partition could not be read,
// so nothing is pruned.
func (s *Server) pruneSuAccess(ctx context.Context) error {
	installed := s.resolver.AppNoList()
	if installed.None() {
		s.logger.Warn("no installed apps found, skipping policy pruning")
		return nil
	}
	uids, err := s.settings.PolicyUIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing policies: %w", err)
	}
	var errs []error
	for _, uid := range uids {
		appID := manager.ToAppID(uid)
		if !manager.IsAppID(appID) {
			continue
		}
		if installed.Test(uint(appID - manager.AIDAppStart)) {
			continue
		}
		s.logger.Info("pruning policy of uninstalled app", "uid", uid)
		if err := s.settings.DeletePolicy(ctx, uid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleDenylist reads a [DenyRequest] and answers with a
// [DenyResponse]. A list request follows the response with one
// "package|process" string per entry and an empty terminator.
func (s *Server) handleDenylist(ctx context.Context, conn *net.UnixConn) error {
	raw, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading denylist request: %w", err)
	}
	request := DenyRequest(raw)

	var response DenyResponse
	switch request {
	case DenyEnforce, DenyDisable:
		enable := request == DenyEnforce
		response = DenyOK
		if err := s.settings.SetSetting(ctx, settings.KeyDenylist, boolInt(enable)); err != nil {
			s.logger.Error("updating denylist setting", "error", err)
			response = DenyError
		}
	case DenyStatus:
		current, err := s.settings.Settings(ctx)
		switch {
		case err != nil:
			s.logger.Error("reading settings", "error", err)
			response = DenyError
		case current.Denylist:
			response = DenyEnforced
		default:
			response = DenyNotEnforced
		}
	case DenyAdd, DenyRemove:
		response = s.editDenylist(ctx, conn, request == DenyAdd)
	case DenyList:
		return s.listDenylist(ctx, conn)
	default:
		response = DenyError
	}
	return sockio.WriteInt(conn, int32(response))
}

func (s *Server) editDenylist(ctx context.Context, conn *net.UnixConn, add bool) DenyResponse {
	pkg, err := sockio.ReadString(conn)
	if err != nil {
		return DenyError
	}
	process, err := sockio.ReadString(conn)
	if err != nil {
		return DenyError
	}
	if !validPackage(pkg) || strings.Contains(process, "|") {
		return DenyInvalidPackage
	}
	if process == "" {
		process = pkg
	}

	if !add {
		removed, err := s.settings.RemoveDenylist(ctx, pkg, process)
		if err != nil {
			s.logger.Error("removing denylist entry", "package", pkg, "error", err)
			return DenyError
		}
		if removed == 0 {
			return DenyItemNotExist
		}
		return DenyOK
	}

	entries, err := s.settings.Denylist(ctx)
	if err != nil {
		s.logger.Error("reading denylist", "error", err)
		return DenyError
	}
	for _, entry := range entries {
		if entry.Package == pkg && entry.Process == process {
			return DenyItemExist
		}
	}
	if err := s.settings.AddDenylist(ctx, pkg, process); err != nil {
		s.logger.Error("adding denylist entry", "package", pkg, "error", err)
		return DenyError
	}
	return DenyOK
}

func (s *Server) listDenylist(ctx context.Context, conn *net.UnixConn) error {
	entries, err := s.settings.Denylist(ctx)
	if err != nil {
		s.logger.Error("reading denylist", "error", err)
		return sockio.WriteInt(conn, int32(DenyError))
	}
	if err := sockio.WriteInt(conn, int32(DenyOK)); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := sockio.WriteString(conn, entry.Package+"|"+entry.Process); err != nil {
			return err
		}
	}
	return sockio.WriteString(conn, "")
}

// validPackage accepts Android package names and the "isolated"
// pseudo-package.
func validPackage(pkg string) bool {
	if pkg == "" || len(pkg) > 255 {
		return false
	}
	for _, r := range pkg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
		default:
			return false
		}
	}
	return true
}

// handleSQLite runs one statement and streams its rows as strings,
// followed by the error text if it failed, then an empty terminator.
func (s *Server) handleSQLite(ctx context.Context, conn *net.UnixConn) error {
	sql, err := sockio.ReadString(conn)
	if err != nil {
		return fmt.Errorf("reading statement: %w", err)
	}

	var writeErr error
	execErr := s.settings.ExecRaw(ctx, sql, func(row string) error {
		writeErr = sockio.WriteString(conn, row)
		return writeErr
	})
	if writeErr != nil {
		return fmt.Errorf("streaming rows: %w", writeErr)
	}
	if execErr != nil {
		s.logger.Info("sqlite command failed", "error", execErr)
		if err := sockio.WriteString(conn, execErr.Error()); err != nil {
			return err
		}
	}
	return sockio.WriteString(conn, "")
}

// handleRemoveModules removes every module, running uninstall scripts,
// and reboots when the client asked for it.
func (s *Server) handleRemoveModules(ctx context.Context, conn *net.UnixConn) error {
	reboot, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reboot flag: %w", err)
	}

	result := RespondOK
	if _, err := module.MarkAllForRemoval(s.paths.Modules); err != nil {
		s.logger.Error("marking modules for removal", "error", err)
		result = RespondError
	}
	removed, err := module.Prune(s.paths.Modules, s.uninstaller(ctx))
	if err != nil {
		s.logger.Error("removing modules", "error", err)
		result = RespondError
	}
	s.logger.Info("modules removed", "modules", removed)

	if err := sockio.WriteInt(conn, result); err != nil {
		return err
	}
	if reboot != 0 {
		s.logger.Info("rebooting", "recovery", s.recovery)
		return s.rebooter.Reboot(s.recovery)
	}
	return nil
}

// handleInstallModule stages a module zip for the next boot and
// replies with a status int and a message.
func (s *Server) handleInstallModule(ctx context.Context, conn *net.UnixConn) error {
	zipPath, err := sockio.ReadString(conn)
	if err != nil {
		return fmt.Errorf("reading zip path: %w", err)
	}

	installed, err := module.Install(ctx, zipPath, s.paths.ModuleUpdates)
	if err == nil {
		err = s.stagePlaceholder(installed)
	}
	if err != nil {
		s.logger.Warn("module install failed", "zip", zipPath, "error", err)
		if writeErr := sockio.WriteInt(conn, 1); writeErr != nil {
			return writeErr
		}
		return sockio.WriteString(conn, err.Error())
	}

	if err := selinux.LabelTree(installed.Dir, selinux.SystemFileContext); err != nil {
		s.logger.Warn("labelling module files", "module", installed.Info.ID, "error", err)
	}
	s.logger.Info("module staged",
		"module", installed.Info.ID,
		"version", installed.Info.Version,
		"digest", binhash.FormatDigest(installed.Digest),
	)
	if err := sockio.WriteInt(conn, 0); err != nil {
		return err
	}
	return sockio.WriteString(conn, fmt.Sprintf("%s %s staged, reboot to apply", installed.Info.ID, installed.Info.Version))
}

// stagePlaceholder makes a staged module visible in the live module
// tree before the reboot that installs it: its module.prop is copied
// and the update marker set.
func (s *Server) stagePlaceholder(installed module.Installed) error {
	dir := filepath.Join(s.paths.Modules, installed.Info.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating module directory: %w", err)
	}
	prop, err := os.ReadFile(filepath.Join(installed.Dir, module.PropFile))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, module.PropFile), prop, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, module.UpdateMarker), nil, 0644)
}

// uninstaller runs uninstall scripts through the script runner.
func (s *Server) uninstaller(ctx context.Context) module.Uninstaller {
	return func(script string) error {
		return s.runScript(ctx, script)
	}
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
