// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/magiskd/magiskd/lib/module"
	"github.com/magiskd/magiskd/lib/settings"
)

// bootloopThreshold is the number of consecutive boots without
// reaching boot-complete that triggers safe mode.
const bootloopThreshold = 2

// postFsDataScriptTimeout bounds each blocking post-fs-data.sh.
const postFsDataScriptTimeout = 10 * time.Second

// Module script names.
const (
	postFsDataScript = "post-fs-data.sh"
	serviceScript    = "service.sh"
)

// BootState records which boot stages have run.
type BootState struct {
	PostFsDataDone bool
	LateStartDone  bool
	BootComplete   bool
	SafeMode       bool
}

// handleBootStage runs one boot stage with the boot lock held. Only
// post-fs-data keeps the client waiting; the other stages hang up
// first.
func (s *Server) handleBootStage(ctx context.Context, conn *net.UnixConn, code RequestCode) error {
	if code != PostFsData {
		conn.Close()
	}

	s.bootMu.Lock()
	defer s.bootMu.Unlock()

	switch code {
	case PostFsData:
		if s.boot.PostFsDataDone {
			return nil
		}
		s.boot.SafeMode = s.postFsData(ctx)
		s.boot.PostFsDataDone = true
	case LateStart:
		if !s.boot.PostFsDataDone || s.boot.SafeMode || s.boot.LateStartDone {
			return nil
		}
		s.lateStart(ctx)
		s.boot.LateStartDone = true
	case BootComplete:
		if !s.boot.PostFsDataDone || s.boot.BootComplete {
			return nil
		}
		s.boot.BootComplete = true
		return s.bootComplete(ctx)
	}
	return nil
}

// Boot returns a copy of the boot stage flags.
func (s *Server) Boot() BootState {
	s.bootMu.Lock()
	defer s.bootMu.Unlock()
	return s.boot
}

// postFsData prepares modules before zygote starts. It reports whether
// the device must stay in safe mode.
func (s *Server) postFsData(ctx context.Context) bool {
	s.logger.Info("post-fs-data mode running")

	if !s.dataMounted() {
		s.logger.Warn("data partition is not mounted, aborting")
		return true
	}
	if _, err := os.Stat(s.paths.Secure); err != nil {
		s.logger.Warn("secure directory is not present, aborting", "path", s.paths.Secure)
		return true
	}

	if err := s.pruneSuAccess(ctx); err != nil {
		s.logger.Warn("pruning su access", "error", err)
	}

	current, err := s.settings.Settings(ctx)
	if err != nil {
		s.logger.Error("reading settings", "error", err)
		current = settings.DefaultSettings()
	}
	count := current.BootCount + 1
	if err := s.settings.SetSetting(ctx, settings.KeyBootloop, count); err != nil {
		s.logger.Error("recording boot count", "error", err)
	}
	if count >= bootloopThreshold {
		s.logger.Warn("safe mode triggered", "boot_count", count)
		if _, err := module.DisableAll(s.paths.Modules); err != nil {
			s.logger.Error("disabling modules", "error", err)
		}
		if err := s.settings.SetSetting(ctx, settings.KeyZygisk, 0); err != nil {
			s.logger.Error("disabling zygisk", "error", err)
		}
		return true
	}

	s.handleModules(ctx)
	return false
}

// handleModules applies staged updates, removes modules marked for
// removal, and runs post-fs-data.sh of every enabled module.
func (s *Server) handleModules(ctx context.Context) {
	upgraded, err := module.Upgrade(s.paths.ModuleUpdates, s.paths.Modules)
	if err != nil {
		s.logger.Error("upgrading modules", "error", err)
	}
	if len(upgraded) > 0 {
		s.logger.Info("modules upgraded", "modules", upgraded)
	}

	removed, err := module.Prune(s.paths.Modules, s.uninstaller(ctx))
	if err != nil {
		s.logger.Error("removing modules", "error", err)
	}
	if len(removed) > 0 {
		s.logger.Info("modules removed", "modules", removed)
	}

	modules, skipped, err := module.List(s.paths.Modules)
	if err != nil {
		s.logger.Error("listing modules", "error", err)
	}
	for _, skip := range skipped {
		s.logger.Warn("skipping module", "error", skip)
	}

	s.modules = s.modules[:0]
	for _, info := range modules {
		if info.Disabled {
			continue
		}
		s.modules = append(s.modules, info)
		script := filepath.Join(s.paths.Modules, info.ID, postFsDataScript)
		if _, err := os.Stat(script); err != nil {
			continue
		}
		scriptCtx, cancel := context.WithTimeout(ctx, postFsDataScriptTimeout)
		if err := s.runScript(scriptCtx, script); err != nil {
			s.logger.Warn("post-fs-data script failed", "module", info.ID, "error", err)
		}
		cancel()
	}
	s.logger.Info("modules loaded", "count", len(s.modules))
}

// lateStart launches service.sh of every loaded module in the
// background.
func (s *Server) lateStart(ctx context.Context) {
	s.logger.Info("late_start service mode running")
	for _, info := range s.modules {
		script := filepath.Join(s.paths.Modules, info.ID, serviceScript)
		if _, err := os.Stat(script); err != nil {
			continue
		}
		id := info.ID
		s.tasks.Go("service:"+id, func() {
			if err := s.runScript(ctx, script); err != nil {
				s.logger.Warn("service script failed", "module", id, "error", err)
			}
		})
	}
}

// bootComplete clears the bootloop counter and checks for the manager.
func (s *Server) bootComplete(ctx context.Context) error {
	s.logger.Info("boot-complete triggered")
	var errs []error
	if err := s.settings.SetSetting(ctx, settings.KeyBootloop, 0); err != nil {
		errs = append(errs, err)
	}
	if err := os.MkdirAll(s.paths.Secure, 0700); err != nil {
		errs = append(errs, err)
	}
	if _, pkg, err := s.resolver.GetManager(ctx, 0); err != nil {
		s.logger.Warn("manager app missing", "error", err)
	} else {
		s.logger.Info("manager app found", "package", pkg)
	}
	return errors.Join(errs...)
}
