// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/magiskd/magiskd/lib/manager"
	"github.com/magiskd/magiskd/lib/module"
	"github.com/magiskd/magiskd/lib/mountinfo"
	"github.com/magiskd/magiskd/lib/peercred"
	"github.com/magiskd/magiskd/lib/settings"
	"github.com/magiskd/magiskd/lib/sockio"
	"github.com/magiskd/magiskd/lib/version"
)

// headerTimeout bounds how long a fresh connection may take to send
// its request code. Handlers run without a deadline.
const headerTimeout = 30 * time.Second

// Verifier decides whether a peer may talk to the daemon at all.
type Verifier interface {
	Verify(cred peercred.SockCred) bool
}

// Rebooter restarts the device.
type Rebooter interface {
	Reboot(recovery bool) error
}

// ScriptRunner executes a module script to completion.
type ScriptRunner func(ctx context.Context, script string) error

// Paths are the filesystem locations the daemon manages.
type Paths struct {
	// Tmp is the daemon's tmpfs root, reported by [GetPath].
	Tmp string

	// Secure is the persistent root-only directory.
	Secure string

	// Modules holds installed modules.
	Modules string

	// ModuleUpdates holds modules staged for the next boot.
	ModuleUpdates string

	// ProcRoot is the procfs mount, normally "/proc".
	ProcRoot string
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Settings is the settings database. Required.
	Settings *settings.Store

	// Resolver locates the manager app. Required.
	Resolver *manager.Resolver

	// Verifier filters peers. Required.
	Verifier Verifier

	// PeerCredentials reads the peer of an accepted connection.
	// Defaults to [peercred.Get].
	PeerCredentials func(*net.UnixConn) (peercred.SockCred, error)

	Paths Paths

	// Shell runs module scripts and root shells.
	Shell string

	// Recovery is set when the device booted into recovery; reboots
	// requested by clients then return to recovery.
	Recovery bool

	// Rebooter defaults to running /system/bin/reboot.
	Rebooter Rebooter

	// ReopenLog is called on [StartDaemon]. Optional.
	ReopenLog func() error

	// RunScript defaults to running the script with Shell.
	RunScript ScriptRunner

	// DataMounted reports whether the data partition is usable.
	// Defaults to checking the daemon's mountinfo.
	DataMounted func() bool

	Logger *slog.Logger
}

// Server is the daemon's request dispatcher.
type Server struct {
	settings        *settings.Store
	resolver        *manager.Resolver
	verifier        Verifier
	peerCredentials func(*net.UnixConn) (peercred.SockCred, error)
	paths           Paths
	shell           string
	recovery        bool
	rebooter        Rebooter
	reopenLog       func() error
	runScript       ScriptRunner
	dataMounted     func() bool
	logger          *slog.Logger

	tasks taskGroup

	mu   sync.Mutex
	stop context.CancelFunc

	// bootMu serializes boot stages; boot and modules are only
	// touched with it held.
	bootMu  sync.Mutex
	boot    BootState
	modules []module.Info
}

// NewServer validates cfg and fills in defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Settings == nil {
		return nil, errors.New("daemon: settings store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("daemon: manager resolver is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("daemon: verifier is required")
	}
	server := &Server{
		settings:        cfg.Settings,
		resolver:        cfg.Resolver,
		verifier:        cfg.Verifier,
		peerCredentials: cfg.PeerCredentials,
		paths:           cfg.Paths,
		shell:           cfg.Shell,
		recovery:        cfg.Recovery,
		rebooter:        cfg.Rebooter,
		reopenLog:       cfg.ReopenLog,
		runScript:       cfg.RunScript,
		dataMounted:     cfg.DataMounted,
		logger:          cfg.Logger,
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	if server.peerCredentials == nil {
		server.peerCredentials = peercred.Get
	}
	if server.paths.ProcRoot == "" {
		server.paths.ProcRoot = "/proc"
	}
	if server.shell == "" {
		server.shell = "/system/bin/sh"
	}
	if server.rebooter == nil {
		server.rebooter = commandRebooter{}
	}
	if server.runScript == nil {
		server.runScript = server.shellScript
	}
	if server.dataMounted == nil {
		server.dataMounted = server.checkData
	}
	server.tasks.logger = server.logger
	return server, nil
}

// Serve accepts connections on listener until ctx is cancelled or a
// client sends [StopDaemon]. Every connection is handled on its own
// task; Serve waits for all of them before returning. The listener is
// closed on return.
func (s *Server) Serve(ctx context.Context, listener *net.UnixListener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("daemon listening", "address", listener.Addr().String())

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.tasks.Go("connection", func() {
			s.handleConnection(ctx, conn)
		})
	}

	s.tasks.Wait()
	s.logger.Info("daemon stopped")
	return nil
}

// shutdown stops the running Serve loop.
func (s *Server) shutdown() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// handleConnection runs the gate for one client and routes it.
func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	cred, err := s.peerCredentials(conn)
	if err != nil {
		s.logger.Debug("reading peer credentials", "error", err)
		return
	}
	if !s.verifier.Verify(cred) {
		s.logger.Warn("rejecting unverified client", "peer", cred.String())
		return
	}

	conn.SetReadDeadline(time.Now().Add(headerTimeout))
	raw, err := sockio.ReadInt(conn)
	if err != nil {
		s.logger.Debug("reading request code", "peer", cred.String(), "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	code := RequestCode(raw)
	if !code.Valid() {
		s.logger.Warn("invalid request code", "code", raw, "peer", cred.String())
		return
	}

	response := authorize(code, cred)
	if err := sockio.WriteInt(conn, response); err != nil || response != RespondOK {
		return
	}

	if err := s.route(ctx, conn, code, cred); err != nil {
		s.logger.Warn("request failed", "request", code.String(), "peer", cred.String(), "error", err)
	}
}

// authorize applies the per-code privilege requirements.
func authorize(code RequestCode, cred peercred.SockCred) int32 {
	if rootOnly[code] && !cred.IsRoot() {
		return RespondRootRequired
	}
	if code == RemoveModules && !cred.IsRoot() && cred.UID != manager.AIDShell {
		return RespondAccessDenied
	}
	return RespondOK
}

func (s *Server) route(ctx context.Context, conn *net.UnixConn, code RequestCode, cred peercred.SockCred) error {
	switch code {
	case StartDaemon:
		if s.reopenLog != nil {
			return s.reopenLog()
		}
		return nil
	case CheckVersion:
		return sockio.WriteString(conn, version.Daemon())
	case CheckVersionCode:
		return sockio.WriteInt(conn, int32(version.VersionCode()))
	case GetPath:
		return sockio.WriteString(conn, s.paths.Tmp)
	case StopDaemon:
		s.logger.Info("stop requested", "peer", cred.String())
		err := sockio.WriteInt(conn, 0)
		s.shutdown()
		return err
	case Superuser:
		return s.handleSuperuser(ctx, conn, cred)
	case ZygoteRestart:
		s.logger.Info("zygote restarted")
		s.resolver.NeedRefresh()
		return s.pruneSuAccess(ctx)
	case Denylist:
		return s.handleDenylist(ctx, conn)
	case SQLiteCmd:
		return s.handleSQLite(ctx, conn)
	case RemoveModules:
		return s.handleRemoveModules(ctx, conn)
	case InstallModule:
		return s.handleInstallModule(ctx, conn)
	case PostFsData, LateStart, BootComplete:
		return s.handleBootStage(ctx, conn, code)
	}
	return fmt.Errorf("unrouted request %s", code)
}

// shellScript runs script with the configured shell in the script's
// directory.
func (s *Server) shellScript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, s.shell, script)
	cmd.Dir = filepath.Dir(script)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		s.logger.Debug("script output", "script", script, "output", string(output))
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", script, err)
	}
	return nil
}

// checkData reports whether /data is mounted from real storage.
func (s *Server) checkData() bool {
	mounts, err := mountinfo.Read(s.paths.ProcRoot, "self")
	if err != nil {
		s.logger.Warn("reading mountinfo", "error", err)
		return false
	}
	for _, mount := range mounts {
		if mount.Target == "/data" && mount.FSType != "tmpfs" {
			return true
		}
	}
	return false
}

// commandRebooter runs the system reboot binary.
type commandRebooter struct{}

func (commandRebooter) Reboot(recovery bool) error {
	args := []string{}
	if recovery {
		args = append(args, "recovery")
	}
	cmd := exec.Command("/system/bin/reboot", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
