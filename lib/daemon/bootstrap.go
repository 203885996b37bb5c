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
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/lib/binhash"
	"github.com/magiskd/magiskd/lib/config"
	"github.com/magiskd/magiskd/lib/logging"
	"github.com/magiskd/magiskd/lib/manager"
	"github.com/magiskd/magiskd/lib/peercred"
	"github.com/magiskd/magiskd/lib/props"
	"github.com/magiskd/magiskd/lib/selinux"
	"github.com/magiskd/magiskd/lib/settings"
	"github.com/magiskd/magiskd/lib/sockio"
	"github.com/magiskd/magiskd/lib/version"
)

// processName is the name the daemon shows in ps.
const processName = "magiskd"

// Options configures [Bootstrap].
type Options struct {
	// Config is the loaded, validated configuration. Required.
	Config *config.Config

	// Detach starts a new session and points stdio at /dev/null and
	// /dev/zero. Set when running as a spawned background daemon.
	Detach bool

	// ProcRoot is the procfs mount. Defaults to "/proc".
	ProcRoot string
}

// Listen binds the daemon's abstract socket.
func Listen(name string) (*net.UnixListener, error) {
	listener, err := net.ListenUnix("unix", sockio.Address(name))
	if err != nil {
		return nil, fmt.Errorf("binding @%s: %w", name, err)
	}
	return listener, nil
}

// Bootstrap turns the calling process into the daemon and serves until
// ctx is cancelled or a client stops it. A bind failure (usually
// another daemon already running) is returned as an error.
func Bootstrap(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		return errors.New("daemon: config is required")
	}
	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	if opts.Detach {
		// Fails only when already a session leader.
		unix.Setsid()
		if err := redirectStdio(); err != nil {
			return err
		}
	}

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Path:       cfg.Paths.Log,
		Level:      level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	// A daemon spawned by the client already runs in the domain; one
	// started directly by init only relabels the serving thread.
	if label, err := selinux.EnterDaemonDomain(selinux.DaemonContext); err != nil {
		logger.Warn("entering daemon SELinux domain", "context", selinux.DaemonContext, "error", err)
	} else if label != "" {
		logger.Debug("running in SELinux domain", "context", label)
	}

	exe := filepath.Join(procRoot, "self", "exe")
	digest, err := binhash.HashFile(exe)
	if err != nil {
		logger.Warn("hashing daemon binary", "path", exe, "error", err)
	}
	logger.Info("daemon starting",
		"version", version.Info(),
		"pid", os.Getpid(),
		"binary", binhash.FormatDigest(digest),
	)

	verifier, err := peercred.NewVerifier(procRoot)
	if err != nil {
		return err
	}

	sdk, err := props.SDKVersion(cfg.Paths.BuildProp)
	if err != nil {
		logger.Warn("reading SDK level", "path", cfg.Paths.BuildProp, "error", err)
	}
	recoveryMode, _, err := props.Lookup(cfg.Paths.DaemonConfig, "RECOVERYMODE")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("reading daemon config", "path", cfg.Paths.DaemonConfig, "error", err)
	}

	store, err := settings.Open(settings.Config{
		Path:   cfg.Paths.Database,
		Logger: logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("opening settings database: %w", err)
	}
	defer store.Close()

	resolver := manager.NewResolver(manager.Config{
		Cache:      manager.NewCache(),
		Store:      store,
		AppDataDir: manager.AppDataDir(cfg.Paths.DataRoot, sdk),
		Registry:   cfg.Paths.PackageRegistry,
		Logger:     logger.Logger,
	})

	listener, err := Listen(cfg.Socket.Name)
	if err != nil {
		logger.Error("cannot bind daemon socket", "error", err)
		return err
	}
	setProcessName(processName)

	server, err := NewServer(Config{
		Settings: store,
		Resolver: resolver,
		Verifier: verifier,
		Paths: Paths{
			Tmp:           cfg.Paths.Tmp,
			Secure:        cfg.Paths.Secure,
			Modules:       cfg.Paths.Modules,
			ModuleUpdates: cfg.Paths.ModuleUpdates,
			ProcRoot:      procRoot,
		},
		Shell:     cfg.Su.Shell,
		Recovery:  recoveryMode == "true",
		ReopenLog: logger.Reopen,
		Logger:    logger.Logger,
	})
	if err != nil {
		listener.Close()
		return err
	}
	return server.Serve(ctx, listener)
}

// redirectStdio points stdout and stderr at /dev/null and stdin at
// /dev/zero.
func redirectStdio() error {
	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer null.Close()
	zero, err := os.Open("/dev/zero")
	if err != nil {
		return err
	}
	defer zero.Close()
	for _, target := range []int{1, 2} {
		if err := unix.Dup3(int(null.Fd()), target, 0); err != nil {
			return fmt.Errorf("redirecting fd %d: %w", target, err)
		}
	}
	if err := unix.Dup3(int(zero.Fd()), 0, 0); err != nil {
		return fmt.Errorf("redirecting stdin: %w", err)
	}
	return nil
}

// setProcessName renames the calling thread. Best effort.
func setProcessName(name string) {
	ptr, err := unix.BytePtrFromString(name)
	if err != nil {
		return
	}
	unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(ptr)), 0, 0, 0)
}
