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
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/magiskd/magiskd/lib/selinux"
	"github.com/magiskd/magiskd/lib/sockio"
)

var (
	// ErrNotRunning is returned when no daemon is listening and none
	// may be started.
	ErrNotRunning = errors.New("daemon: not running")

	// ErrRootRequired is the client-side form of [RespondRootRequired].
	ErrRootRequired = errors.New("daemon: root required")

	// ErrAccessDenied is the client-side form of [RespondAccessDenied].
	ErrAccessDenied = errors.New("daemon: access denied")

	// ErrDaemon is returned for any other non-OK response, including
	// the daemon hanging up without answering.
	ErrDaemon = errors.New("daemon: request failed")

	// ErrSuDenied is returned by [RequestRoot] when the daemon refuses.
	ErrSuDenied = errors.New("daemon: root request denied")
)

// ConnectOptions configures [Connect].
type ConnectOptions struct {
	// Name is the abstract socket name.
	Name string

	// Create starts the daemon when it is not running. Only honored
	// for uid 0.
	Create bool

	// Executable is the binary spawned as the daemon. Defaults to the
	// running executable.
	Executable string

	// Args are passed to Executable. Defaults to "--daemon-entry".
	Args []string

	// Label is the SELinux domain the spawned daemon is exec'd into.
	// Empty keeps the caller's domain.
	Label string

	// Timeout bounds the wait for a spawned daemon. Default 10s.
	Timeout time.Duration

	// PollInterval is the delay between connection attempts while
	// waiting. Default 50ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (opts ConnectOptions) withDefaults() ConnectOptions {
	if opts.Args == nil {
		opts.Args = []string{"--daemon-entry"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

func dial(name string) (*net.UnixConn, error) {
	return net.DialUnix("unix", nil, sockio.Address(name))
}

// Connect dials the daemon. If it is not running and opts.Create is
// set for a root caller, a detached daemon is spawned and Connect
// polls until it accepts or the timeout elapses.
func Connect(ctx context.Context, opts ConnectOptions) (*net.UnixConn, error) {
	opts = opts.withDefaults()
	conn, err := dial(opts.Name)
	if err == nil {
		return conn, nil
	}
	if !opts.Create || os.Getuid() != 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}

	opts.Logger.Debug("daemon not running, starting it", "name", opts.Name)
	if err := spawn(opts); err != nil {
		return nil, fmt.Errorf("starting daemon: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	err = retry.New(
		retry.UntilSucceeded(),
		retry.Delay(opts.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.WrapContextErrorWithLastError(true),
	).Do(func() error {
		dialed, err := dial(opts.Name)
		if err != nil {
			return err
		}
		conn = dialed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for daemon: %w", err)
	}
	return conn, nil
}

// spawn starts the daemon in its own session with stdio on /dev/null
// and does not wait for it.
func spawn(opts ConnectOptions) error {
	executable := opts.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return err
		}
		executable = self
	}
	cmd := exec.Command(executable, opts.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	start := cmd.Start
	if opts.Label != "" {
		start = func() error { return selinux.WithExecLabel(opts.Label, cmd.Start) }
	}
	if err := start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Request connects, sends code, and checks the daemon's response. On
// success the connection is positioned at the request's payload and
// the caller owns it.
func Request(ctx context.Context, opts ConnectOptions, code RequestCode) (*net.UnixConn, error) {
	conn, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := sockio.WriteInt(conn, int32(code)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending %s: %w", code, err)
	}
	response, err := sockio.ReadInt(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: no response: %v", ErrDaemon, code, err)
	}
	switch response {
	case RespondOK:
		return conn, nil
	case RespondRootRequired:
		err = ErrRootRequired
	case RespondAccessDenied:
		err = ErrAccessDenied
	default:
		err = fmt.Errorf("%w: %s: response %d", ErrDaemon, code, response)
	}
	conn.Close()
	return nil, err
}

// ReadStrings reads strings until the empty terminator.
func ReadStrings(conn *net.UnixConn) ([]string, error) {
	var values []string
	for {
		value, err := sockio.ReadString(conn)
		if err != nil {
			return values, err
		}
		if value == "" {
			return values, nil
		}
		values = append(values, value)
	}
}

// RequestRoot asks the daemon for a shell described by request, wired
// to the given descriptors (nil means /dev/null on the daemon side),
// and returns the shell's exit status.
func RequestRoot(ctx context.Context, opts ConnectOptions, request SuRequest, stdin, stdout, stderr *os.File) (int, error) {
	conn, err := Request(ctx, opts, Superuser)
	if err != nil {
		return -1, err
	}
	defer conn.Close()
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	if err := sockio.WriteRecord(conn, request); err != nil {
		return -1, fmt.Errorf("sending su request: %w", err)
	}
	var verdict SuResponse
	if err := sockio.ReadRecord(conn, &verdict); err != nil {
		return -1, fmt.Errorf("reading su verdict: %w", err)
	}
	if !verdict.Allowed {
		return -1, fmt.Errorf("%w: %s", ErrSuDenied, verdict.Reason)
	}
	for _, file := range []*os.File{stdin, stdout, stderr} {
		if err := sockio.SendFD(conn, file); err != nil {
			return -1, fmt.Errorf("passing descriptor: %w", err)
		}
	}
	status, err := sockio.ReadInt(conn)
	if err != nil {
		return -1, fmt.Errorf("reading exit status: %w", err)
	}
	return int(status), nil
}
