// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/magiskd/magiskd/lib/cli"
	"github.com/magiskd/magiskd/lib/config"
	"github.com/magiskd/magiskd/lib/daemon"
	"github.com/magiskd/magiskd/lib/module"
	"github.com/magiskd/magiskd/lib/mountinfo"
	"github.com/magiskd/magiskd/lib/props"
	"github.com/magiskd/magiskd/lib/selinux"
	"github.com/magiskd/magiskd/lib/sockio"
	"github.com/magiskd/magiskd/lib/version"
)

// postFsDataWait bounds how long --post-fs-data waits for the stage.
const postFsDataWait = 40 * time.Second

// options holds every flag of the root command.
type options struct {
	clientVersion bool
	daemonVersion bool
	versionCode   bool
	list          bool
	startDaemon   bool
	daemonEntry   bool
	stop          bool
	postFsData    bool
	service       bool
	bootComplete  bool
	zygoteRestart bool
	sqlite        string
	removeModules bool
	noReboot      bool
	path          bool
	installModule string
	preinitDevice bool
	denylist      bool

	su          bool
	suUID       int
	login       bool
	preserveEnv bool
	shell       string

	configPath string
	verbose    bool
}

// actionFlags are the mutually exclusive actions, in help order.
var actionFlags = []string{
	"client-version", "version", "version-code", "list",
	"daemon", "daemon-entry", "stop",
	"post-fs-data", "service", "boot-complete", "zygote-restart",
	"sqlite", "remove-modules", "path", "install-module",
	"preinit-device", "denylist", "su",
}

// positionalActions accept trailing arguments.
var positionalActions = map[string]bool{
	"denylist": true,
	"su":       true,
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("magisk", pflag.ContinueOnError)
	flagSet.BoolVarP(&opts.clientVersion, "client-version", "c", false, "print the client version")
	flagSet.BoolVarP(&opts.daemonVersion, "version", "v", false, "print the daemon version")
	flagSet.BoolVarP(&opts.versionCode, "version-code", "V", false, "print the daemon version code")
	flagSet.BoolVar(&opts.list, "list", false, "list installed modules")
	flagSet.BoolVar(&opts.startDaemon, "daemon", false, "start the daemon if it is not running")
	flagSet.BoolVar(&opts.daemonEntry, "daemon-entry", false, "run as the daemon in this process")
	flagSet.BoolVar(&opts.stop, "stop", false, "stop the daemon")
	flagSet.BoolVar(&opts.postFsData, "post-fs-data", false, "run the post-fs-data boot stage")
	flagSet.BoolVar(&opts.service, "service", false, "run the late_start service boot stage")
	flagSet.BoolVar(&opts.bootComplete, "boot-complete", false, "run the boot-complete stage")
	flagSet.BoolVar(&opts.zygoteRestart, "zygote-restart", false, "notify the daemon that zygote restarted")
	flagSet.StringVar(&opts.sqlite, "sqlite", "", "run `SQL` against the settings database")
	flagSet.BoolVar(&opts.removeModules, "remove-modules", false, "remove all modules and reboot")
	flagSet.BoolVarP(&opts.noReboot, "no-reboot", "n", false, "with --remove-modules, do not reboot")
	flagSet.BoolVar(&opts.path, "path", false, "print the daemon's tmpfs path")
	flagSet.StringVar(&opts.installModule, "install-module", "", "stage the module `ZIP` for the next boot")
	flagSet.BoolVar(&opts.preinitDevice, "preinit-device", false, "print the block device for preinit data")
	flagSet.BoolVar(&opts.denylist, "denylist", false, "manage the denylist: ls, add PKG [PROC], rm PKG [PROC], status, enable, disable")
	flagSet.BoolVar(&opts.su, "su", false, "run a shell, or the trailing command, through the daemon")
	flagSet.IntVar(&opts.suUID, "su-uid", 0, "with --su, the `UID` to run as")
	flagSet.BoolVarP(&opts.login, "login", "l", false, "with --su, start a login shell")
	flagSet.BoolVarP(&opts.preserveEnv, "preserve-environment", "p", false, "with --su, keep the caller's environment")
	flagSet.StringVarP(&opts.shell, "shell", "s", "", "with --su, the `SHELL` to run")
	flagSet.StringVar(&opts.configPath, "config", "", "configuration `FILE` (default: $"+config.EnvVar+" or built-in)")
	flagSet.BoolVar(&opts.verbose, "verbose", false, "log debug messages")
	flagSet.MarkHidden("daemon-entry")
	return flagSet
}

// selectAction returns the single action flag set on flagSet.
func selectAction(flagSet *pflag.FlagSet) (string, error) {
	var chosen []string
	for _, name := range actionFlags {
		if flagSet.Changed(name) {
			chosen = append(chosen, name)
		}
	}
	switch len(chosen) {
	case 0:
		return "", errors.New("no action given")
	case 1:
		return chosen[0], nil
	default:
		return "", fmt.Errorf("conflicting actions --%s and --%s", chosen[0], chosen[1])
	}
}

// app carries what every action needs.
type app struct {
	ctx    context.Context
	opts   *options
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
}

func newRootCommand(ctx context.Context, stdout io.Writer) *cli.Command {
	var opts options
	var flagSet *pflag.FlagSet
	command := &cli.Command{
		Name:    "magisk",
		Summary: "Control the magiskd root broker",
		Description: `Magisk talks to magiskd, the privileged daemon that brokers root
access, runs module boot stages and owns the settings database.

Exactly one action flag must be given.`,
		Usage: "magisk [--config FILE] ACTION [ARGS...]",
		Examples: []cli.Example{
			{Description: "Show the running daemon's version", Command: "magisk -v"},
			{Description: "Query root policies", Command: `magisk --sqlite "SELECT * FROM policies"`},
			{Description: "Hide root from an app", Command: "magisk --denylist add com.example.app"},
			{Description: "Remove every module without rebooting", Command: "magisk --remove-modules -n"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = newFlagSet(&opts)
			return flagSet
		},
	}
	command.Run = func(args []string) error {
		action, err := selectAction(flagSet)
		if err != nil {
			return command.Usagef("%v", err)
		}
		if len(args) > 0 && !positionalActions[action] {
			return command.Usagef("--%s takes no arguments, got %q", action, args)
		}

		level := slog.LevelWarn
		if opts.verbose {
			level = slog.LevelDebug
		}
		logger := cli.NewCommandLogger(level)
		slog.SetDefault(logger)

		application := &app{ctx: ctx, opts: &opts, logger: logger, stdout: stdout}
		if action == "client-version" {
			return application.clientVersion()
		}
		if err := application.loadConfig(); err != nil {
			return err
		}
		return application.dispatch(command, action, args)
	}
	return command
}

func (a *app) loadConfig() error {
	var cfg *config.Config
	var err error
	if a.opts.configPath != "" {
		cfg, err = config.LoadFile(a.opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.config = cfg
	return nil
}

func (a *app) dispatch(command *cli.Command, action string, args []string) error {
	switch action {
	case "version":
		return a.printString(daemon.CheckVersion)
	case "version-code":
		return a.printVersionCode()
	case "list":
		return a.listModules()
	case "daemon":
		return a.simpleRequest(daemon.StartDaemon, true)
	case "daemon-entry":
		return daemon.Bootstrap(a.ctx, daemon.Options{Config: a.config, Detach: true})
	case "stop":
		return a.statusRequest(daemon.StopDaemon)
	case "post-fs-data":
		return a.postFsData()
	case "service":
		return a.simpleRequest(daemon.LateStart, true)
	case "boot-complete":
		return a.simpleRequest(daemon.BootComplete, true)
	case "zygote-restart":
		return a.simpleRequest(daemon.ZygoteRestart, false)
	case "sqlite":
		return a.sqlite()
	case "remove-modules":
		return a.removeModules()
	case "path":
		return a.printString(daemon.GetPath)
	case "install-module":
		return a.installModuleZip()
	case "preinit-device":
		return a.printPreinitDevice()
	case "denylist":
		return a.denylistCommand(command.HelpOutput).Execute(args)
	case "su":
		return a.runSu(args)
	}
	return fmt.Errorf("unhandled action --%s", action)
}

func (a *app) connectOptions(create bool) daemon.ConnectOptions {
	args := []string{"--daemon-entry"}
	if a.opts.configPath != "" {
		args = append(args, "--config", a.opts.configPath)
	}
	return daemon.ConnectOptions{
		Name:         a.config.Socket.Name,
		Create:       create,
		Args:         args,
		Label:        selinux.DaemonContext,
		Timeout:      a.config.Client.ConnectTimeout,
		PollInterval: a.config.Client.PollInterval,
		Logger:       a.logger,
	}
}

func (a *app) request(code daemon.RequestCode, create bool) (*net.UnixConn, error) {
	return daemon.Request(a.ctx, a.connectOptions(create), code)
}

// clientVersion prints the version string the daemon compares against.
// With --verbose it adds the build details below it.
func (a *app) clientVersion() error {
	if _, err := fmt.Fprintln(a.stdout, version.Daemon()); err != nil {
		return err
	}
	if !a.opts.verbose {
		return nil
	}
	_, err := fmt.Fprintln(a.stdout, version.Full())
	return err
}

func (a *app) printString(code daemon.RequestCode) error {
	conn, err := a.request(code, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	value, err := sockio.ReadString(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, value)
	return err
}

func (a *app) printVersionCode() error {
	conn, err := a.request(daemon.CheckVersionCode, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	code, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, code)
	return err
}

// simpleRequest sends a request with no payload and hangs up.
func (a *app) simpleRequest(code daemon.RequestCode, create bool) error {
	conn, err := a.request(code, create)
	if err != nil {
		return err
	}
	return conn.Close()
}

// statusRequest sends a request answered by a single int, which
// becomes the exit status.
func (a *app) statusRequest(code daemon.RequestCode) error {
	conn, err := a.request(code, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	status, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	return cli.Exit(int(status))
}

// postFsData triggers the stage and waits for the daemon to hang up,
// which it does once the stage is done.
func (a *app) postFsData() error {
	conn, err := a.request(daemon.PostFsData, true)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(postFsDataWait))
	if _, err := io.Copy(io.Discard, conn); err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		a.logger.Warn("post-fs-data is still running", "waited", postFsDataWait)
	}
	return nil
}

func (a *app) sqlite() error {
	conn, err := a.request(daemon.SQLiteCmd, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := sockio.WriteString(conn, a.opts.sqlite); err != nil {
		return err
	}
	rows, err := daemon.ReadStrings(conn)
	for _, row := range rows {
		fmt.Fprintln(a.stdout, row)
	}
	return err
}

func (a *app) removeModules() error {
	conn, err := a.request(daemon.RemoveModules, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	reboot := int32(1)
	if a.opts.noReboot {
		reboot = 0
	}
	if err := sockio.WriteInt(conn, reboot); err != nil {
		return err
	}
	status, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	return cli.Exit(int(status))
}

func (a *app) installModuleZip() error {
	zipPath, err := filepath.Abs(a.opts.installModule)
	if err != nil {
		return err
	}
	conn, err := a.request(daemon.InstallModule, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := sockio.WriteString(conn, zipPath); err != nil {
		return err
	}
	status, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	message, err := sockio.ReadString(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	if status != 0 {
		fmt.Fprintln(os.Stderr, message)
		return cli.Exit(int(status))
	}
	_, err = fmt.Fprintln(a.stdout, message)
	return err
}

// listModules reads the module tree directly; it needs no daemon.
func (a *app) listModules() error {
	modules, skipped, err := module.List(a.config.Paths.Modules)
	if err != nil {
		return err
	}
	for _, skip := range skipped {
		a.logger.Warn("skipping module", "error", skip)
	}
	for _, info := range modules {
		var state []string
		if info.Disabled {
			state = append(state, "disabled")
		}
		if info.Removing {
			state = append(state, "removing")
		}
		if info.Updated {
			state = append(state, "updated")
		}
		line := fmt.Sprintf("%s (%s)", info.ID, info.Version)
		if len(state) > 0 {
			line += " [" + strings.Join(state, ",") + "]"
		}
		fmt.Fprintln(a.stdout, line)
	}
	return nil
}

func (a *app) printPreinitDevice() error {
	mounts, err := mountinfo.Read("/proc", "self")
	if err != nil {
		return err
	}
	cryptoState, _, _ := props.Lookup(a.config.Paths.BuildProp, "ro.crypto.state")
	_, unencryptedErr := os.Stat(filepath.Join(a.config.Paths.DataRoot, "unencrypted"))
	device := mountinfo.PreinitDevice(mounts, mountinfo.PreinitOptions{
		Encrypted:       cryptoState == "encrypted",
		UnencryptedData: unencryptedErr == nil,
	})
	if device == "" {
		return errors.New("no suitable preinit device")
	}
	_, err = fmt.Fprintln(a.stdout, device)
	return err
}

func (a *app) runSu(args []string) error {
	request := daemon.SuRequest{
		TargetUID: a.opts.suUID,
		Login:     a.opts.login,
		KeepEnv:   a.opts.preserveEnv,
		Shell:     a.opts.shell,
		Command:   strings.Join(args, " "),
	}
	if request.KeepEnv {
		request.Env = os.Environ()
	}
	status, err := daemon.RequestRoot(a.ctx, a.connectOptions(false), request, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	return cli.Exit(status)
}
