// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/magiskd/magiskd/lib/manager"
	"github.com/magiskd/magiskd/lib/peercred"
	"github.com/magiskd/magiskd/lib/settings"
	"github.com/magiskd/magiskd/lib/sockio"
	"github.com/magiskd/magiskd/lib/testutil"
)

// helperEnv makes the test binary act as a stand-in daemon: it binds
// the named socket, writes helperGreeting to the first client, and
// exits.
const helperEnv = "MAGISKD_TEST_HELPER_LISTEN"

const helperGreeting = 4242

func TestMain(m *testing.M) {
	if name := os.Getenv(helperEnv); name != "" {
		os.Exit(runHelperDaemon(name))
	}
	goleak.VerifyTestMain(m)
}

func runHelperDaemon(name string) int {
	listener, err := Listen(name)
	if err != nil {
		return 1
	}
	defer listener.Close()
	listener.SetDeadline(time.Now().Add(10 * time.Second))
	conn, err := listener.AcceptUnix()
	if err != nil {
		return 1
	}
	defer conn.Close()
	if err := sockio.WriteInt(conn, helperGreeting); err != nil {
		return 1
	}
	return 0
}

// Test app ids.
const (
	managerAppID = 10050
	appAppID     = 10123
	testPackage  = "com.example.app"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type verifierFunc func(peercred.SockCred) bool

func (fn verifierFunc) Verify(cred peercred.SockCred) bool { return fn(cred) }

type fakeRebooter struct {
	calls chan bool
}

func (r *fakeRebooter) Reboot(recovery bool) error {
	r.calls <- recovery
	return nil
}

// fixture is a running daemon over a scratch filesystem. Every
// connection is attributed to the credentials stored in cred.
type fixture struct {
	t        *testing.T
	root     string
	name     string
	paths    Paths
	store    *settings.Store
	server   *Server
	rebooter *fakeRebooter
	scripts  chan string
	reopened chan struct{}

	ownersMu sync.Mutex
	owners   map[string]int

	cred        atomic.Pointer[peercred.SockCred]
	verify      atomic.Bool
	dataMounted atomic.Bool

	serveDone chan error
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := testutil.FakeRoot(t,
		"adb/",
		"adb/modules/",
		"data/user_de/0/"+manager.DefaultPackage+"/",
		"data/user_de/0/"+testPackage+"/",
		"data/system/packages.xml",
		"tmp/",
	)
	f := &fixture{
		t:    t,
		root: root,
		name: testutil.AbstractName(t),
		paths: Paths{
			Tmp:           filepath.Join(root, "tmp"),
			Secure:        filepath.Join(root, "adb"),
			Modules:       filepath.Join(root, "adb", "modules"),
			ModuleUpdates: filepath.Join(root, "adb", "modules_update"),
		},
		rebooter:  &fakeRebooter{calls: make(chan bool, 4)},
		scripts:   make(chan string, 32),
		reopened:  make(chan struct{}, 4),
		serveDone: make(chan error, 1),
		owners: map[string]int{
			filepath.Join(root, "data/user_de/0", manager.DefaultPackage): managerAppID,
			filepath.Join(root, "data/user_de/0", testPackage):            appAppID,
		},
	}
	f.setCred(peercred.SockCred{UID: 0, GID: 0, PID: 1})
	f.verify.Store(true)
	f.dataMounted.Store(true)

	store, err := settings.Open(settings.Config{
		Path:   filepath.Join(root, "adb", "magisk.db"),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("opening settings: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	f.store = store

	resolver := manager.NewResolver(manager.Config{
		Cache:      manager.NewCache(),
		Store:      store,
		AppDataDir: filepath.Join(root, "data/user_de"),
		Registry:   filepath.Join(root, "data/system/packages.xml"),
		Owner:      f.owner,
		Logger:     testLogger(),
	})

	server, err := NewServer(Config{
		Settings: store,
		Resolver: resolver,
		Verifier: verifierFunc(func(peercred.SockCred) bool { return f.verify.Load() }),
		PeerCredentials: func(*net.UnixConn) (peercred.SockCred, error) {
			return *f.cred.Load(), nil
		},
		Paths:       f.paths,
		Shell:       "/bin/sh",
		Rebooter:    f.rebooter,
		ReopenLog:   f.reopenLog,
		RunScript:   f.runScript,
		DataMounted: f.dataMounted.Load,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.server = server

	listener, err := Listen(f.name)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		f.serveDone <- server.Serve(ctx, listener)
	}()
	t.Cleanup(f.stop)
	return f
}

// stop cancels Serve and waits for it to return.
func (f *fixture) stop() {
	f.stopOnce.Do(func() {
		f.cancel()
		if err := testutil.RequireReceive(f.t, f.serveDone, 5*time.Second, "waiting for Serve"); err != nil {
			f.t.Errorf("Serve: %v", err)
		}
	})
}

func (f *fixture) owner(path string) (int, error) {
	f.ownersMu.Lock()
	defer f.ownersMu.Unlock()
	uid, ok := f.owners[path]
	if !ok {
		return -1, os.ErrNotExist
	}
	return uid, nil
}

// setOwner makes uid the owner of the app data directory of pkg in
// user 0, as a reinstall does.
func (f *fixture) setOwner(pkg string, uid int) {
	f.ownersMu.Lock()
	defer f.ownersMu.Unlock()
	f.owners[filepath.Join(f.root, "data/user_de/0", pkg)] = uid
}

// replaceRegistry renames a fresh package registry over the old one.
func (f *fixture) replaceRegistry() {
	f.t.Helper()
	registry := filepath.Join(f.root, "data/system/packages.xml")
	if err := os.WriteFile(registry+".new", []byte("<packages/>"), 0644); err != nil {
		f.t.Fatal(err)
	}
	if err := os.Rename(registry+".new", registry); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) runScript(_ context.Context, script string) error {
	f.scripts <- script
	return nil
}

func (f *fixture) reopenLog() error {
	f.reopened <- struct{}{}
	return nil
}

func (f *fixture) setCred(cred peercred.SockCred) {
	f.cred.Store(&cred)
}

func (f *fixture) setUID(uid uint32) {
	f.setCred(peercred.SockCred{UID: uid, GID: uid, PID: 4321})
}

func (f *fixture) options() ConnectOptions {
	return ConnectOptions{Name: f.name}
}

// request sends code and requires an OK response.
func (f *fixture) request(code RequestCode) *net.UnixConn {
	f.t.Helper()
	conn, err := Request(context.Background(), f.options(), code)
	if err != nil {
		f.t.Fatalf("Request(%s): %v", code, err)
	}
	f.t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn
}

// drain blocks until the daemon closes conn, which it does once the
// handler returns.
func drain(t *testing.T, conn *net.UnixConn) {
	t.Helper()
	buffer := make([]byte, 64)
	for {
		_, err := conn.Read(buffer)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("timed out waiting for the daemon to finish")
		}
		return
	}
}

// waitFor polls condition until it holds or five seconds pass.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// writeModule creates an installed module with the given extra files.
func (f *fixture) writeModule(id string, files ...string) string {
	f.t.Helper()
	dir := filepath.Join(f.paths.Modules, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.t.Fatal(err)
	}
	prop := "id=" + id + "\nname=" + id + "\nversion=v1\nversionCode=1\n"
	if err := os.WriteFile(filepath.Join(dir, "module.prop"), []byte(prop), 0644); err != nil {
		f.t.Fatal(err)
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			f.t.Fatal(err)
		}
	}
	return dir
}
