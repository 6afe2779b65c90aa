package ftpd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
)

// How long Stop waits after each termination signal before checking
// liveness again.
const defaultGracePeriod = 500 * time.Millisecond

// Daemon supervises one detached worker process. At most one worker is
// alive per Daemon; the handle is owned by the invocation, never global.
type Daemon struct {
	listenAddr string
	manifest   Manifest
	grace      time.Duration

	proc *os.Process
}

// NewDaemon prepares a supervisor for a worker listening on listenAddr.
// Nothing is spawned until Start.
func NewDaemon(listenAddr string, m Manifest) *Daemon {
	return &Daemon{
		listenAddr: listenAddr,
		manifest:   m,
		grace:      defaultGracePeriod,
	}
}

// PID returns the worker's process ID, or 0 when no worker is running.
func (d *Daemon) PID() int {
	if d.proc == nil {
		return 0
	}
	return d.proc.Pid
}

// Running reports whether a worker spawned by this daemon is still alive.
func (d *Daemon) Running() bool {
	if d.proc == nil {
		return false
	}
	return d.proc.Signal(syscall.Signal(0)) == nil
}

// Start binds the listening address and spawns the detached worker.
//
// The bind happens here, in the supervisor, so address conflicts surface
// synchronously before any process is spawned. The worker inherits the
// bound listener on fd 3 and the serving manifest on fd 4, runs in its own
// session, and has stdout/stderr redirected to logPath.
//
// If a previously started worker is still alive, Start logs the fact and
// returns without spawning a second one.
func (d *Daemon) Start(ctx context.Context, logPath string) error {
	log := clog.FromContext(ctx)

	if d.Running() {
		log.Warn("volume daemon is already running", "pid", d.proc.Pid)
		return nil
	}

	ln, err := net.Listen("tcp", d.listenAddr)
	if err != nil {
		return fmt.Errorf("binding volume server address %s: %w", d.listenAddr, err)
	}
	defer ln.Close()

	lnFile, err := ln.(*net.TCPListener).File()
	if err != nil {
		return fmt.Errorf("preparing listener for the worker: %w", err)
	}
	defer lnFile.Close()

	manifestR, manifestW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating manifest pipe: %w", err)
	}
	defer manifestR.Close()

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		manifestW.Close()
		return fmt.Errorf("opening daemon log %s: %w", logPath, err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		manifestW.Close()
		return fmt.Errorf("locating own executable: %w", err)
	}

	cmd := exec.Command(exe, WorkerCommand)
	cmd.Dir = "/"
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{lnFile, manifestR}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		manifestW.Close()
		return fmt.Errorf("spawning volume daemon: %w", err)
	}

	// Hand the worker its manifest. A worker that never reads it will be
	// torn down by Stop like any other.
	if err := writeManifest(manifestW, d.manifest); err != nil {
		log.Error("failed to send the serving manifest to the worker", "error", err)
	}

	d.proc = cmd.Process

	// Reap the worker when it exits so liveness checks see it gone.
	go func() { _ = cmd.Wait() }()

	log.Debug("volume daemon started", "pid", d.proc.Pid, "addr", d.listenAddr)
	return nil
}

func writeManifest(w *os.File, m Manifest) error {
	defer w.Close()
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Stop terminates the worker, escalating from SIGTERM to SIGKILL after the
// grace period. It reports whether the worker is confirmed gone; an
// unconfirmed kill is logged, never raised, because a leaked background
// process must not mask the primary result. The handle is cleared either
// way, and stopping an already-stopped daemon is a no-op.
func (d *Daemon) Stop(ctx context.Context) bool {
	log := clog.FromContext(ctx)

	if d.proc == nil {
		return true
	}
	defer func() { d.proc = nil }()

	if err := d.proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return true
	}

	time.Sleep(d.grace)
	if !d.Running() {
		return true
	}

	log.Debug("volume daemon ignored SIGTERM, killing", "pid", d.proc.Pid)
	_ = d.proc.Kill()

	time.Sleep(d.grace)
	if d.Running() {
		log.Warn("volume daemon could not be confirmed dead", "pid", d.proc.Pid)
		return false
	}
	return true
}
