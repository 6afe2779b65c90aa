package ftpd

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"
)

// spawnDummy starts a long-lived process standing in for a worker, with
// the same reaping arrangement Start uses.
func spawnDummy(t *testing.T) *os.Process {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting dummy worker: %v", err)
	}
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { cmd.Process.Kill() })
	return cmd.Process
}

func TestStopIdempotent(t *testing.T) {
	d := NewDaemon("127.0.0.1:0", Manifest{})

	if !d.Stop(context.Background()) {
		t.Error("Stop() on a never-started daemon should report confirmed")
	}
	if !d.Stop(context.Background()) {
		t.Error("second Stop() should also report confirmed")
	}
}

func TestStopTerminatesWorker(t *testing.T) {
	d := NewDaemon("127.0.0.1:0", Manifest{})
	d.grace = 50 * time.Millisecond
	d.proc = spawnDummy(t)

	if !d.Running() {
		t.Fatal("dummy worker should be alive before Stop()")
	}
	if !d.Stop(context.Background()) {
		t.Error("Stop() did not confirm termination")
	}
	if d.proc != nil {
		t.Error("Stop() must clear the handle")
	}
	if d.Running() {
		t.Error("daemon still reports running after Stop()")
	}
}

func TestStartRefusesSecondDaemon(t *testing.T) {
	d := NewDaemon("127.0.0.1:0", Manifest{})
	d.proc = spawnDummy(t)
	pid := d.PID()

	// Start must notice the live worker and leave it alone.
	if err := d.Start(context.Background(), os.DevNull); err != nil {
		t.Fatalf("Start() with a live worker should be a no-op, got error %v", err)
	}
	if d.PID() != pid {
		t.Errorf("Start() replaced the worker pid: got %d, want %d", d.PID(), pid)
	}
}

func TestStartBindFailureIsSynchronous(t *testing.T) {
	// 192.0.2.0/24 (TEST-NET-1) is never assigned to a local interface,
	// so the bind fails before any process is spawned.
	d := NewDaemon("192.0.2.1:2121", Manifest{})

	if err := d.Start(context.Background(), os.DevNull); err == nil {
		d.Stop(context.Background())
		t.Fatal("Start() should fail synchronously when the address cannot be bound")
	}
	if d.PID() != 0 {
		t.Error("no worker should exist after a bind failure")
	}
}

func TestPIDZeroWhenNotRunning(t *testing.T) {
	d := NewDaemon("127.0.0.1:0", Manifest{})
	if d.PID() != 0 {
		t.Errorf("PID() = %d, want 0", d.PID())
	}
	if d.Running() {
		t.Error("Running() should be false before Start()")
	}
}
