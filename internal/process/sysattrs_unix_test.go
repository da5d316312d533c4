//go:build !windows

package process

import (
	"syscall"
	"testing"
	"time"
)

func TestStartPutsDaemonInOwnGroup(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "grp.sh", "exec sleep 5")
	p, err := Start(Spec{Name: "grp", Path: bin}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = p.Kill(2 * time.Second) }()

	if p.cmd.SysProcAttr == nil || !p.cmd.SysProcAttr.Setpgid {
		t.Fatal("SysProcAttr Setpgid not set")
	}
	pgid, err := syscall.Getpgid(p.PID())
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid != p.PID() {
		t.Fatalf("pgid %d, want %d", pgid, p.PID())
	}
	if !isGroupLeader(p.PID()) {
		t.Fatal("daemon is not its group leader")
	}
}
