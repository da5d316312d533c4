package detector

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestBuildShellAwareCommand(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	// empty -> /bin/true
	c := buildShellAwareCommand(ctx, "")
	if c.Path == "" || !strings.Contains(c.String(), "/bin/true") {
		t.Fatalf("expected /bin/true, got %q (%q)", c.Path, c.String())
	}
	// simple no metachar -> direct exec
	c = buildShellAwareCommand(ctx, "zcoin-cli getinfo")
	if len(c.Args) != 2 || c.Args[0] != "zcoin-cli" || c.Args[1] != "getinfo" {
		t.Fatalf("expected direct exec, got %#v", c.Args)
	}
	// with shell meta -> sh -c
	c = buildShellAwareCommand(ctx, "echo hi | cat")
	if len(c.Args) < 2 || c.Args[0] != "/bin/sh" || c.Args[1] != "-c" {
		t.Fatalf("expected /bin/sh -c, got %#v", c.Args)
	}
}

func TestCommandDetectorAliveAndDescribe(t *testing.T) {
	requireUnix(t)
	d := CommandDetector{Command: "true"}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("true should be alive, got alive=%v err=%v", alive, err)
	}
	if d.Describe() != "cmd:true" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}

	// non-zero exit -> false, nil
	d = CommandDetector{Command: "sh -c 'exit 3'"}
	alive, err = d.Alive()
	if err != nil || alive {
		t.Fatalf("non-zero exit expected false,nil, got alive=%v err=%v", alive, err)
	}

	// missing binary -> error
	d = CommandDetector{Command: "__definitely_not_exists__"}
	alive, err = d.Alive()
	if err == nil || alive {
		t.Fatalf("expected error for missing binary, got alive=%v err=%v", alive, err)
	}
}

func TestCommandDetectorTimeout(t *testing.T) {
	requireUnix(t)
	d := CommandDetector{Command: "sleep 5", Timeout: 100 * time.Millisecond}
	start := time.Now()
	alive, err := d.Alive()
	if err != nil || alive {
		t.Fatalf("hung probe expected false,nil, got alive=%v err=%v", alive, err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
}
