package process

import (
	"path/filepath"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// commLen is the length Linux truncates process names to.
const commLen = 15

// Identity distinguishes a process from a later one that reuses its PID.
// Zero fields are unknown and are not compared.
type Identity struct {
	StartUnix int64  `json:"start_unix,omitempty"`
	Exe       string `json:"exe,omitempty"`
}

// IdentityOf captures the identity of a running process.
func IdentityOf(pid int) Identity {
	return Identity{StartUnix: StartUnix(pid), Exe: exeName(pid)}
}

// Matches reports whether pid still names the process id was captured from.
// When both start times are known they decide alone, so a daemon that
// exec'd into another binary still matches. The executable name is only
// compared when the start time is unavailable.
func (id Identity) Matches(pid int) bool {
	if id.StartUnix > 0 {
		if cur := StartUnix(pid); cur > 0 {
			return cur == id.StartUnix
		}
	}
	if id.Exe != "" {
		cur := exeName(pid)
		if cur != "" && cur != id.Exe {
			return false
		}
	}
	return true
}

// Owns reports whether the live pid recorded in a PID file is still the
// daemon at exePath. With meta the recorded identity decides. A legacy file
// has no identity, so pid must currently run a binary named like exePath.
func Owns(pid int, meta *Meta, exePath string) bool {
	if meta != nil {
		return meta.Identity.Matches(pid)
	}
	return exeMatches(exeName(pid), exePath)
}

func exeMatches(name, exePath string) bool {
	base := filepath.Base(exePath)
	if name == "" || exePath == "" {
		return false
	}
	if name == base {
		return true
	}
	return len(name) == commLen && strings.HasPrefix(base, name)
}

func exeName(pid int) string {
	if pid <= 0 {
		return ""
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}
