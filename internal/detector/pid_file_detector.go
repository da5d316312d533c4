package detector

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/loykin/corekeeper/internal/process"
)

// PIDFileDetector detects a process via a PID file. When the file carries
// identity metadata, a PID reused by another program is reported as dead.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, meta, err := process.ReadPIDFile(d.PIDFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if meta != nil && !meta.Identity.Matches(pid) {
		return false, nil // PID reused; not our process
	}
	return process.Alive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return process.Alive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
