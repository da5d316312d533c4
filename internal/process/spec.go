package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/loykin/corekeeper/internal/logger"
)

// Spec describes how to launch the daemon executable.
type Spec struct {
	Name    string        `json:"name"`
	Path    string        `json:"path"`     // absolute path to the daemon binary
	Args    []string      `json:"args"`     // optional arguments
	WorkDir string        `json:"work_dir"` // optional working dir
	Log     logger.Config `json:"log"`      // stdout/stderr rotation; discarded when empty
}

// buildCommand constructs the *exec.Cmd for s. The daemon binary is
// invoked directly, never through a shell.
func (s Spec) buildCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command(s.Path, s.Args...)
}

// CheckExecutable verifies that path names a regular file the current user
// may execute.
func CheckExecutable(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("empty executable path")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return &fs.PathError{Op: "exec", Path: path, Err: fs.ErrPermission}
	}
	return nil
}
