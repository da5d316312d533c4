package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Meta is the optional JSON line that follows the PID in a PID file.
type Meta struct {
	Name string `json:"name,omitempty"`
	Identity
	WrittenUnix int64 `json:"written_unix,omitempty"`
}

// WritePIDFile records pid, and meta when non-nil, at path. The file is
// written to a temporary sibling and renamed so readers never see a partial file.
func WritePIDFile(path string, pid int, meta *Meta) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('\n')
	if meta != nil {
		m := *meta
		if m.WrittenUnix == 0 {
			m.WrittenUnix = time.Now().Unix()
		}
		mb, err := json.Marshal(m)
		if err != nil {
			return err
		}
		b.Write(mb)
		b.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadPIDFile reads a PID file written by WritePIDFile.
// For legacy files that contain only the PID, meta will be nil.
func ReadPIDFile(path string) (int, *Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, nil, fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	metaLine, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
	if metaLine == "" {
		return pid, nil, nil
	}
	var m Meta
	if err := json.Unmarshal([]byte(metaLine), &m); err != nil {
		// Return PID even if meta cannot be parsed
		return pid, nil, nil
	}
	return pid, &m, nil
}

// RemovePIDFile deletes path. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
