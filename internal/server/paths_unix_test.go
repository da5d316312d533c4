//go:build !windows

package server

import "path/filepath"

func getPlatformAbsPath() string {
	return filepath.Join(string(filepath.Separator), "tmp", "x")
}
