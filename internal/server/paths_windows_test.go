//go:build windows

package server

func getPlatformAbsPath() string {
	return `C:\tmp\x`
}
