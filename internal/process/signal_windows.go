//go:build windows

package process

import (
	"syscall"
	"unsafe"
)

const (
	processTerminate       = 0x0001
	processQueryLimitedInf = 0x1000
	stillActive            = 259
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess   = kernel32.NewProc("TerminateProcess")
	procGetExitCodeProcess = kernel32.NewProc("GetExitCodeProcess")
)

// Alive reports whether pid refers to a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInf, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	ret, _, _ := procGetExitCodeProcess.Call(uintptr(h), uintptr(unsafe.Pointer(&code)))
	if ret == 0 {
		return false
	}
	return code == stillActive
}

func isGroupLeader(int) bool { return false }

// Windows has no SIGTERM; both paths terminate the process.
func signalTerm(pid int, _ bool) error { return terminate(pid) }

func signalKill(pid int, _ bool) error { return terminate(pid) }

func terminate(pid int) error {
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	ret, _, err := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}
