package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/loykin/corekeeper/internal/supervisor"
)

// normalizeBase turns a configured mount point into "" or "/seg[/seg]".
func normalizeBase(bp string) string {
	bp = strings.TrimFunc(bp, func(r rune) bool { return r == '/' || unicode.IsSpace(r) })
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// validDaemonPath accepts an empty path (use the configured executable) or an
// absolute, already clean path that names a file. Control characters are
// rejected.
func validDaemonPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) || filepath.Clean(p) != p {
		return false
	}
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return false
	}
	return strings.IndexFunc(p, unicode.IsControl) < 0
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	var spawnErr *supervisor.SpawnError
	var conflict *supervisor.StaleProcessConflict
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &spawnErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
