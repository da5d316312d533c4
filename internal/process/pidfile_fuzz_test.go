package process

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzReadPIDFile(f *testing.F) {
	f.Add("123\n")
	f.Add("42\n{\"name\":\"core\",\"start_unix\":1}\n")
	f.Add("")
	f.Add("\n\n\n")
	f.Add("9999999999999999999999\n")
	f.Fuzz(func(t *testing.T, content string) {
		path := filepath.Join(t.TempDir(), "f.pid")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Skip()
		}
		pid, _, err := ReadPIDFile(path)
		if err == nil && pid <= 0 {
			t.Fatalf("accepted non-positive pid %d from %q", pid, content)
		}
	})
}
