package env

import (
	"sort"
	"strings"
	"testing"
)

func FuzzMergeLayering(f *testing.F) {
	f.Add("RPC_USER=alice\nNET=${RPC_USER}-main", "NET=testnet")
	f.Add("DATA=/var/lib/core", "DATA=${DATA}/override")
	f.Add("A=${B}", "B=${A}")
	f.Add("=nokey\nB", "C=${")

	f.Fuzz(func(t *testing.T, hostVars, daemonVars string) {
		host := lines(hostVars, 20)
		daemon := lines(daemonVars, 20)

		e := New(false)
		e.SetAll(host)
		out := e.Merge(daemon)

		keys := make([]string, 0, len(out))
		got := make(map[string]string, len(out))
		for _, kv := range out {
			k, v, ok := split(kv)
			if !ok {
				t.Fatalf("malformed entry %q", kv)
			}
			keys = append(keys, k)
			got[k] = v
		}
		if !sort.StringsAreSorted(keys) {
			t.Fatalf("output not sorted: %v", keys)
		}
		if len(got) != len(keys) {
			t.Fatalf("duplicate keys: %v", keys)
		}
		for _, kv := range daemon {
			k, v, ok := split(kv)
			if !ok || strings.Contains(v, "${") || lastValue(daemon, k) != v {
				continue
			}
			if got[k] != v {
				t.Fatalf("daemon value for %s lost: got %q want %q", k, got[k], v)
			}
		}
	})
}

// lines returns up to max non-empty lines of s.
func lines(s string, max int) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
		if len(out) == max {
			break
		}
	}
	return out
}

func lastValue(kvs []string, key string) string {
	var v string
	for _, kv := range kvs {
		if k, val, ok := split(kv); ok && k == key {
			v = val
		}
	}
	return v
}
