package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
		ok   bool
	}{
		{Config{Type: "pidfile", Path: "/run/core.pid"}, "pidfile:/run/core.pid", true},
		{Config{Type: "pidfile"}, "", false},
		{Config{Type: "pid", PID: 12}, "pid:12", true},
		{Config{Type: "pid"}, "", false},
		{Config{Type: "command", Command: "zcoin-cli getinfo"}, "cmd:zcoin-cli getinfo", true},
		{Config{Type: "command"}, "", false},
		{Config{Type: "tcp", Address: "127.0.0.1:8888"}, "tcp:127.0.0.1:8888", true},
		{Config{Type: "tcp"}, "", false},
		{Config{Type: "http", URL: "http://127.0.0.1:8888/health"}, "http:http://127.0.0.1:8888/health", true},
		{Config{Type: "http"}, "", false},
		{Config{Type: "carrier-pigeon"}, "", false},
	}
	for _, c := range cases {
		d, err := FromConfig(c.cfg)
		if !c.ok {
			assert.Error(t, err, "type %q", c.cfg.Type)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.want, d.Describe())
	}
}

func TestFromConfigs(t *testing.T) {
	d, err := FromConfigs(nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = FromConfigs([]Config{{Type: "tcp", Address: "127.0.0.1:1"}})
	require.NoError(t, err)
	assert.IsType(t, TCPDetector{}, d)

	d, err = FromConfigs([]Config{{Type: "tcp", Address: "127.0.0.1:1"}, {Type: "pid", PID: 1}})
	require.NoError(t, err)
	assert.IsType(t, All{}, d)

	_, err = FromConfigs([]Config{{Type: "tcp"}})
	assert.ErrorContains(t, err, "detector 0")
}
