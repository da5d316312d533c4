package detector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TCPDetector reports alive when a TCP connection to Addr succeeds.
type TCPDetector struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDetector) Alive() (bool, error) {
	conn, err := net.DialTimeout("tcp", d.Addr, timeoutOr(d.Timeout))
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Addr }

// HTTPDetector reports alive when a GET on URL returns a 2xx status, or
// exactly ExpectStatus when set.
type HTTPDetector struct {
	URL          string
	Timeout      time.Duration
	ExpectStatus int
	Client       *http.Client
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := timeoutOr(d.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, fmt.Errorf("http detector: %w", err)
	}
	c := d.Client
	if c == nil {
		c = &http.Client{Timeout: timeout}
	}
	resp, err := c.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if d.ExpectStatus != 0 {
		return resp.StatusCode == d.ExpectStatus, nil
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
