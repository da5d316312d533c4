package detector

import (
	"fmt"
	"time"
)

// Config describes a detector in configuration files.
type Config struct {
	Type    string        `json:"type" mapstructure:"type"` // pidfile, pid, command, tcp, http
	Path    string        `json:"path" mapstructure:"path"`
	PID     int           `json:"pid" mapstructure:"pid"`
	Command string        `json:"command" mapstructure:"command"`
	Address string        `json:"address" mapstructure:"address"`
	URL     string        `json:"url" mapstructure:"url"`
	Status  int           `json:"status" mapstructure:"status"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// FromConfig builds the detector described by c.
func FromConfig(c Config) (Detector, error) {
	switch c.Type {
	case "pidfile":
		if c.Path == "" {
			return nil, fmt.Errorf("detector pidfile requires path")
		}
		return PIDFileDetector{PIDFile: c.Path}, nil
	case "pid":
		if c.PID <= 0 {
			return nil, fmt.Errorf("detector pid requires positive pid")
		}
		return PIDDetector{PID: c.PID}, nil
	case "command":
		if c.Command == "" {
			return nil, fmt.Errorf("detector command requires command")
		}
		return CommandDetector{Command: c.Command, Timeout: c.Timeout}, nil
	case "tcp":
		if c.Address == "" {
			return nil, fmt.Errorf("detector tcp requires address")
		}
		return TCPDetector{Addr: c.Address, Timeout: c.Timeout}, nil
	case "http":
		if c.URL == "" {
			return nil, fmt.Errorf("detector http requires url")
		}
		return HTTPDetector{URL: c.URL, Timeout: c.Timeout, ExpectStatus: c.Status}, nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", c.Type)
	}
}

// FromConfigs builds a combined detector. It returns nil when cs is empty.
func FromConfigs(cs []Config) (Detector, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	all := make(All, 0, len(cs))
	for i, c := range cs {
		d, err := FromConfig(c)
		if err != nil {
			return nil, fmt.Errorf("detector %d: %w", i, err)
		}
		all = append(all, d)
	}
	if len(all) == 1 {
		return all[0], nil
	}
	return all, nil
}
