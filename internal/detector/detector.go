package detector

// Detector is a strategy that determines if the daemon is alive and answering.
// Implementations may check a PID file, a PID number, a TCP port, an HTTP
// endpoint or a custom command. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the daemon is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// All combines detectors; it is alive only when every member is.
type All []Detector

func (a All) Alive() (bool, error) {
	for _, d := range a {
		ok, err := d.Alive()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a All) Describe() string {
	s := "all("
	for i, d := range a {
		if i > 0 {
			s += ","
		}
		s += d.Describe()
	}
	return s + ")"
}
