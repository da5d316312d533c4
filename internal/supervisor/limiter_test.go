package supervisor

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestRestartLimiterWindow(t *testing.T) {
	l := &RestartLimiter{MaxRestarts: 2, Window: time.Minute}
	now := time.Unix(1_700_000_000, 0)
	if !l.Allow(now) || !l.Allow(now.Add(time.Second)) {
		t.Fatal("first two restarts must be allowed")
	}
	if l.Allow(now.Add(2 * time.Second)) {
		t.Fatal("third restart inside the window must be refused")
	}
	if !l.Allow(now.Add(time.Minute + time.Second)) {
		t.Fatal("restart after the window must be allowed")
	}
	l.Reset()
	if !l.Allow(now.Add(time.Minute+2*time.Second)) || !l.Allow(now.Add(time.Minute+3*time.Second)) {
		t.Fatal("reset must forget recorded restarts")
	}
}

func TestRestartLimiterUnlimited(t *testing.T) {
	l := &RestartLimiter{}
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !l.Allow(now) {
			t.Fatal("zero MaxRestarts must not limit")
		}
	}
}

// For any sequence of restart times, the limiter never allows more than
// MaxRestarts restarts inside any Window-long span.
func TestProperty_RestartLimiterCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 5).Draw(t, "max")
		window := time.Duration(rapid.IntRange(1, 120).Draw(t, "windowSec")) * time.Second
		gaps := rapid.SliceOfN(rapid.IntRange(0, 60), 1, 50).Draw(t, "gapsSec")

		l := &RestartLimiter{MaxRestarts: max, Window: window}
		now := time.Unix(1_700_000_000, 0)
		var allowed []time.Time
		for _, g := range gaps {
			now = now.Add(time.Duration(g) * time.Second)
			if l.Allow(now) {
				allowed = append(allowed, now)
			}
		}
		for i := range allowed {
			n := 0
			for j := i; j < len(allowed) && allowed[j].Sub(allowed[i]) < window; j++ {
				n++
			}
			if n > max {
				t.Fatalf("%d restarts within %s starting at %v, max %d", n, window, allowed[i], max)
			}
		}
	})
}
