package netmon

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// flipProber is a Prober whose answer can be flipped at runtime.
type flipProber struct {
	reachable atomic.Bool
}

func (p *flipProber) Reachable() bool {
	return p.reachable.Load()
}

// writeState writes the link-state file atomically.
func writeState(t *testing.T, path, state string) {
	t.Helper()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(state+"\n"), 0644); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to rename state file: %v", err)
	}
}

// startTestMonitor starts a monitor with short timings and returns the
// state file path and a callback counter.
func startTestMonitor(t *testing.T, prober Prober, initialState string) (string, *atomic.Int32) {
	t.Helper()

	stateFile := filepath.Join(t.TempDir(), "link_state")
	if initialState != "" {
		writeState(t, stateFile, initialState)
	}

	var fired atomic.Int32
	m := New(prober, func() { fired.Add(1) }, &Config{
		StateFile:    stateFile,
		Debounce:     60 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop() })

	return stateFile, &fired
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestOnlineTransitionFiresAfterDebounce(t *testing.T) {
	prober := &flipProber{}
	prober.reachable.Store(true)

	stateFile, fired := startTestMonitor(t, prober, "down")

	if fired.Load() != 0 {
		t.Fatal("callback fired while link was down")
	}

	writeState(t, stateFile, "up")

	if !waitFor(t, 2*time.Second, func() bool { return fired.Load() == 1 }) {
		t.Fatalf("expected 1 callback after debounce, got %d", fired.Load())
	}

	// Staying online must not fire again.
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("steady online state fired extra callbacks: %d", got)
	}
}

func TestFlappingLinkCoalesces(t *testing.T) {
	prober := &flipProber{}
	prober.reachable.Store(true)

	stateFile, fired := startTestMonitor(t, prober, "down")

	// Flap before the debounce window can elapse.
	writeState(t, stateFile, "up")
	time.Sleep(20 * time.Millisecond)
	writeState(t, stateFile, "down")
	time.Sleep(100 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("flap within debounce window fired %d callbacks", got)
	}

	// A clean transition afterwards fires exactly once.
	writeState(t, stateFile, "up")
	if !waitFor(t, 2*time.Second, func() bool { return fired.Load() == 1 }) {
		t.Errorf("expected 1 callback after stable reconnect, got %d", fired.Load())
	}
}

func TestLinkUpWithoutInternetIsOffline(t *testing.T) {
	prober := &flipProber{}
	prober.reachable.Store(false)

	stateFile, fired := startTestMonitor(t, prober, "down")

	// Wi-Fi associates but the probe fails: still offline.
	writeState(t, stateFile, "up")
	time.Sleep(150 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("unreachable internet fired %d callbacks", got)
	}
}

func TestStartIsIdempotentAndStopDetaches(t *testing.T) {
	prober := &flipProber{}
	prober.reachable.Store(true)

	m := New(prober, func() {}, &Config{
		StateFile:    filepath.Join(t.TempDir(), "link_state"),
		Debounce:     50 * time.Millisecond,
		PollInterval: time.Second,
		Logger:       log.New(io.Discard, "", 0),
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}
	if !m.IsRunning() {
		t.Error("monitor should be running")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.IsRunning() {
		t.Error("monitor should be stopped")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
