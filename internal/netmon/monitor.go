// Package netmon watches connectivity and triggers drains on reconnect.
//
// The monitor combines two signals: a link-state file maintained by the
// platform (watched with fsnotify, so transitions arrive as file events)
// and an HTTP reachability probe. The device counts as online only when
// the link is up AND the internet is actually reachable; a Wi-Fi
// association behind a captive portal is offline.
//
// Transitions into online are debounced: the callback fires only after
// the connection has been stable for the debounce window, so a flapping
// link cannot start a sync storm.
package netmon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config holds configuration for the monitor.
type Config struct {
	// StateFile is the link-state file written by the platform.
	// The first token of its content is read as up|down.
	// A missing file is treated as link-up; the probe still decides.
	StateFile string

	// Debounce is how long the connection must stay online before the
	// callback fires.
	Debounce time.Duration

	// PollInterval is how often to re-probe reachability when no file
	// events arrive.
	PollInterval time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:     1500 * time.Millisecond,
		PollInterval: 30 * time.Second,
		Logger:       log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor watches connectivity signals and invokes a callback once the
// device has been stably online for the debounce window.
type Monitor struct {
	config   *Config
	prober   Prober
	onOnline func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	wasOnline atomic.Bool
}

// New creates a Monitor.
//
// onOnline is invoked from the monitor's own goroutine after every
// debounced transition into online. If config is nil, defaults are used.
func New(prober Prober, onOnline func(), config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = 1500 * time.Millisecond
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	return &Monitor{
		config:   config,
		prober:   prober,
		onOnline: onOnline,
	}
}

// Start attaches the file watcher and begins monitoring.
// Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if m.config.StateFile != "" {
		// Watch the parent directory: atomic replaces of the state file
		// surface as create/rename events on the directory.
		dir := filepath.Dir(m.config.StateFile)
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	m.running = true
	m.wasOnline.Store(false)

	m.wg.Add(1)
	go m.run()

	m.config.Logger.Printf("Monitoring connectivity (state file: %s)", m.config.StateFile)
	return nil
}

// Stop detaches the watcher and cancels any pending debounce timer.
// It does not abort a drain the callback already started.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)

	if err := m.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	m.wg.Wait()
	m.config.Logger.Println("Connectivity monitor stopped")
	return nil
}

// IsRunning returns true if the monitor is currently attached.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Online returns the most recently evaluated online state.
// False until the first evaluation completes.
func (m *Monitor) Online() bool {
	return m.wasOnline.Load()
}

// run is the monitor's event loop. Every connectivity event re-evaluates
// the online state; the debounce timer is armed on transitions into
// online and restarted by any event that arrives before it fires.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(m.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	armed := false

	// Evaluate once at startup so a device that is already online drains
	// without waiting for an event.
	m.evaluate(debounce, &armed, false)

	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.isStateFileEvent(event) {
				continue
			}
			m.config.Logger.Printf("Connectivity event: %s %s", event.Op, event.Name)
			m.evaluate(debounce, &armed, true)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.config.Logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			m.evaluate(debounce, &armed, false)

		case <-debounce.C:
			armed = false
			m.config.Logger.Println("Connection stable, triggering drain")
			m.onOnline()
		}
	}
}

// evaluate samples the current state and arms or cancels the debounce
// timer accordingly. fromEvent marks a real connectivity event, which
// restarts a pending window; a periodic poll only acts on state changes,
// otherwise steady polling would keep the timer from ever firing.
func (m *Monitor) evaluate(debounce *time.Timer, armed *bool, fromEvent bool) {
	online := m.linkUp() && m.prober.Reachable()
	wasOnline := m.wasOnline.Load()

	switch {
	case online && (!wasOnline || (*armed && fromEvent)):
		// Transition into online, or flapping while the timer is
		// pending: (re)start the window.
		stopTimer(debounce, armed)
		debounce.Reset(m.config.Debounce)
		*armed = true
		if !wasOnline {
			m.config.Logger.Println("Link online, debouncing")
		}

	case !online:
		if *armed {
			m.config.Logger.Println("Link lost during debounce window")
		}
		stopTimer(debounce, armed)
	}

	m.wasOnline.Store(online)
}

// stopTimer stops a pending debounce timer and drains its channel.
func stopTimer(t *time.Timer, armed *bool) {
	if !*armed {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	*armed = false
}

// isStateFileEvent reports whether event concerns the state file.
func (m *Monitor) isStateFileEvent(event fsnotify.Event) bool {
	if m.config.StateFile == "" {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(m.config.StateFile)
}

// linkUp reads the platform link-state file.
//
// The first whitespace-delimited token is compared case-insensitively:
// up|online|connected|1 means the link is up. A missing file means no
// platform agent is present and the probe alone decides.
func (m *Monitor) linkUp() bool {
	if m.config.StateFile == "" {
		return true
	}

	data, err := os.ReadFile(m.config.StateFile)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		m.config.Logger.Printf("Failed to read state file: %v", err)
		return false
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "up", "online", "connected", "1":
		return true
	}
	return false
}
