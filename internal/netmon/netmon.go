// Package netmon tracks whether the TimeTracker API is reachable and wakes
// the reconciler at the right moments: once on every offline-to-online
// transition, and periodically while the link stays up.
//
// Connectivity is judged by an HTTP probe against the API health endpoint.
// Any response counts as online, whatever the status code; only transport
// errors count as offline. State can also be forced with SetOnline, which
// is how tests and platform hooks drive the monitor without a network.
package netmon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/timetracker-dev/tt/internal/events"
)

// Reason tells the trigger receiver why the reconciler is being woken.
type Reason string

const (
	// ReasonTransition marks the single wake fired when connectivity
	// returns after an offline stretch.
	ReasonTransition Reason = "transition"

	// ReasonWake marks the periodic safety-net wake fired while online.
	ReasonWake Reason = "wake"
)

// Probe reports whether the API is reachable right now.
type Probe func(ctx context.Context) bool

// TriggerFunc receives reconciler wakes. Calls are sequential; a slow
// receiver delays the next probe rather than stacking goroutines.
type TriggerFunc func(reason Reason)

// Config holds monitor tuning.
type Config struct {
	// ProbeInterval is how often connectivity is re-checked.
	ProbeInterval time.Duration

	// WakeInterval is how often the reconciler is woken while online,
	// independent of transitions. This catches entries that failed
	// earlier and are waiting out their backoff.
	WakeInterval time.Duration

	// ProbeTimeout bounds a single connectivity check.
	ProbeTimeout time.Duration

	// Probe judges reachability. Nil disables the probe loop; state is
	// then driven entirely through SetOnline.
	Probe Probe

	// Logger for state transitions. Defaults to stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 30 * time.Second,
		WakeInterval:  5 * time.Minute,
		ProbeTimeout:  5 * time.Second,
	}
}

// HTTPProbe builds a Probe that HEADs url with client.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return true
	}
}

// Monitor tracks connectivity and fires reconciler wakes.
type Monitor struct {
	cfg     *Config
	trigger TriggerFunc
	emitter *events.Emitter
	logger  *log.Logger

	mu      sync.Mutex
	online  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a monitor. The monitor starts in the offline state, so the
// first successful probe counts as a transition and drains any backlog
// accumulated while the process was down.
func New(trigger TriggerFunc, emitter *events.Emitter, cfg *Config) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		cfg:     cfg,
		trigger: trigger,
		emitter: emitter,
		logger:  logger,
	}
}

// Start launches the probe and wake loops. It returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if m.cfg.Probe != nil {
		m.wg.Add(1)
		go m.probeLoop(ctx)
	}
	m.wg.Add(1)
	go m.wakeLoop(ctx)
	return nil
}

// Stop halts the loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Running reports whether the monitor loops are active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetOnline forces the connectivity state. An offline-to-online edge fires
// the trigger exactly once; repeated calls with the same state are no-ops.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if online == was {
		return
	}

	if online {
		m.logger.Printf("connectivity restored")
		m.emitter.Emit(events.TypeOnline, events.ConnectivityData{Reason: string(ReasonTransition)})
		if m.trigger != nil {
			m.trigger(ReasonTransition)
		}
	} else {
		m.logger.Printf("connectivity lost")
		m.emitter.Emit(events.TypeOffline, events.ConnectivityData{})
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	m.runProbe(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runProbe(ctx)
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	m.SetOnline(m.cfg.Probe(pctx))
}

func (m *Monitor) wakeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.WakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Waking while offline would burn delivery attempts on a
			// dead link, so the safety net only fires when online.
			if m.Online() && m.trigger != nil {
				m.trigger(ReasonWake)
			}
		}
	}
}
