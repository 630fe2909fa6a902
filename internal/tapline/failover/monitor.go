package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// Mode is the station's stage-acceptance scope.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeFailover Mode = "FAILOVER"
)

// Config holds the parameters for NewMonitor.
type Config struct {
	// PeerURL is the paired station's base URL. Empty disables the monitor.
	PeerURL string

	// CheckInterval between health probes. Defaults to 30s.
	CheckInterval time.Duration

	// FailureThreshold is the consecutive-failure count that triggers
	// failover. Defaults to 2 (~60s of failure at the default interval).
	FailureThreshold int

	// ProbeTimeout bounds each health request so a hung peer cannot block
	// the monitor. Defaults to 5s.
	ProbeTimeout time.Duration
}

// Monitor polls the paired station and widens the local stage scope while
// the peer is down. The scope decision is its only output; signaling the
// mode to staff is an external collaborator.
type Monitor struct {
	cfg         Config
	topo        *flow.Topology
	localStages []string
	peerStages  []string
	client      *http.Client
	logger      *log.Logger
	cancel      context.CancelFunc
	done        chan struct{}

	mu       sync.Mutex
	mode     Mode
	failures int
}

// NewMonitor creates a monitor but does not start it. Call Start to begin
// the background loop.
func NewMonitor(cfg Config, topo *flow.Topology, localStages, peerStages []string, logger *log.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	return &Monitor{
		cfg:         cfg,
		topo:        topo,
		localStages: localStages,
		peerStages:  peerStages,
		client:      &http.Client{Timeout: cfg.ProbeTimeout},
		logger:      logger,
		done:        make(chan struct{}),
		mode:        ModeNormal,
	}
}

// Start begins the background probe loop. The loop exits when ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.PeerURL == "" {
		m.logger.Printf("failover monitor disabled (no peer configured)")
		close(m.done)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)

	m.logger.Printf("failover monitor started (peer=%s, interval=%s, threshold=%d)",
		m.cfg.PeerURL, m.cfg.CheckInterval, m.cfg.FailureThreshold)
}

// Stop signals the monitor to exit and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recordResult(m.probe(ctx))
		}
	}
}

// probe issues one bounded-timeout health request to the peer.
func (m *Monitor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.PeerURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer health status %d", resp.StatusCode)
	}

	var h types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("peer health decode: %w", err)
	}
	if h.Status != "ok" {
		return fmt.Errorf("peer reports status %q", h.Status)
	}
	return nil
}

// recordResult updates the consecutive-failure counter and the mode. A
// single success recovers immediately: resuming strict scope is always safe,
// so no debounce is needed on the way back.
func (m *Monitor) recordResult(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if m.mode == ModeFailover {
			m.logger.Printf("peer recovered, resuming normal stage scope")
		}
		m.failures = 0
		m.mode = ModeNormal
		return
	}

	m.failures++
	m.logger.Printf("peer probe failed (%d/%d): %v", m.failures, m.cfg.FailureThreshold, err)
	if m.failures >= m.cfg.FailureThreshold && m.mode == ModeNormal {
		m.mode = ModeFailover
		m.logger.Printf("entering failover: also accepting peer stages %v", m.peerStages)
	}
}

func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// AcceptedStages is the station's current stage scope: its own stages, plus
// the peer's while in failover.
func (m *Monitor) AcceptedStages() []string {
	out := append([]string(nil), m.localStages...)
	if m.Mode() == ModeFailover {
		out = append(out, m.peerStages...)
	}
	return out
}

// RouteStage picks the stage for an incoming hardware tap. In normal mode
// the station records its own (first) configured stage. In failover the
// single surviving station emulates both ends of the pipeline: a card with
// no prior event in the session gets the combined scope's entry stage, a
// card with prior events gets its exit stage.
func (m *Monitor) RouteStage(hasPriorEvents bool) string {
	stages := m.AcceptedStages()
	if len(stages) == 0 {
		return ""
	}
	if m.Mode() == ModeNormal {
		return stages[0]
	}

	entry, exit := stages[0], stages[0]
	for _, s := range stages[1:] {
		if m.topo.Index(s) < m.topo.Index(entry) {
			entry = s
		}
		if m.topo.Index(s) > m.topo.Index(exit) {
			exit = s
		}
	}
	if hasPriorEvents {
		return exit
	}
	return entry
}
