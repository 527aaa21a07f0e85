// Package health probes the liveness endpoint on behalf of every configured
// agent and keeps the most recent status snapshot.
package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/registry"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Snapshot maps agent display names to their status at one point in time.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Agents    map[string]Status `json:"agents"`
}

func (s Snapshot) Online() int {
	n := 0
	for _, st := range s.Agents {
		if st == Online {
			n++
		}
	}
	return n
}

// Lister enumerates the agents to probe.
type Lister interface {
	Agents() []registry.Agent
}

type Options struct {
	BaseURL  string
	Path     string
	Timeout  time.Duration
	Interval time.Duration
	// Parallel bounds concurrent probes. Zero means 8.
	Parallel int
	Client   *http.Client
	Events   natsbus.Publisher
}

type Monitor struct {
	dir      Lister
	client   *http.Client
	url      string
	timeout  time.Duration
	interval time.Duration
	parallel int
	events   natsbus.Publisher

	mu     sync.RWMutex
	latest *Snapshot
}

func NewMonitor(dir Lister, opts Options) *Monitor {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Path == "" {
		opts.Path = "/health"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 8
	}
	return &Monitor{
		dir:      dir,
		client:   opts.Client,
		url:      strings.TrimRight(opts.BaseURL, "/") + opts.Path,
		timeout:  opts.Timeout,
		interval: opts.Interval,
		parallel: opts.Parallel,
		events:   opts.Events,
	}
}

// Snapshot probes every agent once and stores the result as the latest
// snapshot, replacing the previous one. It never fails: any probe error is
// reported as Offline. A poll interrupted by ctx is returned but not stored.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	agents := m.dir.Agents()
	statuses := make([]Status, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallel)
	for i, a := range agents {
		g.Go(func() error {
			statuses[i] = m.probe(gctx, a)
			return nil
		})
	}
	_ = g.Wait()

	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Agents:    make(map[string]Status, len(agents)),
	}
	for i, a := range agents {
		snap.Agents[a.Name] = statuses[i]
	}

	if err := ctx.Err(); err != nil {
		slog.Debug("health poll interrupted", "error", err)
		return snap
	}
	m.store(snap)
	return snap
}

// Latest returns the most recent snapshot, if any poll has completed.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return *m.latest, true
}

// Start polls immediately and then every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	interval := m.interval
	if interval <= 0 {
		interval = time.Minute
	}

	slog.Info("health monitor started", "interval", interval, "url", m.url)
	m.Snapshot(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Snapshot(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, a registry.Agent) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		slog.Debug("health probe request failed", "agent", a.Key, "error", err)
		return Offline
	}

	resp, err := m.client.Do(req)
	if err != nil {
		slog.Debug("health probe failed", "agent", a.Key, "error", err)
		return Offline
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("health probe non-2xx", "agent", a.Key, "status", resp.StatusCode)
		return Offline
	}
	return Online
}

func (m *Monitor) store(snap Snapshot) {
	m.mu.Lock()
	prev := m.latest
	m.latest = &snap
	m.mu.Unlock()

	for name, st := range snap.Agents {
		if prev == nil {
			continue
		}
		if old, ok := prev.Agents[name]; ok && old != st {
			slog.Info("agent status changed", "agent", name, "from", old, "to", st)
		}
	}

	if m.events == nil {
		return
	}
	ev := natsbus.NewEvent(natsbus.EventHealthSnapshot, map[string]any{
		"agents":  snap.Agents,
		"online":  snap.Online(),
		"offline": len(snap.Agents) - snap.Online(),
	})
	if err := m.events.PublishJSON(natsbus.TopicEventsHealth, ev); err != nil {
		slog.Debug("publish health event failed", "error", err)
	}
}
