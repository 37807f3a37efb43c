// Package connectivity tracks whether the device can reach the API and tells
// one subscriber about each online/offline transition.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/metrics"
)

// Prober checks reachability; a nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber reports online when URL answers with a non-5xx status.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}

type Options struct {
	Prober      Prober // nil disables probing; state changes only through Set
	Interval    time.Duration
	Timeout     time.Duration
	StartOnline bool
	Logger      *logging.Logger
}

// Monitor owns the process-wide online flag.
type Monitor struct {
	online atomic.Bool
	opts   Options
	logger *logging.Logger

	mu       sync.Mutex
	callback func(online bool)
	flips    uint64 // transitions recorded by Set
	seen     uint64 // flips already handed to the callback
	notify   chan struct{}
}

func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := &Monitor{
		opts:   opts,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
	m.online.Store(opts.StartOnline)
	metrics.ConnectivityOnline.Set(boolGauge(opts.StartOnline))
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe installs the transition callback, replacing any previous one.
// The callback runs on the monitor's dispatcher goroutine, one call at a time.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

// Set records an observed state, e.g. from an OS network event.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online.Load() == online {
		m.mu.Unlock()
		return
	}
	m.online.Store(online)
	m.flips++
	m.mu.Unlock()

	metrics.RecordConnectivity(online)
	m.logger.Plain().WithField("online", online).Info("connectivity changed")
	select {
	case m.notify <- struct{}{}:
	default:
		// a wakeup is already pending; the dispatcher reads the latest state
	}
}

// Run dispatches transitions to the subscriber and, if a prober is configured,
// probes on the configured interval. It returns when ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if m.opts.Prober != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeLoop(ctx)
		}()
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.notify:
			m.dispatch()
		}
	}
}

// dispatch hands the subscriber every transition it has not seen yet. A round
// trip that happened while the previous callback ran is replayed as two calls,
// so a return to online is never lost.
func (m *Monitor) dispatch() {
	m.mu.Lock()
	state := m.online.Load()
	missed := m.flips - m.seen
	m.seen = m.flips
	fn := m.callback
	m.mu.Unlock()

	if missed == 0 || fn == nil {
		return
	}
	if missed%2 == 0 {
		fn(!state)
	}
	fn(state)
}

// Check probes once, outside the regular interval, and reports the state
// afterwards. Without a prober it only reports the current state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.opts.Prober != nil {
		m.probeOnce(ctx)
	}
	return m.Online()
}

func (m *Monitor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	err := m.opts.Prober.Probe(pctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Plain().WithError(err).Debug("connectivity probe failed")
	}
	m.Set(err == nil)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
