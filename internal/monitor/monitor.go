// Package monitor provides the background progress sweep. On each tick it
// walks every user, recomputes their progress snapshot, runs the rule
// engine, and starts a rebalance when a rule fires.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/config"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/rebalance"
	"github.com/aveline-ai/recal/internal/rules"
	"github.com/aveline-ai/recal/internal/store"
)

// Stats counts what the monitor has done since it started.
type Stats struct {
	Sweeps     int
	Evaluated  int
	Triggered  int
	Rebalanced int
	Skipped    int
	Errors     int
}

// Monitor runs the periodic rule sweep.
type Monitor struct {
	store *store.Store
	chain *chain.Chain
	agg   *progress.Aggregator
	orch  *rebalance.Orchestrator
	rules config.RulesConfig

	interval time.Duration

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. interval controls how often the sweep runs.
func New(s *store.Store, c *chain.Chain, agg *progress.Aggregator, orch *rebalance.Orchestrator, rulesCfg config.RulesConfig, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:    s,
		chain:    c,
		agg:      agg,
		orch:     orch,
		rules:    rulesCfg,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the sweep loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	log.Printf("Monitor started (interval %s)", m.interval)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	log.Println("Monitor stopped")
}

// Stats returns a copy of the monitor's counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.ctx)
		}
	}
}

// Sweep runs one pass over all users. It is exported so a CLI command can
// trigger a single pass without running the loop.
func (m *Monitor) Sweep(ctx context.Context) {
	m.mu.Lock()
	m.stats.Sweeps++
	m.mu.Unlock()

	userIDs, err := m.store.ListUserIDs()
	if err != nil {
		log.Printf("Monitor: list users: %v", err)
		m.count(func(s *Stats) { s.Errors++ })
		return
	}

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.evaluateUser(ctx, userID)
	}
}

func (m *Monitor) evaluateUser(ctx context.Context, userID string) {
	active, err := m.chain.GetActive(userID)
	if err != nil {
		if errors.Is(err, chain.ErrNoActiveVersion) {
			return // nothing to evaluate yet
		}
		log.Printf("Monitor: active version for user %s: %v", userID, err)
		m.count(func(s *Stats) { s.Errors++ })
		return
	}

	snapshot, err := m.agg.ComputeSnapshot(active.ID)
	if err != nil {
		log.Printf("Monitor: snapshot for user %s: %v", userID, err)
		m.count(func(s *Stats) { s.Errors++ })
		return
	}
	if err := m.store.SaveProgressSummary(userID, snapshot); err != nil {
		log.Printf("Monitor: cache summary for user %s: %v", userID, err)
	}
	m.count(func(s *Stats) { s.Evaluated++ })

	decision := rules.Evaluate(snapshot, m.rules)
	if !decision.Triggered {
		return
	}
	m.count(func(s *Stats) { s.Triggered++ })
	log.Printf("Monitor: rule %s fired for user %s", decision.Reason, userID)

	if _, err := m.orch.Rebalance(ctx, userID, decision, models.TriggerRule); err != nil {
		if errors.Is(err, rebalance.ErrRebalanceInProgress) {
			m.count(func(s *Stats) { s.Skipped++ })
			return
		}
		log.Printf("Monitor: rebalance for user %s: %v", userID, err)
		m.count(func(s *Stats) { s.Errors++ })
		return
	}
	m.count(func(s *Stats) { s.Rebalanced++ })
}

func (m *Monitor) count(update func(*Stats)) {
	m.mu.Lock()
	update(&m.stats)
	m.mu.Unlock()
}
