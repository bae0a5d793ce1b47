// Package rules decides when observed progress has drifted far enough from
// the plan to warrant a rebalance.
package rules

import (
	"github.com/aveline-ai/recal/internal/config"
	"github.com/aveline-ai/recal/internal/models"
)

// Evaluate inspects a progress snapshot against the configured thresholds
// and returns a rebalance decision. It is pure and deterministic: no I/O,
// and the rules fire in a fixed priority order so callers can predict which
// reason wins when several conditions hold at once.
//
//  1. missed percentage over threshold
//  2. pace ratio below the behind threshold
//  3. pace ratio above the ahead threshold
//  4. otherwise: not triggered
//
// An empty plan never triggers, and the pace rules stay quiet until at
// least one task has come due; a brand-new plan is not behind schedule.
func Evaluate(snapshot *models.ProgressSnapshot, cfg config.RulesConfig) models.RebalanceDecision {
	decision := models.RebalanceDecision{
		Reason:   models.ReasonCodeNone,
		Evidence: snapshot,
	}

	if snapshot.Total == 0 {
		return decision
	}

	missedPercent := float64(snapshot.Missed) / float64(snapshot.Total) * 100

	switch {
	case missedPercent > cfg.MissedThresholdPercent:
		decision.Triggered = true
		decision.Reason = models.ReasonCodeMissedThresholdExceeded
	case snapshot.DueSoFar == 0:
		// Nothing has come due; pace is meaningless.
	case snapshot.PaceRatio < cfg.PaceBehindThreshold:
		decision.Triggered = true
		decision.Reason = models.ReasonCodePaceBehindSchedule
	case snapshot.PaceRatio > cfg.PaceAheadThreshold:
		decision.Triggered = true
		decision.Reason = models.ReasonCodePaceAheadOfSchedule
	}

	return decision
}
