// Package chain is the append-only versioning adapter over the store.
//
// The version chain itself is the source of truth for which roadmap is
// active; the per-user current-version pointer is only a cache. Reads
// reconcile the chain instead of trusting the pointer, which self-heals the
// partial-write window left by an interrupted rebalance commit.
package chain

import (
	"errors"
	"fmt"
	"log"

	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/store"
)

// Sentinel errors for chain operations.
var (
	// ErrNoActiveVersion means the user has no roadmap yet.
	ErrNoActiveVersion = errors.New("no active roadmap version")

	// ErrReconciliationConflict means the chain is ambiguous and cannot be
	// repaired automatically. It indicates a partial-write anomaly and needs
	// operator attention; it is never guessed around.
	ErrReconciliationConflict = errors.New("version chain reconciliation conflict")
)

// Chain provides append and reconciled-read access to a user's version
// history.
type Chain struct {
	store    *store.Store
	recorder *audit.Recorder
}

// New creates a chain adapter.
func New(s *store.Store, rec *audit.Recorder) *Chain {
	return &Chain{store: s, recorder: rec}
}

// Append writes a new version document and its task documents. Versions are
// never overwritten in place.
func (c *Chain) Append(v *models.RoadmapVersion, tasks []models.Task) error {
	if err := c.store.InsertVersion(v); err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	if err := c.store.InsertTasks(tasks); err != nil {
		return fmt.Errorf("append version tasks: %w", err)
	}
	return nil
}

// ListChain returns all of a user's versions ordered by sequence number.
func (c *Chain) ListChain(userID string) ([]models.RoadmapVersion, error) {
	return c.store.ListVersions(userID)
}

// NextSequence returns the sequence number the next appended version must use.
func (c *Chain) NextSequence(userID string) (int, error) {
	max, err := c.store.MaxSequence(userID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// GetActive resolves the user's active version through reconciliation. It
// cross-checks that exactly one version in the chain is active and that it
// carries the highest sequence number, repairing the chain and the pointer
// when an interrupted commit left them inconsistent.
func (c *Chain) GetActive(userID string) (*models.RoadmapVersion, error) {
	versions, err := c.store.ListVersions(userID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNoActiveVersion
	}

	var active []*models.RoadmapVersion
	maxSeq := 0
	for i := range versions {
		if versions[i].Sequence > maxSeq {
			maxSeq = versions[i].Sequence
		}
		if versions[i].Status == models.VersionStatusActive {
			active = append(active, &versions[i])
		}
	}

	switch len(active) {
	case 0:
		// Every version superseded with no successor: the chain cannot say
		// which plan is live. Surface it rather than guess.
		return nil, fmt.Errorf("%w: user %s has %d versions but none active", ErrReconciliationConflict, userID, len(versions))

	case 1:
		winner := active[0]
		if winner.Sequence != maxSeq {
			return nil, fmt.Errorf("%w: active version %s has sequence %d but chain max is %d", ErrReconciliationConflict, winner.ID, winner.Sequence, maxSeq)
		}
		if err := c.repairPointer(userID, winner.ID); err != nil {
			return nil, err
		}
		return winner, nil

	default:
		return c.reconcile(userID, active)
	}
}

// reconcile resolves multiple active versions to the highest sequence number,
// flipping the losers to superseded.
func (c *Chain) reconcile(userID string, active []*models.RoadmapVersion) (*models.RoadmapVersion, error) {
	winner := active[0]
	for _, v := range active[1:] {
		if v.Sequence == winner.Sequence {
			return nil, fmt.Errorf("%w: versions %s and %s both active at sequence %d", ErrReconciliationConflict, winner.ID, v.ID, v.Sequence)
		}
		if v.Sequence > winner.Sequence {
			winner = v
		}
	}

	for _, v := range active {
		if v.ID == winner.ID {
			continue
		}
		if err := c.store.MarkVersionSuperseded(v.ID); err != nil {
			return nil, fmt.Errorf("reconcile: supersede %s: %w", v.ID, err)
		}
		log.Printf("chain: reconciled user %s, superseded stale active version %s (seq %d) in favor of %s (seq %d)",
			userID, v.ID, v.Sequence, winner.ID, winner.Sequence)
		if c.recorder != nil {
			c.recorder.Record("chain.reconcile",
				map[string]any{"stale": v.ID, "winner": winner.ID},
				"repaired", userID, winner.ID,
				fmt.Sprintf("flipped stale active version at sequence %d", v.Sequence))
		}
	}

	if err := c.repairPointer(userID, winner.ID); err != nil {
		return nil, err
	}
	return winner, nil
}

// repairPointer rewrites the cached current-version pointer when it has
// drifted from the reconciled chain.
func (c *Chain) repairPointer(userID, versionID string) error {
	ptr, err := c.store.CurrentVersionPointer(userID)
	if err != nil {
		return err
	}
	if ptr == versionID {
		return nil
	}
	if err := c.store.SetCurrentVersionPointer(userID, versionID); err != nil {
		return fmt.Errorf("repair version pointer: %w", err)
	}
	return nil
}
