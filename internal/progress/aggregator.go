// Package progress computes completion metrics for the active roadmap.
package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/store"
)

// Sentinel errors for snapshot computation.
var (
	// ErrVersionNotFound means the referenced version does not exist.
	ErrVersionNotFound = errors.New("roadmap version not found")

	// ErrVersionNotActive means aggregation was requested for a superseded
	// version; metrics are only meaningful for the live plan.
	ErrVersionNotActive = errors.New("roadmap version is not active")
)

// Aggregator computes progress snapshots from task state.
type Aggregator struct {
	store *store.Store

	// Test hook for deterministic time.
	now func() time.Time
}

// New creates an aggregator.
func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s, now: time.Now}
}

// Now returns the aggregator's current time. Callers deriving task
// statuses use it so reads stay consistent with snapshot computation.
func (a *Aggregator) Now() time.Time {
	return a.now()
}

// ComputeSnapshot derives a progress snapshot for an active version. It has
// no side effects and reads a point-in-time view of the version's tasks;
// calling it twice with no intervening task mutation yields identical counts.
func (a *Aggregator) ComputeSnapshot(versionID string) (*models.ProgressSnapshot, error) {
	version, err := a.store.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	if version.Status != models.VersionStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrVersionNotActive, versionID, version.Status)
	}

	tasks, err := a.store.TasksForVersion(versionID)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	snapshot := &models.ProgressSnapshot{
		VersionID:  versionID,
		Total:      len(tasks),
		ComputedAt: now,
	}

	dueSoFar := 0
	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case models.TaskStatusCompleted:
			snapshot.Completed++
		case models.TaskStatusInProgress:
			snapshot.InProgress++
		}
		if t.EffectiveStatus(now) == models.TaskStatusMissed {
			snapshot.Missed++
		}
		if !t.DueAt.After(now) {
			dueSoFar++
		}
	}
	snapshot.DueSoFar = dueSoFar

	// Whole weeks since the version was created, floor, minimum 1 so a plan
	// in its first days still has a denominator.
	elapsed := int(now.Sub(version.CreatedAt).Hours() / (24 * 7))
	if elapsed < 1 {
		elapsed = 1
	}
	snapshot.ElapsedWeeks = elapsed

	// Planned completions per elapsed week counts only tasks already due.
	// The max(...,1) denominator avoids dividing by zero when nothing is
	// due yet.
	plannedPerWeek := float64(dueSoFar) / float64(elapsed)
	snapshot.PaceRatio = float64(snapshot.Completed) / math.Max(plannedPerWeek, 1)

	return snapshot, nil
}
