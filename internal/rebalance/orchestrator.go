// Package rebalance coordinates the full recalibration flow: lock the user,
// read a point-in-time view of the active plan, call the generation service,
// validate the draft, and commit a new version at the tail of the chain.
//
// The flow moves through explicit stages. A failure at any stage before the
// commit leaves the active version untouched; a crash between the version
// insert and the pointer flip is repaired by the chain's reconciliation on
// the next read.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/generator"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/store"
)

// Stage names for logging and audit details.
const (
	stageRequestBuilt        = "request_built"
	stageGenerationPending   = "generation_pending"
	stageGenerationValidated = "generation_validated"
	stageVersionCommitted    = "version_committed"
	stagePointerUpdated      = "pointer_updated"
)

// Orchestrator runs rebalance attempts. One instance is shared by the API
// service and the monitor; per-user exclusion comes from the store's
// advisory lock, not from the orchestrator itself.
type Orchestrator struct {
	store    *store.Store
	chain    *chain.Chain
	agg      *progress.Aggregator
	gen      generator.Generator
	recorder *audit.Recorder

	genTimeout time.Duration
	lockTTL    time.Duration

	// Test hook for deterministic time.
	now func() time.Time
}

// New creates an orchestrator. genTimeout bounds each generation call;
// lockTTL bounds how long a crashed attempt can block the next one.
func New(s *store.Store, c *chain.Chain, agg *progress.Aggregator, gen generator.Generator, rec *audit.Recorder, genTimeout, lockTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		store:      s,
		chain:      c,
		agg:        agg,
		gen:        gen,
		recorder:   rec,
		genTimeout: genTimeout,
		lockTTL:    lockTTL,
		now:        time.Now,
	}
}

// Rebalance runs one full recalibration attempt for a user and returns the
// newly committed version. It fails fast with ErrRebalanceInProgress when
// another attempt holds the user's lock.
func (o *Orchestrator) Rebalance(ctx context.Context, userID string, decision models.RebalanceDecision, trigger models.RebalanceTrigger) (*models.RoadmapVersion, error) {
	holder := fmt.Sprintf("%s:%s", trigger, uuid.NewString()[:8])
	lock, err := o.store.AcquireRebalanceLock(userID, holder, o.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrRebalanceHeld) {
			return nil, fmt.Errorf("%w: user %s", ErrRebalanceInProgress, userID)
		}
		return nil, fmt.Errorf("acquire rebalance lock: %w", err)
	}
	defer func() {
		if relErr := o.store.ReleaseRebalanceLock(lock.ID); relErr != nil {
			log.Printf("rebalance: release lock for user %s: %v", userID, relErr)
		}
	}()

	version, err := o.run(ctx, userID, decision, trigger)
	o.record(userID, version, decision, trigger, err)
	return version, err
}

// run executes the stages inside the lock.
func (o *Orchestrator) run(ctx context.Context, userID string, decision models.RebalanceDecision, trigger models.RebalanceTrigger) (*models.RoadmapVersion, error) {
	active, err := o.chain.GetActive(userID)
	if err != nil {
		return nil, err
	}

	req, carried, err := o.buildRequest(userID, active, decision)
	if err != nil {
		return nil, err
	}
	log.Printf("rebalance: user %s stage %s reason %s", userID, stageRequestBuilt, req.Reason)

	log.Printf("rebalance: user %s stage %s", userID, stageGenerationPending)
	draft, err := o.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	log.Printf("rebalance: user %s stage %s", userID, stageGenerationValidated)

	version, err := o.commit(userID, active, draft, carried, models.CreationReasonFor(trigger))
	if err != nil {
		return nil, err
	}
	log.Printf("rebalance: user %s stage %s version %s seq %d", userID, stagePointerUpdated, version.ID, version.Sequence)
	return version, nil
}

// GenerateInitial creates sequence 1 for a user with no roadmap yet. It
// shares the lock, validation and commit path with Rebalance but calls the
// generation service with the onboarding profile alone.
func (o *Orchestrator) GenerateInitial(ctx context.Context, userID string) (*models.RoadmapVersion, error) {
	holder := fmt.Sprintf("initial:%s", uuid.NewString()[:8])
	lock, err := o.store.AcquireRebalanceLock(userID, holder, o.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrRebalanceHeld) {
			return nil, fmt.Errorf("%w: user %s", ErrRebalanceInProgress, userID)
		}
		return nil, fmt.Errorf("acquire rebalance lock: %w", err)
	}
	defer func() {
		if relErr := o.store.ReleaseRebalanceLock(lock.ID); relErr != nil {
			log.Printf("rebalance: release lock for user %s: %v", userID, relErr)
		}
	}()

	version, err := o.runInitial(ctx, userID)
	o.record(userID, version, models.RebalanceDecision{Reason: models.ReasonCodeNone}, "", err)
	return version, err
}

func (o *Orchestrator) runInitial(ctx context.Context, userID string) (*models.RoadmapVersion, error) {
	profile, err := o.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: user %s has no profile", ErrMissingContext, userID)
	}

	seq, err := o.chain.NextSequence(userID)
	if err != nil {
		return nil, err
	}
	if seq != 1 {
		return nil, fmt.Errorf("user %s already has a roadmap (next sequence %d)", userID, seq)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	draft, err := o.gen.GenerateInitial(genCtx, profile)
	if err != nil {
		return nil, classifyGenError(err)
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	return o.commit(userID, nil, draft, nil, models.ReasonInitialGeneration)
}

// buildRequest assembles the revision payload from the user profile, the
// active version's point-in-time task set and the decision evidence. The
// returned carried slice holds the completed tasks that will be copied
// forward into the new version.
func (o *Orchestrator) buildRequest(userID string, active *models.RoadmapVersion, decision models.RebalanceDecision) (*generator.RevisionRequest, []models.Task, error) {
	profile, err := o.store.GetUser(userID)
	if err != nil {
		return nil, nil, err
	}
	if profile == nil {
		return nil, nil, fmt.Errorf("%w: user %s has no profile", ErrMissingContext, userID)
	}

	snapshot := decision.Evidence
	if snapshot == nil {
		snapshot, err = o.agg.ComputeSnapshot(active.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	tasks, err := o.store.TasksForVersion(active.ID)
	if err != nil {
		return nil, nil, err
	}
	var remaining, carried []models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			carried = append(carried, t)
		} else {
			remaining = append(remaining, t)
		}
	}

	reason := decision.Reason
	if reason == "" {
		reason = models.ReasonCodeManualRequest
	}
	return &generator.RevisionRequest{
		Profile:        profile,
		RemainingTasks: remaining,
		Snapshot:       snapshot,
		Reason:         reason,
	}, carried, nil
}

// generate calls the generation service under the configured timeout.
func (o *Orchestrator) generate(ctx context.Context, req *generator.RevisionRequest) (*generator.Draft, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	draft, err := o.gen.Revise(genCtx, req)
	if err != nil {
		return nil, classifyGenError(err)
	}
	return draft, nil
}

// classifyGenError maps generation client failures into the rebalance
// error taxonomy.
func classifyGenError(err error) error {
	switch {
	case errors.Is(err, generator.ErrBadResponse):
		return fmt.Errorf("%w: %v", ErrMalformedRoadmap, err)
	case errors.Is(err, generator.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
}

// commit turns a validated draft into a persisted version at the tail of
// the chain. The write order matters: the new version and its tasks land
// first, then the predecessor is marked superseded, then the user's pointer
// flips. Reconciliation on read repairs any crash between those writes.
func (o *Orchestrator) commit(userID string, parent *models.RoadmapVersion, draft *generator.Draft, carried []models.Task, reason models.CreationReason) (*models.RoadmapVersion, error) {
	seq, err := o.chain.NextSequence(userID)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()

	version := &models.RoadmapVersion{
		ID:         uuid.NewString(),
		UserID:     userID,
		Sequence:   seq,
		Status:     models.VersionStatusActive,
		Reason:     reason,
		TotalWeeks: draft.TotalWeeks,
		CreatedAt:  now,
	}
	if parent != nil {
		version.ParentID = parent.ID
	}
	if version.TotalWeeks == 0 {
		for _, p := range draft.Phases {
			version.TotalWeeks += len(p.Weeks)
		}
	}

	// Draft task ids are generation-internal references; persisted tasks
	// get fresh ids so carried-forward rows can never collide.
	var tasks []models.Task
	for _, dp := range draft.Phases {
		phase := models.Phase{Name: dp.Name, Description: dp.Description}
		for _, dw := range dp.Weeks {
			week := models.Week{
				Number:        dw.Number,
				FocusSkill:    dw.FocusSkill,
				Milestone:     dw.Milestone,
				SuccessMetric: dw.SuccessMetric,
			}
			for _, dt := range dw.Tasks {
				taskType := dt.Type
				if taskType == "" {
					taskType = models.TaskTypeLearning
				}
				task := models.Task{
					ID:         uuid.NewString(),
					VersionID:  version.ID,
					UserID:     userID,
					WeekNumber: dw.Number,
					PhaseName:  dp.Name,
					Title:      dt.Title,
					Type:       taskType,
					Status:     models.TaskStatusPending,
					DueAt:      now.AddDate(0, 0, dt.DueDayOffset),
					CreatedAt:  now,
				}
				week.TaskIDs = append(week.TaskIDs, task.ID)
				tasks = append(tasks, task)
			}
			phase.Weeks = append(phase.Weeks, week)
		}
		version.Phases = append(version.Phases, phase)
	}

	// Completed work is copied forward so history stays continuous across
	// versions. Copies keep their original week and phase labels.
	for _, c := range carried {
		copied := c
		copied.ID = uuid.NewString()
		copied.VersionID = version.ID
		copied.CreatedAt = now
		tasks = append(tasks, copied)
	}

	if err := o.chain.Append(version, tasks); err != nil {
		return nil, fmt.Errorf("commit version: %w", err)
	}
	log.Printf("rebalance: user %s stage %s version %s", userID, stageVersionCommitted, version.ID)

	if parent != nil {
		if err := o.store.MarkVersionSuperseded(parent.ID); err != nil {
			return nil, fmt.Errorf("supersede version %s: %w", parent.ID, err)
		}
	}
	if err := o.store.SetCurrentVersionPointer(userID, version.ID); err != nil {
		return nil, fmt.Errorf("update current pointer: %w", err)
	}
	return version, nil
}

// record writes an audit entry for the attempt, success or failure.
func (o *Orchestrator) record(userID string, version *models.RoadmapVersion, decision models.RebalanceDecision, trigger models.RebalanceTrigger, attemptErr error) {
	outcome := "success"
	details := ""
	versionID := ""
	if version != nil {
		versionID = version.ID
	}
	if attemptErr != nil {
		outcome = "error"
		details = attemptErr.Error()
	}
	inputs := map[string]any{
		"reason":  decision.Reason,
		"trigger": trigger,
	}
	if decision.Evidence != nil {
		inputs["evidence"] = decision.Evidence
	}
	if _, err := o.recorder.Record("rebalance.attempt", inputs, outcome, userID, versionID, details); err != nil {
		log.Printf("rebalance: audit record for user %s: %v", userID, err)
	}
}
