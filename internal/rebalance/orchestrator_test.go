package rebalance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/generator"
	"github.com/aveline-ai/recal/internal/generator/mock"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/store"
)

type fixture struct {
	store *store.Store
	chain *chain.Chain
	gen   *mock.Generator
	orch  *Orchestrator
}

func newFixture(t *testing.T, results ...mock.Result) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := audit.NewRecorder(s)
	c := chain.New(s, rec)
	gen := mock.New(results...)
	orch := New(s, c, progress.New(s), gen, rec, 2*time.Second, time.Minute)
	return &fixture{store: s, chain: c, gen: gen, orch: orch}
}

func seedUser(t *testing.T, s *store.Store) *models.UserProfile {
	t.Helper()
	p, err := s.CreateUser(&models.UserProfile{
		Name:        "Ana",
		Goal:        "backend engineer",
		WeeklyHours: 10,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return p
}

// seedActiveVersion creates sequence 1 for the user with half its tasks
// completed and half overdue.
func seedActiveVersion(t *testing.T, f *fixture, userID string, total int) *models.RoadmapVersion {
	t.Helper()
	created := time.Now().UTC().Add(-2 * 7 * 24 * time.Hour)
	v := &models.RoadmapVersion{
		ID:         uuid.NewString(),
		UserID:     userID,
		Sequence:   1,
		Status:     models.VersionStatusActive,
		Reason:     models.ReasonInitialGeneration,
		TotalWeeks: 2,
		Phases:     []models.Phase{{Name: "Foundations", Weeks: []models.Week{{Number: 1}, {Number: 2}}}},
		CreatedAt:  created,
	}
	var tasks []models.Task
	for i := 0; i < total; i++ {
		task := models.Task{
			ID:         uuid.NewString(),
			VersionID:  v.ID,
			UserID:     userID,
			WeekNumber: 1 + i%2,
			PhaseName:  "Foundations",
			Title:      "task",
			Type:       models.TaskTypeLearning,
			Status:     models.TaskStatusPending,
			DueAt:      created.Add(time.Duration(i) * 24 * time.Hour),
			CreatedAt:  created,
		}
		if i < total/2 {
			task.Status = models.TaskStatusCompleted
			done := task.DueAt.Add(-time.Hour)
			task.CompletedAt = &done
		}
		tasks = append(tasks, task)
	}
	if err := f.chain.Append(v, tasks); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := f.store.SetCurrentVersionPointer(userID, v.ID); err != nil {
		t.Fatalf("SetCurrentVersionPointer failed: %v", err)
	}
	return v
}

func goodDraft() *generator.Draft {
	return &generator.Draft{
		TotalWeeks: 2,
		Phases: []generator.DraftPhase{{
			Name: "Recovery",
			Weeks: []generator.DraftWeek{
				{
					Number:     1,
					FocusSkill: "fundamentals",
					Tasks: []generator.DraftTask{
						{ID: "t1", Title: "Redo basics", Type: models.TaskTypeLearning, WeekNumber: 1, DueDayOffset: 3},
						{ID: "t2", Title: "Small project", Type: models.TaskTypeProject, WeekNumber: 1, DueDayOffset: 6},
					},
				},
				{
					Number:     2,
					FocusSkill: "applied work",
					Tasks: []generator.DraftTask{
						{ID: "t3", Title: "Ship it", Type: models.TaskTypeMilestone, WeekNumber: 2, DueDayOffset: 13},
					},
				},
			},
		}},
	}
}

func decision(reason models.ReasonCode) models.RebalanceDecision {
	return models.RebalanceDecision{Triggered: true, Reason: reason}
}

func TestRebalance_CommitsNewVersion(t *testing.T) {
	f := newFixture(t, mock.Result{Draft: goodDraft()})
	user := seedUser(t, f.store)
	v1 := seedActiveVersion(t, f, user.ID, 10)

	v2, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeMissedThresholdExceeded), models.TriggerRule)
	if err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}

	if v2.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", v2.Sequence)
	}
	if v2.ParentID != v1.ID {
		t.Errorf("Expected parent %s, got %s", v1.ID, v2.ParentID)
	}
	if v2.Reason != models.ReasonRuleTriggeredRebalance {
		t.Errorf("Expected rule_triggered_rebalance, got %s", v2.Reason)
	}

	// Predecessor flipped, pointer moved.
	old, err := f.store.GetVersion(v1.ID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if old.Status != models.VersionStatusSuperseded {
		t.Errorf("Expected v1 superseded, got %s", old.Status)
	}
	ptr, err := f.store.CurrentVersionPointer(user.ID)
	if err != nil {
		t.Fatalf("CurrentVersionPointer failed: %v", err)
	}
	if ptr != v2.ID {
		t.Errorf("Expected pointer at %s, got %s", v2.ID, ptr)
	}

	// Exactly one active version, and it holds the max sequence.
	versions, err := f.chain.ListChain(user.ID)
	if err != nil {
		t.Fatalf("ListChain failed: %v", err)
	}
	activeCount := 0
	for _, v := range versions {
		if v.Status == models.VersionStatusActive {
			activeCount++
			if v.Sequence != 2 {
				t.Errorf("Active version should hold max sequence 2, got %d", v.Sequence)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("Expected exactly one active version, got %d", activeCount)
	}

	// Completed work carried forward; new work pending.
	tasks, err := f.store.TasksForVersion(v2.ID)
	if err != nil {
		t.Fatalf("TasksForVersion failed: %v", err)
	}
	completed, pending := 0, 0
	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusCompleted:
			completed++
			if task.CompletedAt == nil {
				t.Error("Carried task lost its completion time")
			}
		case models.TaskStatusPending:
			pending++
		}
	}
	if completed != 5 {
		t.Errorf("Expected 5 carried completed tasks, got %d", completed)
	}
	if pending != 3 {
		t.Errorf("Expected 3 new pending tasks, got %d", pending)
	}

	// Revision payload excluded completed tasks.
	req := f.gen.LastRevision()
	if req == nil {
		t.Fatal("Expected a revision request")
	}
	if len(req.RemainingTasks) != 5 {
		t.Errorf("Expected 5 remaining tasks in payload, got %d", len(req.RemainingTasks))
	}
	for _, task := range req.RemainingTasks {
		if task.Status == models.TaskStatusCompleted {
			t.Error("Completed task leaked into remaining set")
		}
	}

	// The attempt is audited.
	records, err := f.store.DecisionRecordsForUser(user.ID)
	if err != nil {
		t.Fatalf("DecisionRecordsForUser failed: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != "success" {
		t.Errorf("Expected one success audit record, got %+v", records)
	}
}

func TestRebalance_MalformedDraftLeavesActiveUntouched(t *testing.T) {
	bad := goodDraft()
	bad.Phases[0].Weeks[1].Tasks[0].ID = "t1" // duplicate id
	f := newFixture(t, mock.Result{Draft: bad})
	user := seedUser(t, f.store)
	v1 := seedActiveVersion(t, f, user.ID, 10)

	_, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeMissedThresholdExceeded), models.TriggerRule)
	if !errors.Is(err, ErrMalformedRoadmap) {
		t.Fatalf("Expected ErrMalformedRoadmap, got %v", err)
	}

	active, err := f.chain.GetActive(user.ID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != v1.ID {
		t.Errorf("Expected v1 still active, got %s", active.ID)
	}
	versions, err := f.store.ListVersions(user.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("Expected chain length 1, got %d", len(versions))
	}
}

func TestRebalance_GenerationUnavailable(t *testing.T) {
	f := newFixture(t, mock.Result{Err: generator.ErrUnavailable}, mock.Result{Draft: goodDraft()})
	user := seedUser(t, f.store)
	seedActiveVersion(t, f, user.ID, 4)

	_, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodePaceBehindSchedule), models.TriggerRule)
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Expected ErrGenerationUnavailable, got %v", err)
	}
	if f.gen.Calls() != 1 {
		t.Errorf("Expected exactly one generation call, got %d", f.gen.Calls())
	}

	// The lock was released on failure; a retry succeeds.
	if _, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodePaceBehindSchedule), models.TriggerRule); err != nil {
		t.Fatalf("Retry after failure should succeed, got %v", err)
	}
}

func TestRebalance_SecondAttemptFailsFast(t *testing.T) {
	f := newFixture(t, mock.Result{Draft: goodDraft()})
	user := seedUser(t, f.store)
	seedActiveVersion(t, f, user.ID, 4)

	f.gen.Gate = make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeMissedThresholdExceeded), models.TriggerRule)
		firstDone <- err
	}()

	// Wait for the first attempt to reach the generation stage.
	deadline := time.Now().Add(2 * time.Second)
	for f.gen.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeManualRequest), models.TriggerManual)
	if !errors.Is(err, ErrRebalanceInProgress) {
		t.Fatalf("Expected ErrRebalanceInProgress, got %v", err)
	}

	close(f.gen.Gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("First attempt failed: %v", err)
	}

	// The lock is free again once the first attempt completed.
	if _, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeManualRequest), models.TriggerManual); err != nil {
		t.Fatalf("Attempt after completion should succeed, got %v", err)
	}
}

func TestRebalance_MissingProfile(t *testing.T) {
	f := newFixture(t, mock.Result{Draft: goodDraft()})

	// Active version exists but no profile was ever stored for the user.
	ghost := "no-such-user"
	v := &models.RoadmapVersion{
		ID:        uuid.NewString(),
		UserID:    ghost,
		Sequence:  1,
		Status:    models.VersionStatusActive,
		Reason:    models.ReasonInitialGeneration,
		Phases:    []models.Phase{{Name: "P", Weeks: []models.Week{{Number: 1}}}},
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.InsertVersion(v); err != nil {
		t.Fatalf("InsertVersion failed: %v", err)
	}

	_, err := f.orch.Rebalance(context.Background(), ghost, decision(models.ReasonCodeManualRequest), models.TriggerManual)
	if !errors.Is(err, ErrMissingContext) {
		t.Fatalf("Expected ErrMissingContext, got %v", err)
	}
}

func TestRebalance_NoRoadmap(t *testing.T) {
	f := newFixture(t)
	user := seedUser(t, f.store)

	_, err := f.orch.Rebalance(context.Background(), user.ID, decision(models.ReasonCodeManualRequest), models.TriggerManual)
	if !errors.Is(err, chain.ErrNoActiveVersion) {
		t.Fatalf("Expected ErrNoActiveVersion, got %v", err)
	}
}

func TestGenerateInitial(t *testing.T) {
	f := newFixture(t, mock.Result{Draft: goodDraft()})
	user := seedUser(t, f.store)

	v1, err := f.orch.GenerateInitial(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GenerateInitial failed: %v", err)
	}
	if v1.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", v1.Sequence)
	}
	if v1.ParentID != "" {
		t.Errorf("First version should have no parent, got %s", v1.ParentID)
	}
	if v1.Reason != models.ReasonInitialGeneration {
		t.Errorf("Expected initial_generation, got %s", v1.Reason)
	}
	ptr, err := f.store.CurrentVersionPointer(user.ID)
	if err != nil {
		t.Fatalf("CurrentVersionPointer failed: %v", err)
	}
	if ptr != v1.ID {
		t.Errorf("Expected pointer at %s, got %s", v1.ID, ptr)
	}

	// A second initial generation is rejected.
	if _, err := f.orch.GenerateInitial(context.Background(), user.ID); err == nil {
		t.Error("Expected second initial generation to fail")
	}
}

func TestGenerateInitial_NoProfile(t *testing.T) {
	f := newFixture(t, mock.Result{Draft: goodDraft()})

	_, err := f.orch.GenerateInitial(context.Background(), "nobody")
	if !errors.Is(err, ErrMissingContext) {
		t.Fatalf("Expected ErrMissingContext, got %v", err)
	}
}
