// Package api provides the HTTP API and service layer for recal.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/config"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/rebalance"
	"github.com/aveline-ai/recal/internal/rules"
	"github.com/aveline-ai/recal/internal/store"
)

// ErrInvalidProfile means an onboarding payload is missing required fields.
var ErrInvalidProfile = errors.New("invalid user profile")

// ErrInvalidStatus means a task status transition names an unknown or
// non-writable state.
var ErrInvalidStatus = errors.New("invalid task status")

// Service provides the recalibration business logic behind the HTTP API.
type Service struct {
	store    *store.Store
	chain    *chain.Chain
	agg      *progress.Aggregator
	orch     *rebalance.Orchestrator
	recorder *audit.Recorder
	rules    config.RulesConfig
}

// NewService creates the service layer.
func NewService(s *store.Store, c *chain.Chain, agg *progress.Aggregator, orch *rebalance.Orchestrator, rec *audit.Recorder, rulesCfg config.RulesConfig) *Service {
	return &Service{
		store:    s,
		chain:    c,
		agg:      agg,
		orch:     orch,
		recorder: rec,
		rules:    rulesCfg,
	}
}

// --- User Operations ---

// CreateUser stores a new onboarding profile.
func (s *Service) CreateUser(p *models.UserProfile) (*models.UserProfile, error) {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Goal) == "" {
		return nil, fmt.Errorf("%w: name and goal are required", ErrInvalidProfile)
	}
	if p.WeeklyHours <= 0 {
		return nil, fmt.Errorf("%w: weekly_hours must be positive", ErrInvalidProfile)
	}
	return s.store.CreateUser(p)
}

// GetUser retrieves a profile by id. Returns nil when no such user exists.
func (s *Service) GetUser(id string) (*models.UserProfile, error) {
	return s.store.GetUser(id)
}

// --- Roadmap Operations ---

// RoadmapView is an active version with its tasks, statuses derived.
type RoadmapView struct {
	Version *models.RoadmapVersion `json:"version"`
	Tasks   []models.Task          `json:"tasks"`
}

// GenerateRoadmap creates the first version for a user who has none.
func (s *Service) GenerateRoadmap(ctx context.Context, userID string) (*models.RoadmapVersion, error) {
	return s.orch.GenerateInitial(ctx, userID)
}

// ActiveRoadmap returns the user's current version and its tasks. Task
// statuses are reported with the missed state derived.
func (s *Service) ActiveRoadmap(userID string) (*RoadmapView, error) {
	active, err := s.chain.GetActive(userID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.TasksForVersion(active.ID)
	if err != nil {
		return nil, err
	}
	now := s.agg.Now()
	for i := range tasks {
		tasks[i].Status = tasks[i].EffectiveStatus(now)
	}
	return &RoadmapView{Version: active, Tasks: tasks}, nil
}

// History returns every version in the user's chain, oldest first.
func (s *Service) History(userID string) ([]models.RoadmapVersion, error) {
	return s.chain.ListChain(userID)
}

// --- Progress and Decisions ---

// Progress computes a fresh snapshot for the user's active version and
// refreshes the display cache.
func (s *Service) Progress(userID string) (*models.ProgressSnapshot, error) {
	active, err := s.chain.GetActive(userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.agg.ComputeSnapshot(active.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveProgressSummary(userID, snapshot); err != nil {
		return nil, fmt.Errorf("cache summary: %w", err)
	}
	return snapshot, nil
}

// Decide runs the rule engine against a fresh snapshot without acting on
// the verdict.
func (s *Service) Decide(userID string) (*models.RebalanceDecision, error) {
	snapshot, err := s.Progress(userID)
	if err != nil {
		return nil, err
	}
	decision := rules.Evaluate(snapshot, s.rules)
	return &decision, nil
}

// Rebalance runs a manual recalibration. The user asks for a new plan
// regardless of what the rules would decide.
func (s *Service) Rebalance(ctx context.Context, userID string) (*models.RoadmapVersion, error) {
	active, err := s.chain.GetActive(userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.agg.ComputeSnapshot(active.ID)
	if err != nil {
		return nil, err
	}
	decision := models.RebalanceDecision{
		Triggered: true,
		Reason:    models.ReasonCodeManualRequest,
		Evidence:  snapshot,
	}
	return s.orch.Rebalance(ctx, userID, decision, models.TriggerManual)
}

// DecisionRecords returns the user's audit trail, newest first.
func (s *Service) DecisionRecords(userID string) ([]models.DecisionRecord, error) {
	return s.recorder.ForUser(userID)
}

// --- Task Operations ---

// GetTask retrieves a task by id with its status derived.
func (s *Service) GetTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil || task == nil {
		return task, err
	}
	task.Status = task.EffectiveStatus(s.agg.Now())
	return task, nil
}

// UpdateTaskStatus transitions a task. Completed is terminal and the
// missed state cannot be written, only derived.
func (s *Service) UpdateTaskStatus(id string, status models.TaskStatus) (*models.Task, error) {
	switch status {
	case models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.store.UpdateTaskStatus(id, status); err != nil {
		return nil, err
	}
	return s.store.GetTask(id)
}
