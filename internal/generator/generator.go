// Package generator defines the roadmap generation service client.
//
// The generation service is an external collaborator: it accepts a
// structured payload and returns a draft plan, possibly failing or returning
// malformed output. Nothing in this package commits state; callers validate
// drafts before anything is persisted.
package generator

import (
	"context"

	"github.com/aveline-ai/recal/internal/models"
)

// RevisionRequest is the payload sent to the generation service when an
// existing plan needs recalibration. RemainingTasks is the point-in-time set
// of non-completed tasks from the active version.
type RevisionRequest struct {
	Profile        *models.UserProfile      `json:"profile"`
	RemainingTasks []models.Task            `json:"remaining_tasks"`
	Snapshot       *models.ProgressSnapshot `json:"snapshot"`
	Reason         models.ReasonCode        `json:"reason"`
}

// DraftTask is one generated task. DueDayOffset is days from the new
// version's creation time.
type DraftTask struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Type         models.TaskType `json:"type"`
	WeekNumber   int             `json:"week_number"`
	DueDayOffset int             `json:"due_day_offset"`
}

// DraftWeek is one generated week with its tasks inline.
type DraftWeek struct {
	Number        int         `json:"number"`
	FocusSkill    string      `json:"focus_skill"`
	Milestone     string      `json:"milestone"`
	SuccessMetric string      `json:"success_metric"`
	Tasks         []DraftTask `json:"tasks"`
}

// DraftPhase is one generated phase.
type DraftPhase struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Weeks       []DraftWeek `json:"weeks"`
}

// Draft is a generated plan before validation and commit. It is untrusted
// input until the orchestrator's structural checks pass.
type Draft struct {
	TotalWeeks int          `json:"total_weeks"`
	Phases     []DraftPhase `json:"phases"`
}

// Generator produces roadmap drafts. Implementations must honor the
// context's deadline; the caller bounds every call with the configured
// timeout.
type Generator interface {
	// Name returns the generator identifier (e.g., "anthropic", "mock").
	Name() string

	// GenerateInitial produces the first plan for a freshly onboarded user.
	GenerateInitial(ctx context.Context, profile *models.UserProfile) (*Draft, error)

	// Revise produces a recalibrated plan from the revision payload.
	Revise(ctx context.Context, req *RevisionRequest) (*Draft, error)
}
