// Package models defines the core domain types for recal.
package models

import "time"

// TaskStatus represents the current state of a roadmap task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	// TaskStatusMissed is derived at read time from an overdue pending or
	// in-progress task. It is never persisted and never overrides a later
	// completion.
	TaskStatusMissed TaskStatus = "missed"
)

// TaskType categorizes what kind of work a task represents.
type TaskType string

const (
	TaskTypeLearning  TaskType = "learning"
	TaskTypeProject   TaskType = "project"
	TaskTypeMilestone TaskType = "milestone"
)

// Task is a single unit of work inside one roadmap version.
// Tasks are never deleted by the rebalance flow; they stay queryable by
// version id indefinitely for audit.
type Task struct {
	ID          string     `json:"id"`
	VersionID   string     `json:"version_id"`
	UserID      string     `json:"user_id"`
	WeekNumber  int        `json:"week_number"`
	PhaseName   string     `json:"phase_name"`
	Title       string     `json:"title"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	DueAt       time.Time  `json:"due_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EffectiveStatus returns the task status with the missed state derived.
// A pending or in-progress task past its due time reads as missed.
func (t *Task) EffectiveStatus(now time.Time) TaskStatus {
	if (t.Status == TaskStatusPending || t.Status == TaskStatusInProgress) && t.DueAt.Before(now) {
		return TaskStatusMissed
	}
	return t.Status
}

// VersionStatus represents the lifecycle state of a roadmap version.
type VersionStatus string

const (
	VersionStatusActive     VersionStatus = "active"
	VersionStatusSuperseded VersionStatus = "superseded"
)

// CreationReason records why a roadmap version came into existence.
type CreationReason string

const (
	ReasonInitialGeneration      CreationReason = "initial_generation"
	ReasonRuleTriggeredRebalance CreationReason = "rule_triggered_rebalance"
	ReasonManualRebalance        CreationReason = "manual_rebalance"
)

// Week is one week of work inside a phase. It references its tasks by id.
type Week struct {
	Number        int      `json:"number"`
	FocusSkill    string   `json:"focus_skill"`
	Milestone     string   `json:"milestone"`
	SuccessMetric string   `json:"success_metric"`
	TaskIDs       []string `json:"task_ids"`
}

// Phase is an ordered group of weeks with a common theme.
type Phase struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Weeks       []Week `json:"weeks"`
}

// RoadmapVersion is one immutable, sequence-numbered snapshot of a user's
// execution plan. Exactly one version per user is active at any time.
type RoadmapVersion struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Sequence     int            `json:"sequence"`
	ParentID     string         `json:"parent_id,omitempty"` // empty for the first version
	Status       VersionStatus  `json:"status"`
	Reason       CreationReason `json:"reason"`
	TotalWeeks   int            `json:"total_weeks"`
	Phases       []Phase        `json:"phases"`
	CreatedAt    time.Time      `json:"created_at"`
	SupersededAt *time.Time     `json:"superseded_at,omitempty"`
}

// ProgressSnapshot is a derived view over one version's task state. It is
// computed fresh from task records and only cached for display, never
// treated as a source of truth.
type ProgressSnapshot struct {
	VersionID    string    `json:"version_id"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Missed       int       `json:"missed"`
	InProgress   int       `json:"in_progress"`
	DueSoFar     int       `json:"due_so_far"`
	ElapsedWeeks int       `json:"elapsed_weeks"`
	PaceRatio    float64   `json:"pace_ratio"`
	ComputedAt   time.Time `json:"computed_at"`
}

// CompletionPercent returns completed tasks as a percentage of the total.
func (s *ProgressSnapshot) CompletionPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// ReasonCode identifies which rule (if any) fired in a rebalance decision.
type ReasonCode string

const (
	ReasonCodeMissedThresholdExceeded ReasonCode = "missed_threshold_exceeded"
	ReasonCodePaceBehindSchedule      ReasonCode = "pace_behind_schedule"
	ReasonCodePaceAheadOfSchedule     ReasonCode = "pace_ahead_of_schedule"
	ReasonCodeManualRequest           ReasonCode = "manual_request"
	ReasonCodeNone                    ReasonCode = "none"
)

// RebalanceDecision is the rule engine's verdict for one snapshot. The
// evidence snapshot is retained for audit.
type RebalanceDecision struct {
	Triggered bool              `json:"triggered"`
	Reason    ReasonCode        `json:"reason"`
	Evidence  *ProgressSnapshot `json:"evidence,omitempty"`
}

// RebalanceTrigger distinguishes how a rebalance attempt was initiated.
type RebalanceTrigger string

const (
	TriggerRule   RebalanceTrigger = "rule"
	TriggerManual RebalanceTrigger = "manual"
)

// CreationReasonFor maps a trigger to the version creation reason.
func CreationReasonFor(trigger RebalanceTrigger) CreationReason {
	if trigger == TriggerManual {
		return ReasonManualRebalance
	}
	return ReasonRuleTriggeredRebalance
}

// RebalanceLock is an exclusive advisory lock scoped to one user's
// rebalance flow. A second attempt while one is in flight fails fast
// instead of queueing.
type RebalanceLock struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	HolderID  string    `json:"holder_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DecisionRecord is an append-only audit entry for a rebalance decision or
// a chain repair.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	UserID     string    `json:"user_id,omitempty"`
	VersionID  string    `json:"version_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserProfile holds the onboarding constraints that seed generation and
// every subsequent revision request.
type UserProfile struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Goal                string    `json:"goal"`
	CurrentLevel        string    `json:"current_level"`
	WeeklyHours         int       `json:"weekly_hours"`
	DeadlineWeeks       int       `json:"deadline_weeks,omitempty"` // 0 means flexible
	FinancialConstraint string    `json:"financial_constraint,omitempty"`
	Situation           string    `json:"situation,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
