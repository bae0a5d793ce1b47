// Package store provides SQLite-backed persistence for recal.
//
// Every write is a single-document write; the store offers no multi-document
// transactions to callers. Higher layers (the version chain, the rebalance
// orchestrator) are built around that constraint.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aveline-ai/recal/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the recal SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		goal TEXT NOT NULL,
		current_level TEXT,
		weekly_hours INTEGER NOT NULL,
		deadline_weeks INTEGER,
		financial_constraint TEXT,
		situation TEXT,
		current_version_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS roadmap_versions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		parent_id TEXT,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		total_weeks INTEGER NOT NULL,
		phases TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		superseded_at DATETIME,
		UNIQUE (user_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		week_number INTEGER NOT NULL,
		phase_name TEXT NOT NULL,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		due_at DATETIME NOT NULL,
		completed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS progress_summary (
		user_id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rebalance_locks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decision_records (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		user_id TEXT,
		version_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_user ON roadmap_versions(user_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_versions_status ON roadmap_versions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_version ON tasks(version_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_user ON decision_records(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- User Operations ---

// CreateUser inserts a new user profile.
func (s *Store) CreateUser(p *models.UserProfile) (*models.UserProfile, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO users (id, name, goal, current_level, weekly_hours, deadline_weeks, financial_constraint, situation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Goal, p.CurrentLevel, p.WeeklyHours, p.DeadlineWeeks, p.FinancialConstraint, p.Situation, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return p, nil
}

// GetUser retrieves a user profile by ID. Returns nil if not found.
func (s *Store) GetUser(id string) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	var level, constraint, situation sql.NullString
	var deadline sql.NullInt64

	err := s.db.QueryRow(
		`SELECT id, name, goal, current_level, weekly_hours, deadline_weeks, financial_constraint, situation, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &p.Goal, &level, &p.WeeklyHours, &deadline, &constraint, &situation, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if level.Valid {
		p.CurrentLevel = level.String
	}
	if deadline.Valid {
		p.DeadlineWeeks = int(deadline.Int64)
	}
	if constraint.Valid {
		p.FinancialConstraint = constraint.String
	}
	if situation.Valid {
		p.Situation = situation.String
	}
	return p, nil
}

// UpdateUser updates the mutable constraint fields of a profile.
func (s *Store) UpdateUser(p *models.UserProfile) error {
	_, err := s.db.Exec(
		`UPDATE users SET name = ?, goal = ?, current_level = ?, weekly_hours = ?, deadline_weeks = ?, financial_constraint = ?, situation = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Goal, p.CurrentLevel, p.WeeklyHours, p.DeadlineWeeks, p.FinancialConstraint, p.Situation, time.Now().UTC(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// ListUserIDs returns the ids of all users that have a current version
// pointer set. Used by the drift monitor.
func (s *Store) ListUserIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM users WHERE current_version_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CurrentVersionPointer returns the user's current-version pointer, which
// is a cache and may be stale after an interrupted rebalance. Empty string
// means no pointer is set.
func (s *Store) CurrentVersionPointer(userID string) (string, error) {
	var ptr sql.NullString
	err := s.db.QueryRow(`SELECT current_version_id FROM users WHERE id = ?`, userID).Scan(&ptr)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query version pointer: %w", err)
	}
	if !ptr.Valid {
		return "", nil
	}
	return ptr.String, nil
}

// SetCurrentVersionPointer updates the user's current-version pointer.
func (s *Store) SetCurrentVersionPointer(userID, versionID string) error {
	_, err := s.db.Exec(
		`UPDATE users SET current_version_id = ?, updated_at = ? WHERE id = ?`,
		versionID, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("update version pointer: %w", err)
	}
	return nil
}

// --- Roadmap Version Operations ---

// InsertVersion appends a roadmap version document. Versions are append-only;
// the only later mutation allowed is the status flip to superseded.
func (s *Store) InsertVersion(v *models.RoadmapVersion) error {
	phases, err := json.Marshal(v.Phases)
	if err != nil {
		return fmt.Errorf("marshal phases: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO roadmap_versions (id, user_id, sequence, parent_id, status, reason, total_weeks, phases, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, v.Sequence, nullable(v.ParentID), v.Status, v.Reason, v.TotalWeeks, string(phases), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// GetVersion retrieves a roadmap version by ID. Returns nil if not found.
func (s *Store) GetVersion(id string) (*models.RoadmapVersion, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, sequence, parent_id, status, reason, total_weeks, phases, created_at, superseded_at
		 FROM roadmap_versions WHERE id = ?`,
		id,
	)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// ListVersions returns all roadmap versions for a user ordered by sequence.
func (s *Store) ListVersions(userID string) ([]models.RoadmapVersion, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sequence, parent_id, status, reason, total_weeks, phases, created_at, superseded_at
		 FROM roadmap_versions WHERE user_id = ? ORDER BY sequence ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []models.RoadmapVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// MaxSequence returns the highest version sequence number for a user, or 0
// when the user has no versions yet.
func (s *Store) MaxSequence(userID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sequence) FROM roadmap_versions WHERE user_id = ?`, userID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// MarkVersionSuperseded flips a version's status to superseded and stamps
// the superseded time.
func (s *Store) MarkVersionSuperseded(id string) error {
	_, err := s.db.Exec(
		`UPDATE roadmap_versions SET status = ?, superseded_at = ? WHERE id = ?`,
		models.VersionStatusSuperseded, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("supersede version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.RoadmapVersion, error) {
	v := &models.RoadmapVersion{}
	var parentID sql.NullString
	var supersededAt sql.NullTime
	var phasesJSON string

	err := row.Scan(&v.ID, &v.UserID, &v.Sequence, &parentID, &v.Status, &v.Reason, &v.TotalWeeks, &phasesJSON, &v.CreatedAt, &supersededAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		v.ParentID = parentID.String
	}
	if supersededAt.Valid {
		v.SupersededAt = &supersededAt.Time
	}
	if err := json.Unmarshal([]byte(phasesJSON), &v.Phases); err != nil {
		return nil, fmt.Errorf("unmarshal phases: %w", err)
	}
	return v, nil
}

// --- Task Operations ---

// InsertTasks inserts the task documents for a freshly created version.
func (s *Store) InsertTasks(tasks []models.Task) error {
	for i := range tasks {
		t := &tasks[i]
		_, err := s.db.Exec(
			`INSERT INTO tasks (id, version_id, user_id, week_number, phase_name, title, type, status, due_at, completed_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.VersionID, t.UserID, t.WeekNumber, t.PhaseName, t.Title, t.Type, t.Status, t.DueAt, t.CompletedAt, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, version_id, user_id, week_number, phase_name, title, type, status, due_at, completed_at, created_at
		 FROM tasks WHERE id = ?`,
		id,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// TasksForVersion returns all tasks under a version, ordered by week then title.
// Tasks remain queryable by version id indefinitely, including for superseded
// versions.
func (s *Store) TasksForVersion(versionID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, version_id, user_id, week_number, phase_name, title, type, status, due_at, completed_at, created_at
		 FROM tasks WHERE version_id = ? ORDER BY week_number ASC, title ASC`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ErrTaskCompleted indicates a completed task cannot be moved to another state.
var ErrTaskCompleted = fmt.Errorf("task already completed")

// UpdateTaskStatus transitions a task's persisted state. Completed tasks are
// terminal; missed is a derived state and is rejected here.
func (s *Store) UpdateTaskStatus(id string, status models.TaskStatus) error {
	if status == models.TaskStatusMissed {
		return fmt.Errorf("missed is derived at read time, not persisted")
	}

	current, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if current == nil {
		return sql.ErrNoRows
	}
	if current.Status == models.TaskStatusCompleted && status != models.TaskStatusCompleted {
		return ErrTaskCompleted
	}

	var completedAt any
	if status == models.TaskStatusCompleted {
		completedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(
		`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		status, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.VersionID, &t.UserID, &t.WeekNumber, &t.PhaseName, &t.Title, &t.Type, &t.Status, &t.DueAt, &completedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

// --- Progress Summary Cache ---

// SaveProgressSummary caches the latest snapshot for display. The cache is
// never the source of truth; snapshots are recomputed from tasks.
func (s *Store) SaveProgressSummary(userID string, snapshot *models.ProgressSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO progress_summary (user_id, version_id, snapshot, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET version_id = excluded.version_id, snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		userID, snapshot.VersionID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save progress summary: %w", err)
	}
	return nil
}

// CachedProgressSummary returns the cached snapshot, or nil if none exists.
func (s *Store) CachedProgressSummary(userID string) (*models.ProgressSnapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot FROM progress_summary WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query progress summary: %w", err)
	}
	snapshot := &models.ProgressSnapshot{}
	if err := json.Unmarshal([]byte(data), snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// --- Rebalance Lock Operations ---

// ErrRebalanceHeld indicates another rebalance attempt holds the user's lock.
var ErrRebalanceHeld = fmt.Errorf("rebalance lock already held")

// AcquireRebalanceLock attempts to take the exclusive per-user rebalance lock.
// It first cleans up any expired lock, then inserts a new one; the UNIQUE
// constraint on user_id closes the check-then-insert race.
func (s *Store) AcquireRebalanceLock(userID, holderID string, ttl time.Duration) (*models.RebalanceLock, error) {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	_, err = tx.Exec(`DELETE FROM rebalance_locks WHERE user_id = ? AND expires_at <= ?`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	var existingHolder string
	err = tx.QueryRow(
		`SELECT holder_id FROM rebalance_locks WHERE user_id = ? AND expires_at > ?`,
		userID, now,
	).Scan(&existingHolder)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err != sql.ErrNoRows {
		return nil, ErrRebalanceHeld
	}

	lock := &models.RebalanceLock{
		ID:        uuid.New().String(),
		UserID:    userID,
		HolderID:  holderID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err = tx.Exec(
		`INSERT INTO rebalance_locks (id, user_id, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		lock.ID, lock.UserID, lock.HolderID, lock.CreatedAt, lock.ExpiresAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return nil, ErrRebalanceHeld
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return lock, nil
}

// ReleaseRebalanceLock releases an advisory rebalance lock.
func (s *Store) ReleaseRebalanceLock(lockID string) error {
	_, err := s.db.Exec(`DELETE FROM rebalance_locks WHERE id = ?`, lockID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// --- Decision Record Operations ---

// WriteDecisionRecord appends an audit record.
func (s *Store) WriteDecisionRecord(r *models.DecisionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO decision_records (id, action, inputs_hash, outcome, user_id, version_id, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Action, r.InputsHash, r.Outcome, r.UserID, r.VersionID, r.Details, r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// DecisionRecordsForUser returns audit records for a user, newest first.
func (s *Store) DecisionRecordsForUser(userID string) ([]models.DecisionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, user_id, version_id, details, timestamp
		 FROM decision_records WHERE user_id = ? ORDER BY timestamp DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decision records: %w", err)
	}
	defer rows.Close()

	var records []models.DecisionRecord
	for rows.Next() {
		var r models.DecisionRecord
		var uid, vid, details sql.NullString
		if err := rows.Scan(&r.ID, &r.Action, &r.InputsHash, &r.Outcome, &uid, &vid, &details, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision record: %w", err)
		}
		if uid.Valid {
			r.UserID = uid.String
		}
		if vid.Valid {
			r.VersionID = vid.String
		}
		if details.Valid {
			r.Details = details.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
