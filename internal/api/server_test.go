package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/config"
	"github.com/aveline-ai/recal/internal/generator"
	"github.com/aveline-ai/recal/internal/generator/mock"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/rebalance"
	"github.com/aveline-ai/recal/internal/store"
)

func newTestServer(t *testing.T, results ...mock.Result) *Server {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := audit.NewRecorder(s)
	c := chain.New(s, rec)
	agg := progress.New(s)
	orch := rebalance.New(s, c, agg, mock.New(results...), rec, 2*time.Second, time.Minute)
	service := NewService(s, c, agg, orch, rec, config.DefaultConfig().Rules)
	return NewServer(service, "127.0.0.1:0")
}

func apiDraft() *generator.Draft {
	return &generator.Draft{
		TotalWeeks: 1,
		Phases: []generator.DraftPhase{{
			Name: "Start",
			Weeks: []generator.DraftWeek{{
				Number: 1,
				Tasks: []generator.DraftTask{
					{ID: "a", Title: "Read", Type: models.TaskTypeLearning, WeekNumber: 1, DueDayOffset: 2},
					{ID: "b", Title: "Build", Type: models.TaskTypeProject, WeekNumber: 1, DueDayOffset: 6},
				},
			}},
		}},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createUser(t *testing.T, h http.Handler) *models.UserProfile {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/users", map[string]any{
		"name":         "Ana",
		"goal":         "backend engineer",
		"weekly_hours": 10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var user models.UserProfile
	if err := json.NewDecoder(w.Body).Decode(&user); err != nil {
		t.Fatalf("Failed to decode user: %v", err)
	}
	return &user
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	h := newTestServer(t).Handler()

	w := doJSON(t, h, http.MethodPost, "/users", map[string]any{"name": "NoGoal"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	h := newTestServer(t).Handler()

	w := doJSON(t, h, http.MethodGet, "/users/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRoadmapLifecycle(t *testing.T) {
	h := newTestServer(t, mock.Result{Draft: apiDraft()}).Handler()
	user := createUser(t, h)

	// No roadmap yet.
	w := doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404 before generation, got %d", w.Code)
	}

	// Generate the first version.
	w = doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var v1 models.RoadmapVersion
	if err := json.NewDecoder(w.Body).Decode(&v1); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if v1.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", v1.Sequence)
	}

	// Read it back with tasks.
	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var view RoadmapView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode roadmap: %v", err)
	}
	if view.Version.ID != v1.ID {
		t.Errorf("Expected version %s, got %s", v1.ID, view.Version.ID)
	}
	if len(view.Tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(view.Tasks))
	}

	// History has one entry.
	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var history []models.RoadmapVersion
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 version in history, got %d", len(history))
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	h := newTestServer(t, mock.Result{Draft: apiDraft()}).Handler()
	user := createUser(t, h)

	w := doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/roadmap", nil)
	var view RoadmapView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode roadmap: %v", err)
	}
	taskID := view.Tasks[0].ID

	// Complete the task.
	w = doJSON(t, h, http.MethodPost, "/tasks/"+taskID+"/status", map[string]any{"status": "completed"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var task models.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	if task.Status != models.TaskStatusCompleted || task.CompletedAt == nil {
		t.Errorf("Expected completed task with timestamp, got %+v", task)
	}

	// Completed is terminal.
	w = doJSON(t, h, http.MethodPost, "/tasks/"+taskID+"/status", map[string]any{"status": "pending"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 reopening a completed task, got %d", w.Code)
	}

	// Unknown task.
	w = doJSON(t, h, http.MethodPost, "/tasks/no-such-task/status", map[string]any{"status": "completed"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	// Missed is derived, never written.
	w = doJSON(t, h, http.MethodPost, "/tasks/"+view.Tasks[1].ID+"/status", map[string]any{"status": "missed"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 writing missed, got %d", w.Code)
	}
}

func TestProgressAndDecisionEndpoints(t *testing.T) {
	h := newTestServer(t, mock.Result{Draft: apiDraft()}).Handler()
	user := createUser(t, h)

	w := doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var snapshot models.ProgressSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snapshot.Total != 2 {
		t.Errorf("Expected total 2, got %d", snapshot.Total)
	}

	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/decision", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var decision models.RebalanceDecision
	if err := json.NewDecoder(w.Body).Decode(&decision); err != nil {
		t.Fatalf("Failed to decode decision: %v", err)
	}
	// A fresh plan with nothing due yet should not trigger anything.
	if decision.Triggered {
		t.Errorf("Unexpected trigger on a fresh plan: %+v", decision)
	}
}

func TestManualRebalance(t *testing.T) {
	h := newTestServer(t, mock.Result{Draft: apiDraft()}).Handler()
	user := createUser(t, h)

	w := doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/rebalance", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var v2 models.RoadmapVersion
	if err := json.NewDecoder(w.Body).Decode(&v2); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if v2.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", v2.Sequence)
	}
	if v2.Reason != models.ReasonManualRebalance {
		t.Errorf("Expected manual_rebalance, got %s", v2.Reason)
	}

	// Audit trail covers both attempts.
	w = doJSON(t, h, http.MethodGet, "/users/"+user.ID+"/decisions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var records []models.DecisionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode records: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 decision records, got %d", len(records))
	}
}

func TestRebalance_NoRoadmapIs404(t *testing.T) {
	h := newTestServer(t).Handler()
	user := createUser(t, h)

	w := doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/rebalance", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRebalance_GenerationFailureIs502(t *testing.T) {
	h := newTestServer(t,
		mock.Result{Draft: apiDraft()},
		mock.Result{Err: generator.ErrUnavailable},
	).Handler()
	user := createUser(t, h)

	w := doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/roadmap", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/users/"+user.ID+"/rebalance", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d: %s", w.Code, w.Body.String())
	}
}
