package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/rebalance"
	"github.com/aveline-ai/recal/internal/store"
)

// Server provides the HTTP API for recal.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/users/", s.handleUserByID)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // rebalance calls wait on generation
	}

	log.Printf("Starting recal daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleUsers handles POST /users
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	user, err := s.service.CreateUser(&p)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// handleUserByID handles /users/{id}/*
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	userID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getUser(w, r, userID)
	case action == "roadmap" && r.Method == http.MethodPost:
		s.generateRoadmap(w, r, userID)
	case action == "roadmap" && r.Method == http.MethodGet:
		s.getRoadmap(w, r, userID)
	case action == "history" && r.Method == http.MethodGet:
		s.getHistory(w, r, userID)
	case action == "progress" && r.Method == http.MethodGet:
		s.getProgress(w, r, userID)
	case action == "decision" && r.Method == http.MethodGet:
		s.getDecision(w, r, userID)
	case action == "rebalance" && r.Method == http.MethodPost:
		s.postRebalance(w, r, userID)
	case action == "decisions" && r.Method == http.MethodGet:
		s.getDecisionRecords(w, r, userID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/status
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "status" && r.Method == http.MethodPost:
		s.updateTaskStatus(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- User Handlers ---

func (s *Server) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := s.service.GetUser(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// --- Roadmap Handlers ---

func (s *Server) generateRoadmap(w http.ResponseWriter, r *http.Request, userID string) {
	version, err := s.service.GenerateRoadmap(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(version)
}

func (s *Server) getRoadmap(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.service.ActiveRoadmap(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, userID string) {
	versions, err := s.service.History(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []models.RoadmapVersion{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versions)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request, userID string) {
	snapshot, err := s.service.Progress(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request, userID string) {
	decision, err := s.service.Decide(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

func (s *Server) postRebalance(w http.ResponseWriter, r *http.Request, userID string) {
	version, err := s.service.Rebalance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(version)
}

func (s *Server) getDecisionRecords(w http.ResponseWriter, r *http.Request, userID string) {
	records, err := s.service.DecisionRecords(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// --- Task Handlers ---

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.service.GetTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

type statusRequest struct {
	Status models.TaskStatus `json:"status"`
}

func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.UpdateTaskStatus(taskID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chain.ErrNoActiveVersion),
		errors.Is(err, progress.ErrVersionNotFound),
		errors.Is(err, rebalance.ErrMissingContext),
		errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	case errors.Is(err, rebalance.ErrRebalanceInProgress),
		errors.Is(err, chain.ErrReconciliationConflict),
		errors.Is(err, progress.ErrVersionNotActive),
		errors.Is(err, store.ErrTaskCompleted):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidProfile), errors.Is(err, ErrInvalidStatus):
		status = http.StatusBadRequest
	case errors.Is(err, rebalance.ErrGenerationUnavailable),
		errors.Is(err, rebalance.ErrMalformedRoadmap):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
