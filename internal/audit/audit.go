// Package audit writes append-only decision records for recal.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/aveline-ai/recal/internal/models"
	"github.com/aveline-ai/recal/internal/store"
)

// Recorder writes decision records for state-mutating actions: rebalance
// attempts, their outcomes, and chain repairs.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new audit recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes a decision record. Inputs are hashed so the record proves
// what evidence produced a decision without duplicating it.
func (r *Recorder) Record(action string, inputs interface{}, outcome, userID, versionID, details string) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		UserID:     userID,
		VersionID:  versionID,
		Details:    details,
	}
	if err := r.store.WriteDecisionRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ForUser returns a user's decision records, newest first.
func (r *Recorder) ForUser(userID string) ([]models.DecisionRecord, error) {
	return r.store.DecisionRecordsForUser(userID)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
