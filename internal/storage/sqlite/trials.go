package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trial is one objective evaluation of a run.
type Trial struct {
	TrialID   string    `json:"trial_id"`
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase"`
	Query     []float64 `json:"query"`
	Value     float64   `json:"value"`
	Best      float64   `json:"best"`
	CreatedAt time.Time `json:"created_at"`
}

// TrialStore persists trials.
type TrialStore struct {
	db *sql.DB
}

// NewTrialStore returns a store on db.
func NewTrialStore(db *DB) *TrialStore {
	return &TrialStore{db: db.DB}
}

// Insert records t, filling in TrialID and CreatedAt when empty.
func (s *TrialStore) Insert(t *Trial) error {
	if t.TrialID == "" {
		t.TrialID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query, err := json.Marshal(t.Query)
	if err != nil {
		return fmt.Errorf("encoding trial query: %w", err)
	}
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO tuning_trials (trial_id, run_id, iteration, phase, query_json, value, best_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TrialID, t.RunID, t.Iteration, t.Phase, string(query), t.Value, t.Best, t.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting trial %d of run %s: %w", t.Iteration, t.RunID, err)
	}
	return nil
}

// ListByRun returns the trials of runID in iteration order.
func (s *TrialStore) ListByRun(runID string) ([]*Trial, error) {
	rows, err := s.db.Query(`
		SELECT trial_id, run_id, iteration, phase, query_json, value, best_value, created_at
		FROM tuning_trials
		WHERE run_id = ?
		ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []*Trial
	for rows.Next() {
		var (
			t       Trial
			query   string
			created int64
		)
		if err := rows.Scan(&t.TrialID, &t.RunID, &t.Iteration, &t.Phase, &query, &t.Value, &t.Best, &created); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		if err := json.Unmarshal([]byte(query), &t.Query); err != nil {
			return nil, fmt.Errorf("decoding trial %s query: %w", t.TrialID, err)
		}
		t.CreatedAt = time.Unix(0, created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Count returns the number of trials of runID.
func (s *TrialStore) Count(runID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tuning_trials WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return n, nil
}
