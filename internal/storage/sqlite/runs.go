package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("not found")

// Run is one stage optimization.
type Run struct {
	RunID        string          `json:"run_id"`
	Stage        string          `json:"stage"`
	DataFolder   string          `json:"data_folder"`
	Dimensions   int             `json:"dimensions"`
	Status       string          `json:"status"`
	Config       json.RawMessage `json:"config,omitempty"`
	BestValue    *float64        `json:"best_value,omitempty"`
	BestSettings json.RawMessage `json:"best_settings,omitempty"`
	Measurement  json.RawMessage `json:"measurement,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// RunStore persists runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore returns a store on db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Insert records a started run. Empty RunID, Status and StartedAt are
// filled in.
func (s *RunStore) Insert(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = StatusRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO tuning_runs (run_id, stage, data_folder, dimensions, status, config_json, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Stage, r.DataFolder, r.Dimensions, r.Status, nullJSON(r.Config), r.StartedAt.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}
	return nil
}

// Complete stores the outcome of a run.
func (s *RunStore) Complete(runID string, bestValue float64, bestSettings, measurement json.RawMessage) error {
	return s.finish(runID, StatusComplete, &bestValue, bestSettings, measurement, "")
}

// Fail marks a run as failed.
func (s *RunStore) Fail(runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(runID, StatusFailed, nil, nil, nil, msg)
}

func (s *RunStore) finish(runID, status string, best *float64, settings, measurement json.RawMessage, msg string) error {
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.Exec(`
			UPDATE tuning_runs
			SET status = ?, best_value = ?, best_settings_json = ?, measurement_json = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, best, nullJSON(settings), nullJSON(measurement), msg, time.Now().UnixNano(), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, stage, data_folder, dimensions, status, config_json, best_value,
	best_settings_json, measurement_json, error, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                          Run
		config, settings, measured sql.NullString
		best                       sql.NullFloat64
		errMsg                     sql.NullString
		started                    int64
		completed                  sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &r.Stage, &r.DataFolder, &r.Dimensions, &r.Status, &config, &best,
		&settings, &measured, &errMsg, &started, &completed); err != nil {
		return nil, err
	}
	if config.Valid {
		r.Config = json.RawMessage(config.String)
	}
	if best.Valid {
		v := best.Float64
		r.BestValue = &v
	}
	if settings.Valid {
		r.BestSettings = json.RawMessage(settings.String)
	}
	if measured.Valid {
		r.Measurement = json.RawMessage(measured.String)
	}
	r.Error = errMsg.String
	r.StartedAt = time.Unix(0, started)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		r.CompletedAt = &t
	}
	return &r, nil
}

// Get returns the run with runID.
func (s *RunStore) Get(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM tuning_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	return r, nil
}

// List returns the most recent runs first. limit <= 0 returns all runs.
func (s *RunStore) List(limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM tuning_runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
