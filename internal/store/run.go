package store

import (
	"database/sql"
	"errors"
	"time"
)

// Run is one pass over the configuration grid.
type Run struct {
	ID             string     `json:"id"`
	Metric         string     `json:"metric"`
	Configurations int        `json:"configurations"`
	Evaluated      int        `json:"evaluated"`
	Failures       int        `json:"failures"`
	Improvements   int        `json:"improvements"`
	Cancelled      bool       `json:"cancelled"`
	BestQuality    float64    `json:"best_quality"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunRepository provides operations on sweep runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a run that has just started.
func (r *RunRepository) Create(run *Run) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (id, metric, configurations, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Metric, run.Configurations, run.StartedAt,
	)
	return err
}

// Finish stores the final counters of a run.
func (r *RunRepository) Finish(run *Run) error {
	res, err := r.db.Exec(
		`UPDATE runs
		 SET evaluated = ?, failures = ?, improvements = ?, cancelled = ?, best_quality = ?, finished_at = ?
		 WHERE id = ?`,
		run.Evaluated, run.Failures, run.Improvements, run.Cancelled, run.BestQuality, run.FinishedAt, run.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, metric, configurations, evaluated, failures, improvements, cancelled, best_quality, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first, at most limit of them.
func (r *RunRepository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, metric, configurations, evaluated, failures, improvements, cancelled, best_quality, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run and its results.
func (r *RunRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime

	err := s.Scan(&run.ID, &run.Metric, &run.Configurations, &run.Evaluated, &run.Failures,
		&run.Improvements, &run.Cancelled, &run.BestQuality, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
