package store

import (
	"database/sql"
	"errors"
	"time"
)

// Result is one evaluated configuration of a run.
type Result struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Diameter     int       `json:"diameter"`
	SigmaColor   float64   `json:"sigma_color"`
	SigmaSpace   float64   `json:"sigma_space"`
	Quality      float64   `json:"quality"`
	OK           bool      `json:"ok"`
	ActualWidth  int       `json:"actual_width"`
	ActualHeight int       `json:"actual_height"`
	Error        string    `json:"error,omitempty"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResultRepository provides operations on evaluated configurations.
type ResultRepository struct {
	db *sql.DB
}

// Results returns the result repository for this store.
func (s *Store) Results() *ResultRepository {
	return &ResultRepository{db: s.db}
}

// Add inserts a result and sets its ID.
func (r *ResultRepository) Add(res *Result) error {
	out, err := r.db.Exec(
		`INSERT INTO results (run_id, width, height, diameter, sigma_color, sigma_space, quality, ok,
		                      actual_width, actual_height, error, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Width, res.Height, res.Diameter, res.SigmaColor, res.SigmaSpace, res.Quality, res.OK,
		res.ActualWidth, res.ActualHeight, res.Error, res.ElapsedMs,
	)
	if err != nil {
		return err
	}

	id, err := out.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = id
	return nil
}

const resultColumns = `id, run_id, width, height, diameter, sigma_color, sigma_space, quality, ok,
	actual_width, actual_height, error, elapsed_ms, created_at`

// ListByRun returns a run's results, highest quality first.
func (r *ResultRepository) ListByRun(runID string) ([]Result, error) {
	rows, err := r.db.Query(
		`SELECT `+resultColumns+`
		 FROM results WHERE run_id = ?
		 ORDER BY quality DESC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// Best returns the highest-quality successful result of a run. Ties go to
// the result recorded first.
func (r *ResultRepository) Best(runID string) (*Result, error) {
	row := r.db.QueryRow(
		`SELECT `+resultColumns+`
		 FROM results WHERE run_id = ? AND ok = 1 AND quality > 0
		 ORDER BY quality DESC, id ASC LIMIT 1`,
		runID,
	)

	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

func scanResult(s scanner) (*Result, error) {
	res := &Result{}
	err := s.Scan(&res.ID, &res.RunID, &res.Width, &res.Height, &res.Diameter, &res.SigmaColor,
		&res.SigmaSpace, &res.Quality, &res.OK, &res.ActualWidth, &res.ActualHeight, &res.Error,
		&res.ElapsedMs, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
