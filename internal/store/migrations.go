package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per pass over the configuration grid
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			metric TEXT NOT NULL,
			configurations INTEGER NOT NULL DEFAULT 0,
			evaluated INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			improvements INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			best_quality REAL NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		// Results table - one row per evaluated configuration
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			diameter INTEGER NOT NULL,
			sigma_color REAL NOT NULL,
			sigma_space REAL NOT NULL,
			quality REAL NOT NULL,
			ok INTEGER NOT NULL,
			actual_width INTEGER NOT NULL DEFAULT 0,
			actual_height INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_quality ON results(run_id, quality DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
