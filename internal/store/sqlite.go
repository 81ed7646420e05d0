package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLite implements DB on a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			server_seed TEXT NOT NULL,
			server_seed_sha256 TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			nonce_start INTEGER NOT NULL,
			nonce_end INTEGER NOT NULL,
			targets_json TEXT NOT NULL,
			summary_json TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			engine_version TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS hits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			max_multiplier REAL NOT NULL,
			UNIQUE(run_id, nonce),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_run_nonce ON hits(run_id, nonce)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_run_multiplier ON hits(run_id, max_multiplier)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun persists the run and its hits in one transaction. A missing ID is
// assigned.
func (s *SQLite) SaveRun(ctx context.Context, run *Run, hits []Hit) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.HitCount = len(hits)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, server_seed, server_seed_sha256, client_seed, difficulty,
			nonce_start, nonce_end, targets_json, summary_json,
			duration_ms, engine_version, hit_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ServerSeed, run.ServerSeedSHA256, run.ClientSeed, run.Difficulty,
		run.NonceStart, run.NonceEnd, run.TargetsJSON, run.SummaryJSON,
		run.DurationMs, run.EngineVersion, run.HitCount,
	)
	if err != nil {
		return err
	}

	if len(hits) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO hits (run_id, nonce, max_multiplier) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range hits {
			if _, err := stmt.ExecContext(ctx, run.ID, h.Nonce, h.MaxMultiplier); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLite) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, server_seed, server_seed_sha256, client_seed, difficulty,
		       nonce_start, nonce_end, targets_json, summary_json,
		       duration_ms, engine_version, hit_count
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &run.CreatedAt, &run.ServerSeed, &run.ServerSeedSHA256, &run.ClientSeed,
		&run.Difficulty, &run.NonceStart, &run.NonceEnd, &run.TargetsJSON, &run.SummaryJSON,
		&run.DurationMs, &run.EngineVersion, &run.HitCount,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns newest-first runs matching the filter plus the total
// matching count for pagination.
func (s *SQLite) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := []string{"1=1"}
	args := []any{}
	if filter.Search != "" {
		where = append(where, "client_seed LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Difficulty != "" {
		where = append(where, "difficulty = ?")
		args = append(args, filter.Difficulty)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, server_seed, server_seed_sha256, client_seed, difficulty,
		       nonce_start, nonce_end, targets_json, summary_json,
		       duration_ms, engine_version, hit_count
		FROM runs WHERE `+cond+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.CreatedAt, &run.ServerSeed, &run.ServerSeedSHA256, &run.ClientSeed,
			&run.Difficulty, &run.NonceStart, &run.NonceEnd, &run.TargetsJSON, &run.SummaryJSON,
			&run.DurationMs, &run.EngineVersion, &run.HitCount,
		); err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// GetHits returns a nonce-ascending page of a run's hits plus the total
// matching count.
func (s *SQLite) GetHits(ctx context.Context, runID string, filter HitFilter) ([]Hit, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 10_000 {
		limit = 100
	}

	cond := "run_id = ?"
	args := []any{runID}
	if filter.MinMultiplier != nil {
		cond += " AND max_multiplier >= ?"
		args = append(args, *filter.MinMultiplier)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hits WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT nonce, max_multiplier FROM hits
		WHERE `+cond+`
		ORDER BY nonce
		LIMIT ? OFFSET ?`, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Nonce, &h.MaxMultiplier); err != nil {
			return nil, 0, err
		}
		hits = append(hits, h)
	}
	return hits, total, rows.Err()
}

// HitNonces returns the ascending nonces of a run's hits whose multiplier is
// within tol of multiplier. Feeds the distance analysis endpoints.
func (s *SQLite) HitNonces(ctx context.Context, runID string, multiplier, tol float64) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nonce FROM hits
		WHERE run_id = ? AND max_multiplier >= ? AND max_multiplier <= ?
		ORDER BY nonce`, runID, multiplier-tol, multiplier+tol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nonces := []uint64{}
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nonces = append(nonces, n)
	}
	return nonces, rows.Err()
}
