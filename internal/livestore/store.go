// Package livestore persists live Pump bets pushed by an Antebot instance.
// Streams are keyed by the (hashed server seed, client seed) pair the bot
// observes; once the server seed is rotated and disclosed, the alias table
// links the hash to the plain seed so the stream can be replayed.
package livestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Stream is one seed-pair session with bet aggregates.
type Stream struct {
	ID               uuid.UUID `json:"id"`
	ServerSeedHashed string    `json:"server_seed_hashed"`
	ClientSeed       string    `json:"client_seed"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	Notes            string    `json:"notes"`
	TotalBets        int64     `json:"total_bets"`
	HighestResult    float64   `json:"highest_result"`
}

// Bet is one ingested live bet. Amounts are decimals end to end; float64
// would corrupt the currency values the bot reports.
type Bet struct {
	ID          int64           `json:"id"`
	StreamID    uuid.UUID       `json:"stream_id"`
	BetID       string          `json:"bet_id"`
	ReceivedAt  time.Time       `json:"received_at"`
	PlacedAt    time.Time       `json:"placed_at"`
	Nonce       int64           `json:"nonce"`
	Amount      decimal.Decimal `json:"amount"`
	Payout      decimal.Decimal `json:"payout"`
	Difficulty  string          `json:"difficulty"`
	RoundResult float64         `json:"round_result"`
}

// ErrDuplicateBet marks an ingest that was already stored for the stream.
var ErrDuplicateBet = errors.New("duplicate bet")

// MultiplierCount is one distinct round result in a stream with its
// occurrence count.
type MultiplierCount struct {
	Multiplier float64 `json:"multiplier"`
	Count      int64   `json:"count"`
}

// Store wraps the live-stream SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens/creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite writes are single-writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			server_seed_hashed TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			UNIQUE(server_seed_hashed, client_seed)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_last_seen ON streams(last_seen_at DESC)`,
		`CREATE TABLE IF NOT EXISTS bets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id TEXT NOT NULL,
			bet_id TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			placed_at TIMESTAMP NOT NULL,
			nonce INTEGER NOT NULL,
			amount TEXT NOT NULL,
			payout TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			round_result REAL NOT NULL,
			UNIQUE(stream_id, bet_id),
			FOREIGN KEY(stream_id) REFERENCES streams(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_stream_nonce ON bets(stream_id, nonce)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_stream_result ON bets(stream_id, round_result DESC)`,
		`CREATE TABLE IF NOT EXISTS seed_aliases (
			server_seed_hashed TEXT PRIMARY KEY,
			server_seed_plain TEXT NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FindOrCreateStream resolves the stream id for a seed pair, creating the
// stream on first sight and touching last_seen_at otherwise.
func (s *Store) FindOrCreateStream(ctx context.Context, serverSeedHashed, clientSeed string) (uuid.UUID, error) {
	now := time.Now().UTC()

	var idStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM streams WHERE server_seed_hashed=? AND client_seed=?`,
		serverSeedHashed, clientSeed).Scan(&idStr)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			`UPDATE streams SET last_seen_at=? WHERE id=?`, now, idStr); err != nil {
			return uuid.Nil, err
		}
		return uuid.Parse(idStr)
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.New()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO streams(id, server_seed_hashed, client_seed, created_at, last_seen_at)
			 VALUES(?, ?, ?, ?, ?)`,
			id.String(), serverSeedHashed, clientSeed, now, now)
		if err != nil {
			if isConstraintErr(err) {
				// Lost a create race; the row exists now.
				return s.FindOrCreateStream(ctx, serverSeedHashed, clientSeed)
			}
			return uuid.Nil, err
		}
		return id, nil
	default:
		return uuid.Nil, err
	}
}

// IngestBet stores one bet. Idempotent per (stream, bet id): replays return
// ErrDuplicateBet without modifying anything.
func (s *Store) IngestBet(ctx context.Context, streamID uuid.UUID, bet Bet) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bets(stream_id, bet_id, received_at, placed_at, nonce,
		                 amount, payout, difficulty, round_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		streamID.String(), bet.BetID, now, bet.PlacedAt.UTC(), bet.Nonce,
		bet.Amount.String(), bet.Payout.String(), strings.ToLower(bet.Difficulty), bet.RoundResult)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicateBet
		}
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE streams SET last_seen_at=? WHERE id=?`, now, streamID.String())
	return nil
}

// GetStream returns one stream with aggregates.
func (s *Store) GetStream(ctx context.Context, streamID uuid.UUID) (Stream, error) {
	var st Stream
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.server_seed_hashed, s.client_seed, s.created_at, s.last_seen_at, s.notes,
		       COALESCE(b.cnt, 0), COALESCE(b.maxres, 0)
		FROM streams s
		LEFT JOIN (
			SELECT stream_id, COUNT(*) AS cnt, MAX(round_result) AS maxres
			FROM bets WHERE stream_id=?
		) b ON s.id = b.stream_id
		WHERE s.id=?`, streamID.String(), streamID.String())
	err := row.Scan(&st.ID, &st.ServerSeedHashed, &st.ClientSeed, &st.CreatedAt,
		&st.LastSeenAt, &st.Notes, &st.TotalBets, &st.HighestResult)
	return st, err
}

// ListStreams returns streams by recency with aggregates.
func (s *Store) ListStreams(ctx context.Context, limit, offset int) ([]Stream, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.server_seed_hashed, s.client_seed, s.created_at, s.last_seen_at, s.notes,
		       COALESCE(b.cnt, 0), COALESCE(b.maxres, 0)
		FROM streams s
		LEFT JOIN (
			SELECT stream_id, COUNT(*) AS cnt, MAX(round_result) AS maxres
			FROM bets GROUP BY stream_id
		) b ON s.id = b.stream_id
		ORDER BY s.last_seen_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		var st Stream
		if err := rows.Scan(&st.ID, &st.ServerSeedHashed, &st.ClientSeed, &st.CreatedAt,
			&st.LastSeenAt, &st.Notes, &st.TotalBets, &st.HighestResult); err != nil {
			return nil, 0, err
		}
		out = append(out, st)
	}
	return out, total, rows.Err()
}

// UpdateNotes sets or clears a stream's notes.
func (s *Store) UpdateNotes(ctx context.Context, streamID uuid.UUID, notes string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET notes=? WHERE id=?`, notes, streamID.String())
	return err
}

// DeleteStream removes a stream and all of its bets.
func (s *Store) DeleteStream(ctx context.Context, streamID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bets WHERE stream_id=?`, streamID.String()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE id=?`, streamID.String())
	return err
}

const betColumns = `id, stream_id, bet_id, received_at, placed_at, nonce, amount, payout, difficulty, round_result`

// ListBets pages a stream's bets ordered by nonce, optionally filtering by a
// minimum round result.
func (s *Store) ListBets(ctx context.Context, streamID uuid.UUID, minResult float64, ascending bool, limit, offset int) ([]Bet, int64, error) {
	if limit <= 0 || limit > 10_000 {
		limit = 500
	}
	cond := "stream_id = ?"
	args := []any{streamID.String()}
	if minResult > 0 {
		cond += " AND round_result >= ?"
		args = append(args, minResult)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bets WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM bets WHERE %s ORDER BY nonce %s LIMIT ? OFFSET ?`,
		betColumns, cond, order), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	return bets, total, err
}

// TailBets returns bets with row id strictly above lastID, oldest first.
// Pollers call this to follow a stream without re-reading history.
func (s *Store) TailBets(ctx context.Context, streamID uuid.UUID, lastID int64, limit int) ([]Bet, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM bets WHERE stream_id=? AND id > ? ORDER BY id ASC LIMIT ?`,
		betColumns), streamID.String(), lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

// HitNonces returns the ascending nonces of a stream's bets whose round
// result is within tol of multiplier. Feeds the per-stream gap analysis.
func (s *Store) HitNonces(ctx context.Context, streamID uuid.UUID, multiplier, tol float64) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nonce FROM bets
		WHERE stream_id=? AND round_result >= ? AND round_result <= ?
		ORDER BY nonce`, streamID.String(), multiplier-tol, multiplier+tol)
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

// Multipliers returns the distinct round results seen in a stream, highest
// first, with occurrence counts.
func (s *Store) Multipliers(ctx context.Context, streamID uuid.UUID) ([]MultiplierCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_result, COUNT(*) FROM bets
		WHERE stream_id=?
		GROUP BY round_result
		ORDER BY round_result DESC`, streamID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MultiplierCount
	for rows.Next() {
		var mc MultiplierCount
		if err := rows.Scan(&mc.Multiplier, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func scanBets(rows *sql.Rows) ([]Bet, error) {
	var out []Bet
	for rows.Next() {
		var (
			b           Bet
			idStr       string
			amt, payout string
		)
		if err := rows.Scan(&b.ID, &idStr, &b.BetID, &b.ReceivedAt, &b.PlacedAt,
			&b.Nonce, &amt, &payout, &b.Difficulty, &b.RoundResult); err != nil {
			return nil, err
		}
		streamID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		b.StreamID = streamID
		if b.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, err
		}
		if b.Payout, err = decimal.NewFromString(payout); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ExportCSV streams a stream's bets to w, oldest nonce first.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, streamID uuid.UUID) error {
	if _, err := io.WriteString(w, "id,nonce,placed_at,amount,payout,difficulty,round_result\n"); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nonce, placed_at, amount, payout, difficulty, round_result
		FROM bets WHERE stream_id=? ORDER BY nonce ASC`, streamID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, nonce   int64
			placedAt    time.Time
			amt, payout string
			diff        string
			result      float64
		)
		if err := rows.Scan(&id, &nonce, &placedAt, &amt, &payout, &diff, &result); err != nil {
			return err
		}
		line := fmt.Sprintf("%d,%d,%s,%s,%s,%s,%g\n",
			id, nonce, placedAt.UTC().Format(time.RFC3339), amt, payout, diff, result)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpsertSeedAlias links a hashed server seed to its disclosed plain form.
func (s *Store) UpsertSeedAlias(ctx context.Context, hashed, plain string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seed_aliases(server_seed_hashed, server_seed_plain, first_seen, last_seen)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(server_seed_hashed) DO UPDATE SET
			server_seed_plain=excluded.server_seed_plain,
			last_seen=excluded.last_seen`,
		hashed, plain, now, now)
	return err
}

// LookupSeedAlias returns the plain seed for a hash, if disclosed.
func (s *Store) LookupSeedAlias(ctx context.Context, hashed string) (string, bool, error) {
	var plain string
	err := s.db.QueryRowContext(ctx,
		`SELECT server_seed_plain FROM seed_aliases WHERE server_seed_hashed=?`, hashed).Scan(&plain)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	// modernc sqlite surfaces constraint violations in the message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}
