package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/pump-replay-go/internal/analysis"
	"github.com/MJE43/pump-replay-go/internal/scan"
	"github.com/MJE43/pump-replay-go/internal/store"
)

// RunCreateRequest is the POST /runs body.
type RunCreateRequest struct {
	ServerSeed string    `json:"server_seed"`
	ClientSeed string    `json:"client_seed"`
	Start      uint64    `json:"start"`
	End        uint64    `json:"end"`
	Difficulty string    `json:"difficulty"`
	Targets    []float64 `json:"targets"`
	Tolerance  float64   `json:"tolerance,omitempty"`
}

// RunDetail is the full view of a run, including its summary and hit lists
// keyed by the canonical target string.
type RunDetail struct {
	ID               string              `json:"id"`
	CreatedAt        time.Time           `json:"created_at"`
	ServerSeed       string              `json:"server_seed"`
	ServerSeedSHA256 string              `json:"server_seed_sha256"`
	ClientSeed       string              `json:"client_seed"`
	Difficulty       string              `json:"difficulty"`
	NonceStart       uint64              `json:"nonce_start"`
	NonceEnd         uint64              `json:"nonce_end"`
	DurationMs       int64               `json:"duration_ms"`
	EngineVersion    string              `json:"engine_version"`
	Targets          []float64           `json:"targets"`
	Summary          *scan.Summary       `json:"summary"`
	HitsByTarget     map[string][]uint64 `json:"hits_by_target,omitempty"`
}

// RunRead is the list view of a run.
type RunRead struct {
	ID               string         `json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	ServerSeedSHA256 string         `json:"server_seed_sha256"`
	ClientSeed       string         `json:"client_seed"`
	Difficulty       string         `json:"difficulty"`
	NonceStart       uint64         `json:"nonce_start"`
	NonceEnd         uint64         `json:"nonce_end"`
	DurationMs       int64          `json:"duration_ms"`
	EngineVersion    string         `json:"engine_version"`
	HitCount         int            `json:"hit_count"`
	CountsByTarget   map[string]int `json:"counts_by_target"`
}

// RunListResponse pages runs.
type RunListResponse struct {
	Runs  []RunRead `json:"runs"`
	Total int       `json:"total"`
}

// HitRow is one row of a hits page. DistancePrev is only present when the
// per-multiplier distance column is requested.
type HitRow struct {
	Nonce         uint64  `json:"nonce"`
	MaxMultiplier float64 `json:"max_multiplier"`
	DistancePrev  *uint64 `json:"distance_prev,omitempty"`
}

// HitsPage pages a run's hits.
type HitsPage struct {
	Total int      `json:"total"`
	Rows  []HitRow `json:"rows"`
}

// DistancePayload is the per-target distance analysis for a run.
type DistancePayload struct {
	Multiplier float64         `json:"multiplier"`
	Tol        float64         `json:"tol"`
	Count      int             `json:"count"`
	Nonces     []uint64        `json:"nonces"`
	Distances  []uint64        `json:"distances"`
	Stats      *analysis.Stats `json:"stats,omitempty"`
}

// StreamHitStats is the gap summary for one multiplier in a live stream.
type StreamHitStats struct {
	Multiplier float64         `json:"multiplier"`
	Tol        float64         `json:"tol"`
	Count      int             `json:"count"`
	Stats      *analysis.Stats `json:"stats,omitempty"`
}

// IngestPayload is the body Antebot posts to /live/ingest.
type IngestPayload struct {
	ID               string          `json:"id"`
	ServerSeedHashed string          `json:"serverSeedHashed"`
	ClientSeed       string          `json:"clientSeed"`
	DateTime         string          `json:"dateTime"`
	Nonce            int64           `json:"nonce"`
	Amount           decimal.Decimal `json:"amount"`
	Payout           decimal.Decimal `json:"payout"`
	Difficulty       string          `json:"difficulty"`
	RoundResult      float64         `json:"roundResult"`
}

// IngestResponse acknowledges an ingest.
type IngestResponse struct {
	Accepted bool   `json:"accepted"`
	StreamID string `json:"stream_id"`
	Reason   string `json:"reason,omitempty"`
}

func runDetailFrom(run *store.Run, summary *scan.Summary, targets []float64, hits map[string][]uint64) RunDetail {
	return RunDetail{
		ID:               run.ID,
		CreatedAt:        run.CreatedAt,
		ServerSeed:       run.ServerSeed,
		ServerSeedSHA256: run.ServerSeedSHA256,
		ClientSeed:       run.ClientSeed,
		Difficulty:       run.Difficulty,
		NonceStart:       run.NonceStart,
		NonceEnd:         run.NonceEnd,
		DurationMs:       run.DurationMs,
		EngineVersion:    run.EngineVersion,
		Targets:          targets,
		Summary:          summary,
		HitsByTarget:     hits,
	}
}
