package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Run is a persisted scan: the inputs plus the summary produced when it ran.
// Targets and the summary are stored as JSON, mirroring the API shapes.
type Run struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	ServerSeed       string    `json:"server_seed"`
	ServerSeedSHA256 string    `json:"server_seed_sha256"`
	ClientSeed       string    `json:"client_seed"`
	Difficulty       string    `json:"difficulty"`
	NonceStart       uint64    `json:"nonce_start"`
	NonceEnd         uint64    `json:"nonce_end"`
	TargetsJSON      string    `json:"-"`
	SummaryJSON      string    `json:"-"`
	DurationMs       int64     `json:"duration_ms"`
	EngineVersion    string    `json:"engine_version"`
	HitCount         int       `json:"hit_count"`
}

// Hit is one nonce whose multiplier matched any of a run's targets. Hits are
// deduplicated across targets and stored with the outcome's multiplier.
type Hit struct {
	Nonce         uint64  `json:"nonce"`
	MaxMultiplier float64 `json:"max_multiplier"`
}

// DB is the persistence boundary the API uses.
type DB interface {
	Close() error
	SaveRun(ctx context.Context, run *Run, hits []Hit) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error)
	GetHits(ctx context.Context, runID string, filter HitFilter) ([]Hit, int, error)
	HitNonces(ctx context.Context, runID string, multiplier, tol float64) ([]uint64, error)
}

// RunFilter narrows and pages run listings.
type RunFilter struct {
	Search     string // substring match on client seed
	Difficulty string
	Limit      int
	Offset     int
}

// HitFilter narrows and pages hit reads.
type HitFilter struct {
	MinMultiplier *float64
	Limit         int
	Offset        int
}
