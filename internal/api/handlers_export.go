package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MJE43/pump-replay-go/internal/analysis"
	"github.com/MJE43/pump-replay-go/internal/engine"
	"github.com/MJE43/pump-replay-go/internal/pump"
	"github.com/MJE43/pump-replay-go/internal/store"
)

// exportPageSize bounds memory while streaming large runs.
const exportPageSize = 10_000

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func csvHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// GET /runs/{runID}/distances.csv?multiplier=&tol=
func (s *Server) handleRunDistancesCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	multiplier, tol, ok := distanceParams(w, r)
	if !ok {
		return
	}

	nonces, err := s.runs.HitNonces(r.Context(), run.ID, multiplier, tol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to read hits", "")
		return
	}
	res := analysis.FromNonces(nonces)

	csvHeaders(w, fmt.Sprintf("run_%s_distances.csv", run.ID))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"from_nonce", "distance"})
	for i, gap := range res.Gaps {
		// Gaps[i] is the distance from Nonces[i] to Nonces[i+1].
		_ = cw.Write([]string{
			strconv.FormatUint(res.Nonces[i], 10),
			strconv.FormatUint(gap, 10),
		})
	}
	cw.Flush()
}

// GET /runs/{runID}/export/hits.csv
func (s *Server) handleExportHitsCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	csvHeaders(w, fmt.Sprintf("run_%s_hits.csv", run.ID))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"nonce", "max_multiplier"})

	for offset := 0; ; offset += exportPageSize {
		hits, _, err := s.runs.GetHits(r.Context(), run.ID, store.HitFilter{
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return
		}
		for _, h := range hits {
			_ = cw.Write([]string{
				strconv.FormatUint(h.Nonce, 10),
				formatFloat(h.MaxMultiplier),
			})
		}
		if len(hits) < exportPageSize {
			break
		}
	}
	cw.Flush()
}

// GET /runs/{runID}/export/full.csv
//
// Replays every nonce in the run's range rather than reading stored hits, so
// the export carries pop points and pump counts for misses too.
func (s *Server) handleExportFullCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	difficulty := pump.Difficulty(run.Difficulty)
	if !difficulty.Valid() {
		writeError(w, http.StatusInternalServerError, CodeEngineError, "run has invalid difficulty", "")
		return
	}

	csvHeaders(w, fmt.Sprintf("run_%s_full.csv", run.ID))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"nonce", "max_pumps", "max_multiplier", "pop_point"})

	eval := pump.NewEvaluator(engine.Seeds{Server: run.ServerSeed, Client: run.ClientSeed})
	ctx := r.Context()
	for nonce := run.NonceStart; nonce <= run.NonceEnd; nonce++ {
		if nonce%4096 == 0 && ctx.Err() != nil {
			return
		}
		out, err := eval.Outcome(nonce, difficulty)
		if err != nil {
			return
		}
		_ = cw.Write([]string{
			strconv.FormatUint(nonce, 10),
			strconv.Itoa(out.SafePumps),
			formatFloat(out.Multiplier),
			strconv.Itoa(out.PopPoint),
		})
	}
	cw.Flush()
}
