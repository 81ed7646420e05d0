package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/pump-replay-go/internal/analysis"
	"github.com/MJE43/pump-replay-go/internal/engine"
	"github.com/MJE43/pump-replay-go/internal/pump"
	"github.com/MJE43/pump-replay-go/internal/scan"
	"github.com/MJE43/pump-replay-go/internal/store"
)

// hashSeed produces a short fingerprint so logs never carry raw seeds.
func hashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

func seedSHA256(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// GET /verify?server_seed=&client_seed=&nonce=&difficulty=
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serverSeed := q.Get("server_seed")
	clientSeed := q.Get("client_seed")
	if serverSeed == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "server_seed is required", "server_seed")
		return
	}
	if clientSeed == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "client_seed is required", "client_seed")
		return
	}
	nonce, err := strconv.ParseUint(q.Get("nonce"), 10, 64)
	if err != nil || nonce < 1 {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "nonce must be >= 1", "nonce")
		return
	}
	difficulty := pump.Difficulty(q.Get("difficulty"))
	if !difficulty.Valid() {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid difficulty", "difficulty")
		return
	}

	out, err := pump.Verify(serverSeed, clientSeed, nonce, difficulty)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeEngineError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid JSON", "")
		return
	}
	if field, msg := validateRunCreate(&req); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, msg, field)
		return
	}
	if count := req.End - req.Start + 1; count > s.cfg.MaxNonces {
		writeError(w, http.StatusRequestEntityTooLarge, CodeRangeTooLarge,
			fmt.Sprintf("range too large (>%d)", s.cfg.MaxNonces), "")
		return
	}

	s.logger.Printf("scan_request server_hash=%s client_hash=%s range=%d-%d difficulty=%s targets=%d",
		hashSeed(req.ServerSeed), hashSeed(req.ClientSeed), req.Start, req.End, req.Difficulty, len(req.Targets))

	ctx := r.Context()
	if s.cfg.ScanTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.ScanTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	res, err := s.scanner.Scan(ctx, scan.Request{
		Seeds:      engine.Seeds{Server: req.ServerSeed, Client: req.ClientSeed},
		Start:      req.Start,
		End:        req.End,
		Difficulty: pump.Difficulty(req.Difficulty),
		Targets:    req.Targets,
		Tolerance:  req.Tolerance,
		MaxRange:   s.cfg.MaxNonces,
	})
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrCancelled):
			writeError(w, http.StatusRequestTimeout, CodeTimeout, err.Error(), "")
		case errors.Is(err, scan.ErrInvalidRange), errors.Is(err, scan.ErrMalformedTargets),
			errors.Is(err, pump.ErrInvalidDifficulty):
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), "")
		default:
			writeError(w, http.StatusInternalServerError, CodeEngineError, err.Error(), "")
		}
		return
	}

	hits, err := collectHits(req.ServerSeed, req.ClientSeed, pump.Difficulty(req.Difficulty), res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeEngineError, err.Error(), "")
		return
	}

	summaryJSON, _ := json.Marshal(res.Summary)
	targetsJSON, _ := json.Marshal(res.Summary.Targets)
	run := &store.Run{
		ServerSeed:       req.ServerSeed,
		ServerSeedSHA256: seedSHA256(req.ServerSeed),
		ClientSeed:       req.ClientSeed,
		Difficulty:       req.Difficulty,
		NonceStart:       req.Start,
		NonceEnd:         req.End,
		TargetsJSON:      string(targetsJSON),
		SummaryJSON:      string(summaryJSON),
		DurationMs:       res.Summary.DurationMs,
		EngineVersion:    res.Summary.EngineVersion,
	}
	if err := s.runs.SaveRun(r.Context(), run, hits); err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to persist run", "")
		return
	}

	s.logger.Printf("scan_completed run=%s hits=%d duration_ms=%d", run.ID, len(hits), res.Summary.DurationMs)

	hitsByTarget := make(map[string][]uint64, len(res.HitsByTarget))
	for target, nonces := range res.HitsByTarget {
		hitsByTarget[scan.FormatTarget(target)] = nonces
	}
	detail := runDetailFrom(run, &res.Summary, res.Summary.Targets, hitsByTarget)
	writeJSON(w, http.StatusCreated, detail)
}

// collectHits dedupes hit nonces across targets and replays each to record
// its actual multiplier.
func collectHits(serverSeed, clientSeed string, difficulty pump.Difficulty, res *scan.Result) ([]store.Hit, error) {
	nonceSet := make(map[uint64]struct{})
	for _, nonces := range res.HitsByTarget {
		for _, n := range nonces {
			nonceSet[n] = struct{}{}
		}
	}
	nonces := make([]uint64, 0, len(nonceSet))
	for n := range nonceSet {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	eval := pump.NewEvaluator(engine.Seeds{Server: serverSeed, Client: clientSeed})
	hits := make([]store.Hit, 0, len(nonces))
	for _, n := range nonces {
		out, err := eval.Outcome(n, difficulty)
		if err != nil {
			return nil, err
		}
		hits = append(hits, store.Hit{Nonce: n, MaxMultiplier: out.Multiplier})
	}
	return hits, nil
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	difficulty := q.Get("difficulty")
	if difficulty != "" && !pump.Difficulty(difficulty).Valid() {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid difficulty", "difficulty")
		return
	}

	runs, total, err := s.runs.ListRuns(r.Context(), store.RunFilter{
		Search:     q.Get("search"),
		Difficulty: difficulty,
		Limit:      queryInt(q.Get("limit"), 50),
		Offset:     queryInt(q.Get("offset"), 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to list runs", "")
		return
	}

	out := make([]RunRead, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		var summary scan.Summary
		_ = json.Unmarshal([]byte(run.SummaryJSON), &summary)
		out = append(out, RunRead{
			ID:               run.ID,
			CreatedAt:        run.CreatedAt,
			ServerSeedSHA256: run.ServerSeedSHA256,
			ClientSeed:       run.ClientSeed,
			Difficulty:       run.Difficulty,
			NonceStart:       run.NonceStart,
			NonceEnd:         run.NonceEnd,
			DurationMs:       run.DurationMs,
			EngineVersion:    run.EngineVersion,
			HitCount:         run.HitCount,
			CountsByTarget:   summary.CountsByTarget,
		})
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: out, Total: total})
}

// GET /runs/{runID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var summary scan.Summary
	_ = json.Unmarshal([]byte(run.SummaryJSON), &summary)
	var targets []float64
	_ = json.Unmarshal([]byte(run.TargetsJSON), &targets)
	writeJSON(w, http.StatusOK, runDetailFrom(run, &summary, targets, nil))
}

// GET /runs/{runID}/hits?min_multiplier=&limit=&offset=&include_distance=per_multiplier
func (s *Server) handleRunHits(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := store.HitFilter{
		Limit:  queryInt(q.Get("limit"), 100),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if raw := q.Get("min_multiplier"); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "min_multiplier must be a number", "min_multiplier")
			return
		}
		filter.MinMultiplier = &m
	}

	hits, total, err := s.runs.GetHits(r.Context(), run.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to read hits", "")
		return
	}

	rows := make([]HitRow, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, HitRow{Nonce: h.Nonce, MaxMultiplier: h.MaxMultiplier})
	}

	if mode := q.Get("include_distance"); mode != "" {
		if mode != distancePerMultiplier && mode != distanceFiltered {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation,
				"include_distance must be per_multiplier or filtered", "include_distance")
			return
		}
		if len(rows) > 0 {
			s.attachDistances(r, run.ID, filter, mode, rows)
		}
	}

	writeJSON(w, http.StatusOK, HitsPage{Total: total, Rows: rows})
}

const (
	distancePerMultiplier = "per_multiplier"
	distanceFiltered      = "filtered"
)

// attachDistances fills DistancePrev for each row. In per_multiplier mode the
// gap is to the previous hit with the same bucketed multiplier; in filtered
// mode it is to the immediately preceding hit in the filtered set. Either way
// the previous hit may lie anywhere in the run, so the full filtered hit list
// is walked in pages rather than read in one capped query.
func (s *Server) attachDistances(r *http.Request, runID string, filter store.HitFilter, mode string, rows []HitRow) {
	wanted := make(map[uint64]int, len(rows))
	for i, row := range rows {
		wanted[row.Nonce] = i
	}

	lastByBucket := make(map[float64]uint64)
	var prevNonce uint64
	havePrev := false

	for offset := 0; ; offset += exportPageSize {
		hits, _, err := s.runs.GetHits(r.Context(), runID, store.HitFilter{
			MinMultiplier: filter.MinMultiplier,
			Limit:         exportPageSize,
			Offset:        offset,
		})
		if err != nil {
			return
		}
		for _, h := range hits {
			var gap uint64
			hasGap := false
			if mode == distanceFiltered {
				if havePrev {
					gap, hasGap = h.Nonce-prevNonce, true
				}
				prevNonce, havePrev = h.Nonce, true
			} else {
				b := analysis.Bucket(h.MaxMultiplier)
				if prev, seen := lastByBucket[b]; seen {
					gap, hasGap = h.Nonce-prev, true
				}
				lastByBucket[b] = h.Nonce
			}
			if i, ok := wanted[h.Nonce]; ok && hasGap {
				g := gap
				rows[i].DistancePrev = &g
			}
		}
		if len(hits) < exportPageSize {
			break
		}
	}
}

// GET /runs/{runID}/distances?multiplier=&tol=
func (s *Server) handleRunDistances(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, DistancePayload{
		Multiplier: multiplier,
		Tol:        tol,
		Count:      res.Count,
		Nonces:     res.Nonces,
		Distances:  res.Gaps,
		Stats:      res.Stats,
	})
}

func distanceParams(w http.ResponseWriter, r *http.Request) (multiplier, tol float64, ok bool) {
	q := r.URL.Query()
	multiplier, err := strconv.ParseFloat(q.Get("multiplier"), 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "multiplier is required", "multiplier")
		return 0, 0, false
	}
	tol = scan.ATOL
	if raw := q.Get("tol"); raw != "" {
		tol, err = strconv.ParseFloat(raw, 64)
		if err != nil || tol < 0 {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "tol must be >= 0", "tol")
			return 0, 0, false
		}
	}
	return multiplier, tol, true
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNotFound, "run not found", "")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to load run", "")
		return nil, false
	}
	return run, true
}

func queryInt(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func validateRunCreate(req *RunCreateRequest) (field, msg string) {
	if req.ServerSeed == "" {
		return "server_seed", "server_seed is required"
	}
	if req.ClientSeed == "" {
		return "client_seed", "client_seed is required"
	}
	if req.Start < 1 {
		return "start", "start must be >= 1"
	}
	if req.End < req.Start {
		return "end", "end must be >= start"
	}
	if !pump.Difficulty(req.Difficulty).Valid() {
		return "difficulty", "invalid difficulty"
	}
	if len(req.Targets) == 0 {
		return "targets", "targets must be a non-empty list"
	}
	return "", ""
}
