package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MJE43/pump-replay-go/internal/analysis"
	"github.com/MJE43/pump-replay-go/internal/livestore"
	"github.com/MJE43/pump-replay-go/internal/scan"
)

// maxBatchMultipliers bounds /hits/batch fan-out.
const maxBatchMultipliers = 25

// betTimeLayouts covers the timestamp formats the bot has been seen sending.
var betTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseBetTime(raw string) time.Time {
	for _, layout := range betTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func (s *Server) checkIngestToken(r *http.Request) bool {
	if s.cfg.IngestToken == "" {
		return true
	}
	return r.Header.Get("X-Ingest-Token") == s.cfg.IngestToken
}

// POST /live/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.checkIngestToken(r) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid ingest token", "")
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var payload IngestPayload
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid JSON: "+err.Error(), "")
		return
	}
	if field, msg := validateIngest(&payload); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, msg, field)
		return
	}

	ctx := r.Context()
	streamID, err := s.live.FindOrCreateStream(ctx, payload.ServerSeedHashed, payload.ClientSeed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to resolve stream", "")
		return
	}

	bet := livestore.Bet{
		BetID:       payload.ID,
		PlacedAt:    parseBetTime(payload.DateTime),
		Nonce:       payload.Nonce,
		Amount:      payload.Amount,
		Payout:      payload.Payout,
		Difficulty:  payload.Difficulty,
		RoundResult: payload.RoundResult,
	}
	err = s.live.IngestBet(ctx, streamID, bet)
	if errors.Is(err, livestore.ErrDuplicateBet) {
		writeJSON(w, http.StatusOK, IngestResponse{Accepted: false, StreamID: streamID.String(), Reason: "duplicate"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to store bet", "")
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Accepted: true, StreamID: streamID.String()})
}

func validateIngest(p *IngestPayload) (field, msg string) {
	if p.ID == "" {
		return "id", "id is required"
	}
	if p.ServerSeedHashed == "" {
		return "serverSeedHashed", "serverSeedHashed is required"
	}
	if p.ClientSeed == "" {
		return "clientSeed", "clientSeed is required"
	}
	if p.Nonce < 1 {
		return "nonce", "nonce must be >= 1"
	}
	return "", ""
}

// GET /live/streams
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	streams, total, err := s.live.ListStreams(r.Context(), queryInt(q.Get("limit"), 100), queryInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to list streams", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams, "total": total})
}

func (s *Server) streamID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "streamID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid stream id", "streamID")
		return uuid.Nil, false
	}
	return id, true
}

// GET /live/streams/{streamID}
func (s *Server) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	stream, err := s.live.GetStream(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, CodeNotFound, "stream not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to load stream", "")
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

// PUT /live/streams/{streamID}
func (s *Server) handleStreamUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "invalid JSON", "")
		return
	}
	if err := s.live.UpdateNotes(r.Context(), id, body.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to update stream", "")
		return
	}
	stream, err := s.live.GetStream(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "stream not found", "")
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

// DELETE /live/streams/{streamID}
func (s *Server) handleStreamDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	if err := s.live.DeleteStream(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to delete stream", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /live/streams/{streamID}/bets?min_result=&order=&limit=&offset=
func (s *Server) handleStreamBets(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var minResult float64
	if raw := q.Get("min_result"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "min_result must be a number", "min_result")
			return
		}
		minResult = v
	}
	ascending := q.Get("order") != "desc"

	bets, total, err := s.live.ListBets(r.Context(), id, minResult, ascending,
		queryInt(q.Get("limit"), 100), queryInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to list bets", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "total": total})
}

// GET /live/streams/{streamID}/tail?since_id=
func (s *Server) handleStreamTail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	sinceID, _ := strconv.ParseInt(q.Get("since_id"), 10, 64)

	bets, err := s.live.TailBets(r.Context(), id, sinceID, queryInt(q.Get("limit"), 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to tail bets", "")
		return
	}
	lastID := sinceID
	if len(bets) > 0 {
		lastID = bets[len(bets)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "last_id": lastID})
}

// GET /live/streams/{streamID}/multipliers
func (s *Server) handleStreamMultipliers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	multipliers, err := s.live.Multipliers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to list multipliers", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"multipliers": multipliers})
}

// GET /live/streams/{streamID}/hits?multiplier=&tol=
func (s *Server) handleStreamHits(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	multiplier, tol, ok := distanceParams(w, r)
	if !ok {
		return
	}
	payload, err := s.streamDistances(r, id, multiplier, tol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to read hits", "")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// GET /live/streams/{streamID}/hits/stats?multiplier=&tol=
func (s *Server) handleStreamHitStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	multiplier, tol, ok := distanceParams(w, r)
	if !ok {
		return
	}
	payload, err := s.streamDistances(r, id, multiplier, tol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "failed to read hits", "")
		return
	}
	writeJSON(w, http.StatusOK, StreamHitStats{
		Multiplier: payload.Multiplier,
		Tol:        payload.Tol,
		Count:      payload.Count,
		Stats:      payload.Stats,
	})
}

// GET /live/streams/{streamID}/hits/batch?multipliers=1.63,2.43&tol=
//
// One round trip for dashboards polling several multipliers at once.
func (s *Server) handleStreamHitsBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var multipliers []float64
	for _, raw := range strings.Split(q.Get("multipliers"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation,
				"multipliers must be a comma-separated list of numbers", "multipliers")
			return
		}
		multipliers = append(multipliers, m)
	}
	if len(multipliers) == 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "multipliers is required", "multipliers")
		return
	}
	if len(multipliers) > maxBatchMultipliers {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation,
			fmt.Sprintf("at most %d multipliers per batch", maxBatchMultipliers), "multipliers")
		return
	}

	tol := scan.ATOL
	if raw := q.Get("tol"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "tol must be >= 0", "tol")
			return
		}
		tol = v
	}

	out := make(map[string]DistancePayload, len(multipliers))
	for _, m := range multipliers {
		payload, err := s.streamDistances(r, id, m, tol)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeServerError, "failed to read hits", "")
			return
		}
		out[scan.FormatTarget(m)] = payload
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) streamDistances(r *http.Request, id uuid.UUID, multiplier, tol float64) (DistancePayload, error) {
	nonces, err := s.live.HitNonces(r.Context(), id, multiplier, tol)
	if err != nil {
		return DistancePayload{}, err
	}
	res := analysis.FromNonces(nonces)
	return DistancePayload{
		Multiplier: multiplier,
		Tol:        tol,
		Count:      res.Count,
		Nonces:     res.Nonces,
		Distances:  res.Gaps,
		Stats:      res.Stats,
	}, nil
}

// GET /live/streams/{streamID}/export.csv
func (s *Server) handleStreamExportCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	if _, err := s.live.GetStream(r.Context(), id); errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, CodeNotFound, "stream not found", "")
		return
	}

	csvHeaders(w, "stream_"+id.String()+".csv")
	if err := s.live.ExportCSV(r.Context(), w, id); err != nil {
		s.logger.Printf("stream_export_failed stream=%s err=%v", id, err)
	}
}
