package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"trading-riskv1/internal/display"
	"trading-riskv1/internal/engine"
	"trading-riskv1/internal/logger"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
)

// IntentRequest is the body of POST /api/positions/{token}/intents.
type IntentRequest struct {
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	DryRun bool   `json:"dry_run"`
}

// IntentResponse echoes the sized order.
type IntentResponse struct {
	Status string            `json:"status"` // filled or preview
	Order  display.OrderView `json:"order"`
	Query  string            `json:"query"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func role(r *http.Request) string {
	return r.Header.Get(RoleHeader)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	agg := s.engine.Aggregates()
	respondJSON(w, http.StatusOK, s.scaler.Positions(agg.Positions, role(r)))
}

func (s *Server) handleGetAggregates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scaler.Aggregates(s.engine.Aggregates(), role(r)))
}

func (s *Server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := s.engine.Quotes()
	if quotes == nil {
		quotes = []portfolio.Quote{}
	}
	respondJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleGetIntentKinds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sizing.Kinds)
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	if s.fills == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "", "fill journal not configured")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "validation", "limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.fills.GetFills(r.Context(), r.URL.Query().Get("token"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "", err.Error())
		return
	}
	out := make([]display.FillView, 0, len(records))
	for _, rec := range records {
		out = append(out, s.scaler.Fill(rec.Fill, role(r)))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "body", "invalid JSON")
		return
	}

	intent, err := sizing.ParseIntent(token, req.Kind, req.Value)
	if err != nil {
		s.respondIntentError(w, err)
		return
	}

	if req.DryRun {
		order, err := s.engine.Translate(intent)
		if err != nil {
			s.respondIntentError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, IntentResponse{Status: "preview", Order: s.scaler.Order(order, role(r)), Query: order.Query()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SubmitTimeout)
	defer cancel()
	order, err := s.engine.Submit(ctx, intent)
	if err != nil {
		slog.Warn("intent failed", append(logger.LogWithTrace(ctx),
			slog.String("token", token),
			slog.String("kind", req.Kind),
			slog.String("error", err.Error()))...)
		s.respondIntentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, IntentResponse{Status: "filled", Order: s.scaler.Order(order, role(r)), Query: order.Query()})
}

// respondIntentError maps sizing and execution errors to HTTP statuses.
func (s *Server) respondIntentError(w http.ResponseWriter, err error) {
	var verr *sizing.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "validation", verr.Field, err.Error())
	case errors.Is(err, sizing.ErrMissingPosition):
		respondError(w, http.StatusNotFound, "missing_position", "", err.Error())
	case errors.Is(err, sizing.ErrDivisionByZero):
		respondError(w, http.StatusUnprocessableEntity, "division_by_zero", "", err.Error())
	case errors.Is(err, engine.ErrExecution):
		respondError(w, http.StatusBadGateway, "execution", "", err.Error())
	case errors.Is(err, portfolio.ErrUnknownPosition):
		respondError(w, http.StatusConflict, "ledger", "", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", "", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("response encode failed", slog.String("error", err.Error()))
	}
}

func respondError(w http.ResponseWriter, status int, code, field, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Field: field, Message: message})
}
