package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/trading"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. A pending
// confirmation comes back as 409 with the detail the caller must show
// before retrying with confirm=true.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var draftErr *trading.DraftError
	var confirmErr *trading.ConfirmationRequired

	switch {
	case errors.As(err, &draftErr):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &confirmErr):
		s.writeJSON(w, http.StatusConflict, errorResponse{
			Error:  "confirmation required",
			Action: confirmErr.Action,
			Detail: confirmErr.Detail,
		})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req trading.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	rec, err := s.service.CreateDraft(r.Context(), req)
	if err != nil {
		if rec != nil {
			// Verification errored out; the draft exists in a failed state.
			s.writeJSON(w, http.StatusUnprocessableEntity, rec)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	var (
		rec *store.StrategyRecord
		err error
	)
	if v := versionParam(r); v >= 0 {
		rec, err = s.service.GetVersion(r.PathValue("id"), v)
	} else {
		rec, err = s.service.Get(r.PathValue("id"))
	}
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	rec, err := s.service.UpdatePrompt(r.Context(), r.PathValue("id"), body.Prompt)
	if err != nil {
		if rec != nil {
			s.writeJSON(w, http.StatusUnprocessableEntity, rec)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func confirmParam(r *http.Request) bool {
	return r.URL.Query().Get("confirm") == "true"
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Enable(r.Context(), r.PathValue("id"), confirmParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Disable(r.Context(), r.PathValue("id"), confirmParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id"), confirmParam(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// versionParam parses ?version=N; absent means all versions.
func versionParam(r *http.Request) int {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return -1
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := s.service.GetSignals(r.PathValue("id"), versionParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.service.GetTrades(r.PathValue("id"), versionParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunBacktest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	report, err := s.analyzer.Analyze(rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePerformanceAll(w http.ResponseWriter, r *http.Request) {
	reports, err := s.analyzer.AnalyzeAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reports)
}
