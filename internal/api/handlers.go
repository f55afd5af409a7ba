package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/datetime"
	"github.com/hackgods/doctalk-booking/internal/voice"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

func turnHandler(orch *booking.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res := orch.HandleTurn(r.Context(), booking.TurnRequest{
			SessionID:  chi.URLParam(r, "id"),
			Transcript: req.Transcript,
			Intent:     req.Intent,
			Entities:   req.Entities,
		})
		writeJSON(w, resultStatus(res), res)
	}
}

func utteranceHandler(pipeline *voice.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pipeline == nil {
			writeError(w, http.StatusServiceUnavailable, "voice_unavailable", "voice pipeline is not configured")
			return
		}

		var req UtteranceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		id := chi.URLParam(r, "id")
		var reply voice.Reply
		if len(req.Audio) > 0 {
			reply = pipeline.ProcessAudio(r.Context(), id, req.Audio, req.Format)
		} else {
			reply = pipeline.ProcessText(r.Context(), id, req.Text)
		}
		writeJSON(w, resultStatus(reply.Result), reply)
	}
}

func resetHandler(orch *booking.Orchestrator, log *logger.Logger) http.HandlerFunc {
	log = logger.OrNop(log)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeInternalError(w, r, log, "reset session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(orch *booking.Orchestrator, log *logger.Logger) http.HandlerFunc {
	log = logger.OrNop(log)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		turns, err := orch.History(r.Context(), id)
		if err != nil {
			writeInternalError(w, r, log, "load history", err)
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Turns: turns})
	}
}

func availabilityHandler(orch *booking.Orchestrator, log *logger.Logger) http.HandlerFunc {
	log = logger.OrNop(log)
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("doctor")
		if name == "" {
			writeError(w, http.StatusBadRequest, "missing_doctor", "doctor query parameter is required")
			return
		}

		doc, err := orch.Doctors().Find(r.Context(), name)
		if err != nil {
			handleAvailabilityError(w, r, log, err)
			return
		}

		day := orch.Dates().Today()
		if fragment := r.URL.Query().Get("date"); fragment != "" {
			day, err = orch.Dates().ParseDate(fragment)
			if err != nil {
				handleAvailabilityError(w, r, log, err)
				return
			}
		}

		avail, err := orch.Availability().Availability(r.Context(), *doc, day)
		if err != nil {
			handleAvailabilityError(w, r, log, err)
			return
		}

		resp := AvailabilityResponse{
			DoctorID:   doc.ID.String(),
			DoctorName: doc.DisplayName(),
			Date:       day.Format(datetime.DateLayout),
			Slots:      avail.FreeSlots(day),
		}
		if len(resp.Slots) == 0 {
			resp.Slots = []time.Time{}
			next, err := orch.Availability().NextAvailable(r.Context(), *doc, day.AddDate(0, 0, 1), 0)
			if err != nil {
				handleAvailabilityError(w, r, log, err)
				return
			}
			resp.NextAvailable = next
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAvailabilityError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, datetime.ErrInvalidDateTime):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	default:
		writeInternalError(w, r, log, "check availability", err)
	}
}

// writeInternalError logs the cause and answers with a generic message;
// driver errors never reach the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, log *logger.Logger, op string, err error) {
	log.Error(op+" failed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}

// resultStatus maps a turn result to an HTTP status. Domain outcomes are
// 200; only the generic infrastructure failure is a 500.
func resultStatus(res booking.Result) int {
	if res.Action == booking.ActionError {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
