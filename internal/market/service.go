package market

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Service exposes the request envelope over HTTP. Every request is
// decoded, validated, and handed to the single worker; the HTTP layer
// itself holds no state.
type Service struct {
	worker *Worker
}

// NewService creates the HTTP service over a worker.
func NewService(worker *Worker) *Service {
	return &Service{worker: worker}
}

// HandleRequest handles POST /api/v1/requests.
func (s *Service) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(ErrorBusiness, "invalid request body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(ErrorBusiness, err.Error()))
		return
	}

	resp, err := s.worker.Submit(r.Context(), req)
	if err != nil {
		// Client went away or the server is shutting down.
		slog.Warn("request abandoned", "type", req.Type, "err", err)
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse(ErrorInternal, err.Error()))
		return
	}

	writeJSON(w, statusFor(resp), resp)
}

func statusFor(resp Response) int {
	switch resp.Type {
	case RespCreated:
		return http.StatusCreated
	case RespError:
		switch resp.ErrorKind {
		case ErrorBusiness:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
