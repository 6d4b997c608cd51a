package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/incidentops/sopflow/pkg/workflow"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error kind to its HTTP status. Conflicts are reported as
// 400 like every other rejected request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrValidation), errors.Is(err, workflow.ErrConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func workflowIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "workflowId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
