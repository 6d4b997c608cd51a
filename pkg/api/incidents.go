package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/incidentops/sopflow/pkg/workflow"
)

// CheckIncidentLogHandler handles GET /api/incident-log/check
// Query params: incidentlog_prk, workflow_id
func CheckIncidentLogHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prk := strings.TrimSpace(r.URL.Query().Get("incidentlog_prk"))
		if prk == "" {
			writeError(w, http.StatusBadRequest, "incidentlog_prk is required")
			return
		}
		workflowID, err := strconv.ParseInt(r.URL.Query().Get("workflow_id"), 10, 64)
		if err != nil || workflowID <= 0 {
			writeError(w, http.StatusBadRequest, "workflow_id must be a positive integer")
			return
		}

		inc, err := d.Incidents.GetIncident(r.Context(), prk)
		if errors.Is(err, workflow.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if inc.IsClosed() {
			writeError(w, http.StatusBadRequest, "Incident is closed")
			return
		}

		linked, err := d.Workflows.WorkflowIDsForIncident(r.Context(), prk)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, id := range linked {
			if id != workflowID {
				writeError(w, http.StatusBadRequest, "Incident is already linked to another workflow")
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
	}
}

// IncidentCategoryHandler handles GET /api/incident/category?incidentlog_prk=
func IncidentCategoryHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prk := strings.TrimSpace(r.URL.Query().Get("incidentlog_prk"))
		if prk == "" {
			writeError(w, http.StatusBadRequest, "incidentlog_prk is required")
			return
		}
		name, err := d.Incidents.WorkflowNameForIncident(r.Context(), prk)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := map[string]any{"workflow_name": name}
		if id, found, err := d.Workflows.GetIDByName(r.Context(), name); err == nil && found {
			resp["workflow_id"] = id
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
