package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/incidentops/sopflow/pkg/workflow"
)

// CreateWorkflowHandler handles POST /api/workflows
func CreateWorkflowHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec workflow.WorkflowSpec
		if err := decodeJSON(r, &spec); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(spec.Name) == "" {
			writeError(w, http.StatusBadRequest, "workflow_name is required")
			return
		}

		unique, err := d.Workflows.IsNameUnique(r.Context(), spec.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !unique {
			d.Metrics.ObserveWorkflowChange("create", "conflict")
			writeError(w, http.StatusBadRequest, "Workflow name already exists")
			return
		}

		wf, err := d.Builder.Build(r.Context(), &spec)
		d.Metrics.ObserveWorkflowChange("create", outcome(err))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		d.Cache.InvalidateListings()

		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Workflow created successfully",
			"workflow_id": wf.ID,
		})
	}
}

// GetWorkflowHandler handles GET /api/workflows/{workflowId}
func GetWorkflowHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		structure, err := d.Workflows.GetStructure(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, structure)
	}
}

// UpdateWorkflowHandler handles PATCH /api/workflows/{workflowId}
// Query params: mode (merge or replace)
func UpdateWorkflowHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		mode := d.DefaultUpdateMode
		if m := r.URL.Query().Get("mode"); m != "" {
			parsed, err := workflow.ParseUpdateMode(m)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			mode = parsed
		}

		var spec workflow.WorkflowSpec
		if err := decodeJSON(r, &spec); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		wf, err := d.Builder.Update(r.Context(), id, &spec, mode)
		d.Metrics.ObserveWorkflowChange("update", outcome(err))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		d.Cache.InvalidateWorkflow(id)

		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Workflow updated successfully",
			"workflow_id": wf.ID,
			"mode":        mode,
		})
	}
}

// DeleteWorkflowHandler handles DELETE /api/workflows/{workflowId}
func DeleteWorkflowHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		found, err := d.Workflows.Delete(r.Context(), id)
		d.Metrics.ObserveWorkflowChange("delete", outcome(err))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %d not found", id))
			return
		}
		d.Cache.InvalidateWorkflow(id)

		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Workflow %d deleted successfully", id),
		})
	}
}

// ListWorkflowDetailsHandler handles GET /api/workflows/details
func ListWorkflowDetailsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Workflows.ListAll(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ListAllQuestionsHandler handles GET /api/workflows/questions
func ListAllQuestionsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := d.Workflows.AllWorkflowQuestions(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

// CheckNameHandler handles GET /api/workflows/check-name?name=
func CheckNameHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if strings.TrimSpace(name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		unique, err := d.Workflows.IsNameUnique(r.Context(), name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"is_unique": unique})
	}
}

// GetWorkflowIDHandler handles POST /api/workflows/get_id
func GetWorkflowIDHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"workflow_name"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusBadRequest, "workflow_name is required")
			return
		}
		id, found, err := d.Workflows.GetIDByName(r.Context(), body.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", body.Name))
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"workflow_id": id})
	}
}

// ListQuestionsHandler handles GET /api/workflows/{workflowId}/questions
func ListQuestionsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		questions, err := d.Workflows.ListQuestions(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, questions)
	}
}

// QuestionsAndOptionsHandler handles GET /api/workflows/{workflowId}/questions-and-options
func QuestionsAndOptionsHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		details, err := d.Workflows.QuestionDetails(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	}
}

// ResponsesHandler handles GET /api/workflows/{workflowId}/responses/{incidentNumber}
func ResponsesHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowIDParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid workflow id")
			return
		}
		incident := chi.URLParam(r, "incidentNumber")
		records, err := d.Workflows.ResponsesForIncident(r.Context(), id, incident)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if len(records) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no responses for incident %s in workflow %d", incident, id))
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// LastQuestionIDHandler handles GET /api/questions/last-id
func LastQuestionIDHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := d.Workflows.LastQuestionID(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"last_question_id": id})
	}
}
