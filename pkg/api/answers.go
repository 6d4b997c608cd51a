package api

import (
	"net/http"

	"github.com/incidentops/sopflow/pkg/answer"
)

// SubmitAnswerHandler handles POST /api/questions/answer
func SubmitAnswerHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub answer.Submission
		if err := decodeJSON(r, &sub); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := d.Answers.Submit(r.Context(), sub)
		if err != nil {
			d.Metrics.ObserveAnswer(outcome(err))
			writeDomainError(w, err)
			return
		}
		d.Metrics.ObserveAnswer("recorded")

		writeJSON(w, http.StatusCreated, map[string]any{
			"message":          "Answer submitted successfully",
			"answer_id":        res.AnswerID,
			"response_id":      res.ResponseID,
			"sequence":         res.Sequence,
			"is_last_question": res.IsLastQuestion,
			"session_id":       res.SessionID,
		})
	}
}
