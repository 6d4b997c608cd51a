// Package answer records one answer at a time against an incident and emits
// its transcript line.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/incidentops/sopflow/pkg/workflow"
)

// Submission is one answer posted by a client.
type Submission struct {
	QuestionID     int64  `json:"question_id"`
	AnswerText     string `json:"answer_text"`
	IncidentNumber string `json:"incident_number"`
	WorkflowID     int64  `json:"workflow_id"`
	// QuestionText overrides the stored question text in the transcript.
	QuestionText string `json:"question_text,omitempty"`
	// Timestamp is the client submit time, RFC 3339. Defaults to now.
	Timestamp string `json:"timestamp,omitempty"`
	// RenderedAt is when the client showed the question, RFC 3339.
	RenderedAt string `json:"rendered_at,omitempty"`
	Skipped    bool   `json:"is_skipped,omitempty"`
}

// Result reports what Submit stored.
type Result struct {
	AnswerID       int64  `json:"answer_id"`
	ResponseID     int64  `json:"response_id"`
	Sequence       int    `json:"sequence"`
	IsLastQuestion bool   `json:"is_last_question"`
	SessionID      string `json:"session_id"`
}

// TranscriptSink receives the rendered transcript lines.
type TranscriptSink interface {
	AppendToBuffer(ctx context.Context, incident, text string) error
	AppendToIncidentLog(ctx context.Context, incident, text, workflowName string) error
	Entry(number int, question, answer string, at time.Time) string
}

// Pipeline validates, stores and transcribes answers.
type Pipeline struct {
	store    *workflow.Store
	sink     TranscriptSink
	sessions *Sessions
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(store *workflow.Store, sink TranscriptSink, sessions *Sessions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = NewSessions(logger)
	}
	return &Pipeline{
		store:    store,
		sink:     sink,
		sessions: sessions,
		logger:   logger.With("component", "answer"),
		now:      time.Now,
	}
}

// Sessions returns the session registry.
func (p *Pipeline) Sessions() *Sessions {
	return p.sessions
}

// Submit stores one answer and appends its transcript line to both sinks in
// a single transaction. A failure anywhere, sinks included, rolls the answer
// back. The interaction session is released when the last question of the
// workflow is answered or when Submit fails.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (res *Result, err error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}
	submittedAt, err := parseTime("timestamp", sub.Timestamp, p.now)
	if err != nil {
		return nil, err
	}
	var renderedAt *time.Time
	if sub.RenderedAt != "" {
		t, err := parseTime("rendered_at", sub.RenderedAt, p.now)
		if err != nil {
			return nil, err
		}
		renderedAt = &t
	}

	session := p.sessions.Acquire(sub.WorkflowID, sub.IncidentNumber)
	defer func() {
		switch {
		case err != nil:
			p.sessions.Release(session, "error")
		case res.IsLastQuestion:
			p.sessions.Release(session, "completed")
		}
	}()

	err = p.store.Transaction(ctx, func(ctx context.Context, tx *workflow.Store) error {
		name, err := tx.WorkflowName(ctx, sub.WorkflowID)
		if err != nil {
			return err
		}
		q, err := tx.QuestionWithOptions(ctx, sub.QuestionID)
		if err != nil {
			return err
		}
		if q.WorkflowID != sub.WorkflowID {
			return fmt.Errorf("%w: question %d does not belong to workflow %d", workflow.ErrValidation, q.ID, sub.WorkflowID)
		}

		text := sub.AnswerText
		if sub.Skipped {
			if q.Required {
				return fmt.Errorf("%w: question %d is required and cannot be skipped", workflow.ErrValidation, q.ID)
			}
			text = workflow.SkippedAnswerText
		} else if err := workflow.ValidateAnswer(q, text); err != nil {
			return err
		}

		sequence, err := tx.NextSequence(ctx, sub.WorkflowID, sub.IncidentNumber)
		if err != nil {
			return err
		}

		answer := &workflow.Answer{
			QuestionID:  q.ID,
			Text:        text,
			Skipped:     sub.Skipped,
			RenderedAt:  renderedAt,
			SubmittedAt: &submittedAt,
		}
		resp := &workflow.Response{
			IncidentNumber: sub.IncidentNumber,
			WorkflowID:     sub.WorkflowID,
			QuestionID:     q.ID,
			Sequence:       sequence,
		}
		if err := tx.RecordAnswer(ctx, answer, resp); err != nil {
			return err
		}

		last, err := tx.IsLastQuestion(ctx, sub.WorkflowID, q.ID)
		if err != nil {
			return err
		}

		questionText := strings.TrimSpace(sub.QuestionText)
		if questionText == "" {
			questionText = q.Text
		}
		line := p.sink.Entry(sequence, questionText, text, submittedAt)
		if err := p.sink.AppendToBuffer(ctx, sub.IncidentNumber, line); err != nil {
			return err
		}
		if err := p.sink.AppendToIncidentLog(ctx, sub.IncidentNumber, line, name); err != nil {
			return err
		}

		res = &Result{
			AnswerID:       answer.ID,
			ResponseID:     resp.ID,
			Sequence:       sequence,
			IsLastQuestion: last,
			SessionID:      session.ID,
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("answer rejected",
			"workflowID", sub.WorkflowID,
			"questionID", sub.QuestionID,
			"incident", sub.IncidentNumber,
			"error", err,
		)
		return nil, err
	}

	p.sessions.Touch(sub.WorkflowID, sub.IncidentNumber)
	p.logger.Info("answer recorded",
		"workflowID", sub.WorkflowID,
		"questionID", sub.QuestionID,
		"incident", sub.IncidentNumber,
		"sequence", res.Sequence,
		"last", res.IsLastQuestion,
	)
	return res, nil
}

func (s *Submission) validate() error {
	var missing []string
	if s.QuestionID == 0 {
		missing = append(missing, "question_id")
	}
	if s.WorkflowID == 0 {
		missing = append(missing, "workflow_id")
	}
	s.IncidentNumber = strings.TrimSpace(s.IncidentNumber)
	if s.IncidentNumber == "" {
		missing = append(missing, "incident_number")
	}
	if !s.Skipped && strings.TrimSpace(s.AnswerText) == "" {
		missing = append(missing, "answer_text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", workflow.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func parseTime(field, value string, now func() time.Time) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", workflow.ErrValidation, field)
	}
	return t.UTC(), nil
}
