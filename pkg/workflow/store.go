package workflow

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/incidentops/sopflow/pkg/db"
)

// Store persists workflows and the answers recorded against them.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(gdb *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: gdb, logger: logger}
}

// AutoMigrate creates or updates the workflow tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(Models()...)
}

// Transaction runs fn with a Store bound to a single database transaction.
// The context handed to fn carries the transaction so that other stores on
// the same database can join it. Errors returned by fn roll the transaction
// back and are returned as-is.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(db.ContextWithTx(ctx, tx), &Store{db: tx, logger: s.logger})
	})
	return translate("transaction", err)
}

// IsNameUnique reports whether no stored workflow has the same name after
// trimming and case-folding.
func (s *Store) IsNameUnique(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Workflow{}).
		Where("workflow_name_key = ?", NormalizeName(name)).
		Count(&n).Error
	if err != nil {
		return false, storageErr("check workflow name", err)
	}
	return n == 0, nil
}

// GetIDByName looks a workflow up by name, case-insensitively.
func (s *Store) GetIDByName(ctx context.Context, name string) (int64, bool, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).Select("workflow_id").
		Where("workflow_name_key = ?", NormalizeName(name)).
		Take(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("get workflow by name", err)
	}
	return wf.ID, true, nil
}

// WorkflowName returns the display name of a workflow.
func (s *Store) WorkflowName(ctx context.Context, id int64) (string, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).Select("workflow_id", "workflow_name").Take(&wf, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", notFound("workflow %d", id)
	}
	if err != nil {
		return "", storageErr("get workflow", err)
	}
	return wf.Name, nil
}

// GetStructure loads a workflow with its questions ordered by identifier and
// each question's options ordered by identifier.
func (s *Store) GetStructure(ctx context.Context, id int64) (*Structure, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).
		Preload("Questions", func(tx *gorm.DB) *gorm.DB { return tx.Order("question_id") }).
		Preload("Questions.Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("option_id") }).
		Take(&wf, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("workflow %d", id)
	}
	if err != nil {
		return nil, storageErr("get workflow structure", err)
	}
	return newStructure(&wf), nil
}

// ListAll returns every workflow, newest first.
func (s *Store) ListAll(ctx context.Context) ([]Summary, error) {
	var rows []Workflow
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("workflow_id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list workflows", err)
	}
	out := make([]Summary, 0, len(rows))
	for _, wf := range rows {
		out = append(out, Summary{ID: wf.ID, Name: wf.Name, IncidentType: wf.IncidentType, CreatedAt: wf.CreatedAt})
	}
	return out, nil
}

// Delete removes a workflow and everything that hangs off it. It reports
// false when the workflow does not exist. Dependents are removed explicitly
// so the result does not depend on the database enforcing cascades.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	found := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Workflow{}).Where("workflow_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			found = false
			return nil
		}

		var qids []int64
		if err := tx.Model(&Question{}).Where("workflow_id = ?", id).Pluck("question_id", &qids).Error; err != nil {
			return err
		}
		if err := tx.Where("workflow_id = ?", id).Delete(&Response{}).Error; err != nil {
			return err
		}
		if err := deleteQuestions(tx, qids); err != nil {
			return err
		}
		return tx.Delete(&Workflow{}, id).Error
	})
	if err != nil {
		return false, translate("delete workflow", err)
	}
	if found {
		s.logger.Info("workflow deleted", "workflowID", id)
	}
	return found, nil
}

// deleteQuestions removes questions with their responses, answers and options.
func deleteQuestions(tx *gorm.DB, qids []int64) error {
	if len(qids) == 0 {
		return nil
	}
	if err := tx.Where("question_id IN ?", qids).Delete(&Response{}).Error; err != nil {
		return err
	}
	if err := tx.Where("question_id IN ?", qids).Delete(&Answer{}).Error; err != nil {
		return err
	}
	if err := tx.Where("question_id IN ?", qids).Delete(&Option{}).Error; err != nil {
		return err
	}
	return tx.Where("question_id IN ?", qids).Delete(&Question{}).Error
}

// ListQuestions returns the questions of one workflow ordered by identifier.
func (s *Store) ListQuestions(ctx context.Context, workflowID int64) ([]QuestionSummary, error) {
	var rows []Question
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("question_id").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list questions", err)
	}
	return questionSummaries(rows), nil
}

// QuestionDetails returns every question of a workflow with all fields and
// options. A workflow without questions is reported as not found.
func (s *Store) QuestionDetails(ctx context.Context, workflowID int64) ([]QuestionDetail, error) {
	var rows []Question
	err := s.db.WithContext(ctx).
		Preload("Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("option_id") }).
		Where("workflow_id = ?", workflowID).
		Order("question_id").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list question details", err)
	}
	if len(rows) == 0 {
		return nil, notFound("no questions for workflow %d", workflowID)
	}
	out := make([]QuestionDetail, 0, len(rows))
	for _, q := range rows {
		out = append(out, QuestionDetail{
			ID:             q.ID,
			WorkflowID:     q.WorkflowID,
			Text:           q.Text,
			Type:           q.Type,
			Required:       q.Required,
			NextQuestionID: toIDRef(q.NextQuestionID),
			IsCompleted:    q.IsCompleted,
			Options:        optionNodes(q.Options),
		})
	}
	return out, nil
}

// AllWorkflowQuestions groups every question under its workflow identifier.
func (s *Store) AllWorkflowQuestions(ctx context.Context) (map[int64]*WorkflowQuestions, error) {
	var wfs []Workflow
	err := s.db.WithContext(ctx).
		Preload("Questions", func(tx *gorm.DB) *gorm.DB { return tx.Order("question_id") }).
		Order("workflow_id").
		Find(&wfs).Error
	if err != nil {
		return nil, storageErr("list workflow questions", err)
	}
	out := make(map[int64]*WorkflowQuestions, len(wfs))
	for _, wf := range wfs {
		out[wf.ID] = &WorkflowQuestions{Name: wf.Name, Questions: questionSummaries(wf.Questions)}
	}
	return out, nil
}

// LastQuestionID returns the highest question identifier across all
// workflows, or 0 when there are none.
func (s *Store) LastQuestionID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.WithContext(ctx).Model(&Question{}).Select("MAX(question_id)").Row().Scan(&id)
	if err != nil {
		return 0, storageErr("last question id", err)
	}
	return id.Int64, nil
}

// IsLastQuestion reports whether questionID is the highest identifier in its
// workflow.
func (s *Store) IsLastQuestion(ctx context.Context, workflowID, questionID int64) (bool, error) {
	var id sql.NullInt64
	err := s.db.WithContext(ctx).Model(&Question{}).
		Where("workflow_id = ?", workflowID).
		Select("MAX(question_id)").
		Row().Scan(&id)
	if err != nil {
		return false, storageErr("last question of workflow", err)
	}
	return id.Valid && id.Int64 == questionID, nil
}

// QuestionWithOptions loads one question and its options.
func (s *Store) QuestionWithOptions(ctx context.Context, questionID int64) (*Question, error) {
	var q Question
	err := s.db.WithContext(ctx).
		Preload("Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("option_id") }).
		Take(&q, questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("question %d", questionID)
	}
	if err != nil {
		return nil, storageErr("get question", err)
	}
	return &q, nil
}

// CountResponses returns how many answers an incident has recorded against a
// workflow.
func (s *Store) CountResponses(ctx context.Context, workflowID int64, incident string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Response{}).
		Where("workflow_id = ? AND incident_number = ?", workflowID, incident).
		Count(&n).Error
	if err != nil {
		return 0, storageErr("count responses", err)
	}
	return n, nil
}

// NextSequence returns the sequence the next answer of an incident gets in a
// workflow. It follows the highest stored sequence rather than the row count,
// since replace-mode updates delete the responses of removed questions.
func (s *Store) NextSequence(ctx context.Context, workflowID int64, incident string) (int, error) {
	var last sql.NullInt64
	err := s.db.WithContext(ctx).Model(&Response{}).
		Where("workflow_id = ? AND incident_number = ?", workflowID, incident).
		Select("MAX(sequence)").
		Row().Scan(&last)
	if err != nil {
		return 0, storageErr("next response sequence", err)
	}
	return int(last.Int64) + 1, nil
}

// RecordAnswer stores the answer and its response row. The response's
// sequence must be set by the caller; a duplicate sequence is a conflict.
func (s *Store) RecordAnswer(ctx context.Context, answer *Answer, resp *Response) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Create(answer).Error; err != nil {
		return translate("create answer", err)
	}
	resp.AnswerID = answer.ID
	if err := tx.Create(resp).Error; err != nil {
		return translate("create response", err)
	}
	return nil
}

// ResponsesForIncident returns the answers an incident recorded against a
// workflow in sequence order.
func (s *Store) ResponsesForIncident(ctx context.Context, workflowID int64, incident string) ([]ResponseRecord, error) {
	var out []ResponseRecord
	err := s.db.WithContext(ctx).Model(&Response{}).
		Select(`response.response_id, response.question_id, response.answer_id,
			answer.answer_text, response.sequence, response.created_at`).
		Joins("JOIN answer ON answer.answer_id = response.answer_id").
		Where("response.workflow_id = ? AND response.incident_number = ?", workflowID, incident).
		Order("response.sequence").
		Scan(&out).Error
	if err != nil {
		return nil, storageErr("list responses", err)
	}
	return out, nil
}

// WorkflowIDsForIncident lists the workflows an incident has answered.
func (s *Store) WorkflowIDsForIncident(ctx context.Context, incident string) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&Response{}).
		Where("incident_number = ?", incident).
		Distinct().
		Order("workflow_id").
		Pluck("workflow_id", &ids).Error
	if err != nil {
		return nil, storageErr("list incident workflows", err)
	}
	return ids, nil
}

func questionSummaries(rows []Question) []QuestionSummary {
	out := make([]QuestionSummary, 0, len(rows))
	for _, q := range rows {
		out = append(out, QuestionSummary{ID: q.ID, Text: q.Text, Type: q.Type})
	}
	return out
}

// translate passes package errors through and classifies driver errors.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict), errors.Is(err, ErrStorage):
		return err
	case db.IsUniqueViolation(err):
		return conflict("%s: %v", op, err)
	default:
		return storageErr(op, err)
	}
}
