package workflow

import (
	"strings"
	"time"
)

// QuestionType governs which answer shapes a question accepts.
type QuestionType string

const (
	MultipleChoice QuestionType = "MultipleChoice"
	CheckBox       QuestionType = "CheckBox"
	Subjective     QuestionType = "Subjective"
	Instruction    QuestionType = "Instruction"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, CheckBox, Subjective, Instruction:
		return true
	}
	return false
}

// HasOptions is true for the choice types that own Options.
func (t QuestionType) HasOptions() bool {
	return t == MultipleChoice || t == CheckBox
}

// Branches is true for the types whose own next_question_id is meaningful.
func (t QuestionType) Branches() bool {
	return t == Subjective || t == Instruction
}

// SkippedAnswerText is stored for answers to optional questions the user skipped.
const SkippedAnswerText = "SKIPPED"

// Workflow is the GORM model for a questionnaire.
type Workflow struct {
	ID           int64      `gorm:"primaryKey;column:workflow_id"`
	Name         string     `gorm:"column:workflow_name;size:255;not null"`
	NameKey      string     `gorm:"column:workflow_name_key;size:255;not null;uniqueIndex:idx_workflow_name_key"`
	IncidentType string     `gorm:"column:incident_type;size:255;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	Questions    []Question `gorm:"foreignKey:WorkflowID;constraint:OnDelete:CASCADE"`
}

// TableName returns the GORM table name.
func (Workflow) TableName() string { return "workflow" }

// Question is one node of a workflow graph.
type Question struct {
	ID             int64        `gorm:"primaryKey;column:question_id"`
	WorkflowID     int64        `gorm:"column:workflow_id;not null;index:idx_question_workflow"`
	Text           string       `gorm:"column:question_text;size:1000;not null"`
	Type           QuestionType `gorm:"column:question_type;size:32;not null"`
	Required       bool         `gorm:"column:is_required;not null"`
	NextQuestionID *int64       `gorm:"column:next_question_id"`
	IsCompleted    bool         `gorm:"column:is_completed;not null"`
	CreatedAt      time.Time    `gorm:"column:created_at"`
	UpdatedAt      time.Time    `gorm:"column:updated_at"`
	Options        []Option     `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	Answers        []Answer     `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the GORM table name.
func (Question) TableName() string { return "question" }

// Option is a selectable choice of a MultipleChoice or CheckBox question.
type Option struct {
	ID             int64     `gorm:"primaryKey;column:option_id"`
	QuestionID     int64     `gorm:"column:question_id;not null;index:idx_option_question"`
	Text           string    `gorm:"column:option_text;size:500;not null"`
	NextQuestionID *int64    `gorm:"column:next_question_id"`
	IsCompleted    bool      `gorm:"column:is_completed;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Option) TableName() string { return "option" }

// Answer is the payload submitted for a question during an incident.
type Answer struct {
	ID          int64      `gorm:"primaryKey;column:answer_id"`
	QuestionID  int64      `gorm:"column:question_id;not null;index:idx_answer_question"`
	Text        string     `gorm:"column:answer_text;type:text"`
	Skipped     bool       `gorm:"column:is_skipped;not null"`
	RenderedAt  *time.Time `gorm:"column:rendered_at"`
	SubmittedAt *time.Time `gorm:"column:submitted_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Answer) TableName() string { return "answer" }

// Response records that, in an incident, a workflow question was answered.
// Sequence is the 1-based position of the answer within (incident, workflow);
// the unique index turns a racing duplicate into a conflict.
type Response struct {
	ID             int64     `gorm:"primaryKey;column:response_id"`
	IncidentNumber string    `gorm:"column:incident_number;size:50;not null;uniqueIndex:idx_response_sequence,priority:1"`
	WorkflowID     int64     `gorm:"column:workflow_id;not null;uniqueIndex:idx_response_sequence,priority:2;index:idx_response_workflow"`
	QuestionID     int64     `gorm:"column:question_id;not null;index:idx_response_question"`
	AnswerID       int64     `gorm:"column:answer_id;not null"`
	Sequence       int       `gorm:"column:sequence;not null;uniqueIndex:idx_response_sequence,priority:3"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Response) TableName() string { return "response" }

// Models lists every table owned by this package, in creation order.
func Models() []any {
	return []any{&Workflow{}, &Question{}, &Option{}, &Answer{}, &Response{}}
}

// NormalizeName returns the comparison key for workflow names: trimmed and
// case-folded.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
