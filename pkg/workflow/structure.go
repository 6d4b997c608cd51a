package workflow

import (
	"encoding/json"
	"time"
)

// Structure is the nested read model of a workflow graph.
type Structure struct {
	ID           int64          `json:"workflow_id"`
	Name         string         `json:"workflow_name"`
	IncidentType string         `json:"incident_type"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Questions    []QuestionNode `json:"questions"`
}

// QuestionNode is one question of a Structure. Its JSON form only carries
// the fields meaningful for its type: options for choice questions,
// next_question_id for Subjective/Instruction and is_completed for
// Instruction.
type QuestionNode struct {
	ID             int64          `json:"question_id"`
	Text           string         `json:"question_text"`
	Type           QuestionType   `json:"question_type"`
	Required       bool           `json:"is_required"`
	NextQuestionID *QuestionIDRef `json:"next_question_id,omitempty"`
	IsCompleted    bool           `json:"is_completed,omitempty"`
	Options        []OptionNode   `json:"options,omitempty"`
}

// OptionNode is one option of a choice question.
type OptionNode struct {
	ID             int64          `json:"option_id"`
	Text           string         `json:"option_text"`
	NextQuestionID *QuestionIDRef `json:"next_question_id"`
	IsCompleted    bool           `json:"is_completed"`
}

// MarshalJSON emits the type-conditional shape.
func (n QuestionNode) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"question_id":   n.ID,
		"question_text": n.Text,
		"question_type": n.Type,
		"is_required":   n.Required,
	}
	if n.Type.Branches() {
		out["next_question_id"] = n.NextQuestionID
	}
	if n.Type == Instruction {
		out["is_completed"] = n.IsCompleted
	}
	if n.Type.HasOptions() {
		opts := n.Options
		if opts == nil {
			opts = []OptionNode{}
		}
		out["options"] = opts
	}
	return json.Marshal(out)
}

// Summary is a row of the workflow listing.
type Summary struct {
	ID           int64     `json:"workflow_id"`
	Name         string    `json:"workflow_name"`
	IncidentType string    `json:"incident_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// QuestionSummary is the short form used by question listings.
type QuestionSummary struct {
	ID   int64        `json:"question_id"`
	Text string       `json:"question_text"`
	Type QuestionType `json:"question_type"`
}

// QuestionDetail is the flat form returned with every field and option,
// regardless of type, for clients that render questions one at a time.
type QuestionDetail struct {
	ID             int64          `json:"question_id"`
	WorkflowID     int64          `json:"workflow_id"`
	Text           string         `json:"question_text"`
	Type           QuestionType   `json:"question_type"`
	Required       bool           `json:"is_required"`
	NextQuestionID *QuestionIDRef `json:"next_question_id"`
	IsCompleted    bool           `json:"is_completed"`
	Options        []OptionNode   `json:"options"`
}

// WorkflowQuestions groups question summaries under their workflow.
type WorkflowQuestions struct {
	Name      string            `json:"workflow_name"`
	Questions []QuestionSummary `json:"questions"`
}

// ResponseRecord is a stored answer for an incident, joined with its text.
type ResponseRecord struct {
	ResponseID int64     `json:"response_id"`
	QuestionID int64     `json:"question_id"`
	AnswerID   int64     `json:"answer_id"`
	AnswerText string    `json:"answer_text"`
	Sequence   int       `json:"sequence"`
	CreatedAt  time.Time `json:"created_at"`
}

func newStructure(wf *Workflow) *Structure {
	s := &Structure{
		ID:           wf.ID,
		Name:         wf.Name,
		IncidentType: wf.IncidentType,
		CreatedAt:    wf.CreatedAt,
		UpdatedAt:    wf.UpdatedAt,
		Questions:    make([]QuestionNode, 0, len(wf.Questions)),
	}
	for i := range wf.Questions {
		q := &wf.Questions[i]
		s.Questions = append(s.Questions, QuestionNode{
			ID:             q.ID,
			Text:           q.Text,
			Type:           q.Type,
			Required:       q.Required,
			NextQuestionID: toIDRef(q.NextQuestionID),
			IsCompleted:    q.IsCompleted,
			Options:        optionNodes(q.Options),
		})
	}
	return s
}

func optionNodes(opts []Option) []OptionNode {
	out := make([]OptionNode, 0, len(opts))
	for _, o := range opts {
		out = append(out, OptionNode{
			ID:             o.ID,
			Text:           o.Text,
			NextQuestionID: toIDRef(o.NextQuestionID),
			IsCompleted:    o.IsCompleted,
		})
	}
	return out
}
