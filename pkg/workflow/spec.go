package workflow

import (
	"strconv"
	"strings"
)

// WorkflowSpec is the flat payload the Graph Builder turns into a graph.
type WorkflowSpec struct {
	Name         string         `json:"workflow_name" yaml:"workflow_name"`
	IncidentType string         `json:"incident_type" yaml:"incident_type"`
	Questions    []QuestionSpec `json:"questions" yaml:"questions"`
}

// QuestionSpec describes one question. ID is only honoured by Update, where a
// known identifier selects the row to mutate in place.
type QuestionSpec struct {
	ID          *int64       `json:"question_id,omitempty" yaml:"question_id,omitempty"`
	Text        string       `json:"question_text" yaml:"question_text"`
	Type        QuestionType `json:"question_type" yaml:"question_type"`
	Required    *bool        `json:"is_required,omitempty" yaml:"is_required,omitempty"`
	IsCompleted bool         `json:"is_completed,omitempty" yaml:"is_completed,omitempty"`
	Next        *PositionRef `json:"next_question_id,omitempty" yaml:"next_question_id,omitempty"`
	Options     []OptionSpec `json:"options,omitempty" yaml:"options,omitempty"`
}

// OptionSpec describes one option of a choice question.
type OptionSpec struct {
	ID          *int64       `json:"option_id,omitempty" yaml:"option_id,omitempty"`
	Text        string       `json:"option_text" yaml:"option_text"`
	IsCompleted bool         `json:"is_completed,omitempty" yaml:"is_completed,omitempty"`
	Next        *PositionRef `json:"next_question_id,omitempty" yaml:"next_question_id,omitempty"`
}

// IsRequired defaults to true when the payload leaves it out.
func (q QuestionSpec) IsRequired() bool {
	return q.Required == nil || *q.Required
}

// UpdateMode selects how Update treats rows missing from the payload.
type UpdateMode string

const (
	// UpdateMerge mutates known rows, inserts new ones and leaves omitted
	// rows untouched.
	UpdateMerge UpdateMode = "merge"
	// UpdateReplace additionally deletes questions and options the payload
	// no longer lists.
	UpdateReplace UpdateMode = "replace"
)

// ParseUpdateMode maps a query value to an UpdateMode; empty means merge.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch UpdateMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", UpdateMerge:
		return UpdateMerge, nil
	case UpdateReplace:
		return UpdateReplace, nil
	}
	return "", invalid("unknown update mode %q (expected merge or replace)", s)
}

// validateHeader checks the workflow-level fields. Update passes
// requireAll=false because empty fields mean "keep".
func (s *WorkflowSpec) validateHeader(requireAll bool) error {
	if requireAll {
		if strings.TrimSpace(s.Name) == "" {
			return invalid("workflow_name is required")
		}
		if strings.TrimSpace(s.IncidentType) == "" {
			return invalid("incident_type is required")
		}
	}
	return nil
}

// validateQuestions checks every question and option spec before anything is
// written, so a bad payload never leaves a partial graph behind. Update
// passes requireOptions=false since a merged choice question may keep the
// options it already has; the builder checks the final count instead.
func (s *WorkflowSpec) validateQuestions(requireOptions bool) error {
	n := len(s.Questions)
	checkRef := func(where string, ref *PositionRef) error {
		if ref == nil {
			return nil
		}
		if *ref < 1 || int(*ref) > n {
			return invalid("%s: next_question_id %d is not a position between 1 and %d", where, *ref, n)
		}
		return nil
	}

	for i, q := range s.Questions {
		where := "question " + strconv.Itoa(i+1)
		if strings.TrimSpace(q.Text) == "" {
			return invalid("%s: question_text is required", where)
		}
		if !q.Type.Valid() {
			return invalid("%s: invalid question type %q", where, q.Type)
		}
		if q.Next != nil && !q.Type.Branches() {
			return invalid("%s: %s question routes through its options; next_question_id is not allowed on the question", where, q.Type)
		}
		if err := checkRef(where, q.Next); err != nil {
			return err
		}
		if q.Type.HasOptions() {
			if requireOptions && len(q.Options) == 0 {
				return invalid("%s: %s question needs at least one option", where, q.Type)
			}
		} else if len(q.Options) > 0 {
			return invalid("%s: %s question cannot have options", where, q.Type)
		}
		for j, o := range q.Options {
			owhere := where + " option " + strconv.Itoa(j+1)
			if strings.TrimSpace(o.Text) == "" {
				return invalid("%s: option_text is required", owhere)
			}
			if err := checkRef(owhere, o.Next); err != nil {
				return err
			}
		}
	}
	return nil
}
