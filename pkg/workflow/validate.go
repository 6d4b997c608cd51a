package workflow

import (
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// InstructionDoneText is the only accepted answer to an Instruction question,
// compared case-insensitively.
const InstructionDoneText = "completed"

// ValidateAnswer checks text against the type contract of q. The question
// must be loaded with its options; a nil question fails closed.
func ValidateAnswer(q *Question, text string) error {
	if q == nil {
		return invalid("answer cannot be validated without its question")
	}

	switch q.Type {
	case MultipleChoice:
		id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return &InvalidAnswerError{QuestionID: q.ID, Reason: "multiple choice answer must be a single option id"}
		}
		if !optionIDs(q).Contains(id) {
			return &InvalidAnswerError{QuestionID: q.ID, InvalidIDs: []int64{id}}
		}
	case CheckBox:
		valid := optionIDs(q)
		var rejected []int64
		for _, part := range strings.Split(text, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return &InvalidAnswerError{QuestionID: q.ID, Reason: "checkbox answer must be comma-separated option ids"}
			}
			if !valid.Contains(id) {
				rejected = append(rejected, id)
			}
		}
		if len(rejected) > 0 {
			return &InvalidAnswerError{QuestionID: q.ID, InvalidIDs: rejected}
		}
	case Instruction:
		if !strings.EqualFold(strings.TrimSpace(text), InstructionDoneText) {
			return &InvalidAnswerError{QuestionID: q.ID, Reason: `instruction answer must be "completed"`}
		}
	case Subjective:
	default:
		return invalid("question %d has unknown type %q", q.ID, q.Type)
	}
	return nil
}

func optionIDs(q *Question) mapset.Set[int64] {
	ids := mapset.NewThreadUnsafeSetWithSize[int64](len(q.Options))
	for _, o := range q.Options {
		ids.Add(o.ID)
	}
	return ids
}
