package workflow

// PositionRef is a branch target declared by 1-based position in a build or
// update payload. It only exists until the referenced question is persisted.
type PositionRef int

// QuestionIDRef is a branch target at rest: the identifier of a question in
// the same workflow.
type QuestionIDRef int64

// positionMap resolves PositionRefs to the identifiers assigned on insert.
type positionMap map[PositionRef]int64

func (m positionMap) resolve(p PositionRef) (int64, bool) {
	id, ok := m[p]
	return id, ok
}

func toIDRef(id *int64) *QuestionIDRef {
	if id == nil {
		return nil
	}
	ref := QuestionIDRef(*id)
	return &ref
}
