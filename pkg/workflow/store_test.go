package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_NameLookups(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	unique, err := store.IsNameUnique(ctx, " FIRE_drill")
	require.NoError(t, err)
	assert.False(t, unique)

	unique, err = store.IsNameUnique(ctx, "Gas Leak")
	require.NoError(t, err)
	assert.True(t, unique)

	id, found, err := store.GetIDByName(ctx, "fire_drill")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, s.ID, id)

	_, found, err = store.GetIDByName(ctx, "Gas Leak")
	require.NoError(t, err)
	assert.False(t, found)

	name, err := store.WorkflowName(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fire_Drill", name)

	_, err = store.WorkflowName(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetStructureNotFound(t *testing.T) {
	_, err := NewStore(setupTestDB(t), nil).GetStructure(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_StructureJSONShape(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var doc struct {
		Questions []map[string]any `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Questions, 3)

	choice, instruction, subjective := doc.Questions[0], doc.Questions[1], doc.Questions[2]
	assert.Contains(t, choice, "options")
	assert.NotContains(t, choice, "next_question_id")
	assert.NotContains(t, choice, "is_completed")

	assert.Contains(t, instruction, "next_question_id")
	assert.Contains(t, instruction, "is_completed")
	assert.NotContains(t, instruction, "options")

	assert.Contains(t, subjective, "next_question_id")
	assert.Nil(t, subjective["next_question_id"])
	assert.NotContains(t, subjective, "is_completed")
}

func TestStore_ListAllNewestFirst(t *testing.T) {
	gdb := setupTestDB(t)
	b := NewBuilder(gdb, nil)
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		spec := fireDrillSpec()
		spec.Name = name
		_, err := b.Build(ctx, spec)
		require.NoError(t, err)
	}

	all, err := NewStore(gdb, nil).ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Third", all[0].Name)
	assert.Equal(t, "First", all[2].Name)
}

func TestStore_QuestionListings(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	list, err := store.ListQuestions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, s.Questions[0].ID, list[0].ID)

	details, err := store.QuestionDetails(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, details, 3)
	assert.Len(t, details[0].Options, 2)
	assert.Equal(t, s.ID, details[0].WorkflowID)

	_, err = store.QuestionDetails(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.AllWorkflowQuestions(ctx)
	require.NoError(t, err)
	require.Contains(t, all, s.ID)
	assert.Equal(t, "Fire_Drill", all[s.ID].Name)
	assert.Len(t, all[s.ID].Questions, 3)
}

func TestStore_LastQuestion(t *testing.T) {
	gdb := setupTestDB(t)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	last, err := store.LastQuestionID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	s := buildFireDrill(t, gdb)
	last, err = store.LastQuestionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Questions[2].ID, last)

	isLast, err := store.IsLastQuestion(ctx, s.ID, s.Questions[2].ID)
	require.NoError(t, err)
	assert.True(t, isLast)

	isLast, err = store.IsLastQuestion(ctx, s.ID, s.Questions[0].ID)
	require.NoError(t, err)
	assert.False(t, isLast)

	isLast, err = store.IsLastQuestion(ctx, 404, s.Questions[2].ID)
	require.NoError(t, err)
	assert.False(t, isLast)
}

func TestStore_RecordAnswerAndResponses(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	record := func(qid int64, text string, seq int) error {
		return store.RecordAnswer(ctx,
			&Answer{QuestionID: qid, Text: text},
			&Response{IncidentNumber: "INC-1", WorkflowID: s.ID, QuestionID: qid, Sequence: seq})
	}
	require.NoError(t, record(s.Questions[0].ID, "1", 1))
	require.NoError(t, record(s.Questions[1].ID, "completed", 2))

	err := record(s.Questions[2].ID, "late", 2)
	assert.ErrorIs(t, err, ErrConflict, "a reused sequence number is a conflict")

	n, err := store.CountResponses(ctx, s.ID, "INC-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err := store.ResponsesForIncident(ctx, s.ID, "INC-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Sequence)
	assert.Equal(t, "completed", records[1].AnswerText)

	ids, err := store.WorkflowIDsForIncident(ctx, "INC-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{s.ID}, ids)
}

func TestStore_DeleteCascades(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	keep := fireDrillSpec()
	keep.Name = "Other"
	other, err := NewBuilder(gdb, nil).Build(context.Background(), keep)
	require.NoError(t, err)

	store := NewStore(gdb, nil)
	ctx := context.Background()
	require.NoError(t, store.RecordAnswer(ctx,
		&Answer{QuestionID: s.Questions[0].ID, Text: "1"},
		&Response{IncidentNumber: "INC-9", WorkflowID: s.ID, QuestionID: s.Questions[0].ID, Sequence: 1}))

	found, err := store.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, found)

	for _, m := range []any{&Response{}, &Answer{}} {
		var n int64
		require.NoError(t, gdb.Model(m).Count(&n).Error)
		assert.Zero(t, n)
	}
	var options int64
	require.NoError(t, gdb.Model(&Option{}).Count(&options).Error)
	assert.Equal(t, int64(2), options, "only the other workflow's options remain")

	_, err = store.GetStructure(ctx, other.ID)
	assert.NoError(t, err)

	found, err = store.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	err := store.Transaction(ctx, func(ctx context.Context, tx *Store) error {
		if err := tx.RecordAnswer(ctx,
			&Answer{QuestionID: s.Questions[0].ID, Text: "1"},
			&Response{IncidentNumber: "INC-2", WorkflowID: s.ID, QuestionID: s.Questions[0].ID, Sequence: 1}); err != nil {
			return err
		}
		return invalid("sink refused")
	})
	assert.ErrorIs(t, err, ErrValidation)

	n, err := store.CountResponses(ctx, s.ID, "INC-2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
