package workflow

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestBuild_ResolvesPositionRefs(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)

	require.Len(t, s.Questions, 3)
	q1, q2, q3 := s.Questions[0], s.Questions[1], s.Questions[2]

	assert.Equal(t, "Fire_Drill", s.Name)
	assert.Equal(t, MultipleChoice, q1.Type)
	require.Len(t, q1.Options, 2)
	require.NotNil(t, q1.Options[0].NextQuestionID)
	require.NotNil(t, q1.Options[1].NextQuestionID)
	assert.Equal(t, q2.ID, int64(*q1.Options[0].NextQuestionID))
	assert.Equal(t, q3.ID, int64(*q1.Options[1].NextQuestionID))

	require.NotNil(t, q2.NextQuestionID)
	assert.Equal(t, q3.ID, int64(*q2.NextQuestionID))
	assert.Nil(t, q3.NextQuestionID)

	assert.True(t, q1.Required)
	assert.False(t, q3.Required)
}

func TestBuild_RejectsNextOnChoiceQuestions(t *testing.T) {
	for _, typ := range []QuestionType{MultipleChoice, CheckBox} {
		t.Run(string(typ), func(t *testing.T) {
			gdb := setupTestDB(t)
			spec := &WorkflowSpec{
				Name:         "Flood",
				IncidentType: "Water",
				Questions: []QuestionSpec{
					{Text: "Pick one", Type: typ, Next: ref(2), Options: []OptionSpec{{Text: "A"}}},
					{Text: "Done", Type: Subjective},
				},
			}
			_, err := NewBuilder(gdb, nil).Build(context.Background(), spec)
			require.ErrorIs(t, err, ErrValidation)
			assert.ErrorContains(t, err, "question 1")

			var count int64
			require.NoError(t, gdb.Model(&Workflow{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}
}

func TestUpdate_RejectsNextOnChoiceQuestions(t *testing.T) {
	gdb := setupTestDB(t)
	wf, err := NewBuilder(gdb, nil).Build(context.Background(), fireDrillSpec())
	require.NoError(t, err)

	update := fireDrillSpec()
	update.Questions[0].Next = ref(3)
	_, err = NewBuilder(gdb, nil).Update(context.Background(), wf.ID, update, UpdateMerge)
	require.ErrorIs(t, err, ErrValidation)

	s, err := NewStore(gdb, nil).GetStructure(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Nil(t, s.Questions[0].NextQuestionID)
}

func TestBuild_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkflowSpec)
	}{
		{"missing name", func(s *WorkflowSpec) { s.Name = "  " }},
		{"missing incident type", func(s *WorkflowSpec) { s.IncidentType = "" }},
		{"unknown type", func(s *WorkflowSpec) { s.Questions[2].Type = "Essay" }},
		{"empty question text", func(s *WorkflowSpec) { s.Questions[1].Text = "" }},
		{"choice without options", func(s *WorkflowSpec) { s.Questions[0].Options = nil }},
		{"options on subjective", func(s *WorkflowSpec) {
			s.Questions[2].Options = []OptionSpec{{Text: "x"}}
		}},
		{"empty option text", func(s *WorkflowSpec) { s.Questions[0].Options[0].Text = "" }},
		{"ref past the end", func(s *WorkflowSpec) { s.Questions[1].Next = ref(4) }},
		{"ref zero", func(s *WorkflowSpec) { s.Questions[0].Options[1].Next = ref(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := setupTestDB(t)
			spec := fireDrillSpec()
			tt.mutate(spec)

			_, err := NewBuilder(gdb, nil).Build(context.Background(), spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var n int64
			require.NoError(t, gdb.Model(&Workflow{}).Count(&n).Error)
			assert.Zero(t, n, "nothing may be persisted for a rejected payload")
		})
	}
}

func TestBuild_NilSpec(t *testing.T) {
	_, err := NewBuilder(setupTestDB(t), nil).Build(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuild_DuplicateNameIsConflict(t *testing.T) {
	gdb := setupTestDB(t)
	buildFireDrill(t, gdb)

	spec := fireDrillSpec()
	spec.Name = "  fire_drill "
	_, err := NewBuilder(gdb, nil).Build(context.Background(), spec)
	assert.ErrorIs(t, err, ErrConflict)

	var n int64
	require.NoError(t, gdb.Model(&Question{}).Count(&n).Error)
	assert.Equal(t, int64(3), n)
}

func TestBuild_RollsBackWhenAnInsertFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "workflow"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "workflow"`)).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "question"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = NewBuilder(gdb, nil).Build(context.Background(), fireDrillSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_MergeKeepsOmittedRows(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	q1, q2, q3 := s.Questions[0], s.Questions[1], s.Questions[2]

	spec := &WorkflowSpec{
		IncidentType: "Fire and smoke",
		Questions: []QuestionSpec{
			{ID: int64Ptr(q2.ID), Text: "Evacuate the building", Type: Instruction},
			{Text: "Call the fire brigade", Type: Instruction},
		},
	}
	wf, err := NewBuilder(gdb, nil).Update(context.Background(), s.ID, spec, UpdateMerge)
	require.NoError(t, err)
	assert.Equal(t, "Fire_Drill", wf.Name)
	assert.Equal(t, "Fire and smoke", wf.IncidentType)

	got, err := NewStore(gdb, nil).GetStructure(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, got.Questions, 4)

	byID := map[int64]QuestionNode{}
	for _, q := range got.Questions {
		byID[q.ID] = q
	}
	assert.Equal(t, "Evacuate the building", byID[q2.ID].Text)
	// Next omitted in merge mode keeps the stored branch.
	require.NotNil(t, byID[q2.ID].NextQuestionID)
	assert.Equal(t, q3.ID, int64(*byID[q2.ID].NextQuestionID))
	assert.Len(t, byID[q1.ID].Options, 2)
	assert.Contains(t, byID, q3.ID)
}

func TestUpdate_ReplaceDropsOmittedRowsAndDanglingBranches(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	q1, q2 := s.Questions[0], s.Questions[1]
	yes := q1.Options[0]

	spec := &WorkflowSpec{
		Questions: []QuestionSpec{
			{
				ID:   int64Ptr(q1.ID),
				Text: q1.Text,
				Type: MultipleChoice,
				Options: []OptionSpec{
					{ID: int64Ptr(yes.ID), Text: "Yes", Next: ref(2)},
				},
			},
			{ID: int64Ptr(q2.ID), Text: q2.Text, Type: Instruction},
		},
	}
	_, err := NewBuilder(gdb, nil).Update(context.Background(), s.ID, spec, UpdateReplace)
	require.NoError(t, err)

	got, err := NewStore(gdb, nil).GetStructure(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, got.Questions, 2)
	require.Len(t, got.Questions[0].Options, 1)
	assert.Equal(t, yes.ID, got.Questions[0].Options[0].ID)
	assert.Equal(t, q2.ID, int64(*got.Questions[0].Options[0].NextQuestionID))
	// q2 pointed at the removed q3 and its Next was omitted in replace mode.
	assert.Nil(t, got.Questions[1].NextQuestionID)
}

func TestUpdate_TypeChangeDropsOptions(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	q1 := s.Questions[0]

	spec := &WorkflowSpec{Questions: []QuestionSpec{
		{ID: int64Ptr(q1.ID), Text: "What happened?", Type: Subjective},
	}}
	_, err := NewBuilder(gdb, nil).Update(context.Background(), s.ID, spec, UpdateMerge)
	require.NoError(t, err)

	var n int64
	require.NoError(t, gdb.Model(&Option{}).Where("question_id = ?", q1.ID).Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdate_ChoiceQuestionMustKeepAnOption(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)
	q3 := s.Questions[2]

	spec := &WorkflowSpec{Questions: []QuestionSpec{
		{ID: int64Ptr(q3.ID), Text: q3.Text, Type: CheckBox},
	}}
	_, err := NewBuilder(gdb, nil).Update(context.Background(), s.ID, spec, UpdateMerge)
	assert.ErrorIs(t, err, ErrValidation)

	got, err := NewStore(gdb, nil).GetStructure(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, Subjective, got.Questions[2].Type, "failed update must roll back")
}

func TestUpdate_Errors(t *testing.T) {
	gdb := setupTestDB(t)
	s := buildFireDrill(t, gdb)

	other := fireDrillSpec()
	other.Name = "Earthquake"
	_, err := NewBuilder(gdb, nil).Build(context.Background(), other)
	require.NoError(t, err)

	b := NewBuilder(gdb, nil)
	_, err = b.Update(context.Background(), 9999, &WorkflowSpec{Name: "x"}, UpdateMerge)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Update(context.Background(), s.ID, &WorkflowSpec{Name: "EARTHQUAKE"}, UpdateMerge)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = b.Update(context.Background(), s.ID, &WorkflowSpec{}, UpdateMode("append"))
	assert.ErrorIs(t, err, ErrValidation)

	// Renaming to a different spelling of the same name is allowed.
	wf, err := b.Update(context.Background(), s.ID, &WorkflowSpec{Name: "FIRE_DRILL"}, UpdateMerge)
	require.NoError(t, err)
	assert.Equal(t, "FIRE_DRILL", wf.Name)
}

func TestParseUpdateMode(t *testing.T) {
	for in, want := range map[string]UpdateMode{"": UpdateMerge, "merge": UpdateMerge, " Replace ": UpdateReplace} {
		got, err := ParseUpdateMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseUpdateMode("upsert")
	assert.ErrorIs(t, err, ErrValidation)
}
