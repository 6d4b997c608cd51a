package workflow

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// one connection keeps every query on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(Models()...))
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

func ref(n int) *PositionRef {
	p := PositionRef(n)
	return &p
}

func boolPtr(b bool) *bool { return &b }

func int64Ptr(n int64) *int64 { return &n }

// fireDrillSpec is a small branching workflow:
//
//	1 MultipleChoice  Yes -> 2, No -> 3
//	2 Instruction     -> 3
//	3 Subjective      (optional)
func fireDrillSpec() *WorkflowSpec {
	return &WorkflowSpec{
		Name:         "Fire_Drill",
		IncidentType: "Fire",
		Questions: []QuestionSpec{
			{
				Text: "Is the alarm sounding?",
				Type: MultipleChoice,
				Options: []OptionSpec{
					{Text: "Yes", Next: ref(2)},
					{Text: "No", Next: ref(3)},
				},
			},
			{Text: "Evacuate the floor", Type: Instruction, Next: ref(3)},
			{Text: "Describe what you see", Type: Subjective, Required: boolPtr(false)},
		},
	}
}

func buildFireDrill(t *testing.T, gdb *gorm.DB) *Structure {
	t.Helper()
	wf, err := NewBuilder(gdb, nil).Build(context.Background(), fireDrillSpec())
	require.NoError(t, err)
	s, err := NewStore(gdb, nil).GetStructure(context.Background(), wf.ID)
	require.NoError(t, err)
	return s
}
