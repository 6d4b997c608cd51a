package incidentlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"github.com/incidentops/sopflow/pkg/db"
	"github.com/incidentops/sopflow/pkg/workflow"
)

// ErrIncidentNotFound is returned for unknown incident identifiers.
var ErrIncidentNotFound = fmt.Errorf("incident %w", workflow.ErrNotFound)

// LogSeparator joins successive transcript fragments in the SOP log.
const LogSeparator = "\r\n"

// Store talks to the incident-log database.
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

// AutoMigrate provisions the incident-log tables. Only meant for local
// setups where the incident log is not managed elsewhere.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(Models()...)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetIncident loads one incident.
func (s *Store) GetIncident(ctx context.Context, prk string) (*Incident, error) {
	var inc Incident
	err := s.db.WithContext(ctx).Select("incidentlog_prk", "status", "category_id").
		Where("incidentlog_prk = ?", prk).
		Take(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, prk)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", errors.Join(workflow.ErrStorage, err))
	}
	return &inc, nil
}

// SOPLog returns the accumulated transcript of an incident.
func (s *Store) SOPLog(ctx context.Context, prk string) (string, error) {
	var inc Incident
	err := s.db.WithContext(ctx).Where("incidentlog_prk = ?", prk).Take(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrIncidentNotFound, prk)
	}
	if err != nil {
		return "", fmt.Errorf("get sop log: %w", errors.Join(workflow.ErrStorage, err))
	}
	if inc.SOPLog == nil {
		return "", nil
	}
	return *inc.SOPLog, nil
}

// CategoryForWorkflow finds the category whose name equals the workflow name
// with underscores turned into spaces.
func (s *Store) CategoryForWorkflow(ctx context.Context, workflowName string) (*Category, bool, error) {
	var c Category
	err := s.db.WithContext(ctx).
		Where("category_name = ?", CategoryNameForWorkflow(workflowName)).
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get category: %w", errors.Join(workflow.ErrStorage, err))
	}
	return &c, true, nil
}

// RelatedPersons returns the distinct contacts of a category, in
// registration order.
func (s *Store) RelatedPersons(ctx context.Context, categoryID int64) ([]RelatedPerson, error) {
	var rows []RelatedPerson
	err := s.db.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Order("contact_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list related persons: %w", errors.Join(workflow.ErrStorage, err))
	}

	type contact struct{ name, email, phone string }
	seen := mapset.NewThreadUnsafeSet[contact]()
	out := make([]RelatedPerson, 0, len(rows))
	for _, p := range rows {
		if seen.Add(contact{p.Name, p.Email, p.Phone}) {
			out = append(out, p)
		}
	}
	return out, nil
}

// WorkflowNameForIncident derives the workflow name from the incident's
// category.
func (s *Store) WorkflowNameForIncident(ctx context.Context, prk string) (string, error) {
	inc, err := s.GetIncident(ctx, prk)
	if err != nil {
		return "", err
	}
	if inc.CategoryID == nil {
		return "", fmt.Errorf("%w: incident %s has no category", workflow.ErrNotFound, prk)
	}
	var c Category
	err = s.db.WithContext(ctx).Take(&c, *inc.CategoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: category %d", workflow.ErrNotFound, *inc.CategoryID)
	}
	if err != nil {
		return "", fmt.Errorf("get category: %w", errors.Join(workflow.ErrStorage, err))
	}
	return WorkflowNameForCategory(c.Name), nil
}

// AppendSOPLog appends text to the incident's SOP log in one statement:
// header+text when the log is empty, separator+text otherwise. The choice is
// made by the database against the current value, so concurrent writers
// never overwrite each other.
func (s *Store) AppendSOPLog(ctx context.Context, prk, header, text string) error {
	tx := s.db.WithContext(ctx)
	expr := gorm.Expr(
		"CASE WHEN sop_log IS NULL OR sop_log = '' THEN ? ELSE "+db.ConcatExpr(tx, "sop_log", "?")+" END",
		header+text, LogSeparator+text,
	)
	res := tx.Model(&Incident{}).Where("incidentlog_prk = ?", prk).Update("sop_log", expr)
	if res.Error != nil {
		return fmt.Errorf("append sop log: %w", errors.Join(workflow.ErrStorage, res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, prk)
	}
	return nil
}
