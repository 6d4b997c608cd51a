package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/incidentops/sopflow/pkg/incidentlog"
)

// IncidentLog is the part of the incident-log system the sink writes to.
type IncidentLog interface {
	CategoryForWorkflow(ctx context.Context, workflowName string) (*incidentlog.Category, bool, error)
	RelatedPersons(ctx context.Context, categoryID int64) ([]incidentlog.RelatedPerson, error)
	AppendSOPLog(ctx context.Context, prk, header, text string) error
}

// Sink fans transcript fragments out to the incident buffer and the incident
// log.
type Sink struct {
	buffer    Buffer
	log       IncidentLog
	formatter *Formatter
	logger    *slog.Logger
	now       func() time.Time
}

// NewSink creates a Sink.
func NewSink(buffer Buffer, log IncidentLog, formatter *Formatter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		buffer:    buffer,
		log:       log,
		formatter: formatter,
		logger:    logger.With("component", "transcript"),
		now:       time.Now,
	}
}

// Formatter returns the formatter used for banners and entries.
func (s *Sink) Formatter() *Formatter {
	return s.formatter
}

// Entry renders a numbered transcript line in the display timezone.
func (s *Sink) Entry(number int, question, answer string, at time.Time) string {
	return s.formatter.Entry(number, question, answer, at)
}

// AppendToBuffer appends text to the incident buffer, opening it with a
// timestamped banner the first time.
func (s *Sink) AppendToBuffer(ctx context.Context, incident, text string) error {
	banner := s.formatter.StartBanner(incident, s.now())
	if err := s.buffer.Append(ctx, incident, banner, text); err != nil {
		return fmt.Errorf("append to transcript buffer: %w", err)
	}
	return nil
}

// AppendToIncidentLog appends text to the incident's SOP log. The section
// header is always computed; the store only writes it when the log is
// still empty.
func (s *Sink) AppendToIncidentLog(ctx context.Context, incident, text, workflowName string) error {
	header, err := s.header(ctx, workflowName)
	if err != nil {
		return err
	}
	if err := s.log.AppendSOPLog(ctx, incident, header, text); err != nil {
		return fmt.Errorf("append to incident log: %w", err)
	}
	s.logger.Debug("incident log appended", "incident", incident, "workflow", workflowName)
	return nil
}

func (s *Sink) header(ctx context.Context, workflowName string) (string, error) {
	category, ok, err := s.log.CategoryForWorkflow(ctx, workflowName)
	if err != nil {
		return "", err
	}
	if !ok {
		return Header(workflowName, nil), nil
	}
	persons, err := s.log.RelatedPersons(ctx, category.ID)
	if err != nil {
		return "", err
	}
	return Header(workflowName, persons), nil
}
