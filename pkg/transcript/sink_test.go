package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/sopflow/pkg/incidentlog"
)

type fakeIncidentLog struct {
	category *incidentlog.Category
	persons  []incidentlog.RelatedPerson
	appended []string
	headers  []string
	err      error
}

func (f *fakeIncidentLog) CategoryForWorkflow(_ context.Context, name string) (*incidentlog.Category, bool, error) {
	if f.category == nil {
		return nil, false, nil
	}
	return f.category, true, nil
}

func (f *fakeIncidentLog) RelatedPersons(_ context.Context, _ int64) ([]incidentlog.RelatedPerson, error) {
	return f.persons, nil
}

func (f *fakeIncidentLog) AppendSOPLog(_ context.Context, _, header, text string) error {
	if f.err != nil {
		return f.err
	}
	f.headers = append(f.headers, header)
	f.appended = append(f.appended, text)
	return nil
}

type memBuffer struct {
	data map[string]string
}

func (m *memBuffer) Append(_ context.Context, incident, banner, text string) error {
	if m.data == nil {
		m.data = map[string]string{}
	}
	cur, ok := m.data[incident]
	if !ok {
		cur = banner
	}
	m.data[incident] = cur + BufferSeparator + text
	return nil
}

func (m *memBuffer) Get(_ context.Context, incident string) (string, bool, error) {
	s, ok := m.data[incident]
	return s, ok, nil
}

func newTestSink(t *testing.T, log IncidentLog, buf Buffer) *Sink {
	t.Helper()
	f, err := NewFormatter("UTC", "")
	require.NoError(t, err)
	s := NewSink(buf, log, f, nil)
	s.now = func() time.Time { return at }
	return s
}

func TestSink_AppendToBuffer(t *testing.T) {
	buf := &memBuffer{}
	s := newTestSink(t, &fakeIncidentLog{}, buf)
	ctx := context.Background()

	require.NoError(t, s.AppendToBuffer(ctx, "INC-1", s.Entry(1, "Q1", "A1", at)))
	require.NoError(t, s.AppendToBuffer(ctx, "INC-1", s.Entry(2, "Q2", "A2", at)))

	got, ok, _ := buf.Get(ctx, "INC-1")
	require.True(t, ok)
	assert.Equal(t,
		"===== SOP session started for incident INC-1 at 2026-03-14 09:30:00 UTC =====\n"+
			"1. Q1\r\nA1\r\nTimestamp: 2026-03-14 09:30:00 UTC\r\n\n"+
			"2. Q2\r\nA2\r\nTimestamp: 2026-03-14 09:30:00 UTC\r\n",
		got)
}

func TestSink_AppendToIncidentLogWithContacts(t *testing.T) {
	log := &fakeIncidentLog{
		category: &incidentlog.Category{ID: 3, Name: "Fire Drill"},
		persons:  []incidentlog.RelatedPerson{{Name: "Ana Ruiz", Email: "ana@example.com"}},
	}
	s := newTestSink(t, log, &memBuffer{})

	require.NoError(t, s.AppendToIncidentLog(context.Background(), "INC-1", "1. Q\r\nA\r\n", "Fire_Drill"))
	require.Len(t, log.headers, 1)
	assert.Equal(t, "===== SOP - Fire_Drill =====\r\nRelated Persons:\r\n- Ana Ruiz (ana@example.com)\r\n\r\n", log.headers[0])
	assert.Equal(t, []string{"1. Q\r\nA\r\n"}, log.appended)
}

func TestSink_AppendToIncidentLogWithoutCategory(t *testing.T) {
	log := &fakeIncidentLog{}
	s := newTestSink(t, log, &memBuffer{})

	require.NoError(t, s.AppendToIncidentLog(context.Background(), "INC-1", "x", "Gas_Leak"))
	assert.Equal(t, "===== SOP - Gas_Leak =====\r\n\r\n", log.headers[0])
}

func TestSink_AppendToIncidentLogError(t *testing.T) {
	log := &fakeIncidentLog{err: incidentlog.ErrIncidentNotFound}
	s := newTestSink(t, log, &memBuffer{})

	err := s.AppendToIncidentLog(context.Background(), "INC-404", "x", "Fire_Drill")
	assert.True(t, errors.Is(err, incidentlog.ErrIncidentNotFound))
}
