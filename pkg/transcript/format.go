// Package transcript renders answers as human-readable transcript lines and
// appends them to the per-incident buffer and the incident log.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/incidentops/sopflow/pkg/incidentlog"
)

// DefaultTimeLayout renders timestamps in transcript lines.
const DefaultTimeLayout = "2006-01-02 15:04:05 MST"

// Formatter renders transcript text in a display timezone that can be
// swapped at runtime.
type Formatter struct {
	mu     sync.RWMutex
	loc    *time.Location
	layout string
}

// NewFormatter loads the named IANA timezone. An empty layout selects
// DefaultTimeLayout.
func NewFormatter(timezone, layout string) (*Formatter, error) {
	f := &Formatter{layout: layout}
	if f.layout == "" {
		f.layout = DefaultTimeLayout
	}
	if err := f.SetTimezone(timezone); err != nil {
		return nil, err
	}
	return f, nil
}

// SetTimezone switches the display timezone. An empty name means UTC.
func (f *Formatter) SetTimezone(name string) error {
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", name, err)
	}
	f.mu.Lock()
	f.loc = loc
	f.mu.Unlock()
	return nil
}

// Timezone returns the current display timezone name.
func (f *Formatter) Timezone() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loc.String()
}

// FormatTime renders t in the display timezone.
func (f *Formatter) FormatTime(t time.Time) string {
	f.mu.RLock()
	loc, layout := f.loc, f.layout
	f.mu.RUnlock()
	return t.In(loc).Format(layout)
}

// Entry renders one numbered question/answer pair.
func (f *Formatter) Entry(number int, question, answer string, at time.Time) string {
	return fmt.Sprintf("%d. %s\r\n%s\r\nTimestamp: %s\r\n", number, question, answer, f.FormatTime(at))
}

// StartBanner opens a new incident buffer.
func (f *Formatter) StartBanner(incident string, at time.Time) string {
	return fmt.Sprintf("===== SOP session started for incident %s at %s =====", incident, f.FormatTime(at))
}

// Header opens a workflow section in the incident log, listing the contacts
// of the matching category when there are any.
func Header(workflowName string, persons []incidentlog.RelatedPerson) string {
	var b strings.Builder
	fmt.Fprintf(&b, "===== SOP - %s =====\r\n", workflowName)
	if len(persons) > 0 {
		b.WriteString("Related Persons:\r\n")
		for _, p := range persons {
			b.WriteString("- ")
			b.WriteString(p.Name)
			var contact []string
			if p.Email != "" {
				contact = append(contact, p.Email)
			}
			if p.Phone != "" {
				contact = append(contact, p.Phone)
			}
			if len(contact) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(contact, ", "))
			}
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return b.String()
}
