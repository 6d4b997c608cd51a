// Package incidentlog reads and appends to the external incident-log system:
// incidents, their categories and the contacts registered per category.
package incidentlog

import "strings"

// Incident is a row of the external incident log. SOPLog accumulates the
// transcripts of every questionnaire answered for the incident.
type Incident struct {
	PRK        string  `gorm:"primaryKey;column:incidentlog_prk;size:64"`
	Status     string  `gorm:"column:status;size:32"`
	CategoryID *int64  `gorm:"column:category_id"`
	SOPLog     *string `gorm:"column:sop_log;type:text"`
}

// TableName returns the GORM table name.
func (Incident) TableName() string { return "incident_log" }

// StatusClosed marks an incident that no longer accepts answers.
const StatusClosed = "closed"

// IsClosed reports whether the incident has been closed.
func (i *Incident) IsClosed() bool {
	return strings.EqualFold(strings.TrimSpace(i.Status), StatusClosed)
}

// Category groups incidents; its display name mirrors a workflow name with
// spaces in place of underscores.
type Category struct {
	ID   int64  `gorm:"primaryKey;column:category_id"`
	Name string `gorm:"column:category_name;size:255;uniqueIndex"`
}

// TableName returns the GORM table name.
func (Category) TableName() string { return "incident_category" }

// RelatedPerson is a contact registered for a category.
type RelatedPerson struct {
	ID         int64  `gorm:"primaryKey;column:contact_id" json:"-"`
	CategoryID int64  `gorm:"column:category_id;index" json:"-"`
	Name       string `gorm:"column:name;size:255" json:"name"`
	Email      string `gorm:"column:email;size:255" json:"email"`
	Phone      string `gorm:"column:phone;size:64" json:"phone"`
}

// TableName returns the GORM table name.
func (RelatedPerson) TableName() string { return "incident_category_contact" }

// Models lists the incident-log tables, used to provision a local copy.
func Models() []any {
	return []any{&Category{}, &RelatedPerson{}, &Incident{}}
}

// CategoryNameForWorkflow maps a workflow name to its category display name.
func CategoryNameForWorkflow(workflowName string) string {
	return strings.ReplaceAll(workflowName, "_", " ")
}

// WorkflowNameForCategory maps a category display name to a workflow name.
func WorkflowNameForCategory(categoryName string) string {
	return strings.ReplaceAll(categoryName, " ", "_")
}
