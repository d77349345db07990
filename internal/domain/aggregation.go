package domain

import (
	"slices"
	"time"
)

// ErrorMap collects validation failures per teacher.
type ErrorMap map[TeacherID][]string

// Add appends a failure for teacher.
func (m ErrorMap) Add(teacher TeacherID, failure string) {
	m[teacher] = append(m[teacher], failure)
}

// Teachers returns the teacher ids with failures in ascending order.
func (m ErrorMap) Teachers() []TeacherID {
	ids := make([]TeacherID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Aggregation is the append-only record of one merge run.
type Aggregation struct {
	ID                  AggregationID `json:"id"`
	TaskID              TaskID        `json:"task_id"`
	TriggeredBy         string        `json:"triggered_by"`
	TriggeredAt         time.Time     `json:"triggered_at"`
	RecordCount         int           `json:"record_count"`
	HasValidationIssues bool          `json:"has_validation_issues"`
	Errors              ErrorMap      `json:"errors"`
	Warnings            []string      `json:"warnings,omitempty"`
	ArtifactKey         string        `json:"artifact_key"`
	Messages            []MessageID   `json:"messages"`
}
