// Package domain defines the entities shared by the collection engine:
// tasks, templates, teachers, inbound and outbound messages, and aggregations.
package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// TaskID identifies a collection task.
type TaskID struct{ uuid.UUID }

// TemplateID identifies a spreadsheet template.
type TemplateID struct{ uuid.UUID }

// MessageID identifies a stored inbound or outbound message.
type MessageID struct{ uuid.UUID }

// AggregationID identifies one aggregation run.
type AggregationID struct{ uuid.UUID }

// TeacherID is the teacher's employee number.
type TeacherID int64

func (id TeacherID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func NewTaskID() TaskID               { return TaskID{uuid.New()} }
func NewTemplateID() TemplateID       { return TemplateID{uuid.New()} }
func NewMessageID() MessageID         { return MessageID{uuid.New()} }
func NewAggregationID() AggregationID { return AggregationID{uuid.New()} }

// ParseTaskID parses the canonical string form of a TaskID.
func ParseTaskID(s string) (TaskID, error) {
	id, err := uuid.Parse(s)
	return TaskID{id}, err
}

// ParseTemplateID parses the canonical string form of a TemplateID.
func ParseTemplateID(s string) (TemplateID, error) {
	id, err := uuid.Parse(s)
	return TemplateID{id}, err
}

// ParseAggregationID parses the canonical string form of an AggregationID.
func ParseAggregationID(s string) (AggregationID, error) {
	id, err := uuid.Parse(s)
	return AggregationID{id}, err
}

// ParseTeacherID parses a decimal employee number.
func ParseTeacherID(s string) (TeacherID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	return TeacherID(n), err
}
