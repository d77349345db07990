package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/pkg/query"
	"github.com/JaimeStill/tally/pkg/repository"
)

var teacherProjection = query.
	NewProjectionMap("public", "teachers", "th").
	Project("id", "ID").
	Project("name", "Name").
	Project("email", "Email").
	Project("department", "Department")

var templateProjection = query.
	NewProjectionMap("public", "templates", "tp").
	Project("id", "ID").
	Project("name", "Name").
	Project("fields", "Fields").
	Project("created_at", "CreatedAt")

var taskProjection = query.
	NewProjectionMap("public", "tasks", "t").
	Project("id", "ID").
	Project("name", "Name").
	Project("description", "Description").
	Project("template_id", "TemplateID").
	Project("publish_at", "PublishAt").
	Project("deadline", "Deadline").
	Project("status", "Status").
	Project("targets", "Targets").
	Project("mail_subject", "MailSubject").
	Project("mail_body", "MailBody").
	Project("created_by", "CreatedBy").
	Project("attention", "Attention").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var inboundProjection = query.
	NewProjectionMap("public", "inbound_messages", "i").
	Project("id", "ID").
	Project("task_id", "TaskID").
	Project("teacher_id", "TeacherID").
	Project("sender", "Sender").
	Project("subject", "Subject").
	Project("body", "Body").
	Project("header_id", "HeaderID").
	Project("received_at", "ReceivedAt").
	Project("attachments", "Attachments").
	Project("aggregated", "Aggregated").
	Project("match_note", "MatchNote").
	Project("created_at", "CreatedAt")

var outboundProjection = query.
	NewProjectionMap("public", "outbound_messages", "o").
	Project("id", "ID").
	Project("task_id", "TaskID").
	Project("teacher_id", "TeacherID").
	Project("recipient", "Recipient").
	Project("status", "Status").
	Project("retry_count", "RetryCount").
	Project("last_error", "LastError").
	Project("header_id", "HeaderID").
	Project("sent_at", "SentAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var aggregationProjection = query.
	NewProjectionMap("public", "aggregations", "a").
	Project("id", "ID").
	Project("task_id", "TaskID").
	Project("triggered_by", "TriggeredBy").
	Project("triggered_at", "TriggeredAt").
	Project("record_count", "RecordCount").
	Project("has_validation_issues", "HasValidationIssues").
	Project("errors", "Errors").
	Project("warnings", "Warnings").
	Project("artifact_key", "ArtifactKey").
	Project("messages", "Messages")

func scanTeacher(s repository.Scanner) (domain.Teacher, error) {
	var (
		t  domain.Teacher
		id int64
	)
	err := s.Scan(&id, &t.Name, &t.Email, &t.Department)
	t.ID = domain.TeacherID(id)
	return t, err
}

func scanTemplate(s repository.Scanner) (domain.Template, error) {
	var (
		t      domain.Template
		fields []byte
	)
	if err := s.Scan(&t.ID.UUID, &t.Name, &fields, &t.CreatedAt); err != nil {
		return t, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, decode(fields, &t.Fields)
}

func scanTask(s repository.Scanner) (domain.Task, error) {
	var (
		t        domain.Task
		deadline sql.NullTime
		status   string
		targets  []byte
	)
	err := s.Scan(
		&t.ID.UUID,
		&t.Name,
		&t.Description,
		&t.TemplateID.UUID,
		&t.PublishAt,
		&deadline,
		&status,
		&targets,
		&t.Mail.Subject,
		&t.Mail.Body,
		&t.CreatedBy,
		&t.Attention,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}

	t.Status = domain.Status(status)
	t.PublishAt = t.PublishAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if deadline.Valid {
		d := deadline.Time.UTC()
		t.Deadline = &d
	}
	return t, decode(targets, &t.Targets)
}

func scanInbound(s repository.Scanner) (domain.InboundMessage, error) {
	var (
		m           domain.InboundMessage
		task        uuid.NullUUID
		teacher     sql.NullInt64
		header      sql.NullString
		attachments []byte
	)
	err := s.Scan(
		&m.ID.UUID,
		&task,
		&teacher,
		&m.Sender,
		&m.Subject,
		&m.Body,
		&header,
		&m.ReceivedAt,
		&attachments,
		&m.Aggregated,
		&m.MatchNote,
		&m.CreatedAt,
	)
	if err != nil {
		return m, err
	}

	if task.Valid {
		m.TaskID = &domain.TaskID{UUID: task.UUID}
	}
	if teacher.Valid {
		id := domain.TeacherID(teacher.Int64)
		m.TeacherID = &id
	}
	m.HeaderID = header.String
	m.ReceivedAt = m.ReceivedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return m, decode(attachments, &m.Attachments)
}

func scanOutbound(s repository.Scanner) (domain.OutboundMessage, error) {
	var (
		m       domain.OutboundMessage
		teacher int64
		status  string
		sentAt  sql.NullTime
	)
	err := s.Scan(
		&m.ID.UUID,
		&m.TaskID.UUID,
		&teacher,
		&m.Recipient,
		&status,
		&m.RetryCount,
		&m.LastError,
		&m.HeaderID,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}

	m.TeacherID = domain.TeacherID(teacher)
	m.Status = domain.DeliveryStatus(status)
	if sentAt.Valid {
		at := sentAt.Time.UTC()
		m.SentAt = &at
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func scanAggregation(s repository.Scanner) (domain.Aggregation, error) {
	var (
		a                          domain.Aggregation
		errs, warnings, messages []byte
	)
	err := s.Scan(
		&a.ID.UUID,
		&a.TaskID.UUID,
		&a.TriggeredBy,
		&a.TriggeredAt,
		&a.RecordCount,
		&a.HasValidationIssues,
		&errs,
		&warnings,
		&a.ArtifactKey,
		&messages,
	)
	if err != nil {
		return a, err
	}

	a.TriggeredAt = a.TriggeredAt.UTC()
	if err := decode(errs, &a.Errors); err != nil {
		return a, err
	}
	if err := decode(warnings, &a.Warnings); err != nil {
		return a, err
	}
	return a, decode(messages, &a.Messages)
}

// encode renders v as a JSONB parameter. Nil slices and maps are stored as
// their empty JSON form so the column never holds null.
func encode(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode jsonb: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
