// Package storetest seeds a store with fixtures for engine tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/validation"
)

// Epoch is the reference time fixtures are placed around.
var Epoch = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

// Teacher saves a teacher with a derived address of the form t<id>@school.test.
func Teacher(t *testing.T, q store.Queries, id domain.TeacherID, name string) domain.Teacher {
	t.Helper()

	teacher := domain.Teacher{
		ID:         id,
		Name:       name,
		Email:      Email(id),
		Department: "Mathematics",
	}
	if err := q.SaveTeacher(context.Background(), &teacher); err != nil {
		t.Fatalf("save teacher %s: %v", id, err)
	}
	return teacher
}

// Email returns the fixture address of teacher id.
func Email(id domain.TeacherID) string {
	return fmt.Sprintf("t%s@school.test", id)
}

// Template saves a template with one field per rule, in argument order.
func Template(t *testing.T, q store.Queries, fields ...domain.Field) domain.Template {
	t.Helper()

	for i := range fields {
		fields[i].Order = i
	}
	tmpl := domain.Template{Name: "workload", Fields: fields}
	if err := q.SaveTemplate(context.Background(), &tmpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	return tmpl
}

// Field builds a template field.
func Field(name string, kind validation.Kind, required bool) domain.Field {
	return domain.Field{Name: name, Rule: validation.Rule{Kind: kind, Required: required}}
}

// Task creates a task in status with the given targets. Publish time is
// Epoch and the deadline one week later.
func Task(t *testing.T, q store.Queries, name string, tmpl domain.TemplateID, status domain.Status, targets ...domain.TeacherID) domain.Task {
	t.Helper()

	deadline := Epoch.Add(7 * 24 * time.Hour)
	task := domain.Task{
		Name:       name,
		TemplateID: tmpl,
		PublishAt:  Epoch,
		Deadline:   &deadline,
		Status:     status,
		Targets:    targets,
		Mail:       domain.MailContent{Subject: name, Body: "Please fill in the attached workbook."},
		CreatedBy:  "secretary",
	}
	if err := q.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("create task %s: %v", name, err)
	}
	return task
}

// Reply persists an inbound message bound to task and teacher.
func Reply(t *testing.T, q store.Queries, task domain.TaskID, teacher domain.TeacherID, received time.Time, attachments ...domain.Attachment) domain.InboundMessage {
	t.Helper()

	msg := domain.InboundMessage{
		TaskID:      &task,
		TeacherID:   &teacher,
		Sender:      Email(teacher),
		Subject:     "Re: reply",
		HeaderID:    fmt.Sprintf("<%s.%d@school.test>", teacher, received.UnixNano()),
		ReceivedAt:  received,
		Attachments: attachments,
	}
	if err := q.InsertInbound(context.Background(), &msg); err != nil {
		t.Fatalf("insert reply from %s: %v", teacher, err)
	}
	return msg
}
