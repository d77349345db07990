package domain

import (
	"path"
	"slices"
	"strings"
	"time"
)

// Attachment references a file stored through the storage system.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key"`
}

var spreadsheetExts = []string{".xlsx", ".xlsm"}

// Spreadsheet reports whether the attachment is a workbook the aggregator can read.
func (a Attachment) Spreadsheet() bool {
	return slices.Contains(spreadsheetExts, strings.ToLower(path.Ext(a.Filename)))
}

// InboundMessage is one received reply, matched or not.
type InboundMessage struct {
	ID          MessageID    `json:"id"`
	TaskID      *TaskID      `json:"task_id,omitempty"`
	TeacherID   *TeacherID   `json:"teacher_id,omitempty"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body,omitempty"`
	HeaderID    string       `json:"header_id,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments"`
	Aggregated  bool         `json:"aggregated"`
	MatchNote   string       `json:"match_note,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Matched reports whether the message is bound to a task and teacher.
func (m *InboundMessage) Matched() bool {
	return m.TaskID != nil && m.TeacherID != nil
}

// Workbook returns the first spreadsheet attachment, if any.
func (m *InboundMessage) Workbook() (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.Spreadsheet() {
			return a, true
		}
	}
	return Attachment{}, false
}

// DeliveryStatus is the state of an outbound message.
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "QUEUED"
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

// OutboundMessage is one message addressed to a teacher for a task.
type OutboundMessage struct {
	ID         MessageID      `json:"id"`
	TaskID     TaskID         `json:"task_id"`
	TeacherID  TeacherID      `json:"teacher_id"`
	Recipient  string         `json:"recipient"`
	Status     DeliveryStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
	HeaderID   string         `json:"header_id,omitempty"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Pending reports whether the message should be attempted again.
func (m *OutboundMessage) Pending(maxRetries int) bool {
	switch m.Status {
	case DeliveryQueued:
		return true
	case DeliveryFailed:
		return m.RetryCount < maxRetries
	}
	return false
}
