package api

import (
	"strings"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/pkg/pagination"
)

var taskSorts = pagination.Comparators[domain.Task]{
	"name":       func(a, b domain.Task) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) },
	"status":     func(a, b domain.Task) int { return strings.Compare(string(a.Status), string(b.Status)) },
	"publish_at": func(a, b domain.Task) int { return a.PublishAt.Compare(b.PublishAt) },
	"deadline":   func(a, b domain.Task) int { return compareOptional(a.Deadline, b.Deadline) },
	"created_at": func(a, b domain.Task) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var inboundSorts = pagination.Comparators[domain.InboundMessage]{
	"sender":      func(a, b domain.InboundMessage) int { return strings.Compare(a.Sender, b.Sender) },
	"received_at": func(a, b domain.InboundMessage) int { return a.ReceivedAt.Compare(b.ReceivedAt) },
	"created_at":  func(a, b domain.InboundMessage) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

// compareOptional orders unset times after set ones.
func compareOptional(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
