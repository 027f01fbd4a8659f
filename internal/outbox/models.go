package outbox

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an outbox item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusSubmitting,
	StatusSubmitted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// FailureKind classifies a delivery failure. Retryable failures are expected
// to succeed on a later attempt; terminal failures will not succeed without a
// changed payload and require user action.
type FailureKind string

const (
	FailureRetryable FailureKind = "retryable"
	FailureTerminal  FailureKind = "terminal"
)

// Item represents a queued debrief persisted in SQLite. The payload is opaque
// to the outbox; it is captured at enqueue time and handed unchanged to the
// delivery client.
type Item struct {
	ID            string
	MeetingID     string
	Payload       []byte
	Status        Status
	FailureKind   FailureKind
	LastError     string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastAttemptAt *time.Time
	NextAttemptAt *time.Time
	SubmittedAt   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the item still needs delivery work. Submitted is
// the only terminal-success state; everything else can reach the wire again.
func (i Item) IsActive() bool {
	return i.Status != StatusSubmitted
}

// AutoRetryScheduled reports whether the dispatch loop will pick the item up
// again without user intervention. Terminal failures carry no next attempt
// time until RetryFailed sets one.
func (i Item) AutoRetryScheduled() bool {
	return i.Status == StatusFailed && i.NextAttemptAt != nil
}

// EligibleAt returns the earliest time the dispatch loop may attempt the item,
// or nil when the item is not dispatchable at all.
func (i Item) EligibleAt() *time.Time {
	switch i.Status {
	case StatusPending:
		at := i.CreatedAt
		return &at
	case StatusFailed:
		return i.NextAttemptAt
	default:
		return nil
	}
}

// StatusRank orders statuses by lifecycle progress so observers can detect
// regressions: pending < submitting < failed < submitted. A failed attempt
// still advanced further than an untried one.
func StatusRank(status Status) int {
	switch status {
	case StatusPending:
		return 0
	case StatusSubmitting:
		return 1
	case StatusFailed:
		return 2
	case StatusSubmitted:
		return 3
	default:
		return -1
	}
}

// HealthSummary describes aggregated outbox counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Submitting int
	Submitted  int
	Failed     int
	Terminal   int
}
