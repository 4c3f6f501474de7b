package models

import (
	"fmt"
	"strings"
	"time"
)

// RoomType is the listing category a task targets.
type RoomType string

const (
	RoomsOne      RoomType = "one"
	RoomsTwo      RoomType = "two"
	RoomsThree    RoomType = "three"
	RoomsFourPlus RoomType = "four_plus"
)

// AllRoomTypes returns every room type in canonical order.
func AllRoomTypes() []RoomType {
	return []RoomType{RoomsOne, RoomsTwo, RoomsThree, RoomsFourPlus}
}

// ParseRoomType accepts the canonical names plus the numeric shorthands
// ("1".."4", "4+").
func ParseRoomType(s string) (RoomType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one", "1":
		return RoomsOne, nil
	case "two", "2":
		return RoomsTwo, nil
	case "three", "3":
		return RoomsThree, nil
	case "four_plus", "four", "4", "4+":
		return RoomsFourPlus, nil
	}
	return "", fmt.Errorf("unknown room type %q", s)
}

// TaskStatus is a node of the task state machine.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusRetry      TaskStatus = "RETRY"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusRetry},
	StatusRetry:      {StatusPending, StatusInProgress, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// RETRY -> IN_PROGRESS is the shortcut taken when a retried task whose
// backoff has elapsed is dequeued directly.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TargetDescriptor identifies what a task scrapes.
type TargetDescriptor struct {
	City         string    `json:"city"`
	District     string    `json:"district"`
	DistrictSlug string    `json:"districtSlug"`
	RoomType     RoomType  `json:"roomType"`
	FetchDate    time.Time `json:"fetchDate"`
}

// Key is a stable human-readable identifier of the target.
func (t TargetDescriptor) Key() string {
	return fmt.Sprintf("%s/%s/%s@%s", t.City, t.District, t.RoomType, t.FetchDate.Format("2006-01-02"))
}

// ScrapeTask is the unit of work moved through the queue.
type ScrapeTask struct {
	ID            string           `json:"id"`
	Target        TargetDescriptor `json:"target"`
	Priority      int              `json:"priority"`
	RetryCount    int              `json:"retryCount"`
	Status        TaskStatus       `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	NotBefore     time.Time        `json:"notBefore,omitempty"`
	Seq           int64            `json:"seq"`
	LastError     string           `json:"lastError,omitempty"`
	LastErrorKind FailureKind      `json:"lastErrorKind,omitempty"`
	Result        *AggregateResult `json:"result,omitempty"`
}

// QueueStatus is the cheap summary served to polling consumers.
type QueueStatus struct {
	Pending    int       `json:"pending"`
	InProgress int       `json:"inProgress"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	TotalCount int       `json:"totalCount"`
	Timestamp  time.Time `json:"timestamp"`
}
