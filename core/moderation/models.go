package moderation

import (
	"time"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classifier"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusBlocked   Status = "blocked"
	StatusEscalated Status = "escalated"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusBlocked, StatusEscalated:
		return true
	}
	return false
}

// IsTerminal reports whether no action can move an entry out of s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusBlocked
}

// Priority is derived from the risk level at enqueue time and never changes.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) IsValid() bool { return p.Rank() > 0 }

func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func PriorityFor(risk classifier.RiskLevel) Priority {
	switch risk {
	case classifier.RiskCritical:
		return PriorityUrgent
	case classifier.RiskHigh:
		return PriorityHigh
	case classifier.RiskMedium:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Action is a moderator decision.
type Action string

const (
	ActionReview   Action = "review"
	ActionApprove  Action = "approve"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
	ActionRestore  Action = "restore"
)

var Actions = []Action{ActionReview, ActionApprove, ActionBlock, ActionEscalate, ActionRestore}

func (a Action) IsValid() bool {
	switch a {
	case ActionReview, ActionApprove, ActionBlock, ActionEscalate, ActionRestore:
		return true
	}
	return false
}

var ErrInvalidTransition = core.NewError(core.CodeInvalidTransition, "action not allowed in the current moderation status")

// Next returns the status an entry in status `from` moves to when a is applied.
// Every decision goes through review: a pending entry can only be reviewed.
func (a Action) Next(from Status) (Status, error) {
	var want, to Status
	switch a {
	case ActionReview:
		want, to = StatusPending, StatusInReview
	case ActionApprove:
		want, to = StatusInReview, StatusApproved
	case ActionBlock:
		want, to = StatusInReview, StatusBlocked
	case ActionEscalate:
		want, to = StatusInReview, StatusEscalated
	case ActionRestore:
		want, to = StatusEscalated, StatusInReview
	default:
		return "", core.NewError(core.CodeValidation, "invalid moderation action")
	}
	if from != want {
		return "", ErrInvalidTransition
	}
	return to, nil
}

type Entry struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	ClassID    string    `json:"class_id"`
	Status     Status    `json:"status"`
	Priority   Priority  `json:"priority"`
	Reason     string    `json:"reason"`
	ReviewerID string    `json:"reviewer_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// NewEntry is what a flagged message is enqueued with.
type NewEntry struct {
	MessageID string
	ClassID   string
	RiskLevel classifier.RiskLevel
	Reason    string
}

// Decision is a moderator request on a message.
type Decision struct {
	Action Action `json:"action" validate:"required,modaction"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// Filter fields are ANDed; zero values are ignored.
type Filter struct {
	Status   Status   `query:"status"`
	Priority Priority `query:"priority"`
	ClassID  string   `query:"class_id"`
}
