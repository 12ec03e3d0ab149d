package model

import "time"

type Status string

const (
	Scheduled     Status = "scheduled"
	Sent          Status = "sent"
	Clicked       Status = "clicked"
	Reviewed      Status = "reviewed"
	FeedbackGiven Status = "feedback_given"
	Failed        Status = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case Reviewed, FeedbackGiven, Failed:
		return true
	}
	return false
}

// Rank orders statuses along the lifecycle. A valid transition never lowers it.
func (s Status) Rank() int {
	switch s {
	case Scheduled:
		return 0
	case Sent:
		return 1
	case Clicked:
		return 2
	case Reviewed, FeedbackGiven, Failed:
		return 3
	}
	return -1
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// Rateable reports whether a customer rating may still move the request to a terminal outcome.
func (s Status) Rateable() bool { return s == Sent || s == Clicked }

// NudgeSent is set after the single nudge attempt, whether or not the gateway accepted it;
// NudgeFailureReason explains a failed attempt.
type ReviewRequest struct {
	ID                 string
	AccountID          string
	CustomerID         string
	Token              string
	Status             Status
	ScheduledSendAt    time.Time
	SentAt             *time.Time
	ClickedAt          *time.Time
	NudgeSent          bool
	NudgeSentAt        *time.Time
	NudgeFailureReason *string
	CorrelationID      *string
	FailureReason      *string
	CreatedAt          time.Time
}

type Customer struct {
	ID        string
	AccountID string
	Name      string
	Phone     string
	CreatedAt time.Time
}

type Feedback struct {
	ID              string
	ReviewRequestID string
	AccountID       string
	Rating          int
	Comment         *string
	CreatedAt       time.Time
}

// DispatchItem is a due review request joined with what is needed to message its customer.
type DispatchItem struct {
	RequestID     string
	AccountID     string
	Token         string
	Status        Status
	CustomerName  string
	CustomerPhone string
	BusinessName  string
	SentAt        *time.Time
}

// FeedbackEntry is a stored feedback row with the customer it came from.
type FeedbackEntry struct {
	Feedback
	CustomerName  string
	CustomerPhone string
}
