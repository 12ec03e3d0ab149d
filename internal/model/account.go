package model

import (
	"errors"
	"time"
)

type SubscriptionStatus string

const (
	Trialing  SubscriptionStatus = "trialing"
	Active    SubscriptionStatus = "active"
	PastDue   SubscriptionStatus = "past_due"
	Cancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case Trialing, Active, PastDue, Cancelled:
		return true
	}
	return false
}

const (
	MaxSMSDelayHours   = 72
	MinNudgeDelayHours = 1
	MaxNudgeDelayHours = 168
)

// Account is owned by the billing and settings flows; this service only reads it.
type Account struct {
	ID                  string
	BusinessName        string
	ReviewURL           string
	SubscriptionStatus  SubscriptionStatus
	MonthlyRequestLimit int
	TrialEndsAt         *time.Time
	SMSDelayHours       int
	NudgeEnabled        bool
	NudgeDelayHours     int
	CreatedAt           time.Time
}

func (a *Account) Validate() error {
	var errs []error
	if a.ID == "" {
		errs = append(errs, errors.New("account id is required"))
	}
	if !a.SubscriptionStatus.Valid() {
		errs = append(errs, errors.New("invalid subscription status"))
	}
	if a.MonthlyRequestLimit < 0 {
		errs = append(errs, errors.New("monthly request limit must be >= 0"))
	}
	if a.SMSDelayHours < 0 || a.SMSDelayHours > MaxSMSDelayHours {
		errs = append(errs, errors.New("sms delay must be between 0 and 72 hours"))
	}
	if a.NudgeDelayHours < MinNudgeDelayHours || a.NudgeDelayHours > MaxNudgeDelayHours {
		errs = append(errs, errors.New("nudge delay must be between 1 and 168 hours"))
	}
	return errors.Join(errs...)
}
