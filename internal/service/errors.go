package service

import "errors"

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrValidation           = errors.New("validation failed")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrTrialExpired         = errors.New("trial has expired")
	ErrMonthlyLimitReached  = errors.New("monthly review request limit reached")
	ErrNotFound             = errors.New("not found")
	ErrDuplicateSubmission  = errors.New("feedback already submitted")
	ErrAlreadyCompleted     = errors.New("review request already completed")
)
