package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/reviewgate/internal/events"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/phone"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/scheduler"
	"github.com/LeventeLantos/reviewgate/internal/token"
)

const tokenAttempts = 3

// Notification is the outcome of the best-effort event published after a transition.
// Its failure never undoes the transition.
type Notification struct {
	Published bool
	Err       error
}

// TransitionResult separates the state change from its side-channel notification.
type TransitionResult struct {
	Applied      bool
	Notification Notification
}

// Lifecycle owns every status transition of a review request.
type Lifecycle struct {
	store    repo.Store
	quiet    scheduler.QuietHours
	phone    phone.Policy
	opts     Options
	newToken func() (string, error)
}

func NewLifecycle(store repo.Store, quiet scheduler.QuietHours, policy phone.Policy, opts Options) *Lifecycle {
	return &Lifecycle{
		store:    store,
		quiet:    quiet,
		phone:    policy,
		opts:     opts.withDefaults(),
		newToken: token.Generate,
	}
}

func (l *Lifecycle) now() time.Time { return l.opts.Now().UTC() }

// CreateRequest schedules a review request for a customer of accountID.
func (l *Lifecycle) CreateRequest(ctx context.Context, accountID, customerName, customerPhone string) (*model.ReviewRequest, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrNotAuthenticated
	}

	name := strings.TrimSpace(customerName)
	rawPhone := strings.TrimSpace(customerPhone)
	var missing []string
	if name == "" {
		missing = append(missing, "customer name")
	}
	if rawPhone == "" {
		missing = append(missing, "customer phone")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, " and "))
	}

	acc, err := l.store.GetAccount(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	now := l.now()
	if err := l.checkEligibility(ctx, acc, now); err != nil {
		return nil, err
	}

	cust, err := l.store.UpsertCustomer(ctx, &model.Customer{
		ID:        uuid.NewString(),
		AccountID: acc.ID,
		Name:      name,
		Phone:     l.phone.Normalize(rawPhone),
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}

	req := &model.ReviewRequest{
		ID:              uuid.NewString(),
		AccountID:       acc.ID,
		CustomerID:      cust.ID,
		Status:          model.Scheduled,
		ScheduledSendAt: l.quiet.Next(now, acc.SMSDelayHours).UTC(),
		CreatedAt:       now,
	}

	for attempt := 1; ; attempt++ {
		tok, err := l.newToken()
		if err != nil {
			return nil, err
		}
		req.Token = tok

		err = l.store.CreateReviewRequest(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, repo.ErrDuplicateToken) || attempt == tokenAttempts {
			return nil, fmt.Errorf("create review request: %w", err)
		}
		l.opts.Logger.Warn("token collision, regenerating", "attempt", attempt)
	}

	l.opts.Logger.Info("review request scheduled",
		"request_id", req.ID,
		"account_id", acc.ID,
		"scheduled_send_at", req.ScheduledSendAt,
	)
	return req, nil
}

// checkEligibility is best-effort: two concurrent creations may both pass the count.
func (l *Lifecycle) checkEligibility(ctx context.Context, acc *model.Account, now time.Time) error {
	switch acc.SubscriptionStatus {
	case model.Active:
	case model.Trialing:
		if acc.TrialEndsAt != nil && !now.Before(*acc.TrialEndsAt) {
			return ErrTrialExpired
		}
	default:
		return ErrSubscriptionInactive
	}

	n, err := l.store.CountRequestsSince(ctx, acc.ID, l.quiet.MonthStart(now))
	if err != nil {
		return fmt.Errorf("count requests: %w", err)
	}
	if n >= acc.MonthlyRequestLimit {
		return ErrMonthlyLimitReached
	}
	return nil
}

// MarkDispatched moves a scheduled request to sent and records when its nudge falls due.
func (l *Lifecycle) MarkDispatched(ctx context.Context, requestID, correlationID string) (bool, error) {
	req, err := l.store.GetByID(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req.Status != model.Scheduled {
		return false, nil
	}
	return l.store.MarkSent(ctx, requestID, correlationID, l.now())
}

// MarkDispatchFailed fails a request that is still scheduled or sent.
func (l *Lifecycle) MarkDispatchFailed(ctx context.Context, requestID, reason string) (TransitionResult, error) {
	req, err := l.store.GetByID(ctx, requestID)
	if err != nil {
		return TransitionResult{}, err
	}
	if req.Status != model.Scheduled && req.Status != model.Sent {
		return TransitionResult{}, nil
	}
	return l.fail(ctx, req, req.Status, reason)
}

// MarkDeliveryFailed applies a gateway delivery failure; only a sent request is affected.
func (l *Lifecycle) MarkDeliveryFailed(ctx context.Context, requestID, reason string) (TransitionResult, error) {
	req, err := l.store.GetByID(ctx, requestID)
	if err != nil {
		return TransitionResult{}, err
	}
	return l.fail(ctx, req, model.Sent, reason)
}

func (l *Lifecycle) fail(ctx context.Context, req *model.ReviewRequest, from model.Status, reason string) (TransitionResult, error) {
	ok, err := l.store.MarkFailed(ctx, req.ID, from, reason)
	if err != nil || !ok {
		return TransitionResult{}, err
	}

	l.opts.Logger.Warn("review request failed", "request_id", req.ID, "from", from, "reason", reason)
	return TransitionResult{
		Applied: true,
		Notification: l.notify(ctx, events.RoutingFailed, events.LifecycleEvent{
			RequestID: req.ID,
			AccountID: req.AccountID,
			Status:    string(model.Failed),
			Reason:    reason,
		}),
	}, nil
}

// MarkClicked records the first visit of the gate link.
func (l *Lifecycle) MarkClicked(ctx context.Context, requestID string) (bool, error) {
	return l.store.MarkClicked(ctx, requestID, l.now())
}

func (l *Lifecycle) MarkNudged(ctx context.Context, requestID string) (bool, error) {
	return l.store.MarkNudged(ctx, requestID, l.now())
}

// MarkNudgeFailed spends the single nudge attempt without changing the request status.
func (l *Lifecycle) MarkNudgeFailed(ctx context.Context, requestID, reason string) (bool, error) {
	return l.store.MarkNudgeFailed(ctx, requestID, l.now(), reason)
}

// MarkRated applies a customer rating. Ratings of 4 and 5 complete the request as reviewed.
// Lower ratings store the feedback and complete it as feedback_given atomically.
func (l *Lifecycle) MarkRated(ctx context.Context, requestID string, rating int, comment *string) (TransitionResult, error) {
	if rating < 1 || rating > 5 {
		return TransitionResult{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	req, err := l.store.GetByID(ctx, requestID)
	if err != nil {
		return TransitionResult{}, err
	}

	if rating >= 4 {
		ok, err := l.store.MarkReviewed(ctx, req.ID)
		if err != nil || !ok {
			return TransitionResult{}, err
		}
		return TransitionResult{
			Applied: true,
			Notification: l.notify(ctx, events.RoutingReviewed, events.LifecycleEvent{
				RequestID: req.ID,
				AccountID: req.AccountID,
				Status:    string(model.Reviewed),
				Rating:    rating,
			}),
		}, nil
	}

	ok, err := l.store.CreateFeedbackAndComplete(ctx, &model.Feedback{
		ID:              uuid.NewString(),
		ReviewRequestID: req.ID,
		AccountID:       req.AccountID,
		Rating:          rating,
		Comment:         comment,
		CreatedAt:       l.now(),
	})
	if errors.Is(err, repo.ErrDuplicateFeedback) {
		return TransitionResult{}, ErrDuplicateSubmission
	}
	if err != nil || !ok {
		return TransitionResult{}, err
	}

	return TransitionResult{
		Applied: true,
		Notification: l.notify(ctx, events.RoutingFeedbackGiven, events.LifecycleEvent{
			RequestID: req.ID,
			AccountID: req.AccountID,
			Status:    string(model.FeedbackGiven),
			Rating:    rating,
		}),
	}, nil
}

func (l *Lifecycle) notify(ctx context.Context, routingKey string, ev events.LifecycleEvent) Notification {
	ev.OccurredAt = l.now()
	if err := events.Emit(ctx, l.opts.Publisher, routingKey, ev); err != nil {
		l.opts.Logger.Error("lifecycle event not published",
			"routing_key", routingKey,
			"request_id", ev.RequestID,
			"error", err,
		)
		return Notification{Err: err}
	}
	return Notification{Published: true}
}

// ListRequests returns the account's review requests, newest first.
func (l *Lifecycle) ListRequests(ctx context.Context, accountID string, f repo.RequestFilter) ([]model.ReviewRequest, int, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, 0, ErrNotAuthenticated
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return l.store.ListByAccount(ctx, accountID, f)
}

// ListFeedback returns the private feedback left for accountID, newest first.
// A zero Rating matches every rating.
func (l *Lifecycle) ListFeedback(ctx context.Context, accountID string, f repo.FeedbackFilter) ([]model.FeedbackEntry, int, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, 0, ErrNotAuthenticated
	}
	if f.Rating < 0 || f.Rating > 5 {
		return nil, 0, fmt.Errorf("%w: rating filter must be between 1 and 5", ErrValidation)
	}
	return l.store.ListFeedback(ctx, accountID, f)
}
