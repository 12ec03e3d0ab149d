package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/model"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateToken    = errors.New("review request token already exists")
	ErrDuplicateFeedback = errors.New("feedback already exists for review request")
)

type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	SaveAccount(ctx context.Context, a *model.Account) error
}

// ReviewRequestRepository exposes every status write as a compare-and-set.
// Mutators report false, nil when the guard did not match.
type ReviewRequestRepository interface {
	CountRequestsSince(ctx context.Context, accountID string, since time.Time) (int, error)
	UpsertCustomer(ctx context.Context, c *model.Customer) (*model.Customer, error)
	CreateReviewRequest(ctx context.Context, r *model.ReviewRequest) error

	GetByID(ctx context.Context, id string) (*model.ReviewRequest, error)
	GetByToken(ctx context.Context, token string) (*model.ReviewRequest, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*model.ReviewRequest, error)
	// ListByAccount returns one page of the account's requests, newest first, and the total matching f.
	ListByAccount(ctx context.Context, accountID string, f RequestFilter) ([]model.ReviewRequest, int, error)

	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.DispatchItem, error)
	// ListDueNudges returns sent requests whose account's current nudge delay has elapsed since sent_at.
	ListDueNudges(ctx context.Context, now time.Time, limit int) ([]model.DispatchItem, error)
	ClaimForSend(ctx context.Context, id string, now, until time.Time) (bool, error)
	ClaimForNudge(ctx context.Context, id string, now, until time.Time) (bool, error)

	MarkSent(ctx context.Context, id, correlationID string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, from model.Status, reason string) (bool, error)
	MarkClicked(ctx context.Context, id string, at time.Time) (bool, error)
	MarkNudged(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkNudgeFailed records a nudge attempt that did not go out. The request keeps its status
	// but is never offered for a nudge again.
	MarkNudgeFailed(ctx context.Context, id string, at time.Time, reason string) (bool, error)
	MarkReviewed(ctx context.Context, id string) (bool, error)

	// CreateFeedbackAndComplete inserts fb and moves its request to feedback_given in one transaction.
	// It returns ErrDuplicateFeedback when feedback already exists, and false when the request is
	// no longer rateable; neither case leaves a feedback row behind.
	CreateFeedbackAndComplete(ctx context.Context, fb *model.Feedback) (bool, error)
	GetFeedback(ctx context.Context, reviewRequestID string) (*model.Feedback, error)
	ListFeedback(ctx context.Context, accountID string, f FeedbackFilter) ([]model.FeedbackEntry, int, error)
}

// RequestFilter narrows an account's request listing. A zero Status matches every status.
type RequestFilter struct {
	Status model.Status
	Limit  int
	Offset int
}

// FeedbackFilter narrows an account's feedback listing. Zero values match everything.
type FeedbackFilter struct {
	Rating int
	Since  time.Time
	Limit  int
	Offset int
}

type Store interface {
	AccountRepository
	ReviewRequestRepository
}
