package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/token"
)

const MaxCommentRunes = 1000

type Route string

const (
	// RouteRedirect sends the customer to the public review platform.
	RouteRedirect Route = "redirect"
	// RouteFeedback asks the customer for private feedback.
	RouteFeedback Route = "feedback"
)

// GateView is what the rating page needs to render.
type GateView struct {
	RequestID    string       `json:"requestId"`
	BusinessName string       `json:"businessName"`
	Status       model.Status `json:"status"`
	Completed    bool         `json:"completed"`
}

type RatingResult struct {
	Route        Route
	RedirectURL  string
	Status       model.Status
	Notification Notification
}

// Gate routes customer ratings by sentiment.
type Gate struct {
	store     repo.Store
	lifecycle *Lifecycle
	opts      Options
}

func NewGate(store repo.Store, lifecycle *Lifecycle, opts Options) *Gate {
	return &Gate{store: store, lifecycle: lifecycle, opts: opts.withDefaults()}
}

func (g *Gate) load(ctx context.Context, tok string) (*model.ReviewRequest, *model.Account, error) {
	if !token.Valid(tok) {
		return nil, nil, ErrNotFound
	}
	req, err := g.store.GetByToken(ctx, tok)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	acc, err := g.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load account: %w", err)
	}
	return req, acc, nil
}

// Resolve looks up the request behind tok and records the first click.
func (g *Gate) Resolve(ctx context.Context, tok string) (*GateView, error) {
	req, acc, err := g.load(ctx, tok)
	if err != nil {
		return nil, err
	}

	status := req.Status
	if status == model.Sent {
		ok, err := g.lifecycle.MarkClicked(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			status = model.Clicked
			g.opts.Logger.Info("review link clicked", "request_id", req.ID)
		}
	}

	return &GateView{
		RequestID:    req.ID,
		BusinessName: acc.BusinessName,
		Status:       status,
		Completed:    status.IsTerminal(),
	}, nil
}

// Rate routes a rating. High ratings complete the request and return the public review URL.
// Low ratings only ask for feedback; nothing changes until SubmitFeedback.
func (g *Gate) Rate(ctx context.Context, tok string, rating int) (*RatingResult, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	req, acc, err := g.load(ctx, tok)
	if err != nil {
		return nil, err
	}

	if rating <= 3 {
		if err := completedErr(req.Status); err != nil {
			return nil, err
		}
		g.opts.Metrics.GateRating("private")
		return &RatingResult{Route: RouteFeedback, Status: req.Status}, nil
	}

	tr, err := g.lifecycle.MarkRated(ctx, req.ID, rating, nil)
	if err != nil {
		return nil, err
	}
	status := req.Status
	if tr.Applied {
		status = model.Reviewed
	}

	g.opts.Metrics.GateRating("public")
	return &RatingResult{
		Route:        RouteRedirect,
		RedirectURL:  acc.ReviewURL,
		Status:       status,
		Notification: tr.Notification,
	}, nil
}

// SubmitFeedback stores a low rating with its comment and completes the request.
func (g *Gate) SubmitFeedback(ctx context.Context, tok string, rating int, comment string) (*RatingResult, error) {
	if rating < 1 || rating > 3 {
		return nil, fmt.Errorf("%w: feedback rating must be between 1 and 3", ErrValidation)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > MaxCommentRunes {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", ErrValidation, MaxCommentRunes)
	}

	req, _, err := g.load(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := completedErr(req.Status); err != nil {
		return nil, err
	}

	var c *string
	if comment != "" {
		c = &comment
	}

	tr, err := g.lifecycle.MarkRated(ctx, req.ID, rating, c)
	if err != nil {
		return nil, err
	}
	if !tr.Applied {
		return nil, ErrAlreadyCompleted
	}

	g.opts.Logger.Info("private feedback captured", "request_id", req.ID, "rating", rating)
	return &RatingResult{
		Route:        RouteFeedback,
		Status:       model.FeedbackGiven,
		Notification: tr.Notification,
	}, nil
}

func completedErr(s model.Status) error {
	switch {
	case s == model.FeedbackGiven:
		return ErrDuplicateSubmission
	case !s.Rateable():
		return ErrAlreadyCompleted
	}
	return nil
}
