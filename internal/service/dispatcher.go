package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/LeventeLantos/reviewgate/internal/client"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/repo"
)

type SendClient interface {
	Send(ctx context.Context, phoneNumber, message string) (remoteMessageID string, err error)
}

const (
	KindInitial = "initial"
	KindNudge   = "nudge"
)

type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeFailed   Outcome = "failed"
	OutcomeDeferred Outcome = "deferred"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
)

type ItemResult struct {
	RequestID string  `json:"requestId"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
}

// Report summarises one dispatch invocation. Item failures never abort the batch.
// Error is set only when the due work could not be listed at all.
type Report struct {
	Kind       string       `json:"kind"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Sent       int          `json:"sent"`
	Failed     int          `json:"failed"`
	Deferred   int          `json:"deferred"`
	Skipped    int          `json:"skipped"`
	Errors     int          `json:"errors"`
	QuietHours bool         `json:"quietHours,omitempty"`
	Error      string       `json:"error,omitempty"`
	Items      []ItemResult `json:"items"`
}

func (r *Report) add(it ItemResult) {
	r.Items = append(r.Items, it)
	switch it.Outcome {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	case OutcomeDeferred:
		r.Deferred++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeError:
		r.Errors++
	}
}

type DispatchConfig struct {
	BatchSize     int
	SendPause     time.Duration
	ClaimLease    time.Duration
	ContentMax    int
	PublicBaseURL string
}

// Dispatcher sends due initial messages and nudges. It is safe to run concurrently
// with itself: claims and status guards keep an item from being sent twice at once.
type Dispatcher struct {
	store     repo.ReviewRequestRepository
	lifecycle *Lifecycle
	client    SendClient
	cfg       DispatchConfig
	limiter   *rate.Limiter
	opts      Options
	title     cases.Caser
}

func NewDispatcher(store repo.ReviewRequestRepository, lifecycle *Lifecycle, c SendClient, cfg DispatchConfig, opts Options) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	if cfg.ContentMax <= 0 {
		cfg.ContentMax = 320
	}

	limit := rate.Inf
	if cfg.SendPause > 0 {
		limit = rate.Every(cfg.SendPause)
	}

	return &Dispatcher{
		store:     store,
		lifecycle: lifecycle,
		client:    c,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts.withDefaults(),
		title:     cases.Title(language.BritishEnglish),
	}
}

// SendDue sends the first message of every scheduled request whose time has come.
func (d *Dispatcher) SendDue(ctx context.Context) Report {
	now := d.opts.Now().UTC()
	report := Report{Kind: KindInitial, StartedAt: now}

	items, err := d.store.ListDueScheduled(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.opts.Logger.Error("list due review requests", "error", err)
		report.Error = "list due review requests: " + err.Error()
	} else {
		for _, it := range items {
			res := d.sendInitial(ctx, it)
			d.record(KindInitial, res)
			report.add(res)
		}
	}

	report.FinishedAt = d.opts.Now().UTC()
	d.logReport(report)
	return report
}

// SendNudges sends the single follow-up to sent requests whose nudge is due.
// Nothing goes out during quiet hours; due nudges wait for the next run after they end.
func (d *Dispatcher) SendNudges(ctx context.Context) Report {
	now := d.opts.Now().UTC()
	report := Report{Kind: KindNudge, StartedAt: now}

	if d.lifecycle.quiet.Quiet(now) {
		report.QuietHours = true
		report.FinishedAt = now
		d.opts.Logger.Info("nudges held for quiet hours", "now", now)
		return report
	}

	items, err := d.store.ListDueNudges(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.opts.Logger.Error("list due nudges", "error", err)
		report.Error = "list due nudges: " + err.Error()
	} else {
		for _, it := range items {
			res := d.sendNudge(ctx, it)
			d.record(KindNudge, res)
			report.add(res)
		}
	}

	report.FinishedAt = d.opts.Now().UTC()
	d.logReport(report)
	return report
}

func (d *Dispatcher) sendInitial(ctx context.Context, it model.DispatchItem) ItemResult {
	res := ItemResult{RequestID: it.RequestID}
	if err := ctx.Err(); err != nil {
		return deferred(res, err)
	}

	now := d.opts.Now().UTC()
	claimed, err := d.store.ClaimForSend(ctx, it.RequestID, now, now.Add(d.cfg.ClaimLease))
	if err != nil {
		return errored(res, fmt.Errorf("claim: %w", err))
	}
	if !claimed {
		res.Outcome, res.Reason = OutcomeSkipped, "claimed elsewhere or no longer scheduled"
		return res
	}

	msg := d.initialMessage(it)
	if reason := d.checkContent(msg); reason != "" {
		return d.failInitial(ctx, res, reason)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return deferred(res, err)
	}

	correlationID, err := d.client.Send(ctx, it.CustomerPhone, msg)
	if err != nil {
		if isTransient(ctx, err) {
			return deferred(res, err)
		}
		return d.failInitial(ctx, res, err.Error())
	}

	ok, err := d.lifecycle.MarkDispatched(ctx, it.RequestID, correlationID)
	if err != nil {
		return errored(res, fmt.Errorf("mark dispatched after send %s: %w", correlationID, err))
	}
	if !ok {
		res.Outcome, res.Reason = OutcomeSkipped, "status changed while sending"
		return res
	}

	if err := d.opts.Cache.StoreSent(ctx, correlationID, it.RequestID, now); err != nil {
		d.opts.Logger.Warn("sent cache store failed", "request_id", it.RequestID, "error", err)
	}

	res.Outcome = OutcomeSent
	return res
}

func (d *Dispatcher) failInitial(ctx context.Context, res ItemResult, reason string) ItemResult {
	if _, err := d.lifecycle.MarkDispatchFailed(ctx, res.RequestID, reason); err != nil {
		return errored(res, fmt.Errorf("mark failed (%s): %w", reason, err))
	}
	res.Outcome, res.Reason = OutcomeFailed, reason
	return res
}

// sendNudge never moves status. A nudge rejected for good spends the single attempt;
// only a cancelled run or an open breaker leaves it eligible for the next run.
func (d *Dispatcher) sendNudge(ctx context.Context, it model.DispatchItem) ItemResult {
	res := ItemResult{RequestID: it.RequestID}
	if err := ctx.Err(); err != nil {
		return deferred(res, err)
	}

	now := d.opts.Now().UTC()
	claimed, err := d.store.ClaimForNudge(ctx, it.RequestID, now, now.Add(d.cfg.ClaimLease))
	if err != nil {
		return errored(res, fmt.Errorf("claim: %w", err))
	}
	if !claimed {
		res.Outcome, res.Reason = OutcomeSkipped, "claimed elsewhere or no longer eligible"
		return res
	}

	msg := d.nudgeMessage(it)
	if reason := d.checkContent(msg); reason != "" {
		return d.failNudge(ctx, res, reason)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return deferred(res, err)
	}

	if _, err := d.client.Send(ctx, it.CustomerPhone, msg); err != nil {
		if isTransient(ctx, err) {
			return deferred(res, err)
		}
		return d.failNudge(ctx, res, err.Error())
	}

	ok, err := d.lifecycle.MarkNudged(ctx, it.RequestID)
	if err != nil {
		return errored(res, fmt.Errorf("mark nudged: %w", err))
	}
	if !ok {
		res.Outcome, res.Reason = OutcomeSkipped, "status changed while sending"
		return res
	}

	res.Outcome = OutcomeSent
	return res
}

func (d *Dispatcher) failNudge(ctx context.Context, res ItemResult, reason string) ItemResult {
	if _, err := d.lifecycle.MarkNudgeFailed(ctx, res.RequestID, reason); err != nil {
		return errored(res, fmt.Errorf("mark nudge failed (%s): %w", reason, err))
	}
	res.Outcome, res.Reason = OutcomeFailed, reason
	return res
}

func (d *Dispatcher) checkContent(msg string) string {
	if utf8.RuneCountInString(msg) > d.cfg.ContentMax {
		return fmt.Sprintf("content exceeds %d chars", d.cfg.ContentMax)
	}
	return ""
}

func (d *Dispatcher) gateLink(tok string) string {
	return strings.TrimRight(d.cfg.PublicBaseURL, "/") + "/review/" + tok
}

func (d *Dispatcher) firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return d.title.String(fields[0])
}

func (d *Dispatcher) initialMessage(it model.DispatchItem) string {
	return fmt.Sprintf("Hi %s, thanks for choosing %s! How did we do? Tap to rate us: %s",
		d.firstName(it.CustomerName), it.BusinessName, d.gateLink(it.Token))
}

func (d *Dispatcher) nudgeMessage(it model.DispatchItem) string {
	return fmt.Sprintf("Hi %s, just a gentle reminder from %s. We'd really value your feedback: %s",
		d.firstName(it.CustomerName), it.BusinessName, d.gateLink(it.Token))
}

func (d *Dispatcher) record(kind string, res ItemResult) {
	d.opts.Metrics.DispatchItem(kind, string(res.Outcome))
	if res.Outcome == OutcomeFailed || res.Outcome == OutcomeError {
		d.opts.Logger.Warn("dispatch item not sent",
			"kind", kind,
			"request_id", res.RequestID,
			"outcome", res.Outcome,
			"reason", res.Reason,
		)
	}
}

func (d *Dispatcher) logReport(r Report) {
	d.opts.Logger.Info("dispatch run finished",
		"kind", r.Kind,
		"sent", r.Sent,
		"failed", r.Failed,
		"deferred", r.Deferred,
		"skipped", r.Skipped,
		"errors", r.Errors,
		"duration_ms", r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	)
}

// isTransient reports errors after which the item should simply be retried later.
func isTransient(ctx context.Context, err error) bool {
	return errors.Is(err, client.ErrCircuitOpen) || ctx.Err() != nil
}

func deferred(res ItemResult, err error) ItemResult {
	res.Outcome, res.Reason = OutcomeDeferred, err.Error()
	return res
}

func errored(res ItemResult, err error) ItemResult {
	res.Outcome, res.Reason = OutcomeError, err.Error()
	return res
}
