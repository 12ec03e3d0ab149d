package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/model"
)

// SQLStore implements Store over database/sql for both Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

func (s *SQLStore) exec(ctx context.Context, q sqlExecer, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, business_name, review_url, subscription_status, monthly_request_limit,
		       trial_ends_at, sms_delay_hours, nudge_enabled, nudge_delay_hours, created_at
		FROM accounts
		WHERE id = $1
	`), id)

	var a model.Account
	var status string
	var trialEndsAt sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.BusinessName,
		&a.ReviewURL,
		&status,
		&a.MonthlyRequestLimit,
		&trialEndsAt,
		&a.SMSDelayHours,
		&a.NudgeEnabled,
		&a.NudgeDelayHours,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.SubscriptionStatus = model.SubscriptionStatus(status)
	a.TrialEndsAt = timePtr(trialEndsAt)
	return &a, nil
}

func (s *SQLStore) SaveAccount(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO accounts (
			id, business_name, review_url, subscription_status, monthly_request_limit,
			trial_ends_at, sms_delay_hours, nudge_enabled, nudge_delay_hours, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			business_name = excluded.business_name,
			review_url = excluded.review_url,
			subscription_status = excluded.subscription_status,
			monthly_request_limit = excluded.monthly_request_limit,
			trial_ends_at = excluded.trial_ends_at,
			sms_delay_hours = excluded.sms_delay_hours,
			nudge_enabled = excluded.nudge_enabled,
			nudge_delay_hours = excluded.nudge_delay_hours
	`),
		a.ID,
		a.BusinessName,
		a.ReviewURL,
		string(a.SubscriptionStatus),
		a.MonthlyRequestLimit,
		nullTime(a.TrialEndsAt),
		a.SMSDelayHours,
		a.NudgeEnabled,
		a.NudgeDelayHours,
		a.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) CountRequestsSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT COUNT(*) FROM review_requests
		WHERE account_id = $1 AND created_at >= $2
	`), accountID, since.UTC()).Scan(&n)
	return n, err
}

func (s *SQLStore) UpsertCustomer(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	out := *c
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO customers (id, account_id, name, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, phone) DO UPDATE SET name = excluded.name
		RETURNING id, created_at
	`), out.ID, out.AccountID, out.Name, out.Phone, out.CreatedAt.UTC()).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLStore) CreateReviewRequest(ctx context.Context, r *model.ReviewRequest) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO review_requests (
			id, account_id, customer_id, token, status, scheduled_send_at, nudge_sent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`),
		r.ID,
		r.AccountID,
		r.CustomerID,
		r.Token,
		string(r.Status),
		r.ScheduledSendAt.UTC(),
		r.NudgeSent,
		r.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateToken
	}
	return err
}

const selectRequest = `
	SELECT id, account_id, customer_id, token, status, scheduled_send_at, sent_at, clicked_at,
	       nudge_sent, nudge_sent_at, nudge_failure_reason, correlation_id, failure_reason, created_at
	FROM review_requests
`

func (s *SQLStore) getOne(ctx context.Context, where string, arg any) (*model.ReviewRequest, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectRequest+where), arg)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*model.ReviewRequest, error) {
	return s.getOne(ctx, "WHERE id = $1", id)
}

func (s *SQLStore) GetByToken(ctx context.Context, token string) (*model.ReviewRequest, error) {
	return s.getOne(ctx, "WHERE token = $1", token)
}

func (s *SQLStore) GetByCorrelationID(ctx context.Context, correlationID string) (*model.ReviewRequest, error) {
	return s.getOne(ctx, "WHERE correlation_id = $1", correlationID)
}

func (s *SQLStore) ListByAccount(ctx context.Context, accountID string, f RequestFilter) ([]model.ReviewRequest, int, error) {
	var w clause
	w.add("account_id = %s", accountID)
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT COUNT(*) FROM review_requests "+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(selectRequest+w.String()+w.page("created_at DESC")), w.pageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.ReviewRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

const selectDispatchItem = `
	SELECT r.id, r.account_id, r.token, r.status, c.name, c.phone, a.business_name, r.sent_at
	FROM review_requests r
	JOIN customers c ON c.id = r.customer_id
	JOIN accounts a ON a.id = r.account_id
`

func (s *SQLStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.DispatchItem, error) {
	return s.listDue(ctx, selectDispatchItem+`
		WHERE r.status = 'scheduled'
		  AND r.scheduled_send_at <= $1
		  AND (r.claimed_until IS NULL OR r.claimed_until < $2)
		ORDER BY r.scheduled_send_at ASC
		LIMIT $3
	`, now.UTC(), now.UTC(), limit)
}

func (s *SQLStore) ListDueNudges(ctx context.Context, now time.Time, limit int) ([]model.DispatchItem, error) {
	return s.listDue(ctx, selectDispatchItem+`
		WHERE r.status = 'sent'
		  AND r.nudge_sent = FALSE
		  AND a.nudge_enabled = TRUE
		  AND r.sent_at IS NOT NULL
		  AND `+s.dialect.nudgeElapsed("$1")+`
		  AND (r.claimed_until IS NULL OR r.claimed_until < $2)
		ORDER BY r.sent_at ASC
		LIMIT $3
	`, now.UTC(), now.UTC(), limit)
}

func (s *SQLStore) listDue(ctx context.Context, query string, args ...any) ([]model.DispatchItem, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.DispatchItem
	for rows.Next() {
		var it model.DispatchItem
		var status string
		var sentAt sql.NullTime
		if err := rows.Scan(
			&it.RequestID,
			&it.AccountID,
			&it.Token,
			&status,
			&it.CustomerName,
			&it.CustomerPhone,
			&it.BusinessName,
			&sentAt,
		); err != nil {
			return nil, err
		}
		it.Status = model.Status(status)
		it.SentAt = timePtr(sentAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLStore) ClaimForSend(ctx context.Context, id string, now, until time.Time) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET claimed_until = $1
		WHERE id = $2
		  AND status = 'scheduled'
		  AND (claimed_until IS NULL OR claimed_until < $3)
	`, until.UTC(), id, now.UTC())
}

func (s *SQLStore) ClaimForNudge(ctx context.Context, id string, now, until time.Time) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET claimed_until = $1
		WHERE id = $2
		  AND status = 'sent'
		  AND nudge_sent = FALSE
		  AND (claimed_until IS NULL OR claimed_until < $3)
	`, until.UTC(), id, now.UTC())
}

func (s *SQLStore) MarkSent(ctx context.Context, id, correlationID string, sentAt time.Time) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET status = 'sent',
		    sent_at = $1,
		    correlation_id = $2,
		    claimed_until = NULL
		WHERE id = $3 AND status = 'scheduled'
	`, sentAt.UTC(), correlationID, id)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, from model.Status, reason string) (bool, error) {
	if from != model.Scheduled && from != model.Sent {
		return false, fmt.Errorf("cannot fail a request from status %q", from)
	}
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET status = 'failed',
		    failure_reason = $1,
		    claimed_until = NULL
		WHERE id = $2 AND status = $3
	`, reason, id, string(from))
}

func (s *SQLStore) MarkClicked(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET status = 'clicked', clicked_at = $1
		WHERE id = $2 AND status = 'sent'
	`, at.UTC(), id)
}

func (s *SQLStore) MarkNudged(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET nudge_sent = TRUE, nudge_sent_at = $1, claimed_until = NULL
		WHERE id = $2 AND status = 'sent' AND nudge_sent = FALSE
	`, at.UTC(), id)
}

func (s *SQLStore) MarkNudgeFailed(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET nudge_sent = TRUE, nudge_sent_at = $1, nudge_failure_reason = $2, claimed_until = NULL
		WHERE id = $3 AND status = 'sent' AND nudge_sent = FALSE
	`, at.UTC(), reason, id)
}

func (s *SQLStore) MarkReviewed(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, s.db, `
		UPDATE review_requests
		SET status = 'reviewed'
		WHERE id = $1 AND status IN ('sent', 'clicked')
	`, id)
}

func (s *SQLStore) CreateFeedbackAndComplete(ctx context.Context, fb *model.Feedback) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var comment sql.NullString
	if fb.Comment != nil {
		comment = sql.NullString{String: *fb.Comment, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO feedback (id, review_request_id, account_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), fb.ID, fb.ReviewRequestID, fb.AccountID, fb.Rating, comment, fb.CreatedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicateFeedback
		}
		return false, err
	}

	ok, err := s.exec(ctx, tx, `
		UPDATE review_requests
		SET status = 'feedback_given'
		WHERE id = $1 AND status IN ('sent', 'clicked')
	`, fb.ReviewRequestID)
	if err != nil || !ok {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) GetFeedback(ctx context.Context, reviewRequestID string) (*model.Feedback, error) {
	var fb model.Feedback
	var comment sql.NullString
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, review_request_id, account_id, rating, comment, created_at
		FROM feedback
		WHERE review_request_id = $1
	`), reviewRequestID).Scan(&fb.ID, &fb.ReviewRequestID, &fb.AccountID, &fb.Rating, &comment, &fb.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if comment.Valid {
		c := comment.String
		fb.Comment = &c
	}
	return &fb, nil
}

func (s *SQLStore) ListFeedback(ctx context.Context, accountID string, f FeedbackFilter) ([]model.FeedbackEntry, int, error) {
	var w clause
	w.add("f.account_id = %s", accountID)
	if f.Rating != 0 {
		w.add("f.rating = %s", f.Rating)
	}
	if !f.Since.IsZero() {
		w.add("f.created_at >= %s", f.Since.UTC())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT COUNT(*) FROM feedback f "+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT f.id, f.review_request_id, f.account_id, f.rating, f.comment, f.created_at, c.name, c.phone
		FROM feedback f
		JOIN review_requests r ON r.id = f.review_request_id
		JOIN customers c ON c.id = r.customer_id
	`+w.String()+w.page("f.created_at DESC")), w.pageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.FeedbackEntry
	for rows.Next() {
		var e model.FeedbackEntry
		var comment sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.ReviewRequestID,
			&e.AccountID,
			&e.Rating,
			&comment,
			&e.CreatedAt,
			&e.CustomerName,
			&e.CustomerPhone,
		); err != nil {
			return nil, 0, err
		}
		if comment.Valid {
			c := comment.String
			e.Comment = &c
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// clause collects AND-ed conditions with $n placeholders numbered in order.
type clause struct {
	conds []string
	args  []any
}

func (w *clause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *clause) String() string {
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *clause) page(orderBy string) string {
	n := len(w.args)
	return fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, n+1, n+2)
}

func (w *clause) pageArgs(limit, offset int) []any {
	return append(append([]any{}, w.args...), limit, offset)
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*model.ReviewRequest, error) {
	var r model.ReviewRequest
	var status string
	var sentAt, clickedAt, nudgeSentAt sql.NullTime
	var nudgeFailure, correlationID, failureReason sql.NullString

	if err := row.Scan(
		&r.ID,
		&r.AccountID,
		&r.CustomerID,
		&r.Token,
		&status,
		&r.ScheduledSendAt,
		&sentAt,
		&clickedAt,
		&r.NudgeSent,
		&nudgeSentAt,
		&nudgeFailure,
		&correlationID,
		&failureReason,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}

	r.Status = model.Status(status)
	r.SentAt = timePtr(sentAt)
	r.ClickedAt = timePtr(clickedAt)
	r.NudgeSentAt = timePtr(nudgeSentAt)
	if nudgeFailure.Valid {
		s := nudgeFailure.String
		r.NudgeFailureReason = &s
	}
	if correlationID.Valid {
		s := correlationID.String
		r.CorrelationID = &s
	}
	if failureReason.Valid {
		s := failureReason.String
		r.FailureReason = &s
	}
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
