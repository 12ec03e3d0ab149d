package service_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/reviewgate/internal/events"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/phone"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/scheduler"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

// 2026-02-10 is a Tuesday.
var t0 = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	key string
	ev  events.LifecycleEvent
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var ev events.LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{key: key, ev: ev})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.key)
	}
	return out
}

type sentSMS struct {
	phone string
	body  string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (g *fakeGateway) Send(_ context.Context, phoneNumber, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, sentSMS{phone: phoneNumber, body: message})
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) calls() []sentSMS {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentSMS(nil), g.sent...)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) StoreSent(_ context.Context, correlationID, requestID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]string{}
	}
	c.m[correlationID] = requestID
	return nil
}

func (c *mapCache) LookupSent(_ context.Context, correlationID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[correlationID]
	return id, ok, nil
}

type fixture struct {
	db        *sql.DB
	store     *repo.SQLStore
	clock     *fakeClock
	pub       *recordingPublisher
	cache     *mapCache
	gateway   *fakeGateway
	opts      service.Options
	lifecycle *service.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	db, err := repo.Open(ctx, repo.SQLite, filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repo.Migrate(db, repo.SQLite))

	f := &fixture{
		db:      db,
		store:   repo.NewSQLStore(db, repo.SQLite),
		clock:   &fakeClock{now: t0},
		pub:     &recordingPublisher{},
		cache:   &mapCache{},
		gateway: &fakeGateway{},
	}
	f.opts = service.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: f.pub,
		Cache:     f.cache,
		Now:       f.clock.Now,
	}
	f.lifecycle = service.NewLifecycle(f.store, scheduler.DefaultQuietHours(time.UTC), phone.UK, f.opts)
	return f
}

func (f *fixture) dispatcher(c service.SendClient) *service.Dispatcher {
	if c == nil {
		c = f.gateway
	}
	return service.NewDispatcher(f.store, f.lifecycle, c, service.DispatchConfig{
		BatchSize:     50,
		ClaimLease:    time.Minute,
		ContentMax:    320,
		PublicBaseURL: "https://reviews.example.com/",
	}, f.opts)
}

func (f *fixture) account(t *testing.T, mutate func(a *model.Account)) *model.Account {
	t.Helper()

	a := &model.Account{
		ID:                  uuid.NewString(),
		BusinessName:        "Acme Plumbing",
		ReviewURL:           "https://g.page/r/acme/review",
		SubscriptionStatus:  model.Active,
		MonthlyRequestLimit: 50,
		SMSDelayHours:       0,
		NudgeEnabled:        true,
		NudgeDelayHours:     48,
		CreatedAt:           t0.Add(-30 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, f.store.SaveAccount(context.Background(), a))
	return a
}

// sentRequest creates a request for acc and dispatches it at the current clock time.
func (f *fixture) sentRequest(t *testing.T, acc *model.Account) *model.ReviewRequest {
	t.Helper()
	ctx := context.Background()

	req, err := f.lifecycle.CreateRequest(ctx, acc.ID, "jane doe", "07700 900"+fmt.Sprintf("%03d", len(f.gateway.calls())))
	require.NoError(t, err)

	f.clock.Set(req.ScheduledSendAt)
	report := f.dispatcher(nil).SendDue(ctx)
	require.Equal(t, 1, report.Sent, "items: %+v", report.Items)

	return f.reload(t, req.ID)
}

func (f *fixture) reload(t *testing.T, id string) *model.ReviewRequest {
	t.Helper()
	r, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

var errGatewayDown = errors.New("gateway unavailable")
