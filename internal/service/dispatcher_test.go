package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/reviewgate/internal/client"
	"github.com/LeventeLantos/reviewgate/internal/events"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

func TestDispatcher_MarksSentOn202(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBody = body["message"]

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":   "Accepted",
			"messageId": "67f2f8a8-ea58-4ed0-a6f9-ff217df4d849",
		})
	}))
	t.Cleanup(srv.Close)

	req, err := f.lifecycle.CreateRequest(ctx, acc.ID, "jane doe", "07700900123")
	require.NoError(t, err)

	report := f.dispatcher(client.NewWebhookClient(srv.URL, "")).SendDue(ctx)
	require.Equal(t, 1, report.Sent, "items: %+v", report.Items)
	assert.Equal(t, service.KindInitial, report.Kind)

	got := f.reload(t, req.ID)
	assert.Equal(t, model.Sent, got.Status)
	require.NotNil(t, got.CorrelationID)
	assert.Equal(t, "67f2f8a8-ea58-4ed0-a6f9-ff217df4d849", *got.CorrelationID)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(t0))

	assert.Contains(t, gotBody, "Hi Jane,")
	assert.Contains(t, gotBody, "Acme Plumbing")
	assert.Contains(t, gotBody, "https://reviews.example.com/review/"+req.Token)

	id, found, _ := f.cache.LookupSent(ctx, *got.CorrelationID)
	assert.True(t, found)
	assert.Equal(t, req.ID, id)
}

func TestDispatcher_SendDueSkipsFutureRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, func(a *model.Account) { a.SMSDelayHours = 3 })

	_, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", "07700900123")
	require.NoError(t, err)

	report := f.dispatcher(nil).SendDue(ctx)
	assert.Empty(t, report.Items)

	f.clock.Advance(3 * time.Hour)
	report = f.dispatcher(nil).SendDue(ctx)
	assert.Equal(t, 1, report.Sent)
}

func TestDispatcher_RerunDoesNotResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	for _, p := range []string{"07700900001", "07700900002"} {
		_, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", p)
		require.NoError(t, err)
	}

	d := f.dispatcher(nil)
	first := d.SendDue(ctx)
	second := d.SendDue(ctx)

	assert.Equal(t, 2, first.Sent)
	assert.Empty(t, second.Items)
	assert.Len(t, f.gateway.calls(), 2)
}

func TestDispatcher_OverlappingRunsSendOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	for _, p := range []string{"07700900001", "07700900002", "07700900003"} {
		_, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", p)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	reports := make([]service.Report, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = f.dispatcher(nil).SendDue(ctx)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Sent
	}
	assert.Equal(t, 3, total)

	phones := map[string]int{}
	for _, c := range f.gateway.calls() {
		phones[c.phone]++
	}
	assert.Len(t, phones, 3)
	for p, n := range phones {
		assert.Equal(t, 1, n, "phone %s sent %d times", p, n)
	}
}

func TestDispatcher_GatewayFailureFailsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	req, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", "07700900123")
	require.NoError(t, err)

	f.gateway.setErr(&client.StatusError{Code: http.StatusBadRequest, Body: "invalid number"})
	report := f.dispatcher(nil).SendDue(ctx)

	require.Len(t, report.Items, 1)
	assert.Equal(t, service.OutcomeFailed, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Reason, "invalid number")

	got := f.reload(t, req.ID)
	assert.Equal(t, model.Failed, got.Status)
	assert.Equal(t, []string{events.RoutingFailed}, f.pub.keys())

	f.gateway.setErr(nil)
	f.clock.Advance(time.Hour)
	assert.Empty(t, f.dispatcher(nil).SendDue(ctx).Items, "failed requests are not retried")
}

func TestDispatcher_OneFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	_, err := f.lifecycle.CreateRequest(ctx, acc.ID, strings.Repeat("x", 400), "07700900001")
	require.NoError(t, err)
	_, err = f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", "07700900002")
	require.NoError(t, err)

	report := f.dispatcher(nil).SendDue(ctx)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, f.gateway.calls(), 1)
}

func TestDispatcher_CircuitOpenDefers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)

	req, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", "07700900123")
	require.NoError(t, err)

	f.gateway.setErr(client.ErrCircuitOpen)
	report := f.dispatcher(nil).SendDue(ctx)
	require.Len(t, report.Items, 1)
	assert.Equal(t, service.OutcomeDeferred, report.Items[0].Outcome)
	assert.Equal(t, model.Scheduled, f.reload(t, req.ID).Status)

	f.gateway.setErr(nil)
	assert.Empty(t, f.dispatcher(nil).SendDue(ctx).Items, "claim lease still held")

	f.clock.Advance(2 * time.Minute)
	report = f.dispatcher(nil).SendDue(ctx)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, model.Sent, f.reload(t, req.ID).Status)
}

type cancellingGateway struct {
	cancel context.CancelFunc
	calls  int
}

func (g *cancellingGateway) Send(ctx context.Context, _, _ string) (string, error) {
	g.calls++
	g.cancel()
	return "", ctx.Err()
}

func TestDispatcher_CancelledContextDefers(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, nil)

	var ids []string
	for _, p := range []string{"07700900001", "07700900002"} {
		req, err := f.lifecycle.CreateRequest(context.Background(), acc.ID, "Jane", p)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &cancellingGateway{cancel: cancel}

	report := f.dispatcher(gw).SendDue(ctx)
	require.Len(t, report.Items, 2)
	assert.Equal(t, 2, report.Deferred)
	assert.Equal(t, 1, gw.calls, "no sends after cancellation")

	for _, id := range ids {
		assert.Equal(t, model.Scheduled, f.reload(t, id).Status)
	}
}

func TestDispatcher_SendsNudgeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, func(a *model.Account) {
		a.NudgeEnabled = true
		a.NudgeDelayHours = 48
	})
	req := f.sentRequest(t, acc)

	f.clock.Advance(47 * time.Hour)
	assert.Empty(t, f.dispatcher(nil).SendNudges(ctx).Items)

	f.clock.Advance(3 * time.Hour)
	report := f.dispatcher(nil).SendNudges(ctx)
	require.Equal(t, 1, report.Sent, "items: %+v", report.Items)
	assert.Equal(t, service.KindNudge, report.Kind)

	got := f.reload(t, req.ID)
	assert.True(t, got.NudgeSent)
	assert.Equal(t, model.Sent, got.Status)

	again := f.dispatcher(nil).SendNudges(ctx)
	assert.Empty(t, again.Items)

	calls := f.gateway.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].body, "reminder")
	assert.Contains(t, calls[1].body, req.Token)
}

func TestDispatcher_NoNudgeWhenDisabledOrAdvanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	disabled := f.sentRequest(t, f.account(t, func(a *model.Account) { a.NudgeEnabled = false }))
	clicked := f.sentRequest(t, f.account(t, nil))
	failed := f.sentRequest(t, f.account(t, nil))

	_, err := f.lifecycle.MarkClicked(ctx, clicked.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.MarkDeliveryFailed(ctx, failed.ID, "undelivered")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	report := f.dispatcher(nil).SendNudges(ctx)
	assert.Empty(t, report.Items)

	assert.False(t, f.reload(t, disabled.ID).NudgeSent)
	assert.False(t, f.reload(t, clicked.ID).NudgeSent)
	assert.False(t, f.reload(t, failed.ID).NudgeSent)
}

func TestDispatcher_RejectedNudgeIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, nil))

	f.gateway.setErr(&client.StatusError{Code: http.StatusBadRequest})
	f.clock.Advance(49 * time.Hour)

	var failed int
	for i := 0; i < 10; i++ {
		report := f.dispatcher(nil).SendNudges(ctx)
		failed += report.Failed
		assert.Zero(t, report.Deferred)
		f.clock.Advance(5 * time.Minute)
	}
	assert.Equal(t, 1, failed, "a rejected nudge is attempted once")

	got := f.reload(t, req.ID)
	assert.Equal(t, model.Sent, got.Status)
	assert.True(t, got.NudgeSent)
	require.NotNil(t, got.NudgeSentAt)
	require.NotNil(t, got.NudgeFailureReason)
	assert.Contains(t, *got.NudgeFailureReason, "400")

	f.gateway.setErr(nil)
	assert.Empty(t, f.dispatcher(nil).SendNudges(ctx).Items)
	assert.Len(t, f.gateway.calls(), 1, "only the initial message reached the gateway")
}

func TestDispatcher_OversizedNudgeIsSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, nil))

	d := service.NewDispatcher(f.store, f.lifecycle, f.gateway, service.DispatchConfig{
		ContentMax:    20,
		PublicBaseURL: "https://reviews.example.com/",
	}, f.opts)

	f.clock.Advance(49 * time.Hour)
	report := d.SendNudges(ctx)
	require.Len(t, report.Items, 1)
	assert.Equal(t, service.OutcomeFailed, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Reason, "content exceeds 20")

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.dispatcher(nil).SendNudges(ctx).Items)
	assert.True(t, f.reload(t, req.ID).NudgeSent)
}

func TestDispatcher_NudgeDeferredWhileCircuitOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, nil))

	f.clock.Advance(49 * time.Hour)
	f.gateway.setErr(client.ErrCircuitOpen)
	report := f.dispatcher(nil).SendNudges(ctx)
	require.Len(t, report.Items, 1)
	assert.Equal(t, service.OutcomeDeferred, report.Items[0].Outcome)

	got := f.reload(t, req.ID)
	assert.Equal(t, model.Sent, got.Status)
	assert.False(t, got.NudgeSent)
	assert.Nil(t, got.NudgeFailureReason)

	f.gateway.setErr(nil)
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.dispatcher(nil).SendNudges(ctx).Sent)
	assert.True(t, f.reload(t, req.ID).NudgeSent)
}

func TestDispatcher_NudgeDelayFollowsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, func(a *model.Account) { a.NudgeDelayHours = 168 })
	req := f.sentRequest(t, acc)

	f.clock.Advance(50 * time.Hour)
	assert.Empty(t, f.dispatcher(nil).SendNudges(ctx).Items)

	acc.NudgeDelayHours = 1
	require.NoError(t, f.store.SaveAccount(ctx, acc))

	report := f.dispatcher(nil).SendNudges(ctx)
	require.Equal(t, 1, report.Sent, "items: %+v", report.Items)
	assert.True(t, f.reload(t, req.ID).NudgeSent)
}

func TestDispatcher_NudgesHeldDuringQuietHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, func(a *model.Account) { a.NudgeDelayHours = 12 }))

	// Sent 10:00, due 22:00.
	f.clock.Set(time.Date(2026, 2, 10, 22, 0, 0, 0, time.UTC))
	report := f.dispatcher(nil).SendNudges(ctx)
	assert.True(t, report.QuietHours)
	assert.Empty(t, report.Items)

	f.clock.Set(time.Date(2026, 2, 11, 7, 59, 0, 0, time.UTC))
	assert.Empty(t, f.dispatcher(nil).SendNudges(ctx).Items)
	assert.False(t, f.reload(t, req.ID).NudgeSent)

	f.clock.Set(time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC))
	report = f.dispatcher(nil).SendNudges(ctx)
	assert.False(t, report.QuietHours)
	assert.Equal(t, 1, report.Sent)
	assert.True(t, f.reload(t, req.ID).NudgeSent)
}

func TestDispatcher_ListFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, nil)
	_, err := f.lifecycle.CreateRequest(ctx, acc.ID, "Jane", "07700900123")
	require.NoError(t, err)

	require.NoError(t, f.db.Close())

	report := f.dispatcher(nil).SendDue(ctx)
	assert.Contains(t, report.Error, "list due review requests")
	assert.Empty(t, report.Items)

	report = f.dispatcher(nil).SendNudges(ctx)
	assert.Contains(t, report.Error, "list due nudges")
	assert.Empty(t, f.gateway.calls())
}

