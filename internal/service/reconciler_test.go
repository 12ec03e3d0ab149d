package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/reviewgate/internal/client"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

const webhookSecret = "whsec_test"

func callback(messageID, status string) []byte {
	return []byte(fmt.Sprintf(`{"messageId":%q,"status":%q,"errorCode":"30003"}`, messageID, status))
}

func (f *fixture) reconciler(store repo.ReviewRequestRepository) *service.Reconciler {
	if store == nil {
		store = f.store
	}
	return service.NewReconciler(store, f.lifecycle, webhookSecret, f.opts)
}

func TestReconciler_FailedDeliveryFailsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, nil))

	body := callback(*req.CorrelationID, "undelivered")
	res, err := f.reconciler(nil).Handle(ctx, body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionFailed, res.Action)
	assert.Equal(t, req.ID, res.RequestID)
	assert.True(t, res.Notification.Published)

	got := f.reload(t, req.ID)
	assert.Equal(t, model.Failed, got.Status)
	assert.Equal(t, "delivery undelivered: code 30003", *got.FailureReason)

	// Gateways retry; a repeat is a no-op.
	res, err = f.reconciler(nil).Handle(ctx, body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionIgnored, res.Action)
}

func TestReconciler_DeliveredIsLoggedOnly(t *testing.T) {
	f := newFixture(t)
	req := f.sentRequest(t, f.account(t, nil))

	body := callback(*req.CorrelationID, "delivered")
	res, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionLogged, res.Action)
	assert.Equal(t, model.Sent, f.reload(t, req.ID).Status)
}

func TestReconciler_UnrecognisedStatusIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	req := f.sentRequest(t, f.account(t, nil))

	for _, status := range []string{"canceled", "read", "partially_delivered"} {
		body := callback(*req.CorrelationID, status)
		res, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign(webhookSecret, body))
		require.NoError(t, err, status)
		assert.Equal(t, service.ActionLogged, res.Action, status)
		assert.Equal(t, req.ID, res.RequestID)
	}
	assert.Equal(t, model.Sent, f.reload(t, req.ID).Status)

	body := callback(*req.CorrelationID, "read")
	_, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign("wrong", body))
	assert.ErrorIs(t, err, client.ErrInvalidSignature)
}

func TestReconciler_FailureAfterClickIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.sentRequest(t, f.account(t, nil))

	_, err := f.lifecycle.MarkClicked(ctx, req.ID)
	require.NoError(t, err)

	body := callback(*req.CorrelationID, "failed")
	res, err := f.reconciler(nil).Handle(ctx, body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionIgnored, res.Action)
	assert.Equal(t, model.Clicked, f.reload(t, req.ID).Status)
}

func TestReconciler_UnknownMessageIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	body := callback("SM-unknown", "failed")
	res, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionUnknown, res.Action)
}

func TestReconciler_BadSignatureRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	req := f.sentRequest(t, f.account(t, nil))

	body := callback(*req.CorrelationID, "failed")
	_, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign("wrong", body))
	assert.ErrorIs(t, err, client.ErrInvalidSignature)

	_, err = f.reconciler(nil).Handle(context.Background(), body, "")
	assert.ErrorIs(t, err, client.ErrInvalidSignature)

	assert.Equal(t, model.Sent, f.reload(t, req.ID).Status)
}

func TestReconciler_RejectsMalformedPayloads(t *testing.T) {
	f := newFixture(t)

	bodies := map[string]string{
		"not json":       `status=failed`,
		"unknown field":  `{"messageId":"SM1","status":"failed","price":"0.01"}`,
		"missing id":     `{"status":"failed"}`,
		"missing status": `{"messageId":"SM1","status":" "}`,
		"trailing data":  `{"messageId":"SM1","status":"failed"}{}`,
	}

	for name, raw := range bodies {
		t.Run(name, func(t *testing.T) {
			body := []byte(raw)
			_, err := f.reconciler(nil).Handle(context.Background(), body, client.Sign(webhookSecret, body))
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

// correlationlessStore hides correlation lookups so the cache path is exercised.
type correlationlessStore struct {
	repo.ReviewRequestRepository
}

func (correlationlessStore) GetByCorrelationID(context.Context, string) (*model.ReviewRequest, error) {
	return nil, repo.ErrNotFound
}

func TestReconciler_UsesSentCache(t *testing.T) {
	f := newFixture(t)
	req := f.sentRequest(t, f.account(t, nil))

	body := callback(*req.CorrelationID, "failed")
	res, err := f.reconciler(correlationlessStore{f.store}).Handle(context.Background(), body, client.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, service.ActionFailed, res.Action)
	assert.Equal(t, req.ID, res.RequestID)
}

func TestParseStatusCallback_Normalizes(t *testing.T) {
	cb, err := service.ParseStatusCallback([]byte(`{"messageId":" SM1 ","status":"DELIVERED"}`))
	require.NoError(t, err)
	assert.Equal(t, "SM1", cb.MessageID)
	assert.Equal(t, "delivered", cb.Status)
}
