package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/LeventeLantos/reviewgate/internal/client"
	"github.com/LeventeLantos/reviewgate/internal/repo"
)

// StatusCallback is the only payload shape accepted from the gateway.
type StatusCallback struct {
	MessageID    string `json:"messageId"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

var deliveryStatuses = map[string]bool{
	"queued":      false,
	"accepted":    false,
	"sending":     false,
	"sent":        false,
	"delivered":   false,
	"failed":      true,
	"undelivered": true,
}

// ParseStatusCallback decodes and validates a callback body. Unknown fields are
// rejected; a status this service does not act on is still a valid callback.
func ParseStatusCallback(body []byte) (*StatusCallback, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var cb StatusCallback
	if err := dec.Decode(&cb); err != nil {
		return nil, fmt.Errorf("%w: malformed status callback: %v", ErrValidation, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after status callback", ErrValidation)
	}

	cb.MessageID = strings.TrimSpace(cb.MessageID)
	cb.Status = strings.ToLower(strings.TrimSpace(cb.Status))
	if cb.MessageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	if cb.Status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrValidation)
	}
	return &cb, nil
}

type ReconcileAction string

const (
	ActionLogged  ReconcileAction = "logged"
	ActionFailed  ReconcileAction = "failed"
	ActionIgnored ReconcileAction = "ignored"
	ActionUnknown ReconcileAction = "unknown"
)

type ReconcileResult struct {
	RequestID    string
	Action       ReconcileAction
	Notification Notification
}

// Reconciler folds gateway delivery callbacks into request state.
type Reconciler struct {
	store     repo.ReviewRequestRepository
	lifecycle *Lifecycle
	secret    string
	opts      Options
}

func NewReconciler(store repo.ReviewRequestRepository, lifecycle *Lifecycle, webhookSecret string, opts Options) *Reconciler {
	return &Reconciler{
		store:     store,
		lifecycle: lifecycle,
		secret:    webhookSecret,
		opts:      opts.withDefaults(),
	}
}

// Handle verifies, parses and applies one callback. An unknown correlation id is
// acknowledged without error so the gateway stops retrying.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) (ReconcileResult, error) {
	if err := client.VerifySignature(r.secret, body, signature); err != nil {
		return ReconcileResult{}, err
	}

	cb, err := ParseStatusCallback(body)
	if err != nil {
		return ReconcileResult{}, err
	}
	if _, known := deliveryStatuses[cb.Status]; known {
		r.opts.Metrics.StatusCallback(cb.Status)
	} else {
		r.opts.Metrics.StatusCallback("other")
	}

	requestID, err := r.lookup(ctx, cb.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		r.opts.Logger.Warn("status callback for unknown message", "message_id", cb.MessageID, "status", cb.Status)
		return ReconcileResult{Action: ActionUnknown}, nil
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("lookup message %s: %w", cb.MessageID, err)
	}

	if !deliveryStatuses[cb.Status] {
		r.opts.Logger.Info("delivery status", "request_id", requestID, "message_id", cb.MessageID, "status", cb.Status)
		return ReconcileResult{RequestID: requestID, Action: ActionLogged}, nil
	}

	reason := deliveryFailureReason(cb)
	tr, err := r.lifecycle.MarkDeliveryFailed(ctx, requestID, reason)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !tr.Applied {
		return ReconcileResult{RequestID: requestID, Action: ActionIgnored}, nil
	}
	return ReconcileResult{RequestID: requestID, Action: ActionFailed, Notification: tr.Notification}, nil
}

func (r *Reconciler) lookup(ctx context.Context, correlationID string) (string, error) {
	id, found, err := r.opts.Cache.LookupSent(ctx, correlationID)
	if err != nil {
		r.opts.Logger.Warn("sent cache lookup failed", "message_id", correlationID, "error", err)
	}
	if found {
		return id, nil
	}

	req, err := r.store.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

func deliveryFailureReason(cb *StatusCallback) string {
	parts := []string{"delivery " + cb.Status}
	if cb.ErrorCode != "" {
		parts = append(parts, "code "+cb.ErrorCode)
	}
	if cb.ErrorMessage != "" {
		parts = append(parts, cb.ErrorMessage)
	}
	return strings.Join(parts, ": ")
}
