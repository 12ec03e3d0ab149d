package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen means the gateway breaker is rejecting calls; nothing was sent.
var ErrCircuitOpen = errors.New("sms gateway circuit open")

type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) (string, error)
}

type BreakerConfig struct {
	// FailureThreshold consecutive gateway failures trip the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// OnStateChange is called with the new state, e.g. to export it as a gauge.
	OnStateChange func(to gobreaker.State)
}

// BreakerClient guards a Sender with a circuit breaker.
type BreakerClient struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[string]
}

func NewBreakerClient(next Sender, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: gatewayHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(to)
			}
		},
	}

	return &BreakerClient{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[string](settings),
	}
}

func (b *BreakerClient) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	id, err := b.cb.Execute(func() (string, error) {
		return b.next.Send(ctx, phoneNumber, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrCircuitOpen
	}
	return id, err
}

func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

// gatewayHealthy reports whether err still says the gateway itself is up.
// Rejected numbers (4xx) and our own cancellations do not count against it.
func gatewayHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError
	}
	return false
}
