package cache

import (
	"context"
	"time"
)

// SentCache remembers which review request an outbound SMS belongs to,
// so delivery callbacks can skip the database lookup while the entry is warm.
type SentCache interface {
	StoreSent(ctx context.Context, correlationID, requestID string, sentAt time.Time) error
	LookupSent(ctx context.Context, correlationID string) (requestID string, found bool, err error)
}

// Noop is used when no redis is configured.
type Noop struct{}

func (Noop) StoreSent(context.Context, string, string, time.Time) error { return nil }

func (Noop) LookupSent(context.Context, string) (string, bool, error) { return "", false, nil }
