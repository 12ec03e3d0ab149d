package service

import (
	"log/slog"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/cache"
	"github.com/LeventeLantos/reviewgate/internal/events"
	"github.com/LeventeLantos/reviewgate/internal/metrics"
)

// Options carries the collaborators shared by every service. Zero values are replaced
// with no-op implementations.
type Options struct {
	Logger    *slog.Logger
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Cache     cache.SentCache
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Publisher == nil {
		o.Publisher = events.NewNoopPublisher(o.Logger)
	}
	if o.Cache == nil {
		o.Cache = cache.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
