package messaging

import (
	"log/slog"
	"time"

	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/realtime"
)

// Default synchronization settings.
const (
	DefaultListPollInterval   = 3 * time.Second
	DefaultThreadPollInterval = 2 * time.Second
	DefaultFanout             = 8
)

// Options configures the synchronizers. The zero value uses the defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now is the clock used for read timestamps.
	Now func() time.Time

	ListPollInterval   time.Duration
	ThreadPollInterval time.Duration
	// Fanout bounds concurrent per-conversation lookups while loading the list.
	Fanout int
	Retry  realtime.RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ListPollInterval <= 0 {
		o.ListPollInterval = DefaultListPollInterval
	}
	if o.ThreadPollInterval <= 0 {
		o.ThreadPollInterval = DefaultThreadPollInterval
	}
	if o.Fanout <= 0 {
		o.Fanout = DefaultFanout
	}
	if o.Retry == (realtime.RetryPolicy{}) {
		o.Retry = realtime.DefaultRetryPolicy
	}
	return o
}
