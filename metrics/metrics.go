// Package metrics exposes Prometheus collectors for the messaging synchronizers.
// A nil *Metrics records nothing, so components can be built without metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "skillswap"

// View labels.
const (
	ViewList   = "list"
	ViewThread = "thread"
)

// Trigger labels.
const (
	TriggerInitial = "initial"
	TriggerPoll    = "poll"
	TriggerPush    = "push"
	TriggerManual  = "manual"
)

// Metrics groups the collectors recorded by the messaging package.
type Metrics struct {
	MessagesSent         prometheus.Counter
	ConversationsCreated prometheus.Counter
	Refreshes            *prometheus.CounterVec
	SyncErrors           *prometheus.CounterVec
	PushEvents           *prometheus.CounterVec
	StaleResponses       *prometheus.CounterVec
	RefreshDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted by the composer.",
		}),
		ConversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Conversations created by the directory.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_refresh_total",
			Help:      "Completed refresh cycles by view and trigger.",
		}, []string{"view", "trigger"}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Failed refresh or write operations by view.",
		}, []string{"view"}),
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Change notifications received by table.",
		}, []string{"table"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Responses discarded because their view was no longer active.",
		}, []string{"view"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles by view.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
	}
	var err error
	if m.MessagesSent, err = register(reg, m.MessagesSent); err != nil {
		return nil, err
	}
	if m.ConversationsCreated, err = register(reg, m.ConversationsCreated); err != nil {
		return nil, err
	}
	if m.Refreshes, err = register(reg, m.Refreshes); err != nil {
		return nil, err
	}
	if m.SyncErrors, err = register(reg, m.SyncErrors); err != nil {
		return nil, err
	}
	if m.PushEvents, err = register(reg, m.PushEvents); err != nil {
		return nil, err
	}
	if m.StaleResponses, err = register(reg, m.StaleResponses); err != nil {
		return nil, err
	}
	if m.RefreshDuration, err = register(reg, m.RefreshDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, reusing an identical collector that is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) ConversationCreated() {
	if m == nil {
		return
	}
	m.ConversationsCreated.Inc()
}

// Refresh records one refresh cycle of view started by trigger.
func (m *Metrics) Refresh(view, trigger string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.RefreshDuration.WithLabelValues(view).Observe(took.Seconds())
	if err != nil {
		m.SyncErrors.WithLabelValues(view).Inc()
		return
	}
	m.Refreshes.WithLabelValues(view, trigger).Inc()
}

func (m *Metrics) Error(view string) {
	if m == nil {
		return
	}
	m.SyncErrors.WithLabelValues(view).Inc()
}

func (m *Metrics) PushEvent(table string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(table).Inc()
}

func (m *Metrics) StaleResponse(view string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(view).Inc()
}
