package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var (
	transitionsTotal = &Metric{
		Name:        "subscription_transitions_total",
		Description: "Subscription state transitions partitioned by transition and result.",
		Type:        "counter_vec",
		Args:        []string{"transition", "result"},
	}
	webhookEventsTotal = &Metric{
		Name:        "webhook_events_total",
		Description: "Processor webhook deliveries partitioned by event kind and outcome.",
		Type:        "counter_vec",
		Args:        []string{"event_type", "outcome"},
	}
	sweepResultsTotal = &Metric{
		Name:        "expiry_sweep_results_total",
		Description: "Expiry scanner results partitioned by action and result.",
		Type:        "counter_vec",
		Args:        []string{"action", "result"},
	}
	limiterDecisionsTotal = &Metric{
		Name:        "rate_limiter_decisions_total",
		Description: "Rate limiter decisions partitioned by scope and decision.",
		Type:        "counter_vec",
		Args:        []string{"scope", "decision"},
	}
	breakerChangesTotal = &Metric{
		Name:        "processor_breaker_state_changes_total",
		Description: "Payment processor circuit breaker state changes.",
		Type:        "counter_vec",
		Args:        []string{"to"},
	}
)

// Business holds domain counters. A nil *Business is valid and records nothing.
type Business struct {
	transitions   *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	limiter       *prometheus.CounterVec
	processor     *prometheus.CounterVec
}

func NewBusiness(reg prometheus.Registerer) (*Business, error) {
	b := &Business{}
	for _, def := range []struct {
		m   *Metric
		dst **prometheus.CounterVec
	}{
		{transitionsTotal, &b.transitions},
		{webhookEventsTotal, &b.webhookEvents},
		{sweepResultsTotal, &b.sweeps},
		{limiterDecisionsTotal, &b.limiter},
		{breakerChangesTotal, &b.processor},
	} {
		c, err := register(reg, def.m, Subsystem)
		if err != nil {
			return nil, err
		}
		*def.dst = c.(*prometheus.CounterVec)
	}
	return b, nil
}

func (b *Business) Transition(transition, result string) {
	if b == nil {
		return
	}
	b.transitions.WithLabelValues(transition, result).Inc()
}

func (b *Business) WebhookEvent(eventType, outcome string) {
	if b == nil {
		return
	}
	b.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (b *Business) Sweep(action, result string, n int) {
	if b == nil || n == 0 {
		return
	}
	b.sweeps.WithLabelValues(action, result).Add(float64(n))
}

func (b *Business) LimiterDecision(scope, decision string) {
	if b == nil {
		return
	}
	b.limiter.WithLabelValues(scope, decision).Inc()
}

func (b *Business) BreakerStateChange(to string) {
	if b == nil {
		return
	}
	b.processor.WithLabelValues(to).Inc()
}

var Module = fx.Options(
	fx.Provide(func() (*Business, error) { return NewBusiness(prometheus.DefaultRegisterer) }),
)
