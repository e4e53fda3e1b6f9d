// Package metrics exposes process-wide aggregates. Nothing here feeds back
// into decisions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	events       *prometheus.CounterVec
	actions      *prometheus.CounterVec
	nukeAttempts prometheus.Counter
	blockedBots  prometheus.Counter
	raids        prometheus.Counter
	suppressed   *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "events_total",
			Help:      "Administrative events evaluated, by category and verdict.",
		}, []string{"category", "verdict"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "actions_total",
			Help:      "Mitigation calls issued, by action and result.",
		}, []string{"action", "result"}),
		nukeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "nuke_attempts_total",
			Help:      "Confirmed nuke attempts across all guilds.",
		}),
		blockedBots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "blocked_bots_total",
			Help:      "Unauthorized bots removed across all guilds.",
		}),
		raids: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "raids_total",
			Help:      "Raid activations across all guilds.",
		}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "suppressed_total",
			Help:      "Mitigation calls dropped by the rate guard, by action.",
		}, []string{"action"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nukeshield",
			Name:      "executor_resolutions_total",
			Help:      "Audit-log executor lookups, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.actions, m.nukeAttempts, m.blockedBots, m.raids, m.suppressed, m.resolutions)
	}
	return m
}

func (m *Metrics) Event(category, verdict string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(category, verdict).Inc()
}

func (m *Metrics) Action(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) NukeAttempt() {
	if m == nil {
		return
	}
	m.nukeAttempts.Inc()
}

func (m *Metrics) BlockedBot() {
	if m == nil {
		return
	}
	m.blockedBots.Inc()
}

func (m *Metrics) Raid() {
	if m == nil {
		return
	}
	m.raids.Inc()
}

func (m *Metrics) Suppressed(action string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(action).Inc()
}

func (m *Metrics) Resolution(resolved bool) {
	if m == nil {
		return
	}
	result := "resolved"
	if !resolved {
		result = "unknown"
	}
	m.resolutions.WithLabelValues(result).Inc()
}
