package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "raidbot"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can run without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	Attacks      *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	NPCSpawns    prometheus.Counter
	NPCKills     *prometheus.CounterVec
	RaidEvents   *prometheus.CounterVec
	TxDuration   *prometheus.HistogramVec
	Notification *prometheus.CounterVec
	Sweeps       *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry, together with the
// Go runtime and process collectors.
//
// Postcondition: Returns a Metrics whose Handler serves all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Attacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attacks_total",
			Help:      "Resolved attacks by target kind and outcome.",
		}, []string{"target", "outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected commands by command and rejection code.",
		}, []string{"command", "code"}),
		NPCSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "npc_spawns_total",
			Help:      "NPCs spawned into channels.",
		}),
		NPCKills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "npc_kills_total",
			Help:      "NPC deaths by template.",
		}, []string{"template"}),
		RaidEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raid_events_total",
			Help:      "Raid lifecycle transitions by event and location.",
		}, []string{"event", "location"}),
		TxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of command transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		Notification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Post-commit notifications that failed, by kind.",
		}, []string{"kind"}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_rows_total",
			Help:      "Rows removed by maintenance sweeps.",
		}, []string{"job"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Attacks, m.Rejections, m.NPCSpawns, m.NPCKills,
		m.RaidEvents, m.TxDuration, m.Notification, m.Sweeps,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Attack counts one resolved attack.
func (m *Metrics) Attack(target, outcome string) {
	if m == nil {
		return
	}
	m.Attacks.WithLabelValues(target, outcome).Inc()
}

// Rejected counts one rejected command.
func (m *Metrics) Rejected(command, code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(command, code).Inc()
}

// Spawned counts one NPC spawn.
func (m *Metrics) Spawned() {
	if m == nil {
		return
	}
	m.NPCSpawns.Inc()
}

// Killed counts one NPC death.
func (m *Metrics) Killed(template string) {
	if m == nil {
		return
	}
	m.NPCKills.WithLabelValues(template).Inc()
}

// Raid counts one raid lifecycle event: join, expiry, evac_start, extraction
// or death.
func (m *Metrics) Raid(event, location string) {
	if m == nil {
		return
	}
	m.RaidEvents.WithLabelValues(event, location).Inc()
}

// ObserveCommand records the duration of a command started at start.
func (m *Metrics) ObserveCommand(command string, start time.Time) {
	if m == nil {
		return
	}
	m.TxDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// NotificationFailed counts one failed post-commit notification.
func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.Notification.WithLabelValues(kind).Inc()
}

// Swept counts rows removed by a maintenance job.
func (m *Metrics) Swept(job string, n int64) {
	if m == nil {
		return
	}
	m.Sweeps.WithLabelValues(job).Add(float64(n))
}
