// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentbot_moderation_decisions_total",
		Help: "Moderation decisions by outcome.",
	}, []string{"decision"})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentbot_notifications_created_total",
		Help: "Notification records created by type.",
	}, []string{"type"})

	NotificationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentbot_notification_deliveries_total",
		Help: "Notification delivery attempts by result.",
	}, []string{"result"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentbot_sweep_runs_total",
		Help: "Background sweep runs by job and result.",
	}, []string{"job", "result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rentbot_moderation_queue_depth",
		Help: "Ads currently waiting for moderation.",
	})

	UpdatesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentbot_updates_handled_total",
		Help: "Chat updates handled by kind and result.",
	}, []string{"kind", "result"})
)
