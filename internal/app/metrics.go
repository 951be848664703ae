package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskhub/api/internal/rbac"
)

var (
	accessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhub_access_decisions_total",
		Help: "Access decisions by action, result and deny reason",
	}, []string{"action", "result", "reason"})

	accessOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhub_access_overrides_total",
		Help: "Grants that came from the organization admin role",
	}, []string{"action"})

	auditEntriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_audit_entries_written_total",
		Help: "Audit log rows committed with task mutations",
	})

	visibilityRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_visibility_memberships_removed_total",
		Help: "Space memberships removed by private to public transitions",
	})
)

func observeDecision(action rbac.Action, d rbac.Decision) {
	result := "allow"
	if !d.Allowed {
		result = "deny"
	}
	accessDecisions.WithLabelValues(string(action), result, string(d.Reason)).Inc()
	if d.Override {
		accessOverrides.WithLabelValues(string(action)).Inc()
	}
}
