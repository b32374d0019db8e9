// Package metrics exposes session manager state as Prometheus collectors.
package metrics

import (
	"context"
	"errors"

	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/atinyakov/sessionvault/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector mirrors manager state into gauges. Lock transitions and purges
// are counted from the store's own callbacks, since state snapshots may be
// coalesced on the way here.
type Collector struct {
	locked      prometheus.Gauge
	exists      prometheus.Gauge
	mode        *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	purged      *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessionvault",
			Name:      "locked",
			Help:      "1 when the vault is locked.",
		}),
		exists: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessionvault",
			Name:      "record_exists",
			Help:      "1 when the vault holds a session record.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sessionvault",
			Name:      "lock_mode",
			Help:      "1 for the active lock mode.",
		}, []string{"mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionvault",
			Name:      "lock_transitions_total",
			Help:      "Lock state transitions reported by the vault.",
		}, []string{"to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionvault",
			Name:      "operation_failures_total",
			Help:      "Failed manager operations by error kind.",
		}, []string{"kind"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionvault",
			Name:      "purged_records_total",
			Help:      "Cleared records hard-deleted from the database, by vault key.",
		}, []string{"vault"}),
	}
	for _, col := range []prometheus.Collector{c.locked, c.exists, c.mode, c.transitions, c.failures, c.purged} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe records one state snapshot.
func (c *Collector) Observe(st service.State) {
	c.locked.Set(boolToFloat(st.Locked))
	c.exists.Set(boolToFloat(st.Exists))
	for _, m := range models.LockModes {
		c.mode.WithLabelValues(string(m)).Set(boolToFloat(m == st.Mode))
	}
}

// ObserveLock counts an unlocked to locked transition. Register it with the
// vault's OnLock.
func (c *Collector) ObserveLock() { c.transitions.WithLabelValues("locked").Inc() }

// ObserveUnlock counts a locked to unlocked transition.
func (c *Collector) ObserveUnlock() { c.transitions.WithLabelValues("unlocked").Inc() }

// ObservePurge counts records the cleaner removed for vault.
func (c *Collector) ObservePurge(vault string, removed int64) {
	c.purged.WithLabelValues(vault).Add(float64(removed))
}

// ObserveError counts a failed operation by its StoreError kind.
func (c *Collector) ObserveError(err error) {
	if err == nil {
		return
	}
	kind := "other"
	var se *service.StoreError
	if errors.As(err, &se) {
		kind = string(se.Kind)
	}
	c.failures.WithLabelValues(kind).Inc()
}

// Run observes states from ch until ctx is done or ch is closed.
func (c *Collector) Run(ctx context.Context, ch <-chan service.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(st)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
