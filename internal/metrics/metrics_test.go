package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"github.com/atinyakov/sessionvault/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	require.NotNil(t, m.Gauge)
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	require.NotNil(t, m.Counter)
	return m.GetCounter().GetValue()
}

func TestCollector_Observe(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.Observe(service.State{Mode: models.NoLock, Exists: true})
	c.Observe(service.State{Mode: models.Biometric, Exists: true, Locked: true})
	c.Observe(service.State{Mode: models.Biometric, Exists: true, Locked: true})
	c.Observe(service.State{Mode: models.Biometric, Exists: false, Locked: false})

	assert.Equal(t, 0.0, gaugeValue(t, c.locked))
	assert.Equal(t, 0.0, gaugeValue(t, c.exists))
	assert.Equal(t, 1.0, gaugeValue(t, c.mode.WithLabelValues("Biometric")))
	assert.Equal(t, 0.0, gaugeValue(t, c.mode.WithLabelValues("NoLock")))
	assert.Equal(t, 0.0, counterValue(t, c.transitions.WithLabelValues("locked")), "snapshots do not count transitions")
}

// Every vault transition is counted even when the manager coalesces the
// snapshots in between.
func TestCollector_CountsVaultTransitions(t *testing.T) {
	ctx := context.Background()
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := models.DefaultVaultConfig()
	cfg.LockAfter = 0
	vault, err := securestore.NewBrowserVault(ctx, cfg, nil)
	require.NoError(t, err)
	vault.OnLock(c.ObserveLock)
	vault.OnUnlock(c.ObserveUnlock)
	m, err := service.NewSessionManager(ctx, vault, nil)
	require.NoError(t, err)

	// nobody reads the subscription, so only the newest snapshot survives
	states, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	require.NoError(t, m.SetLockMode(ctx, models.Biometric))
	require.NoError(t, m.SetSession(ctx, "tok-1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Lock(ctx))
		require.NoError(t, m.Unlock(ctx))
	}
	c.Observe(<-states)

	assert.Equal(t, 3.0, counterValue(t, c.transitions.WithLabelValues("locked")))
	assert.Equal(t, 3.0, counterValue(t, c.transitions.WithLabelValues("unlocked")))
	assert.Equal(t, 0.0, gaugeValue(t, c.locked))
}

func TestCollector_ObservePurge(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObservePurge("session", 2)
	c.ObservePurge("session", 1)
	c.ObservePurge("session/policy", 1)

	assert.Equal(t, 3.0, counterValue(t, c.purged.WithLabelValues("session")))
	assert.Equal(t, 1.0, counterValue(t, c.purged.WithLabelValues("session/policy")))
}

func TestCollector_ObserveError(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveError(nil)
	c.ObserveError(&service.StoreError{Kind: service.KindUnlockFailed, Op: "unlock"})
	c.ObserveError(errors.New("bad json"))

	assert.Equal(t, 1.0, counterValue(t, c.failures.WithLabelValues("unlock failed")))
	assert.Equal(t, 1.0, counterValue(t, c.failures.WithLabelValues("other")))
}

func TestNewCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestCollector_Run(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	ch := make(chan service.State, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, ch)
		close(done)
	}()

	ch <- service.State{Locked: true}
	require.Eventually(t, func() bool { return gaugeValue(t, c.locked) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
