package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/inkline/internal/flow"
	"github.com/pitabwire/inkline/internal/kvstore"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

func newTestManager(t *testing.T, store kvstore.Store) (*Manager, *observability.Metrics) {
	t.Helper()
	m := observability.InitMetrics(prometheus.NewRegistry())
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, m, zap.NewNop())
	t.Cleanup(mgr.CloseAll)
	return mgr, m
}

// failingStore fails every write and counts attempts.
type failingStore struct {
	kvstore.Store
	mu     sync.Mutex
	writes int
}

func (s *failingStore) Set(context.Context, string, []byte) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return errors.New("disk full")
}

func TestManager_Open_unknownFlow(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	_, err := mgr.Open(context.Background(), "nope", "user-1")
	assert.True(t, model.HasCode(err, model.ErrNotFound), "got %v", err)
}

func TestManager_Open_sameContainer(t *testing.T) {
	mgr, m := newTestManager(t, kvstore.NewMemoryStore(0))
	ctx := context.Background()

	a, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	b, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	other, err := mgr.Open(ctx, "artist-registration", "user-2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, mgr.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WizardActiveSessions.WithLabelValues("artist-registration")))
}

func TestManager_persistAndRehydrate(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	ctx := context.Background()

	mgr, _ := newTestManager(t, store)
	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": "Jane", "lastName": "Doe"}))
	c.SetCurrentStep(1)
	require.NoError(t, c.Flush(ctx))
	mgr.Close("artist-registration", "user-1")
	assert.Equal(t, 0, mgr.Len())

	// A fresh manager on the same store sees the saved session.
	mgr2, _ := newTestManager(t, store)
	c2, err := mgr2.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"firstName": "Jane", "lastName": "Doe"}, c2.StepData("step1"))
	assert.Equal(t, 1, c2.CurrentStep())
	assert.True(t, c2.IsStepComplete("step1"))
}

func TestManager_ClearRegistration_removesPersistedSession(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	ctx := context.Background()
	mgr, _ := newTestManager(t, store)

	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": "Jane"}))
	require.NoError(t, c.Flush(ctx))
	require.Equal(t, 1, store.Len())

	c.ClearRegistration()
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestManager_rehydrate_dropsUnknownStepsAndClamps(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, kvstore.SetJSON(ctx, store, model.SessionKey("artist-registration", "user-1"), model.WizardSession{
		FlowID: "artist-registration",
		Steps: map[string]map[string]any{
			"step1":   {"firstName": "Jane"},
			"removed": {"x": "y"},
		},
		CurrentStep:  99,
		IsSubmitting: true,
	}))

	mgr, _ := newTestManager(t, store)
	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.NotContains(t, snap.Steps, "removed")
	assert.Equal(t, 3, snap.CurrentStep)
	assert.False(t, snap.IsSubmitting)
}

func TestManager_redisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.NewRedisStore(client, "inkline:", time.Hour)
	ctx := context.Background()

	mgr, _ := newTestManager(t, store)
	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	require.NoError(t, c.UpdateStep("step3", map[string]any{"username": "jane.ink"}))
	require.NoError(t, c.Flush(ctx))

	assert.True(t, mr.Exists("inkline:wizard:artist-registration:user-1"))
}

func TestManager_persistFailureIsNotFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &failingStore{Store: kvstore.NewMemoryStore(0)}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, metrics, zap.New(core))
	t.Cleanup(mgr.CloseAll)
	ctx := context.Background()

	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": "Jane", "lastName": "Doe"}))
	require.NoError(t, c.Flush(ctx))

	assert.True(t, c.IsStepComplete("step1"), "in-memory state must survive a failed write")
	assert.GreaterOrEqual(t, logs.FilterMessage("wizard session write failed").Len(), 1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.SessionPersistFailuresTotal.WithLabelValues("artist-registration")), float64(1))
}

func TestManager_writesAreOrdered(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	ctx := context.Background()
	mgr, _ := newTestManager(t, store)

	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	for i := range 50 {
		require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": "Jane", "n": i}))
	}
	require.NoError(t, c.Flush(ctx))

	var saved model.WizardSession
	found, err := kvstore.GetJSON(ctx, store, model.SessionKey("artist-registration", "user-1"), &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(49), saved.Steps["step1"]["n"])
}

func TestManager_Flush_respectsContext(t *testing.T) {
	mgr, _ := newTestManager(t, kvstore.NewMemoryStore(0))
	c, err := mgr.Open(context.Background(), "artist-registration", "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.UpdateStep("step1", map[string]any{"firstName": "Jane"})
	err = c.Flush(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestManager_CloseAll_stopsWriters(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, kvstore.NewMemoryStore(0), nil, zap.NewNop())
	for _, subject := range []string{"a", "b", "c"} {
		c, err := mgr.Open(context.Background(), "artist-registration", subject)
		require.NoError(t, err)
		require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": subject}))
	}
	mgr.CloseAll()
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_Close_afterClearReleasesWriter(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := kvstore.NewMemoryStore(0)
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, nil, zap.NewNop())
	ctx := context.Background()

	for i := range 200 {
		subject := fmt.Sprintf("user-%d", i)
		c, err := mgr.Open(ctx, "artist-registration", subject)
		require.NoError(t, err)
		require.NoError(t, c.UpdateStep("step1", map[string]any{"firstName": subject}))
		c.ClearRegistration()
		mgr.Close("artist-registration", subject)
	}

	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, 0, store.Len(), "cleared sessions must not stay persisted")
}

func TestManager_Close_afterSubmit(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := kvstore.NewMemoryStore(0)
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, nil, zap.NewNop())
	ctx := context.Background()

	c, err := mgr.Open(ctx, "artist-registration", "user-1")
	require.NoError(t, err)
	fillAll(t, c)
	_, err = c.Submit(ctx, &recordingSubmitter{})
	require.NoError(t, err)
	mgr.Close("artist-registration", "user-1")

	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, 0, store.Len())
}

func TestManager_evictsLeastRecentlyOpened(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := kvstore.NewMemoryStore(0)
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, metrics, zap.NewNop(), WithMaxOpen(2))
	defer mgr.CloseAll()
	ctx := context.Background()

	open := func(subject string) *Container {
		t.Helper()
		c, err := mgr.Open(ctx, "artist-registration", subject)
		require.NoError(t, err)
		return c
	}

	a := open("a")
	require.NoError(t, a.UpdateStep("step1", map[string]any{"firstName": "A"}))
	b := open("b")
	require.NoError(t, b.UpdateStep("step1", map[string]any{"firstName": "B"}))
	open("a")
	open("c")

	assert.Equal(t, 2, mgr.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.WizardActiveSessions.WithLabelValues("artist-registration")))

	// b was dropped after its pending write landed, so reopening rehydrates it.
	reopened := open("b")
	assert.NotSame(t, b, reopened)
	assert.Equal(t, "B", reopened.StepData("step1")["firstName"])
}

func TestManager_writesAfterEvictionArePersisted(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := kvstore.NewMemoryStore(0)
	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, store, nil, zap.NewNop(), WithMaxOpen(1))
	defer mgr.CloseAll()
	ctx := context.Background()

	held, err := mgr.Open(ctx, "artist-registration", "a")
	require.NoError(t, err)
	_, err = mgr.Open(ctx, "artist-registration", "b")
	require.NoError(t, err)

	// A request still holding the dropped container keeps writing through.
	require.NoError(t, held.UpdateStep("step1", map[string]any{"firstName": "late"}))

	var saved model.WizardSession
	found, err := kvstore.GetJSON(ctx, store, model.SessionKey("artist-registration", "a"), &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "late", saved.Steps["step1"]["firstName"])
}

func TestManager_CloseIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, kvstore.NewMemoryStore(0), nil, zap.NewNop(),
		WithIdleTimeout(time.Minute))
	defer mgr.CloseAll()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	for _, subject := range []string{"old-1", "old-2"} {
		_, err := mgr.Open(ctx, "artist-registration", subject)
		require.NoError(t, err)
	}
	now = now.Add(45 * time.Second)
	_, err := mgr.Open(ctx, "artist-registration", "recent")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)

	assert.Equal(t, 2, mgr.CloseIdle())
	assert.Equal(t, 1, mgr.Len())

	assert.Equal(t, 0, NewManager(flow.NewRegistry(nil), nil, nil, nil, zap.NewNop()).CloseIdle(), "no timeout, no sweep")
}

func TestManager_Run_stopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := NewManager(flow.NewRegistry([]model.FlowDefinition{testFlow()}), nil, kvstore.NewMemoryStore(0), nil, zap.NewNop(),
		WithIdleTimeout(20*time.Millisecond))
	defer mgr.CloseAll()

	_, err := mgr.Open(context.Background(), "artist-registration", "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return mgr.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
