package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/format/event"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
	"github.com/ailijian/AgentlyFormat/internal/formaterr"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Coalesce.Enabled = false // make events synchronous for assertions
	cfg.AdaptiveEnabled = false
	cfg.CleanupPeriod = time.Hour // disable the sweep ticking during unit tests
	return cfg
}

func TestCreateAssignsIDWhenEmpty(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	sess, err := m.Create(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "dup")
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "dup")
	require.Error(t, err)
}

func TestCreateRejectsOverCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	m := New(cfg, nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "b")
	require.ErrorIs(t, err, formaterr.ErrCapacityExceeded)
}

func TestIngestAgainstUnknownSessionReturnsNotFound(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Ingest(context.Background(), "missing", []byte(`{}`), false)
	require.ErrorIs(t, err, formaterr.ErrNotFound)
}

func TestIngestProducesPathAddedEventsForNewKeys(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	var mu sync.Mutex
	var kinds []event.Kind
	_, err = m.Subscribe("s1", eventbus.Filter{}, func(e event.DeltaEvent) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = m.Ingest(context.Background(), "s1", []byte(`{"name": "alice"}`), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == event.KindPathAdded {
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)
}

func TestFinalizeEmitsCompleteEvent(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	var mu sync.Mutex
	var sawComplete bool
	_, err = m.Subscribe("s1", eventbus.Filter{Kinds: map[event.Kind]bool{event.KindComplete: true}}, func(e event.DeltaEvent) {
		mu.Lock()
		sawComplete = true
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = m.Ingest(context.Background(), "s1", []byte(`{"a": 1`), false)
	require.NoError(t, err)

	res, err := m.Finalize(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, res.Valid)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawComplete
	}, time.Second, 2*time.Millisecond)
}

func TestIngestEmitsProgressEventIncludingForEmptyChunk(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	var mu sync.Mutex
	var progressCount int
	_, err = m.Subscribe("s1", eventbus.Filter{Kinds: map[event.Kind]bool{event.KindProgress: true}}, func(e event.DeltaEvent) {
		mu.Lock()
		progressCount++
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = m.Ingest(context.Background(), "s1", []byte(`{"a": 1}`), false)
	require.NoError(t, err)
	_, err = m.Ingest(context.Background(), "s1", []byte(``), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return progressCount == 2
	}, time.Second, 2*time.Millisecond)
}

func TestIngestEmitsParseUnrecoverableErrorOnFailedProbe(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	var mu sync.Mutex
	var sawUnrecoverable bool
	_, err = m.Subscribe("s1", eventbus.Filter{Kinds: map[event.Kind]bool{event.KindError: true}}, func(e event.DeltaEvent) {
		mu.Lock()
		if e.Err != nil && e.Err.Code == string(formaterr.KindParseUnrecoverable) {
			sawUnrecoverable = true
		}
		mu.Unlock()
	})
	require.NoError(t, err)

	// a lone closing bracket with no opening frame can never be completed
	// by any strategy (spec §4.2.4), so the probe the parser falls back
	// to must come back invalid.
	_, err = m.Ingest(context.Background(), "s1", []byte(`]`), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawUnrecoverable
	}, time.Second, 2*time.Millisecond)
}

func TestCloseRejectsFurtherIngest(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.Close("s1"))

	_, err = m.Ingest(context.Background(), "s1", []byte(`{}`), false)
	require.ErrorIs(t, err, formaterr.ErrNotFound)
}

func TestSweepExpiresSessionsPastTTL(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 10 * time.Millisecond
	cfg.CleanupPeriod = 5 * time.Millisecond
	m := New(cfg, nil)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := m.Get("s1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSessionTreeReflectsLatestCommit(t *testing.T) {
	m := New(testConfig(), nil)
	defer m.Shutdown()

	sess, err := m.Create(context.Background(), "s1")
	require.NoError(t, err)

	_, err = m.Ingest(context.Background(), "s1", []byte(`{"a": 1}`), false)
	require.NoError(t, err)

	v := sess.Tree()
	require.NotNil(t, v)
	obj, ok := v.(tree.Object)
	require.True(t, ok)
	a, ok := obj.Get("a")
	require.True(t, ok)
	require.Equal(t, tree.NewNumber("1", true), a)
}
