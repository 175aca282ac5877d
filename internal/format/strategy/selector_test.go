package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ailijian/AgentlyFormat/internal/format/completer"
)

func TestExplicitStrategyAlwaysHonored(t *testing.T) {
	sel := New(DefaultConfig())
	explicit := completer.Aggressive
	require.Equal(t, completer.Aggressive, sel.Select(&explicit))
}

func TestSwitchesAfterConsecutiveFailuresPastCooldown(t *testing.T) {
	sel := New(Config{ConsecutiveFailureThreshold: 3, MinSwitchInterval: time.Minute})

	at := time.Unix(0, 0)
	sel.now = func() time.Time { return at }

	require.Equal(t, completer.Smart, sel.Select(nil))

	for i := 0; i < 3; i++ {
		sel.Record(completer.Smart, completer.Result{Valid: false, Confidence: 0.1})
	}
	// Give Conservative a strong track record so it wins the switch.
	sel.Record(completer.Conservative, completer.Result{Valid: true, Confidence: 0.95})

	at = at.Add(2 * time.Minute)
	require.Equal(t, completer.Conservative, sel.Select(nil))
}

func TestNoSwitchBeforeCooldownElapses(t *testing.T) {
	sel := New(Config{ConsecutiveFailureThreshold: 3, MinSwitchInterval: time.Minute})
	at := time.Unix(0, 0)
	sel.now = func() time.Time { return at }

	sel.Select(nil)
	for i := 0; i < 3; i++ {
		sel.Record(completer.Smart, completer.Result{Valid: false, Confidence: 0.1})
	}
	sel.Record(completer.Conservative, completer.Result{Valid: true, Confidence: 0.95})

	// Cooldown has not elapsed yet; strategy must not change.
	at = at.Add(10 * time.Second)
	require.Equal(t, completer.Smart, sel.Select(nil))
}

func TestHistoricalSuccessRateTracksRecordedOutcomes(t *testing.T) {
	sel := New(DefaultConfig())
	sel.Record(completer.Smart, completer.Result{Valid: true, Confidence: 0.9})
	sel.Record(completer.Smart, completer.Result{Valid: false, Confidence: 0.2})
	require.InDelta(t, 0.5, sel.HistoricalSuccessRate(completer.Smart), 1e-9)
}
