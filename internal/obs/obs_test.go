package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsProviderWithWorkingRegistry(t *testing.T) {
	p, err := New(Config{ServiceName: "agentlyformat-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	require.NotNil(t, p.Metrics)
	require.NotNil(t, p.Registry)

	p.Metrics.RecordEventEmitted("added")
	p.Metrics.RecordRepairAttempt(context.Background(), "Smart", true)
	p.Metrics.RecordBytesIngested(42)
	p.Metrics.SessionOpened()
	p.Metrics.SessionClosed()

	families, err := p.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestStartSpanFinishRecordsErrorWithoutPanicking(t *testing.T) {
	p, err := New(Config{ServiceName: "agentlyformat-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, finish := p.StartSpan(context.Background(), "ingest", "sess-1")
	require.NotNil(t, ctx)
	finish(nil)

	_, finishErr := p.StartSpan(context.Background(), "complete", "sess-1")
	finishErr(errors.New("boom"))
}
