package stats

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepguard/internal/observability"
)

func newCounters(t *testing.T) (*Counters, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := New("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRecordCountsOutcomes(t *testing.T) {
	ctx := context.Background()
	c, _ := newCounters(t)
	require.NoError(t, c.Ping(ctx))

	c.Record(ctx, observability.Event{ModelID: "a", Outcome: observability.OutcomeGenuine})
	c.Record(ctx, observability.Event{ModelID: "a", Outcome: observability.OutcomeFallback})
	c.Record(ctx, observability.Event{ModelID: "a", Outcome: observability.OutcomeFallback})
	c.Record(ctx, observability.Event{ModelID: "b", Outcome: observability.OutcomeGenuine})

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, Counts{Genuine: 1, Fallback: 2}, got)

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Counts{
		"a": {Genuine: 1, Fallback: 2},
		"b": {Genuine: 1},
	}, snap)
}

func TestGetUnknownModelIsZero(t *testing.T) {
	c, _ := newCounters(t)
	got, err := c.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Counts{}, got)
}

func TestRecordSurvivesRedisOutage(t *testing.T) {
	c, mr := newCounters(t)
	mr.Close()
	c.Record(context.Background(), observability.Event{ModelID: "a", Outcome: observability.OutcomeFallback})
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)
	_, err = New("not a url", nil)
	assert.Error(t, err)
}
