package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "session-1", ids.NewID())
	assert.Equal(t, "session-2", ids.NewID())
}

func TestManualScheduler_ReleasesOnlyDueEventsInOrder(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	s := NewManualScheduler(clock)

	s.After(2*time.Second, domain.NewWatchdogEvent("b"))
	s.After(time.Second, domain.NewWatchdogEvent("a"))
	s.After(time.Minute, domain.NewWatchdogEvent("later"))

	assert.Empty(t, s.Due())

	clock.Advance(3 * time.Second)
	due := s.Due()
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].(domain.WatchdogEvent).SessionID)
	assert.Equal(t, "b", due[1].(domain.WatchdogEvent).SessionID)
	assert.Len(t, s.Pending(), 1)
}

func TestRecordingSink(t *testing.T) {
	sink := NewRecordingSink()
	_, ok := sink.Last()
	assert.False(t, ok)

	sink.Publish(domain.RenderCommand{Type: domain.RenderPresent, Target: "x"})
	sink.Publish(domain.RenderCommand{Type: domain.RenderClose, Target: "x"})

	assert.Len(t, sink.Commands(), 2)
	assert.Len(t, sink.Presented(), 1)
	last, ok := sink.Last()
	require.True(t, ok)
	assert.Equal(t, domain.RenderClose, last.Type)
}
