package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

func present(session string) domain.RenderCommand {
	return domain.RenderCommand{
		Type:      domain.RenderPresent,
		Target:    "steam",
		SessionID: session,
		Surface:   &domain.SurfaceModel{SurfaceID: "intervention", SessionID: session},
	}
}

func TestHub_TracksCurrentSurface(t *testing.T) {
	h := NewHub(zap.NewNop())

	_, ok := h.Current()
	assert.False(t, ok)

	h.Publish(present("s1"))
	cur, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, "s1", cur.SessionID)

	// close for another session leaves the current surface alone
	h.Publish(domain.RenderCommand{Type: domain.RenderClose, SessionID: "s0"})
	_, ok = h.Current()
	assert.True(t, ok)

	h.Publish(domain.RenderCommand{Type: domain.RenderReturnHome, SessionID: "s1"})
	_, ok = h.Current()
	assert.False(t, ok)
}

func TestHub_FanOutAndPriming(t *testing.T) {
	h := NewHub(zap.NewNop())
	early := h.subscribe()

	h.Publish(present("s1"))
	late := h.subscribe()
	assert.Equal(t, 2, h.Clients())

	assert.Equal(t, "s1", (<-early.send).SessionID)
	assert.Equal(t, "s1", (<-late.send).SessionID, "late subscriber is primed")

	h.unsubscribe(early)
	h.Publish(domain.RenderCommand{Type: domain.RenderClose, SessionID: "s1"})
	assert.Len(t, early.send, 0)
	assert.Equal(t, domain.RenderClose, (<-late.send).Type)
	assert.Equal(t, 1, h.Clients())
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := h.subscribe()

	for i := 0; i < clientBuffer*2; i++ {
		h.Publish(present("s1"))
	}
	assert.Len(t, c.send, clientBuffer)
}
