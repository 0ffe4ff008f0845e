package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

const clientBuffer = 16

// Hub fans render commands out to connected renderers. Publish never blocks:
// a renderer that falls behind loses commands and is expected to reconnect,
// at which point it receives the surface currently on screen.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	current *domain.RenderCommand
	logger  *zap.Logger
}

type hubClient struct {
	send chan domain.RenderCommand
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

// Publish implements domain.SurfaceSink.
func (h *Hub) Publish(cmd domain.RenderCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cmd.Type == domain.RenderPresent {
		c := cmd
		h.current = &c
	} else if h.current != nil && h.current.SessionID == cmd.SessionID {
		h.current = nil
	}

	for c := range h.clients {
		select {
		case c.send <- cmd:
		default:
			h.logger.Warn("renderer too slow, dropping command",
				zap.String("type", string(cmd.Type)),
				zap.String("session", cmd.SessionID))
		}
	}
}

// Current returns the surface currently presented, if any.
func (h *Hub) Current() (domain.RenderCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return domain.RenderCommand{}, false
	}
	return *h.current, true
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// subscribe registers a client and primes it with the current surface.
func (h *Hub) subscribe() *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &hubClient{send: make(chan domain.RenderCommand, clientBuffer)}
	if h.current != nil {
		c.send <- *h.current
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unsubscribe(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Ensure Hub implements domain.SurfaceSink.
var _ domain.SurfaceSink = (*Hub)(nil)
