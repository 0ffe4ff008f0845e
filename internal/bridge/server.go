// Package bridge exposes the event pipeline over HTTP: detectors and
// renderers post events, renderers receive render commands over a websocket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Pipeline is the part of the event pipeline the bridge drives.
type Pipeline interface {
	domain.EventSubmitter
	Inspect(ctx context.Context) (daemon.Status, error)
}

// Server routes bridge requests into the pipeline.
type Server struct {
	pipeline Pipeline
	hub      *Hub
	tokens   *TokenManager
	clock    domain.Clock
	logger   *zap.Logger
}

// NewServer creates a bridge server.
func NewServer(pipeline Pipeline, hub *Hub, tokens *TokenManager, clock domain.Clock, logger *zap.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		hub:      hub,
		tokens:   tokens,
		clock:    clock,
		logger:   logger,
	}
}

// EntryRequest is the body of POST /v1/detector/entry.
type EntryRequest struct {
	Target string `json:"target"`
	Forced bool   `json:"forced,omitempty"`
}

// ExitRequest is the body of POST /v1/detector/exit.
type ExitRequest struct {
	Target string `json:"target"`
}

// ConfirmRequest is the body of POST /v1/overlay/confirm.
type ConfirmRequest struct {
	SessionID string `json:"sessionId"`
}

// LockRequest is the body of POST /v1/targets/{target}/lock.
type LockRequest struct {
	Minutes int `json:"minutes"`
}

// rendererMessage is an inbound websocket message from a renderer.
type rendererMessage struct {
	Type      string             `json:"type"` // "action" or "confirm"
	SessionID string             `json:"sessionId,omitempty"`
	Action    *domain.UserAction `json:"action,omitempty"`
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(RoleDetector, RoleAdmin))
			r.Post("/detector/entry", s.handleEntry)
			r.Post("/detector/exit", s.handleExit)
			r.Post("/detector/wake", s.handleWake)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(RoleRenderer, RoleAdmin))
			r.Post("/actions", s.handleAction)
			r.Post("/overlay/confirm", s.handleConfirm)
			r.Get("/surfaces", s.handleSurfaces)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(RoleAdmin))
			r.Get("/status", s.handleStatus)
			r.Post("/targets/{target}/lock", s.handleLock)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("bridge forced to shut down", zap.Error(err))
		return err
	}
	s.logger.Info("bridge stopped")
	return nil
}

// --- handlers ---

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := parseTarget(w, req.Target)
	if !ok {
		return
	}
	s.submit(w, domain.NewEntryEvent(target, s.clock.Now(), req.Forced))
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := parseTarget(w, req.Target)
	if !ok {
		return
	}
	s.submit(w, domain.NewExitEvent(target, s.clock.Now()))
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	s.submit(w, domain.NewWakeEvent(s.clock.Now()))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var action domain.UserAction
	if !decode(w, r, &action) {
		return
	}
	if action.SessionID == "" || action.SurfaceID == "" || action.ActionID == "" {
		Error(w, http.StatusBadRequest, "sessionId, surfaceId and actionId are required")
		return
	}
	s.submit(w, domain.NewUserActionEvent(action, s.clock.Now()))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	s.submit(w, domain.NewOverlayConfirmedEvent(req.SessionID))
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	target, ok := parseTarget(w, chi.URLParam(r, "target"))
	if !ok {
		return
	}
	var req LockRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Minutes <= 0 {
		Error(w, http.StatusBadRequest, "minutes must be > 0")
		return
	}
	until := s.clock.Now().Add(time.Duration(req.Minutes) * time.Minute)
	s.submit(w, domain.NewLockEvent(target, until))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, err := s.pipeline.Inspect(ctx)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, "pipeline not responding")
		return
	}
	JSON(w, http.StatusOK, status)
}

// handleSurfaces streams render commands to a renderer and accepts its
// actions and confirmations on the same connection.
func (s *Server) handleSurfaces(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	client := s.hub.subscribe()
	defer s.hub.unsubscribe(client)
	s.logger.Info("renderer connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			var msg rendererMessage
			if err := wsjson.Read(ctx, ws, &msg); err != nil {
				return
			}
			s.handleRendererMessage(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renderer disconnected", zap.String("remote", r.RemoteAddr))
			return
		case cmd := <-client.send:
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, ws, cmd)
			writeCancel()
			if err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) handleRendererMessage(msg rendererMessage) {
	switch msg.Type {
	case "action":
		if msg.Action == nil {
			return
		}
		s.pipeline.Submit(domain.NewUserActionEvent(*msg.Action, s.clock.Now()))
	case "confirm":
		if msg.SessionID != "" {
			s.pipeline.Submit(domain.NewOverlayConfirmedEvent(msg.SessionID))
		}
	default:
		s.logger.Debug("ignoring renderer message", zap.String("type", msg.Type))
	}
}

func (s *Server) submit(w http.ResponseWriter, ev domain.Event) {
	if !s.pipeline.Submit(ev) {
		Error(w, http.StatusServiceUnavailable, "pipeline stopped")
		return
	}
	JSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// --- auth ---

// requireRole rejects requests without a valid token for one of roles.
// Browsers cannot set headers on websocket upgrades, so ?token= is accepted too.
func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				Error(w, http.StatusUnauthorized, "missing token")
				return
			}
			claims, err := s.tokens.VerifyToken(raw)
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			Error(w, http.StatusForbidden, "role not allowed")
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// --- helpers ---

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseTarget(w http.ResponseWriter, raw string) (domain.Target, bool) {
	t := strings.TrimSpace(raw)
	if t == "" || strings.ContainsAny(t, "|$") {
		Error(w, http.StatusBadRequest, "invalid target")
		return "", false
	}
	return domain.Target(t), true
}
