//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/bridge"
	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

const (
	alpha domain.Target = "alpha" // quick tasks allowed
	beta  domain.Target = "beta"  // always intervenes
)

func testSettings(dataDir string) *config.Settings {
	s := config.Default()
	s.DataDir = dataDir
	s.Storage = config.StorageSQLCipher
	s.DisableBuiltinTargets = true
	s.Targets = []config.TargetSettings{
		{ID: string(alpha), Name: "Alpha", Processes: []string{"alpha"}},
		{ID: string(beta), Name: "Beta", Processes: []string{"beta"}, NoQuick: true},
	}
	s.Timing.RecheckDelay = 50 * time.Millisecond
	return s
}

// gate is a complete running instance: encrypted store, pipeline on its own
// goroutine with real timers, and the bridge behind an httptest server.
type gate struct {
	store  *usecase.StateStore
	kv     *infra.EncryptedKV
	tokens *bridge.TokenManager
	srv    *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

func startGate(settings *config.Settings, key []byte) *gate {
	logger := zap.NewNop()
	clock := infra.SystemClock{}

	kv, err := infra.NewEncryptedKV(settings.DataDir, infra.DeriveSubkey(key, "state-db"))
	Expect(err).NotTo(HaveOccurred())

	store := usecase.NewStateStore(kv, clock, settings.StoreConfig(), logger)
	Expect(store.Restore()).To(Succeed())

	hub := bridge.NewHub(logger)
	pipeline := daemon.NewPipeline(settings.PipelineConfig(), daemon.PipelineDeps{
		Store:       store,
		Evaluator:   usecase.NewEvaluator(settings.EvaluatorConfig()),
		Coordinator: usecase.NewCoordinator(settings.CoordinatorConfig(), infra.UUIDGenerator{}, logger),
		Flow:        usecase.NewFlowMachine(settings.FlowConfig(), logger),
		Policies:    settings.Policies(),
		Sink:        hub,
		Clock:       clock,
		Logger:      logger,
	})

	tokens := bridge.NewTokenManager(infra.DeriveSubkey(key, "bridge-token"), time.Hour, clock)
	srv := httptest.NewServer(bridge.NewServer(pipeline, hub, tokens, clock, logger).Router())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx) }()

	return &gate{store: store, kv: kv, tokens: tokens, srv: srv, cancel: cancel, done: done}
}

func (g *gate) stop() {
	g.cancel()
	Eventually(g.done, 2*time.Second).Should(Receive())
	g.srv.Close()
	g.store.Close()
	Expect(g.kv.Close()).To(Succeed())
}

func (g *gate) client(role string) *bridge.Client {
	tok, err := g.tokens.CreateToken(role)
	Expect(err).NotTo(HaveOccurred())
	return bridge.NewClient(g.srv.URL, tok)
}

// renderer is a websocket client standing in for the overlay UI.
type renderer struct {
	conn *websocket.Conn
	cmds chan domain.RenderCommand
}

func connectRenderer(g *gate) *renderer {
	tok, err := g.tokens.CreateToken(bridge.RoleRenderer)
	Expect(err).NotTo(HaveOccurred())

	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/v1/surfaces?token=" + tok
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	Expect(err).NotTo(HaveOccurred())

	r := &renderer{conn: conn, cmds: make(chan domain.RenderCommand, 32)}
	go func() {
		for {
			var cmd domain.RenderCommand
			if err := wsjson.Read(context.Background(), conn, &cmd); err != nil {
				close(r.cmds)
				return
			}
			r.cmds <- cmd
		}
	}()
	return r
}

func (r *renderer) close() {
	_ = r.conn.Close(websocket.StatusNormalClosure, "")
}

func (r *renderer) next() domain.RenderCommand {
	var cmd domain.RenderCommand
	Eventually(r.cmds, 2*time.Second).Should(Receive(&cmd))
	return cmd
}

func (r *renderer) expectPresent(target domain.Target, surface domain.FlowState) domain.RenderCommand {
	cmd := r.next()
	Expect(cmd.Type).To(Equal(domain.RenderPresent))
	Expect(cmd.Target).To(Equal(target))
	Expect(cmd.Surface).NotTo(BeNil())
	Expect(cmd.Surface.SurfaceID).To(Equal(string(surface)))
	return cmd
}

func (r *renderer) expectQuiet() {
	Consistently(r.cmds, 300*time.Millisecond).ShouldNot(Receive())
}

func (r *renderer) send(msg map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Expect(wsjson.Write(ctx, r.conn, msg)).To(Succeed())
}

func (r *renderer) confirm(sessionID string) {
	r.send(map[string]any{"type": "confirm", "sessionId": sessionID})
}

func (r *renderer) act(cmd domain.RenderCommand, actionID string, payload map[string]string) {
	r.send(map[string]any{
		"type": "action",
		"action": domain.UserAction{
			SurfaceID: cmd.Surface.SurfaceID,
			ActionID:  actionID,
			SessionID: cmd.SessionID,
			Payload:   payload,
		},
	})
}

func targetStatus(s daemon.Status, target domain.Target) daemon.TargetStatus {
	for _, t := range s.Targets {
		if t.Target == target {
			return t
		}
	}
	return daemon.TargetStatus{Target: target}
}
