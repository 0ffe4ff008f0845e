//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/app_gate/internal/bridge"
	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

var _ = Describe("Gate", func() {
	var (
		ctx      context.Context
		settings *config.Settings
		key      []byte
		g        *gate
		r        *renderer
		detector *bridge.Client
		admin    *bridge.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir, err := os.MkdirTemp("", "appgate-integration-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		settings = testSettings(dir)
		key, err = infra.EnsureKey(infra.NewFileKeyProvider(dir))
		Expect(err).NotTo(HaveOccurred())

		g = startGate(settings, key)
		r = connectRenderer(g)
		detector = g.client(bridge.RoleDetector)
		admin = g.client(bridge.RoleAdmin)
	})

	AfterEach(func() {
		r.close()
		g.stop()
	})

	// startQuickTask walks the quick task offer for alpha to completion.
	startQuickTask := func() {
		Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
		offer := r.expectPresent(alpha, domain.FlowFastLaneEntry)
		r.confirm(offer.SessionID)
		r.act(offer, usecase.ActionConfirm, nil)
		Expect(r.next().Type).To(Equal(domain.RenderClose))
	}

	Describe("quick task", func() {
		It("offers a quick task and spends quota only on confirm", func() {
			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
			offer := r.expectPresent(alpha, domain.FlowFastLaneEntry)
			Expect(offer.Surface.Props["quickTaskRemaining"]).To(BeNumerically("==", 3))

			status, err := admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(targetStatus(status, alpha).QuickTaskRemaining).To(Equal(3))

			r.confirm(offer.SessionID)
			r.act(offer, usecase.ActionConfirm, nil)
			Expect(r.next().Type).To(Equal(domain.RenderClose))

			Eventually(func() int {
				s, _ := admin.Status(ctx)
				return targetStatus(s, alpha).QuickTaskRemaining
			}).Should(Equal(2))
		})

		It("keeps running across exit and re-entry without a new surface", func() {
			startQuickTask()

			status, err := admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(targetStatus(status, alpha).Timers).To(HaveKey(domain.TimerQuickTask))

			Expect(detector.Exit(ctx, alpha)).To(Succeed())
			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
			r.expectQuiet()

			status, err = admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(targetStatus(status, alpha).Timers).To(HaveKey(domain.TimerQuickTask))
		})
	})

	Describe("hard break", func() {
		It("shows the break and treats an emergency allowance as grace", func() {
			Expect(admin.Lock(ctx, alpha, 10)).To(Succeed())
			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())

			brk := r.expectPresent(alpha, domain.FlowHardBreak)
			Expect(brk.Surface.Props["emergencyPassAvailable"]).To(BeTrue())
			r.confirm(brk.SessionID)

			r.act(brk, usecase.ActionEmergency, nil)
			Expect(r.next().Type).To(Equal(domain.RenderClose))

			Expect(detector.Exit(ctx, alpha)).To(Succeed())
			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
			r.expectQuiet()

			status, err := admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(targetStatus(status, alpha).Timers).To(HaveKey(domain.TimerEmergencyAllow))
			Expect(status.Global.EmergencyPassBalance).To(Equal(1))
		})
	})

	Describe("single overlay", func() {
		It("ignores a second target while the first owns the overlay", func() {
			Expect(detector.Entry(ctx, beta, false)).To(Succeed())
			first := r.expectPresent(beta, domain.FlowBreathing)
			r.confirm(first.SessionID)

			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
			r.expectQuiet()

			status, err := admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Session).NotTo(BeNil())
			Expect(status.Session.Target).To(Equal(beta))

			// Quitting frees the overlay; the recheck picks up the foreground target.
			r.act(first, usecase.ActionQuit, nil)
			Expect(r.next().Type).To(Equal(domain.RenderReturnHome))
			r.expectPresent(alpha, domain.FlowFastLaneEntry)
		})

		It("never presents two surfaces at once", func() {
			Expect(detector.Entry(ctx, beta, false)).To(Succeed())
			Expect(detector.Entry(ctx, alpha, false)).To(Succeed())
			Expect(detector.Entry(ctx, beta, false)).To(Succeed())

			cmd := r.next()
			Expect(cmd.Type).To(Equal(domain.RenderPresent))
			r.expectQuiet()
		})
	})

	Describe("persistence", func() {
		It("restores quota and timers from the encrypted store after a restart", func() {
			startQuickTask()

			r.close()
			g.stop()

			Expect(filepath.Join(settings.DataDir, "state.db")).To(BeAnExistingFile())

			g = startGate(settings, key)
			r = connectRenderer(g)
			admin = g.client(bridge.RoleAdmin)

			status, err := admin.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			alphaStatus := targetStatus(status, alpha)
			Expect(alphaStatus.QuickTaskRemaining).To(Equal(2))
			Expect(alphaStatus.Timers).To(HaveKey(domain.TimerQuickTask))
		})
	})

	Describe("bridge auth", func() {
		It("rejects a detector token on admin routes", func() {
			err := detector.Lock(ctx, alpha, 5)
			Expect(err).To(MatchError(ContainSubstring("403")))
		})

		It("rejects tokens signed with another key", func() {
			other, err := infra.GenerateKey()
			Expect(err).NotTo(HaveOccurred())
			forged, err := bridge.NewTokenManager(other, 0, infra.SystemClock{}).CreateToken(bridge.RoleAdmin)
			Expect(err).NotTo(HaveOccurred())

			_, err = bridge.NewClient(g.srv.URL, forged).Status(ctx)
			Expect(err).To(MatchError(ContainSubstring("401")))
		})
	})

	It("reports pipeline counters", func() {
		Expect(detector.Entry(ctx, beta, false)).To(Succeed())
		r.expectPresent(beta, domain.FlowBreathing)

		var status daemon.Status
		Eventually(func() uint64 {
			status, _ = admin.Status(ctx)
			return status.Handled
		}).Should(BeNumerically(">=", 1))
		Expect(status.Foreground).To(Equal(beta))
	})
})
