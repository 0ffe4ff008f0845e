package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/testutil"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <script.yaml>",
	Short: "Replay a scripted scenario against an in-memory gate",
	Long: `Replays a YAML script of detector events, renderer actions and clock
advances against a fresh in-memory gate and prints every render command.
Nothing is persisted and no real time passes.

Example script:

  start: 2025-03-03T09:00:00Z
  steps:
    - entry: steam
    - confirm: true
    - action: complete
    - action: select
      payload: {minutes: "5"}
    - advance: 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

// Script is a simulated scenario.
type Script struct {
	Start time.Time `yaml:"start"`
	Steps []Step    `yaml:"steps"`
}

// Step is one scripted input. Exactly one of the event fields should be set.
type Step struct {
	Entry   string            `yaml:"entry,omitempty"`
	Forced  bool              `yaml:"forced,omitempty"`
	Exit    string            `yaml:"exit,omitempty"`
	Wake    bool              `yaml:"wake,omitempty"`
	Confirm bool              `yaml:"confirm,omitempty"`
	Action  string            `yaml:"action,omitempty"`
	Payload map[string]string `yaml:"payload,omitempty"`
	Lock    string            `yaml:"lock,omitempty"`
	Minutes int               `yaml:"minutes,omitempty"`
	Advance time.Duration     `yaml:"advance,omitempty"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	script, err := parseScript(data)
	if err != nil {
		return err
	}

	sim, err := newSimulator(settings, script.Start, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer sim.close()
	return sim.play(script.Steps)
}

func parseScript(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	if script.Start.IsZero() {
		script.Start = testutil.Epoch
	}
	return &script, nil
}

// printSink writes render commands as they are published and remembers the
// surface on screen so scripted actions can address it.
type printSink struct {
	out     io.Writer
	clock   domain.Clock
	start   time.Time
	current *domain.RenderCommand
}

func (s *printSink) Publish(cmd domain.RenderCommand) {
	offset := s.clock.Now().Sub(s.start)
	switch cmd.Type {
	case domain.RenderPresent:
		c := cmd
		s.current = &c
		fmt.Fprintf(s.out, "[+%s] present %s session=%s surface=%s%s\n",
			offset, cmd.Target, cmd.SessionID, cmd.Surface.SurfaceID, formatProps(cmd.Surface.Props))
	default:
		if s.current != nil && s.current.SessionID == cmd.SessionID {
			s.current = nil
		}
		fmt.Fprintf(s.out, "[+%s] %s %s session=%s reason=%s\n",
			offset, cmd.Type, cmd.Target, cmd.SessionID, cmd.Reason)
	}
}

func formatProps(props domain.Props) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, props[k])
	}
	return b.String()
}

// simulator drives a pipeline on the calling goroutine with a fake clock.
type simulator struct {
	out      io.Writer
	clock    *testutil.FakeClock
	sched    *testutil.ManualScheduler
	sink     *printSink
	store    *usecase.StateStore
	pipeline *daemon.Pipeline
}

func newSimulator(settings *config.Settings, start time.Time, out io.Writer) (*simulator, error) {
	clock := testutil.NewFakeClock(start)
	sched := testutil.NewManualScheduler(clock)
	sink := &printSink{out: out, clock: clock, start: start}
	logger := zap.NewNop()

	storeCfg := settings.StoreConfig()
	storeCfg.Location = start.Location()
	store := usecase.NewStateStore(infra.NewMemoryKV(), clock, storeCfg, logger)
	if err := store.Restore(); err != nil {
		return nil, err
	}

	pipeline := daemon.NewPipeline(settings.PipelineConfig(), daemon.PipelineDeps{
		Store:       store,
		Evaluator:   usecase.NewEvaluator(settings.EvaluatorConfig()),
		Coordinator: usecase.NewCoordinator(settings.CoordinatorConfig(), testutil.NewSequentialIDs("s"), logger),
		Flow:        usecase.NewFlowMachine(settings.FlowConfig(), logger),
		Policies:    settings.Policies(),
		Sink:        sink,
		Clock:       clock,
		Scheduler:   sched,
		Logger:      logger,
	})
	return &simulator{out: out, clock: clock, sched: sched, sink: sink, store: store, pipeline: pipeline}, nil
}

func (s *simulator) close() {
	s.store.Close()
}

func (s *simulator) play(steps []Step) error {
	for i, step := range steps {
		if err := s.step(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *simulator) step(st Step) error {
	now := s.clock.Now()
	switch {
	case st.Entry != "":
		s.send(domain.NewEntryEvent(domain.Target(st.Entry), now, st.Forced))
	case st.Exit != "":
		s.send(domain.NewExitEvent(domain.Target(st.Exit), now))
	case st.Wake:
		s.send(domain.NewWakeEvent(now))
	case st.Lock != "":
		if st.Minutes <= 0 {
			return fmt.Errorf("lock needs minutes > 0")
		}
		s.send(domain.NewLockEvent(domain.Target(st.Lock), now.Add(time.Duration(st.Minutes)*time.Minute)))
	case st.Confirm:
		if s.sink.current == nil {
			return fmt.Errorf("confirm with no surface on screen")
		}
		s.send(domain.NewOverlayConfirmedEvent(s.sink.current.SessionID))
	case st.Action != "":
		if s.sink.current == nil {
			return fmt.Errorf("action %q with no surface on screen", st.Action)
		}
		cur := s.sink.current
		s.send(domain.NewUserActionEvent(domain.UserAction{
			SurfaceID: cur.Surface.SurfaceID,
			ActionID:  st.Action,
			SessionID: cur.SessionID,
			Payload:   st.Payload,
		}, now))
	case st.Advance > 0:
		s.advance(st.Advance)
	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

func (s *simulator) send(ev domain.Event) {
	s.pipeline.Submit(ev)
	s.pipeline.Drain()
}

// advance walks the clock from one scheduled deadline to the next so that
// events fire at the time they were due.
func (s *simulator) advance(d time.Duration) {
	end := s.clock.Now().Add(d)
	for {
		next, ok := s.nextDue(end)
		if !ok {
			break
		}
		if now := s.clock.Now(); next.Before(now) {
			next = now
		}
		s.clock.Set(next)
		s.sched.Release(s.pipeline)
		s.pipeline.Drain()
	}
	s.clock.Set(end)
}

func (s *simulator) nextDue(end time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, p := range s.sched.Pending() {
		if p.Due.After(end) {
			continue
		}
		if !found || p.Due.Before(next) {
			next = p.Due
			found = true
		}
	}
	return next, found
}
