package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_gate/internal/bridge"
	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gate status",
	Long:  `Shows whether the gate is running, the active overlay session, timers and quotas per target.`,
	RunE:  runStatus,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List monitored targets",
	Long:  `Shows every configured target with its process names and quick task setting.`,
	RunE:  runTargets,
}

var lockCmd = &cobra.Command{
	Use:   "lock <target> <minutes>",
	Short: "Hold a target behind a hard break",
	Args:  cobra.ExactArgs(2),
	RunE:  runLock,
}

var tokenCmd = &cobra.Command{
	Use:   "token <renderer|detector|admin>",
	Short: "Issue a bridge token",
	Long: `Issues a signed token for a bridge client. Renderers connect to
/v1/surfaces with it; external detectors post to /v1/detector/*.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
}

// adminClient builds a bridge client authorized with a locally minted token.
func adminClient(settings *config.Settings) (*bridge.Client, error) {
	if settings.Bridge.Listen == "" {
		return nil, fmt.Errorf("bridge is disabled (bridge.listen is empty)")
	}
	tok, err := issueToken(settings, bridge.RoleAdmin, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return bridge.NewClient(settings.Bridge.Listen, tok), nil
}

func issueToken(settings *config.Settings, role string, ttl time.Duration) (string, error) {
	paths := resolvePaths(settings)
	provider := infra.NewFileKeyProvider(paths.DataDir)
	if !provider.KeyExists() {
		return "", fmt.Errorf("no key in %s; run 'appgate run' once first", paths.DataDir)
	}
	key, err := provider.GetKey()
	if err != nil {
		return "", err
	}
	tokens := bridge.NewTokenManager(infra.DeriveSubkey(key, bridgeKeyLabel), ttl, infra.SystemClock{})
	return tokens.CreateToken(role)
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	paths := resolvePaths(settings)

	pid, pidErr := daemon.ReadPIDFile(paths.PIDPath)
	if pidErr != nil || !infra.NewProcessManager().IsRunning(pid) {
		fmt.Println("\n=== appgate Status ===")
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'appgate start' to enable the gate.")
		return nil
	}

	client, err := adminClient(settings)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(pid, status)
	return nil
}

func printStatus(pid int, s daemon.Status) {
	fmt.Println("\n=== appgate Status ===")
	fmt.Printf("Status: RUNNING (pid %d)\n", pid)
	if s.Foreground != "" {
		fmt.Printf("Foreground: %s\n", s.Foreground)
	}
	if s.Session != nil {
		fmt.Printf("Overlay: %s %s for %s (session %s)\n", s.Session.Kind, s.Session.State, s.Session.Target, s.Session.ID)
	} else {
		fmt.Println("Overlay: none")
	}
	fmt.Printf("Emergency passes: %d left, %d used today\n", s.Global.EmergencyPassBalance, s.Global.EmergencyPassUsedToday)
	fmt.Printf("Events handled: %d (queued %d)\n", s.Handled, s.Queued)

	fmt.Println("\nTargets:")
	for _, t := range s.Targets {
		state := "monitored"
		if !t.Monitored {
			state = "disabled"
		}
		fmt.Printf("  [%s] %s, quick tasks left %d\n", t.Target, state, t.QuickTaskRemaining)
		if t.Flow != "" {
			fmt.Printf("    flow: %s\n", t.Flow)
		}
		if t.Purpose != "" {
			fmt.Printf("    intention: %s (checkpoints %d)\n", t.Purpose, t.CheckpointCount)
		}
		kinds := make([]string, 0, len(t.Timers))
		for k := range t.Timers {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("    %s: %s left\n", k, t.Timers[domain.TimerKind(k)])
		}
	}
	fmt.Println("======================")
}

func runTargets(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	registry := settings.Policies()

	fmt.Println("\n=== Targets ===")
	for _, id := range registry.List() {
		p, _ := registry.Get(id)
		fmt.Printf("\n[%s] %s\n", p.ID(), p.Name())
		fmt.Printf("  Monitored: %t\n", p.Enabled())
		fmt.Printf("  Quick task: %t\n", p.QuickTaskAllowed())
		fmt.Println("  Processes:")
		for _, proc := range p.ProcessPatterns() {
			fmt.Printf("    - %s\n", proc)
		}
	}
	fmt.Println("\n===============")
	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return fmt.Errorf("minutes must be a positive integer")
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	client, err := adminClient(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Lock(ctx, domain.Target(args[0]), minutes); err != nil {
		return err
	}
	fmt.Printf("%s locked for %d minutes\n", args[0], minutes)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	tok, err := issueToken(settings, args[0], settings.Bridge.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
