// Package main is the CLI entry point for appgate.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appgate",
	Short: "Intervention gate for distracting apps",
	Long: `appgate watches for distracting applications coming to the foreground
and decides, one event at a time, whether to show a mindful intervention,
let a quick task through, or hold the app behind a break.

A renderer connects over the local bridge to draw the overlay.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	cfgFile    string
	envFile    string
	jsonOutput bool

	// flagViper holds flag bindings; settings are decoded from it on demand.
	flagViper = viper.New()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with APPGATE_* overrides")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default depends on execution mode)")
	_ = flagViper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = flagViper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings decodes configuration with flag bindings applied.
func loadSettings() (*config.Settings, error) {
	return config.LoadWith(flagViper, cfgFile, envFile)
}

// resolvePaths derives filesystem locations from settings, falling back to
// the execution-mode defaults.
func resolvePaths(s *config.Settings) *infra.Paths {
	var paths *infra.Paths
	if s.DataDir != "" {
		mode := infra.ExecModeUser
		if os.Geteuid() == 0 {
			mode = infra.ExecModeSystem
		}
		paths = infra.PathsFor(mode, s.DataDir)
	} else {
		paths = infra.DetectPaths()
	}
	if s.LogPath != "" {
		paths.LogPath = s.LogPath
	}
	return paths
}

func createLogger(logPath, level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appgate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
