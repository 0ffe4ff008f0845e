// Package config loads appgate settings from an optional YAML file, an
// optional .env file and APPGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/policy"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "APPGATE"

// Storage backends.
const (
	StorageSQLCipher = "sqlcipher"
	StorageFile      = "file"
	StorageMemory    = "memory"
)

// Settings is the complete daemon configuration.
type Settings struct {
	DataDir  string `mapstructure:"data_dir"`
	Storage  string `mapstructure:"storage"`
	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`

	Bridge   BridgeSettings   `mapstructure:"bridge"`
	Detector DetectorSettings `mapstructure:"detector"`
	Quota    QuotaSettings    `mapstructure:"quota"`
	Flow     FlowSettings     `mapstructure:"flow"`
	Timing   TimingSettings   `mapstructure:"timing"`

	DisableBuiltinTargets bool             `mapstructure:"disable_builtin_targets"`
	Targets               []TargetSettings `mapstructure:"targets"`
}

// BridgeSettings configures the renderer/detector HTTP bridge.
type BridgeSettings struct {
	Listen   string        `mapstructure:"listen"` // empty disables the bridge
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// DetectorSettings configures the built-in process detector.
type DetectorSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// QuotaSettings configures quick task and pass allowances.
type QuotaSettings struct {
	QuickTaskCount         int           `mapstructure:"quick_task_count"`
	QuickTaskWindow        time.Duration `mapstructure:"quick_task_window"`
	EmergencyPassesPerDay  int           `mapstructure:"emergency_passes_per_day"`
	WeeklyOverrideCooldown time.Duration `mapstructure:"weekly_override_cooldown"`
}

// FlowSettings configures the intervention surfaces.
type FlowSettings struct {
	IntentionPresets       []int         `mapstructure:"intention_presets"`
	MaxIntentionMinutes    int           `mapstructure:"max_intention_minutes"`
	QuickTaskDuration      time.Duration `mapstructure:"quick_task_duration"`
	HardBreakDuration      time.Duration `mapstructure:"hard_break_duration"`
	EmergencyAllowDuration time.Duration `mapstructure:"emergency_allow_duration"`
	BreathingDuration      time.Duration `mapstructure:"breathing_duration"`
	SupportCauses          []string      `mapstructure:"support_causes"`
}

// TimingSettings configures pipeline windows.
type TimingSettings struct {
	WatchdogTimeout  time.Duration `mapstructure:"watchdog_timeout"`
	PostChoiceLock   time.Duration `mapstructure:"post_choice_lock"`
	QuitSuppression  time.Duration `mapstructure:"quit_suppression"`
	WakeSuppression  time.Duration `mapstructure:"wake_suppression"`
	ReturnContextTTL time.Duration `mapstructure:"return_context_ttl"`
	RecheckDelay     time.Duration `mapstructure:"recheck_delay"`
	MaxRechecks      int           `mapstructure:"max_rechecks"`
	ResumeDebounce   time.Duration `mapstructure:"resume_debounce"`
}

// TargetSettings declares a monitored target.
type TargetSettings struct {
	ID        string   `mapstructure:"id"`
	Name      string   `mapstructure:"name"`
	Processes []string `mapstructure:"processes"`
	Disabled  bool     `mapstructure:"disabled"`
	NoQuick   bool     `mapstructure:"no_quick_task"`
}

// Default returns settings built from every component's defaults.
func Default() *Settings {
	storeCfg := usecase.DefaultStoreConfig()
	flowCfg := usecase.DefaultFlowConfig()
	pipeCfg := daemon.DefaultPipelineConfig()
	return &Settings{
		Storage:  StorageSQLCipher,
		LogLevel: "info",
		Bridge: BridgeSettings{
			Listen:   "127.0.0.1:7717",
			TokenTTL: 24 * time.Hour,
		},
		Detector: DetectorSettings{
			Enabled:      true,
			PollInterval: daemon.DefaultDetectorConfig().PollInterval,
		},
		Quota: QuotaSettings{
			QuickTaskCount:         storeCfg.QuickTaskCount,
			QuickTaskWindow:        storeCfg.QuickTaskWindow,
			EmergencyPassesPerDay:  storeCfg.EmergencyPassesPerDay,
			WeeklyOverrideCooldown: storeCfg.WeeklyOverrideCooldown,
		},
		Flow: FlowSettings{
			IntentionPresets:       flowCfg.IntentionPresets,
			MaxIntentionMinutes:    flowCfg.MaxIntentionMinutes,
			QuickTaskDuration:      flowCfg.QuickTaskDuration,
			HardBreakDuration:      flowCfg.HardBreakDuration,
			EmergencyAllowDuration: flowCfg.EmergencyAllowDuration,
			BreathingDuration:      flowCfg.BreathingDuration,
			SupportCauses:          flowCfg.SupportCauses,
		},
		Timing: TimingSettings{
			WatchdogTimeout:  pipeCfg.WatchdogTimeout,
			PostChoiceLock:   pipeCfg.PostChoiceLock,
			QuitSuppression:  pipeCfg.QuitSuppression,
			WakeSuppression:  pipeCfg.WakeSuppression,
			ReturnContextTTL: pipeCfg.ReturnContextTTL,
			RecheckDelay:     pipeCfg.RecheckDelay,
			MaxRechecks:      pipeCfg.MaxRechecks,
			ResumeDebounce:   usecase.DefaultEvaluatorConfig().ResumeDebounce,
		},
	}
}

// Load reads settings. path may be empty; envFile may be empty or missing.
// Precedence: environment > config file > defaults.
func Load(path, envFile string) (*Settings, error) {
	return LoadWith(viper.New(), path, envFile)
}

// LoadWith is Load on a caller-supplied viper instance, so the CLI can bind
// its flags first. Bound flags win over everything else.
func LoadWith(v *viper.Viper, path, envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("storage", d.Storage)
	v.SetDefault("log_path", d.LogPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("disable_builtin_targets", d.DisableBuiltinTargets)

	v.SetDefault("bridge.listen", d.Bridge.Listen)
	v.SetDefault("bridge.token_ttl", d.Bridge.TokenTTL)

	v.SetDefault("detector.enabled", d.Detector.Enabled)
	v.SetDefault("detector.poll_interval", d.Detector.PollInterval)

	v.SetDefault("quota.quick_task_count", d.Quota.QuickTaskCount)
	v.SetDefault("quota.quick_task_window", d.Quota.QuickTaskWindow)
	v.SetDefault("quota.emergency_passes_per_day", d.Quota.EmergencyPassesPerDay)
	v.SetDefault("quota.weekly_override_cooldown", d.Quota.WeeklyOverrideCooldown)

	v.SetDefault("flow.intention_presets", d.Flow.IntentionPresets)
	v.SetDefault("flow.max_intention_minutes", d.Flow.MaxIntentionMinutes)
	v.SetDefault("flow.quick_task_duration", d.Flow.QuickTaskDuration)
	v.SetDefault("flow.hard_break_duration", d.Flow.HardBreakDuration)
	v.SetDefault("flow.emergency_allow_duration", d.Flow.EmergencyAllowDuration)
	v.SetDefault("flow.breathing_duration", d.Flow.BreathingDuration)
	v.SetDefault("flow.support_causes", d.Flow.SupportCauses)

	v.SetDefault("timing.watchdog_timeout", d.Timing.WatchdogTimeout)
	v.SetDefault("timing.post_choice_lock", d.Timing.PostChoiceLock)
	v.SetDefault("timing.quit_suppression", d.Timing.QuitSuppression)
	v.SetDefault("timing.wake_suppression", d.Timing.WakeSuppression)
	v.SetDefault("timing.return_context_ttl", d.Timing.ReturnContextTTL)
	v.SetDefault("timing.recheck_delay", d.Timing.RecheckDelay)
	v.SetDefault("timing.max_rechecks", d.Timing.MaxRechecks)
	v.SetDefault("timing.resume_debounce", d.Timing.ResumeDebounce)
}

// Validate checks ranges and cross-field constraints.
func (s *Settings) Validate() error {
	switch s.Storage {
	case StorageSQLCipher, StorageFile, StorageMemory:
	default:
		return fmt.Errorf("storage must be one of %s, %s, %s (got %q)",
			StorageSQLCipher, StorageFile, StorageMemory, s.Storage)
	}
	if s.Quota.QuickTaskCount < 0 {
		return fmt.Errorf("quota.quick_task_count must be >= 0")
	}
	if s.Quota.QuickTaskWindow <= 0 {
		return fmt.Errorf("quota.quick_task_window must be > 0")
	}
	if s.Quota.EmergencyPassesPerDay < 0 || s.Quota.EmergencyPassesPerDay > usecase.MaxEmergencyPassesPerDay {
		return fmt.Errorf("quota.emergency_passes_per_day must be within 0..%d", usecase.MaxEmergencyPassesPerDay)
	}
	if s.Flow.MaxIntentionMinutes <= 0 {
		return fmt.Errorf("flow.max_intention_minutes must be > 0")
	}
	for _, m := range s.Flow.IntentionPresets {
		if m <= 0 || m > s.Flow.MaxIntentionMinutes {
			return fmt.Errorf("flow.intention_presets entry %d outside 1..%d", m, s.Flow.MaxIntentionMinutes)
		}
	}
	durations := map[string]time.Duration{
		"flow.quick_task_duration":      s.Flow.QuickTaskDuration,
		"flow.hard_break_duration":      s.Flow.HardBreakDuration,
		"flow.emergency_allow_duration": s.Flow.EmergencyAllowDuration,
		"timing.watchdog_timeout":       s.Timing.WatchdogTimeout,
		"timing.return_context_ttl":     s.Timing.ReturnContextTTL,
		"timing.recheck_delay":          s.Timing.RecheckDelay,
		"detector.poll_interval":        s.Detector.PollInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	if s.Timing.MaxRechecks < 0 {
		return fmt.Errorf("timing.max_rechecks must be >= 0")
	}

	seen := make(map[string]bool)
	for i, t := range s.Targets {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("targets[%d].id cannot be empty", i)
		}
		if strings.ContainsAny(id, "|$") {
			return fmt.Errorf("targets[%d].id %q contains a reserved character", i, id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate target %q", id)
		}
		seen[id] = true
	}
	return nil
}

// StoreConfig returns the state store configuration.
func (s *Settings) StoreConfig() usecase.StoreConfig {
	cfg := usecase.DefaultStoreConfig()
	cfg.QuickTaskCount = s.Quota.QuickTaskCount
	cfg.QuickTaskWindow = s.Quota.QuickTaskWindow
	cfg.EmergencyPassesPerDay = s.Quota.EmergencyPassesPerDay
	cfg.WeeklyOverrideCooldown = s.Quota.WeeklyOverrideCooldown
	return cfg
}

// FlowConfig returns the flow machine configuration.
func (s *Settings) FlowConfig() usecase.FlowConfig {
	return usecase.FlowConfig{
		IntentionPresets:       s.Flow.IntentionPresets,
		MaxIntentionMinutes:    s.Flow.MaxIntentionMinutes,
		QuickTaskDuration:      s.Flow.QuickTaskDuration,
		HardBreakDuration:      s.Flow.HardBreakDuration,
		EmergencyAllowDuration: s.Flow.EmergencyAllowDuration,
		BreathingDuration:      s.Flow.BreathingDuration,
		SupportCauses:          s.Flow.SupportCauses,
	}
}

// EvaluatorConfig returns the decision evaluator configuration.
func (s *Settings) EvaluatorConfig() usecase.EvaluatorConfig {
	return usecase.EvaluatorConfig{ResumeDebounce: s.Timing.ResumeDebounce}
}

// CoordinatorConfig returns the session coordinator configuration.
func (s *Settings) CoordinatorConfig() usecase.CoordinatorConfig {
	return usecase.CoordinatorConfig{WatchdogTimeout: s.Timing.WatchdogTimeout}
}

// PipelineConfig returns the event pipeline configuration.
func (s *Settings) PipelineConfig() daemon.PipelineConfig {
	return daemon.PipelineConfig{
		WatchdogTimeout:  s.Timing.WatchdogTimeout,
		PostChoiceLock:   s.Timing.PostChoiceLock,
		QuitSuppression:  s.Timing.QuitSuppression,
		WakeSuppression:  s.Timing.WakeSuppression,
		ReturnContextTTL: s.Timing.ReturnContextTTL,
		RecheckDelay:     s.Timing.RecheckDelay,
		MaxRechecks:      s.Timing.MaxRechecks,
	}
}

// DetectorConfig returns the process detector configuration.
func (s *Settings) DetectorConfig() daemon.DetectorConfig {
	return daemon.DetectorConfig{PollInterval: s.Detector.PollInterval}
}

// Policies builds the target registry: built-ins unless disabled, then
// configured targets, which replace built-ins with the same id.
func (s *Settings) Policies() *policy.Registry {
	reg := policy.NewRegistryWithPolicies()
	if !s.DisableBuiltinTargets {
		for _, p := range policy.DefaultPolicies() {
			reg.Register(p)
		}
	}
	for _, t := range s.Targets {
		p := policy.NewTargetPolicy(domain.Target(strings.TrimSpace(t.ID)), t.Name, t.Processes...)
		p.Monitored = !t.Disabled
		p.AllowQuick = !t.NoQuick
		reg.Register(p)
	}
	return reg
}
