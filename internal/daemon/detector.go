package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/policy"
)

// DetectorConfig holds process detector configuration.
type DetectorConfig struct {
	PollInterval time.Duration // How often to scan processes (default 2s)
}

// DefaultDetectorConfig returns default detector configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PollInterval: 2 * time.Second,
	}
}

// ProcessDetector reports targets whose processes appear or disappear.
// It is a plain event source: it only suppresses repeated reports of the
// same state and applies no other judgment.
type ProcessDetector struct {
	config         DetectorConfig
	policies       *policy.Registry
	processManager domain.ProcessManager
	sub            domain.EventSubmitter
	clock          domain.Clock
	logger         *zap.Logger
	running        map[domain.Target]bool
}

// NewProcessDetector creates a detector that submits to sub.
func NewProcessDetector(
	config DetectorConfig,
	policies *policy.Registry,
	pm domain.ProcessManager,
	sub domain.EventSubmitter,
	clock domain.Clock,
	logger *zap.Logger,
) *ProcessDetector {
	return &ProcessDetector{
		config:         config,
		policies:       policies,
		processManager: pm,
		sub:            sub,
		clock:          clock,
		logger:         logger,
		running:        make(map[domain.Target]bool),
	}
}

// Run polls until ctx is canceled.
// This blocks until context is canceled.
func (d *ProcessDetector) Run(ctx context.Context) error {
	d.logger.Info("process detector started", zap.Duration("interval", d.config.PollInterval))

	d.Poll()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("process detector stopping")
			return ctx.Err()
		case <-ticker.C:
			d.Poll()
		}
	}
}

// Poll scans once and submits an entry or exit for every target whose
// presence changed since the previous scan.
func (d *ProcessDetector) Poll() {
	now := d.clock.Now()
	for _, p := range d.policies.GetAll() {
		target := p.ID()
		up, err := d.isUp(p.ProcessPatterns())
		if err != nil {
			d.logger.Warn("process scan failed", zap.String("target", string(target)), zap.Error(err))
			continue
		}
		if up == d.running[target] {
			continue
		}
		d.running[target] = up

		var ev domain.Event
		if up {
			ev = domain.NewEntryEvent(target, now, false)
		} else {
			ev = domain.NewExitEvent(target, now)
		}
		if !d.sub.Submit(ev) {
			d.logger.Debug("pipeline closed, dropping detector event", zap.String("target", string(target)))
			return
		}
		d.logger.Debug("target presence changed", zap.String("target", string(target)), zap.Bool("running", up))
	}
}

func (d *ProcessDetector) isUp(patterns []string) (bool, error) {
	for _, pattern := range patterns {
		pids, err := d.processManager.FindByName(pattern)
		if err != nil {
			return false, err
		}
		if len(pids) > 0 {
			return true, nil
		}
	}
	return false, nil
}
