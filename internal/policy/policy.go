// Package policy implements per-target monitoring rules.
// Each monitored target (Steam, a browser, a social app) has a policy defining
// how to recognise it and which allowances apply.
package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// AppPolicy defines how one target is monitored.
type AppPolicy interface {
	// ID returns the target identifier (e.g., "steam", "com.twitter.android").
	ID() domain.Target

	// Name returns human-readable name for display.
	Name() string

	// ProcessPatterns returns process names that mean the target is open.
	// Patterns are matched case-insensitively.
	ProcessPatterns() []string

	// Enabled reports whether the target is monitored by default.
	Enabled() bool

	// QuickTaskAllowed reports whether quick tasks may be offered for this target.
	QuickTaskAllowed() bool
}

// TargetPolicy is a plain data AppPolicy, built from presets or configuration.
type TargetPolicy struct {
	TargetID   domain.Target
	Label      string
	Processes  []string
	Monitored  bool
	AllowQuick bool
}

// NewTargetPolicy creates an enabled policy that allows quick tasks.
func NewTargetPolicy(id domain.Target, name string, processes ...string) *TargetPolicy {
	if strings.TrimSpace(name) == "" {
		name = string(id)
	}
	return &TargetPolicy{
		TargetID:   id,
		Label:      name,
		Processes:  processes,
		Monitored:  true,
		AllowQuick: true,
	}
}

func (p *TargetPolicy) ID() domain.Target         { return p.TargetID }
func (p *TargetPolicy) Name() string              { return p.Label }
func (p *TargetPolicy) ProcessPatterns() []string { return p.Processes }
func (p *TargetPolicy) Enabled() bool             { return p.Monitored }
func (p *TargetPolicy) QuickTaskAllowed() bool    { return p.AllowQuick }

// Ensure TargetPolicy implements AppPolicy.
var _ AppPolicy = (*TargetPolicy)(nil)
