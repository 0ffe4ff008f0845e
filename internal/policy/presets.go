package policy

// Built-in targets shipped with appgate. Configuration can disable them or add more.

// NewSteamPolicy returns the Steam target.
// These are the known process names on macOS.
func NewSteamPolicy() *TargetPolicy {
	return NewTargetPolicy("steam", "Steam",
		"Steam",
		"steam_osx",
		"steamwebhelper",
	)
}

// NewDota2Policy returns the Dota 2 target. Dota never gets quick tasks:
// a match does not fit in one.
func NewDota2Policy() *TargetPolicy {
	p := NewTargetPolicy("dota2", "Dota 2",
		"dota2",
		"dota_osx64",
	)
	p.AllowQuick = false
	return p
}

// DefaultPolicies returns the built-in target set.
func DefaultPolicies() []AppPolicy {
	return []AppPolicy{
		NewSteamPolicy(),
		NewDota2Policy(),
	}
}
