package domain

import "time"

// ProcessManager handles OS process lookups.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// KVStore is the durable backing store for state store entries.
// Keys use the flat "target|field" layout.
// Implementations: sqlcipher database, atomic JSON file, in-memory map.
type KVStore interface {
	// Load returns every stored entry.
	Load() (map[string]string, error)

	// Commit writes set and removes del in one unit.
	Commit(set map[string]string, del []string) error

	// Location describes where data lives (for status output).
	Location() string

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of encryption keys.
// The key encrypts the state database and signs renderer tokens.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// Clock provides a testable time source.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues opaque unique session identifiers.
type IDGenerator interface {
	NewID() string
}

// SurfaceSink receives render commands for the renderer.
// Publish must not block the caller.
type SurfaceSink interface {
	Publish(cmd RenderCommand)
}

// Scheduler delivers an event back into the pipeline after a delay.
// Scheduled events are never cancelled; handlers must tolerate stale ones.
type Scheduler interface {
	After(d time.Duration, ev Event)
}

// EventSubmitter accepts events into the pipeline queue.
type EventSubmitter interface {
	Submit(ev Event) bool
}
