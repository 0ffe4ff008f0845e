package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as the logged-in user (no sudo required).
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with a machine-wide data directory.
	ExecModeSystem ExecMode = "system"
)

const (
	logFileName = "appgate.log"
	pidFileName = "appgate.pid"
)

// Paths holds filesystem locations that depend on the execution mode.
type Paths struct {
	Mode    ExecMode
	DataDir string // Key, state database and log live here
	LogPath string
	PIDPath string
	IsRoot  bool
}

// DetectPaths determines locations based on effective UID.
func DetectPaths() *Paths {
	if os.Geteuid() == 0 {
		return PathsFor(ExecModeSystem, "/var/lib/appgate")
	}
	return PathsFor(ExecModeUser, filepath.Join(GetRealUserHome(), ".appgate"))
}

// PathsFor builds the layout rooted at dataDir.
func PathsFor(mode ExecMode, dataDir string) *Paths {
	return &Paths{
		Mode:    mode,
		DataDir: dataDir,
		LogPath: filepath.Join(dataDir, logFileName),
		PIDPath: filepath.Join(dataDir, pidFileName),
		IsRoot:  os.Geteuid() == 0,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so SUDO_USER is consulted first.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
