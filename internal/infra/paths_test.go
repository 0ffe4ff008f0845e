package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectPaths_ReturnsCorrectPaths(t *testing.T) {
	paths := DetectPaths()

	if os.Geteuid() == 0 {
		if paths.Mode != ExecModeSystem {
			t.Errorf("expected system mode when euid=0, got %s", paths.Mode)
		}
		if paths.DataDir != "/var/lib/appgate" {
			t.Errorf("expected /var/lib/appgate, got %s", paths.DataDir)
		}
	} else {
		if paths.Mode != ExecModeUser {
			t.Errorf("expected user mode when euid!=0, got %s", paths.Mode)
		}
		expected := filepath.Join(GetRealUserHome(), ".appgate")
		if paths.DataDir != expected {
			t.Errorf("expected %s, got %s", expected, paths.DataDir)
		}
	}
}

func TestPaths_AreInsideDataDir(t *testing.T) {
	paths := PathsFor(ExecModeUser, "/tmp/appgate-test")

	if filepath.Dir(paths.LogPath) != paths.DataDir {
		t.Errorf("LogPath (%s) should be inside DataDir (%s)", paths.LogPath, paths.DataDir)
	}
	if filepath.Dir(paths.PIDPath) != paths.DataDir {
		t.Errorf("PIDPath (%s) should be inside DataDir (%s)", paths.PIDPath, paths.DataDir)
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode ExecMode
		want string
	}{
		{ExecModeSystem, "system (root)"},
		{ExecModeUser, "user (non-root)"},
		{ExecMode("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("%q.String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestGetRealUserHome_FallsBackWithoutSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home, _ := os.UserHomeDir()
	if got := GetRealUserHome(); got != home {
		t.Errorf("expected %s, got %s", home, got)
	}
}
