package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/testutil"
)

const intentionScript = `
start: 2025-03-03T09:00:00Z
steps:
  - entry: steam
  - confirm: true
  - action: complete
  - action: select
    payload: {minutes: "5"}
  - action: select
    payload: {purpose: homework}
  - advance: 5m
`

func noQuickSettings() *config.Settings {
	s := config.Default()
	s.Targets = []config.TargetSettings{{ID: "steam", Processes: []string{"steam"}, NoQuick: true}}
	return s
}

func simulate(t *testing.T, settings *config.Settings, raw string) []string {
	t.Helper()
	script, err := parseScript([]byte(raw))
	require.NoError(t, err)

	var out bytes.Buffer
	sim, err := newSimulator(settings, script.Start, &out)
	require.NoError(t, err)
	defer sim.close()
	require.NoError(t, sim.play(script.Steps))
	return strings.Split(strings.TrimSpace(out.String()), "\n")
}

func TestParseScript(t *testing.T) {
	script, err := parseScript([]byte(intentionScript))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), script.Start)
	require.Len(t, script.Steps, 6)
	assert.Equal(t, "steam", script.Steps[0].Entry)
	assert.True(t, script.Steps[1].Confirm)
	assert.Equal(t, "5", script.Steps[3].Payload["minutes"])
	assert.Equal(t, 5*time.Minute, script.Steps[5].Advance)

	script, err = parseScript([]byte("steps: []\n"))
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch, script.Start, "start defaults to the fixed epoch")

	_, err = parseScript([]byte("steps: {"))
	assert.Error(t, err)
}

func TestSimulate_IntentionThenCheckpoint(t *testing.T) {
	lines := simulate(t, noQuickSettings(), intentionScript)
	require.GreaterOrEqual(t, len(lines), 5)

	assert.Contains(t, lines[0], "[+0s] present steam session=s1 surface=breathing")
	assert.Contains(t, lines[1], "surface=timebox")
	assert.Contains(t, lines[2], "surface=purpose_picker")
	assert.Contains(t, lines[2], "minutes=5")
	assert.Contains(t, lines[3], "close steam session=s1")

	last := lines[len(lines)-1]
	assert.Contains(t, last, "[+5m0s] present steam session=s1 surface=checkpoint")
	assert.Contains(t, last, "checkpointNumber=1")
	assert.Contains(t, last, "purpose=homework")
}

func TestSimulate_StepErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "action without surface", script: "steps:\n  - action: complete\n", want: "no surface on screen"},
		{name: "confirm without surface", script: "steps:\n  - confirm: true\n", want: "no surface on screen"},
		{name: "lock without minutes", script: "steps:\n  - lock: steam\n", want: "minutes"},
		{name: "empty step", script: "steps:\n  - {}\n", want: "empty step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := parseScript([]byte(tt.script))
			require.NoError(t, err)
			var out bytes.Buffer
			sim, err := newSimulator(noQuickSettings(), script.Start, &out)
			require.NoError(t, err)
			defer sim.close()

			err = sim.play(script.Steps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "step 1")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	s := config.Default()
	s.DataDir = t.TempDir()
	paths := resolvePaths(s)
	assert.Equal(t, s.DataDir, paths.DataDir)
	assert.True(t, strings.HasPrefix(paths.LogPath, s.DataDir))

	s.LogPath = "/tmp/custom.log"
	assert.Equal(t, "/tmp/custom.log", resolvePaths(s).LogPath)
}

func TestOpenKV(t *testing.T) {
	dir := t.TempDir()
	key, err := infra.GenerateKey()
	require.NoError(t, err)

	for _, storage := range []string{config.StorageMemory, config.StorageFile, config.StorageSQLCipher} {
		t.Run(storage, func(t *testing.T) {
			s := config.Default()
			s.Storage = storage
			kv, err := openKV(s, dir, key)
			require.NoError(t, err)
			require.NoError(t, kv.Commit(map[string]string{"steam|enabled": "true"}, nil))
			entries, err := kv.Load()
			require.NoError(t, err)
			assert.Equal(t, "true", entries["steam|enabled"])
			require.NoError(t, kv.Close())
		})
	}

	s := config.Default()
	s.Storage = "redis"
	_, err = openKV(s, dir, key)
	assert.Error(t, err)
}
