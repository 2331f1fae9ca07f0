package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Std())
	assert.Equal(t, "researchflow.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Graph.MaxDepth)
	assert.Equal(t, 100, cfg.Collab.SnapshotEvery)
	assert.Equal(t, 30*time.Second, cfg.Collab.DrainTimeout.Std())
	assert.Equal(t, time.Minute, cfg.Presence.HeartbeatTimeout.Std())
	assert.Equal(t, 30*time.Minute, cfg.Presence.RoomIdleTimeout.Std())
	assert.Equal(t, "ALLOW", cfg.Governance.Mode)
	assert.True(t, cfg.Governance.BlockOnEscalate)
	assert.Empty(t, cfg.Scanner.URL)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provd.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
server: addr: ":9090"
graph: max_depth: 4
collab: {
	drain_timeout: "1m30s"
	snapshot_every: 0
}
governance: {
	restricted: true
	gate_url: "http://gate.internal"
}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Graph.MaxDepth)
	assert.Equal(t, 90*time.Second, cfg.Collab.DrainTimeout.Std())
	assert.Zero(t, cfg.Collab.SnapshotEvery)
	assert.True(t, cfg.Governance.Restricted)
	assert.Equal(t, "http://gate.internal", cfg.Governance.GateURL)
	assert.Equal(t, 5*time.Second, cfg.Collab.LoadTimeout.Std(), "untouched fields keep defaults")
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":    `server: port: 80`,
		"depth too large":  `graph: max_depth: 1000`,
		"bad level":        `log: level: "loud"`,
		"bad duration":     `collab: drain_timeout: "soon"`,
		"wrong type":       `store: path: 42`,
		"empty store path": `store: path: ""`,
		"syntax":           `server: {`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "test.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}
