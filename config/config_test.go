package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 480, cfg.Matrix.Rows)
	assert.Equal(t, htree.Params{Rows: 480, RHSCols: 2, Rank: 6, Threshold: 15, LeafBudget: 1}, cfg.Params())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fastsolver.yaml")
	data := []byte("matrix:\n  rows: 960\n  leaf_budget: 4\nsolver:\n  engine: serial\n  launch_level: 1\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 960, cfg.Matrix.Rows)
	assert.Equal(t, 4, cfg.Matrix.LeafBudget)
	assert.Equal(t, "serial", cfg.Solver.Engine)
	assert.Equal(t, 1, cfg.Solver.LaunchLevel)
	// 未给出的字段保持默认
	assert.Equal(t, 6, cfg.Matrix.Rank)
	assert.Equal(t, "blocked", cfg.Solver.Kernel)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cfg.yaml")
	cfg := Default()
	cfg.Output.Record = "record.json"
	cfg.Solver.Launch = true
	require.NoError(t, cfg.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"threshold", func(c *Config) { c.Matrix.Threshold = c.Matrix.Rank }},
		{"engine", func(c *Config) { c.Solver.Engine = "gpu" }},
		{"kernel", func(c *Config) { c.Solver.Kernel = "lapack" }},
		{"procs", func(c *Config) { c.Solver.Procs = 0 }},
		{"launch level", func(c *Config) { c.Solver.LaunchLevel = -1 }},
		{"indivisible", func(c *Config) { c.Matrix.Rows = 481; c.Solver.LaunchLevel = 1 }},
		{"workers", func(c *Config) { c.Solver.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
