package debug

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T) Record {
	t.Helper()
	m, err := htree.Build(htree.Params{Rows: 480, RHSCols: 2, Rank: 6, Threshold: 15, LeafBudget: 2, LaunchThreshold: 4})
	require.NoError(t, err)
	m.Stats.Add(types.PhaseLeaf, 3*time.Millisecond)
	m.Stats.Add(types.PhaseCouple, time.Millisecond)
	r := Record{Session: "abc123", Mode: "single", Engine: "serial", Kernel: "blocked"}
	r.Init(m)
	r.Update(m, 5*time.Millisecond)
	return r
}

func TestRecordLevels(t *testing.T) {
	r := record(t)
	require.Len(t, r.Levels, 6)
	assert.Equal(t, 1, r.Levels[0].Nodes)
	assert.Equal(t, 32, r.Levels[5].RealLeaves)
	assert.Equal(t, 16, r.Levels[4].GranularityLeaves)
	assert.Equal(t, 4, r.Levels[2].LaunchNodes)
	assert.Equal(t, -1.0, r.Residual)
	assert.Positive(t, r.PeakBytes)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	var back Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, r.Levels, back.Levels)
	assert.Equal(t, int64(1), back.Stats.Tasks["leaf"])

	r.Error(errors.New("singular"))
	assert.Equal(t, "singular", r.Failure)
}

func TestChartsRender(t *testing.T) {
	c := &Charts{Record: record(t)}
	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))
	assert.Contains(t, buf.String(), "echarts")
	assert.Contains(t, buf.String(), "abc123")

	rec := httptest.NewRecorder()
	c.Handler(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestPlot(t *testing.T) {
	p := &Plot{Record: record(t), Format: "svg"}
	var buf bytes.Buffer
	require.NoError(t, p.Render(&buf))
	assert.Contains(t, buf.String(), "<svg")

	path := filepath.Join(t.TempDir(), "phases.png")
	require.NoError(t, p.Save(path))
	assert.FileExists(t, path)
}
