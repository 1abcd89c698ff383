// Package debug 求解会话的诊断输出
package debug

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// Level 树中某一深度的节点统计
type Level struct {
	Depth             int `json:"depth"`
	Nodes             int `json:"nodes"`
	GranularityLeaves int `json:"granularity_leaves"`
	LaunchNodes       int `json:"launch_nodes"`
	RealLeaves        int `json:"real_leaves"`
}

// Record 会话记录
type Record struct {
	Session   string              `json:"session"`
	Mode      string              `json:"mode"`
	Engine    string              `json:"engine"`
	Kernel    string              `json:"kernel"`
	Params    htree.Params        `json:"params"`
	Levels    []Level             `json:"levels"`
	Stats     types.StatsSnapshot `json:"stats"`
	Elapsed   time.Duration       `json:"elapsed"`
	PeakBytes int64               `json:"peak_bytes"`
	Residual  float64             `json:"residual"` // 与参考解的相对误差，负数表示未校验
	Failure   string              `json:"failure,omitempty"`
}

// Init 从树结构收集各层统计
func (r *Record) Init(m *htree.Matrix) {
	r.Params = m.Params
	r.Levels = r.Levels[:0]
	r.Residual = -1
	queue := []htree.NodeID{m.U}
	for depth := 0; len(queue) > 0; depth++ {
		level := Level{Depth: depth}
		var next []htree.NodeID
		for _, id := range queue {
			n := m.Node(id)
			level.Nodes++
			if n.GranularityLeaf {
				level.GranularityLeaves++
			}
			if n.LaunchBoundary {
				level.LaunchNodes++
			}
			if n.IsLeaf() {
				level.RealLeaves++
				continue
			}
			next = append(next, n.Left, n.Right)
		}
		r.Levels = append(r.Levels, level)
		queue = next
	}
}

// Update 记录求解结果
func (r *Record) Update(m *htree.Matrix, elapsed time.Duration) {
	r.Stats = m.Stats.Snapshot()
	r.Elapsed = elapsed
	r.PeakBytes = m.Alloc.Peak()
}

// Render JSON 输出
func (r *Record) Render(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *Record) Error(err error) {
	r.Failure = err.Error()
	slog.Error("session failed", slog.String("session", r.Session), slog.Any("error", err))
}

var _ types.Debug = (*Record)(nil)
