package types

import (
	"sync/atomic"
	"time"
)

// Phase 求解阶段
type Phase int

const (
	PhaseFill      Phase = iota // 初始化填充
	PhaseLeaf                   // 粒度叶子求解
	PhaseReduce                 // 自底向上归约
	PhaseCouple                 // 节点耦合求解
	PhaseBroadcast              // 自顶向下广播
	phaseCount
)

var phaseNames = [...]string{"fill", "leaf", "reduce", "couple", "broadcast"}

func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return "unknown"
	}
	return phaseNames[p]
}

// Phases 全部阶段
func Phases() []Phase {
	list := make([]Phase, phaseCount)
	for i := range list {
		list[i] = Phase(i)
	}
	return list
}

// Stats 单次求解会话的统计信息
// 计时与计数由并发任务累加，使用原子操作
type Stats struct {
	GranularityLeaves int // 粒度叶子数量
	LaunchNodes       int // 发射节点数量
	RealLeaves        int // 真实叶子数量

	elapsed [phaseCount]atomic.Int64
	tasks   [phaseCount]atomic.Int64
}

// Add 累加阶段耗时并计数一次任务
func (s *Stats) Add(p Phase, d time.Duration) {
	if s == nil || p < 0 || p >= phaseCount {
		return
	}
	s.elapsed[p].Add(int64(d))
	s.tasks[p].Add(1)
}

// Elapsed 阶段累计耗时
func (s *Stats) Elapsed(p Phase) time.Duration { return time.Duration(s.elapsed[p].Load()) }

// Tasks 阶段任务数
func (s *Stats) Tasks(p Phase) int64 { return s.tasks[p].Load() }

// Snapshot 导出当前统计
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		GranularityLeaves: s.GranularityLeaves,
		LaunchNodes:       s.LaunchNodes,
		RealLeaves:        s.RealLeaves,
		Elapsed:           make(map[string]time.Duration, phaseCount),
		Tasks:             make(map[string]int64, phaseCount),
	}
	for _, p := range Phases() {
		snap.Elapsed[p.String()] = s.Elapsed(p)
		snap.Tasks[p.String()] = s.Tasks(p)
	}
	return snap
}

// StatsSnapshot 统计快照
type StatsSnapshot struct {
	GranularityLeaves int                      `json:"granularity_leaves"`
	LaunchNodes       int                      `json:"launch_nodes"`
	RealLeaves        int                      `json:"real_leaves"`
	Elapsed           map[string]time.Duration `json:"elapsed"`
	Tasks             map[string]int64         `json:"tasks"`
}
