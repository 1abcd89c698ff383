// Package solver 层次快速直接求解的调度
//
// 调度器先自根广度优先展开 U/V 配对树，再按展开的逆序访问节点：
// 粒度叶子执行叶子求解，内部节点依次执行 归约、耦合求解、广播。
// 逆序访问保证父节点的耦合求解总是在两个子节点的归约提交之后提交，
// 各操作之间的先后关系交由执行引擎按访问声明推导。
package solver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/kernel"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fastsolver.solver")

// Scheduler 层次求解调度器
type Scheduler struct {
	Engine engine.Engine
	Kernel kernel.Kernel
	Logger *slog.Logger

	// Launch 为真时单会话模式在发射边界停止展开，
	// 每个发射节点的子树作为一个粗粒度任务整体提交
	Launch bool
}

// New 创建调度器
func New(eng engine.Engine, kern kernel.Kernel, logger *slog.Logger) *Scheduler {
	if kern == nil {
		kern = kernel.Blocked{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{Engine: eng, Kernel: kern, Logger: logger}
}

// item 展开队列中的一项
type item struct {
	pair  htree.Pair
	tag   types.Range
	depth int
}

// mode 展开终止条件
type mode struct {
	launchLevel int  // >= 0 时为顶层组合模式
	launch      bool // 单会话模式下是否在发射边界停止
}

func (md mode) top() bool { return md.launchLevel >= 0 }

// stop 节点是否不再展开
func (md mode) stop(m *htree.Matrix, it item) bool {
	n := m.Node(it.pair.U)
	if md.top() {
		return it.depth >= md.launchLevel
	}
	return n.GranularityLeaf || (md.launch && n.LaunchBoundary)
}

// expand 广度优先展开，同时二分亲和标签
func (s *Scheduler) expand(m *htree.Matrix, root htree.Pair, tag types.Range, md mode) ([]item, error) {
	queue := []item{{pair: root, tag: tag}}
	for i := 0; i < len(queue); i++ {
		it := queue[i]
		if md.stop(m, it) {
			continue
		}
		n := m.Node(it.pair.U)
		if n.GranularityLeaf || n.IsLeaf() {
			return nil, fmt.Errorf("%w: launch level %d below granularity boundary at %s",
				htree.ErrStructure, md.launchLevel, n)
		}
		l, r := m.Children(it.pair)
		queue = append(queue,
			item{pair: l, tag: it.tag.LChild(), depth: it.depth + 1},
			item{pair: r, tag: it.tag.RChild(), depth: it.depth + 1},
		)
	}
	return queue, nil
}

// Submit 单会话模式：提交整棵树的求解操作，不等待完成
func (s *Scheduler) Submit(ctx context.Context, m *htree.Matrix, tag types.Range) error {
	return s.submit(ctx, m, m.Root(), tag, mode{launchLevel: -1, launch: s.Launch})
}

// Solve 单会话求解并等待全部操作完成
func (s *Scheduler) Solve(ctx context.Context, m *htree.Matrix, tag types.Range) error {
	ctx, span := tracer.Start(ctx, "solver.Solve", trace.WithAttributes(
		attribute.Int("rows", m.Rows),
		attribute.Int("granularity_leaves", m.Stats.GranularityLeaves),
	))
	defer span.End()
	if err := s.Submit(ctx, m, tag); err != nil {
		return err
	}
	return s.Engine.Wait(ctx)
}

// SubmitTop 顶层组合模式：展开到 launchLevel 深度为止，
// 该深度上的节点视为已由子问题求解完毕，只提交其上各层的耦合
func (s *Scheduler) SubmitTop(ctx context.Context, m *htree.Matrix, launchLevel int, tag types.Range) error {
	if launchLevel < 0 {
		return fmt.Errorf("%w: negative launch level %d", htree.ErrStructure, launchLevel)
	}
	return s.submit(ctx, m, m.Root(), tag, mode{launchLevel: launchLevel})
}

// SolveTop 顶层组合求解并等待完成
func (s *Scheduler) SolveTop(ctx context.Context, m *htree.Matrix, launchLevel int, tag types.Range) error {
	ctx, span := tracer.Start(ctx, "solver.SolveTop", trace.WithAttributes(
		attribute.Int("rows", m.Rows),
		attribute.Int("launch_level", launchLevel),
	))
	defer span.End()
	if err := s.SubmitTop(ctx, m, launchLevel, tag); err != nil {
		return err
	}
	return s.Engine.Wait(ctx)
}

func (s *Scheduler) submit(ctx context.Context, m *htree.Matrix, root htree.Pair, tag types.Range, md mode) error {
	list, err := s.expand(m, root, tag, md)
	if err != nil {
		return err
	}
	s.Logger.Debug("tree expanded",
		slog.Int("nodes", len(list)),
		slog.Bool("top", md.top()),
		slog.String("rows", m.Node(root.U).Rows().String()),
	)
	for i := len(list) - 1; i >= 0; i-- {
		if err := s.visit(ctx, m, list[i], md); err != nil {
			return err
		}
	}
	return nil
}

// visit 访问一个节点
func (s *Scheduler) visit(ctx context.Context, m *htree.Matrix, it item, md mode) error {
	n := m.Node(it.pair.U)
	switch {
	case md.top() && it.depth >= md.launchLevel:
		return nil
	case !md.top() && n.GranularityLeaf:
		return s.leafSolve(m, it)
	case !md.top() && md.launch && n.LaunchBoundary:
		return s.launchNode(m, it)
	}
	return s.couple(m, it)
}
