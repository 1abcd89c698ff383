package solver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// SubSolve 子问题求解函数，返回其粒度叶子 U 数据块（从左到右）
type SubSolve func(ctx context.Context, index int, tag types.Range) ([]*maths.Block, error)

// LaunchSubSolves 把 count 个子问题作为独立任务提交到调度器的引擎，
// 全部提交后统一等待一次，按下标顺序拼接各子问题的数据块
func (s *Scheduler) LaunchSubSolves(ctx context.Context, count int, tag types.Range, fn SubSolve) ([]*maths.Block, error) {
	if count <= 0 {
		return nil, fmt.Errorf("sub-solve count must be positive, got %d", count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tags := []types.Range{tag}
	for len(tags) < count {
		next := make([]types.Range, 0, 2*len(tags))
		for _, t := range tags {
			next = append(next, t.LChild(), t.RChild())
		}
		tags = next
	}
	futures := make([]engine.Future, count)
	for i := range count {
		i, t := i, tags[i]
		futures[i] = s.Engine.Submit(engine.Task{
			Name: "sub_solve",
			Tag:  t,
			Run: func(ctx context.Context) (any, error) {
				blocks, err := fn(ctx, i, t)
				if err != nil {
					return nil, fmt.Errorf("sub-solve %d: %w", i, err)
				}
				return blocks, nil
			},
		})
	}
	values, err := engine.WaitAll(futures...)
	if err != nil {
		return nil, err
	}
	var out []*maths.Block
	for i, v := range values {
		blocks, ok := v.([]*maths.Block)
		if !ok {
			return nil, fmt.Errorf("sub-solve %d: unexpected result %T", i, v)
		}
		s.Logger.Debug("sub-solve finished", slog.Int("index", i), slog.Int("blocks", len(blocks)))
		out = append(out, blocks...)
	}
	return out, nil
}
