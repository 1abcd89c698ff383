package solver

import (
	"context"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/kernel"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// timed 任务体计时
func timed(stats *types.Stats, p types.Phase, fn func() error) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		start := time.Now()
		err := fn()
		stats.Add(p, time.Since(start))
		return nil, err
	}
}

// leafSolve 粒度叶子求解
func (s *Scheduler) leafSolve(m *htree.Matrix, it item) error {
	u, v := m.Node(it.pair.U), m.Node(it.pair.V)
	ublk, vblk, kblk := u.Block, v.Block, v.Dense
	if ublk == nil || kblk == nil {
		return &htree.NodeError{Kind: u.Kind, Rows: u.Rows(), Cols: u.Cols(),
			Err: htree.ErrStructure}
	}
	layout := m.Layout(it.pair)
	kern := s.Kernel
	s.Engine.Submit(engine.Task{
		Name: "leaf_solve",
		Tag:  it.tag,
		Requirements: []engine.Requirement{
			engine.RW(ublk), engine.RO(vblk), engine.RO(kblk),
		},
		Run: timed(m.Stats, types.PhaseLeaf, func() error {
			return kern.LeafSolve(kernel.LeafProblem{
				Layout: layout,
				U:      ublk.Dense(),
				V:      vblk.Dense(),
				K:      kblk.Dense(),
				Block:  ublk.ID(),
			})
		}),
	})
	return nil
}

// couple 内部节点：两侧归约、耦合求解、两侧广播，最后释放临时块
func (s *Scheduler) couple(m *htree.Matrix, it item) error {
	u, v := m.Node(it.pair.U), m.Node(it.pair.V)
	if v.Projector == htree.Nil {
		return &htree.NodeError{Kind: v.Kind, Rows: v.Rows(), Cols: v.Cols(), Err: htree.ErrStructure}
	}
	rows, cols := u.Rows(), u.Cols()
	h := m.Node(v.Projector)
	h0, h1 := h.Left, h.Right
	l, r := m.Children(it.pair)
	b0, b1 := m.Node(l.U), m.Node(r.U)
	ru0, ru1 := b0.Cols(), b1.Cols()
	rd0, rd1 := types.NewRange(0, b0.ColBegin), types.NewRange(0, b1.ColBegin)
	tag0, tag1 := it.tag.LChild(), it.tag.RChild()

	var temps []*maths.Block
	reduce := func(h, u htree.NodeID, cols types.Range, tag types.Range) (*maths.Block, error) {
		blk, err := s.reduce(m, h, u, cols, tag)
		if err == nil {
			temps = append(temps, blk)
		}
		return blk, err
	}
	v0tu0, err := reduce(h0, l.U, ru0, tag0)
	if err != nil {
		return err
	}
	v0td0, err := reduce(h0, l.U, rd0, tag0)
	if err != nil {
		return err
	}
	v1tu1, err := reduce(h1, r.U, ru1, tag1)
	if err != nil {
		return err
	}
	v1td1, err := reduce(h1, r.U, rd1, tag1)
	if err != nil {
		return err
	}

	kern := s.Kernel
	s.Engine.Submit(engine.Task{
		Name: "node_solve",
		Tag:  it.tag,
		Requirements: []engine.Requirement{
			engine.RO(v0tu0), engine.RO(v1tu1), engine.RW(v0td0), engine.RW(v1td1),
		},
		Run: timed(m.Stats, types.PhaseCouple, func() error {
			err := kern.NodeSolve(v0tu0.Dense(), v1tu1.Dense(), v0td0.Dense(), v1td1.Dense())
			if err != nil {
				return &kernel.SolveError{Op: "node_solve", Rows: rows, Cols: cols, Block: v1td1.ID(), Err: err}
			}
			return nil
		}),
	})

	// η0 修正左侧，η1 修正右侧
	s.broadcast(m, l.U, ru0, rd0, v1td1, tag0)
	s.broadcast(m, r.U, ru1, rd1, v0td0, tag1)

	for _, blk := range temps {
		s.release(m, blk, it.tag)
	}
	return nil
}

// reduce 沿投影树计算 Hᵀ·U[:, cols]，每个粒度叶子一个部分积，
// 内部节点把右子树结果累加到左子树结果上
func (s *Scheduler) reduce(m *htree.Matrix, h, u htree.NodeID, cols, tag types.Range) (*maths.Block, error) {
	hn, un := m.Node(h), m.Node(u)
	if hn.GranularityLeaf {
		if !un.GranularityLeaf || un.Block == nil || hn.Block == nil {
			return nil, &htree.NodeError{Kind: hn.Kind, Rows: hn.Rows(), Cols: hn.Cols(), Err: htree.ErrStructure}
		}
		out, err := m.Alloc.Create(hn.ColCount, cols.Size)
		if err != nil {
			return nil, &htree.NodeError{Kind: hn.Kind, Rows: hn.Rows(), Cols: cols, Err: err}
		}
		hblk, ublk := hn.Block, un.Block
		s.Engine.Submit(engine.Task{
			Name: "reduce",
			Tag:  tag,
			Requirements: []engine.Requirement{
				engine.WD(out), engine.RO(hblk), engine.RO(ublk),
			},
			Run: timed(m.Stats, types.PhaseReduce, func() error {
				x := ublk.View(0, ublk.Rows(), cols.Begin, cols.End())
				maths.Gemm(true, false, 1, hblk.Dense(), x, 0, out.Dense())
				return nil
			}),
		})
		return out, nil
	}
	hl, hr, ul, ur := hn.Left, hn.Right, un.Left, un.Right
	left, err := s.reduce(m, hl, ul, cols, tag.LChild())
	if err != nil {
		return nil, err
	}
	right, err := s.reduce(m, hr, ur, cols, tag.RChild())
	if err != nil {
		return nil, err
	}
	s.Engine.Submit(engine.Task{
		Name:         "reduce_add",
		Tag:          tag,
		Requirements: []engine.Requirement{engine.RW(left), engine.RO(right)},
		Run: timed(m.Stats, types.PhaseReduce, func() error {
			maths.Add(left.Dense(), right.Dense())
			return nil
		}),
	})
	s.release(m, right, tag)
	return left, nil
}

// broadcast 每个粒度叶子 U[:, rd] -= U[:, ru]·eta
func (s *Scheduler) broadcast(m *htree.Matrix, u htree.NodeID, ru, rd types.Range, eta *maths.Block, tag types.Range) {
	n := m.Node(u)
	if !n.GranularityLeaf {
		left, right := n.Left, n.Right
		s.broadcast(m, left, ru, rd, eta, tag.LChild())
		s.broadcast(m, right, ru, rd, eta, tag.RChild())
		return
	}
	blk := n.Block
	s.Engine.Submit(engine.Task{
		Name:         "broadcast",
		Tag:          tag,
		Requirements: []engine.Requirement{engine.RW(blk), engine.RO(eta)},
		Run: timed(m.Stats, types.PhaseBroadcast, func() error {
			x := blk.View(0, blk.Rows(), ru.Begin, ru.End())
			d := blk.View(0, blk.Rows(), rd.Begin, rd.End())
			maths.Gemm(false, false, -1, x, eta.Dense(), 1, d)
			return nil
		}),
	})
}

// release 临时块在最后一个读任务之后释放
func (s *Scheduler) release(m *htree.Matrix, blk *maths.Block, tag types.Range) {
	alloc := m.Alloc
	s.Engine.Submit(engine.Task{
		Name:         "release",
		Tag:          tag,
		Requirements: []engine.Requirement{engine.WD(blk)},
		Run: func(context.Context) (any, error) {
			return nil, alloc.Release(blk)
		},
	})
}

// launchNode 发射节点的整棵子树作为一个粗粒度任务，
// 在任务内部用串行引擎完成子树求解
func (s *Scheduler) launchNode(m *htree.Matrix, it item) error {
	var reqs []engine.Requirement
	for _, g := range m.GranularityPairs(it.pair) {
		u, v := m.Node(g.U), m.Node(g.V)
		reqs = append(reqs, engine.RW(u.Block), engine.RO(v.Block), engine.RO(v.Dense))
	}
	m.Walk(it.pair.V, func(id htree.NodeID) bool {
		n := m.Node(id)
		if n.GranularityLeaf {
			return false
		}
		for _, h := range m.GranularityLeaves(n.Projector) {
			reqs = append(reqs, engine.RO(m.Node(h).Block))
		}
		return true
	})
	sub := &Scheduler{Kernel: s.Kernel, Logger: s.Logger}
	logger := s.Logger
	s.Engine.Submit(engine.Task{
		Name:         "launch",
		Tag:          it.tag,
		Requirements: reqs,
		Run: func(ctx context.Context) (any, error) {
			nested := *sub
			nested.Engine = engine.NewSerial(ctx, engine.WithLogger(logger))
			if err := nested.submit(ctx, m, it.pair, it.tag, mode{launchLevel: -1}); err != nil {
				return nil, err
			}
			return nil, nested.Engine.Wait(ctx)
		},
	})
	return nil
}
