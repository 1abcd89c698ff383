package htree

import (
	"errors"
	"fmt"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// Params HODLR 矩阵结构参数
type Params struct {
	Rows            int // 矩阵阶数
	RHSCols         int // 右端项列数
	Rank            int // 非对角块秩
	Threshold       int // 稠密叶子行数阈值
	LeafBudget      int // 粒度叶子包含的真实叶子数上限
	LaunchThreshold int // 发射节点包含的粒度叶子数上限，0 表示不标记
	ExtraLevels     int // 作为子问题时外层的层数，每层多携带 Rank 列
}

// Validate 参数检查
func (p Params) Validate() error {
	var errs []error
	if p.Rows <= 0 {
		errs = append(errs, fmt.Errorf("rows must be positive, got %d", p.Rows))
	}
	if p.RHSCols <= 0 {
		errs = append(errs, fmt.Errorf("rhs columns must be positive, got %d", p.RHSCols))
	}
	if p.Rank <= 0 {
		errs = append(errs, fmt.Errorf("rank must be positive, got %d", p.Rank))
	}
	if p.Threshold <= p.Rank {
		errs = append(errs, fmt.Errorf("threshold %d must exceed rank %d", p.Threshold, p.Rank))
	}
	if p.LeafBudget < 1 {
		errs = append(errs, fmt.Errorf("leaf budget must be at least 1, got %d", p.LeafBudget))
	}
	if p.LaunchThreshold < 0 || p.ExtraLevels < 0 {
		errs = append(errs, fmt.Errorf("launch threshold and extra levels must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStructure, errors.Join(errs...))
	}
	return nil
}

// RootCols U 树根节点列数
func (p Params) RootCols() int { return p.RHSCols + p.Rank*p.ExtraLevels }

// Matrix 一次求解会话中的 U/V/H 树及其数据块
type Matrix struct {
	Params
	*Forest
	U, V  NodeID
	Alloc *maths.Allocator
	Stats *types.Stats
}

// BuildOption 构造选项
type BuildOption func(*buildOptions)

type buildOptions struct {
	alloc    *maths.Allocator
	stats    *types.Stats
	external bool
}

// WithAllocator 指定数据块分配器
func WithAllocator(a *maths.Allocator) BuildOption {
	return func(o *buildOptions) { o.alloc = a }
}

// WithStats 指定会话统计
func WithStats(s *types.Stats) BuildOption {
	return func(o *buildOptions) { o.stats = s }
}

// WithExternalFactors U 树数据块稍后由 LoadExternalFactors 提供
func WithExternalFactors() BuildOption {
	return func(o *buildOptions) { o.external = true }
}

// Build 构造完整的树结构并分配数据块
// 步骤: U 树二分 -> 粒度叶子标记 -> 发射边界标记 -> U 数据块 ->
// V 树镜像 -> 投影树与耦合数据块 -> 结构校验
func Build(p Params, opts ...BuildOption) (*Matrix, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.alloc == nil {
		o.alloc = maths.NewAllocator(0)
	}
	if o.stats == nil {
		o.stats = new(types.Stats)
	}
	m := &Matrix{Params: p, Forest: NewForest(), Alloc: o.alloc, Stats: o.stats}

	m.U = m.NewNode(KindU, 0, p.Rows, 0, p.RootCols())
	if err := m.BuildBalancedTree(m.U, p.Rank, p.Threshold); err != nil {
		return nil, err
	}
	m.Stats.GranularityLeaves = 0
	m.Stats.RealLeaves = m.MarkGranularityLeaves(m.U, p.LeafBudget, &m.Stats.GranularityLeaves)
	m.Stats.LaunchNodes = 0
	m.MarkLaunchBoundary(m.U, p.LaunchThreshold, &m.Stats.LaunchNodes)

	if !o.external {
		if err := m.allocU(m.U); err != nil {
			return nil, err
		}
	}
	m.V = m.MirrorVTree(m.U)
	if err := m.BuildProjectors(m.V); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// UWidth 粒度叶子 U 数据块列数
func (m *Matrix) UWidth(u NodeID) int {
	n := m.Node(u)
	return n.ColBegin + m.Depth(u)
}

// allocU 在粒度叶子分配 U 数据块
func (m *Matrix) allocU(id NodeID) error {
	for _, g := range m.GranularityLeaves(id) {
		n := m.Node(g)
		blk, err := m.Alloc.Create(n.RowCount, m.UWidth(g))
		if err != nil {
			return &NodeError{Kind: n.Kind, Rows: n.Rows(), Cols: n.Cols(), Err: err}
		}
		m.Node(g).Block = blk
	}
	return nil
}

// BuildProjectors 为粒度边界以上的内部 V 节点构造投影树
// 投影树根覆盖该节点全部行，左右子树分别镜像两个 V 子节点直到粒度边界，
// 列数取对应 V 子节点的列数，每个粒度叶子一个数据块。
// 粒度叶子 V 节点改为分配 V 数据块与稠密块
func (m *Matrix) BuildProjectors(v NodeID) error {
	n := *m.Node(v)
	if n.GranularityLeaf {
		return m.allocCoupling(v)
	}
	if n.IsLeaf() {
		return structural(&n, "real leaf above granularity boundary")
	}
	root := m.NewNode(KindH, n.RowBegin, n.RowCount, 0, 0)
	h0, err := m.buildH(n.Left, m.Node(n.Left).ColCount)
	if err != nil {
		return err
	}
	h1, err := m.buildH(n.Right, m.Node(n.Right).ColCount)
	if err != nil {
		return err
	}
	r := m.Node(root)
	r.Left, r.Right = h0, h1
	m.Node(v).Projector = root
	if err := m.BuildProjectors(n.Left); err != nil {
		return err
	}
	return m.BuildProjectors(n.Right)
}

func (m *Matrix) buildH(v NodeID, cols int) (NodeID, error) {
	n := *m.Node(v)
	h := m.NewNode(KindH, n.RowBegin, n.RowCount, 0, cols)
	if n.GranularityLeaf {
		blk, err := m.Alloc.Create(n.RowCount, cols)
		if err != nil {
			return Nil, &NodeError{Kind: KindH, Rows: n.Rows(), Cols: types.NewRange(0, cols), Err: err}
		}
		hn := m.Node(h)
		hn.Block, hn.GranularityLeaf = blk, true
		return h, nil
	}
	l, err := m.buildH(n.Left, cols)
	if err != nil {
		return Nil, err
	}
	r, err := m.buildH(n.Right, cols)
	if err != nil {
		return Nil, err
	}
	hn := m.Node(h)
	hn.Left, hn.Right = l, r
	return h, nil
}

// allocCoupling 粒度叶子 V 节点：内部各层 V 基数据块与各真实叶子的稠密块
func (m *Matrix) allocCoupling(v NodeID) error {
	n := m.Node(v)
	rows, vcols, kcols := n.RowCount, m.Depth(v)-n.ColCount, m.MaxLeafRows(v)
	blk, err := m.Alloc.Create(rows, vcols)
	if err != nil {
		return &NodeError{Kind: n.Kind, Rows: n.Rows(), Cols: n.Cols(), Err: err}
	}
	dense, err := m.Alloc.Create(rows, kcols)
	if err != nil {
		return &NodeError{Kind: n.Kind, Rows: n.Rows(), Cols: n.Cols(), Err: err}
	}
	n = m.Node(v)
	n.Block, n.Dense = blk, dense
	return nil
}

// Pair 同一位置的 U 与 V 节点
type Pair struct {
	U, V NodeID
}

// Children 两侧子节点配对
func (m *Matrix) Children(p Pair) (Pair, Pair) {
	u, v := m.Node(p.U), m.Node(p.V)
	return Pair{u.Left, v.Left}, Pair{u.Right, v.Right}
}

// GranularityPairs 子树中 U 粒度叶子及同位置的 V 节点，从左到右
func (m *Matrix) GranularityPairs(p Pair) []Pair {
	u := m.Node(p.U)
	if u.GranularityLeaf {
		return []Pair{p}
	}
	if u.IsLeaf() {
		return nil
	}
	l, r := m.Children(p)
	return append(m.GranularityPairs(l), m.GranularityPairs(r)...)
}

// Root 根节点配对
func (m *Matrix) Root() Pair { return Pair{m.U, m.V} }

// Blocks 树持有的全部数据块
func (m *Matrix) Blocks() []*maths.Block {
	var list []*maths.Block
	for i := range m.Len() {
		n := m.Node(NodeID(i))
		if n.Block != nil {
			list = append(list, n.Block)
		}
		if n.Dense != nil {
			list = append(list, n.Dense)
		}
	}
	return list
}

// Release 释放树持有的全部数据块
func (m *Matrix) Release() error {
	var errs []error
	for i := range m.Len() {
		n := m.Node(NodeID(i))
		for _, b := range []*maths.Block{n.Block, n.Dense} {
			if b != nil {
				if err := m.Alloc.Release(b); err != nil {
					errs = append(errs, err)
				}
			}
		}
		n.Block, n.Dense = nil, nil
	}
	return errors.Join(errs...)
}
