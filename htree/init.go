package htree

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gonum.org/v1/gonum/mat"
)

// eachGranularity 遍历子树中的粒度叶子
// rowOffset 为子树根的全局行号，进入右子树时累加左子树行数；
// 亲和标签随二分传递
func (m *Matrix) eachGranularity(id NodeID, rowOffset int, tag types.Range,
	fn func(id NodeID, rowOffset int, tag types.Range) error) error {
	n := m.Node(id)
	if n.GranularityLeaf {
		return fn(id, rowOffset, tag)
	}
	if n.IsLeaf() {
		return structural(n, "real leaf above granularity boundary")
	}
	left, right, lrows := n.Left, n.Right, m.Node(n.Left).RowCount
	if err := m.eachGranularity(left, rowOffset, tag.LChild(), fn); err != nil {
		return err
	}
	return m.eachGranularity(right, rowOffset+lrows, tag.RChild(), fn)
}

// timed 包装任务体并累计阶段耗时
func (m *Matrix) timed(p types.Phase, fn func() error) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		start := time.Now()
		err := fn()
		m.Stats.Add(p, time.Since(start))
		return nil, err
	}
}

// uBlock 粒度叶子的 U 数据块
func (m *Matrix) uBlock(id NodeID) (*maths.Block, error) {
	n := m.Node(id)
	if n.Block == nil {
		return nil, structural(n, "granularity leaf has no U block")
	}
	return n.Block, nil
}

// FillRandom 在粒度叶子上以相同种子填充 U 数据块的 cols 列
func (m *Matrix) FillRandom(eng engine.Engine, u NodeID, seed int64, cols types.Range, tag types.Range) error {
	return m.eachGranularity(u, 0, tag, func(id NodeID, _ int, tag types.Range) error {
		blk, err := m.uBlock(id)
		if err != nil {
			return err
		}
		if cols.Begin < 0 || cols.End() > blk.Cols() {
			return structural(m.Node(id), "random columns %s outside block %s", cols, blk)
		}
		eng.Submit(engine.Task{
			Name:         "fill_random",
			Tag:          tag,
			Requirements: []engine.Requirement{engine.RW(blk)},
			Run: m.timed(types.PhaseFill, func() error {
				maths.FillRandom(blk.View(0, blk.Rows(), cols.Begin, cols.End()), seed)
				return nil
			}),
		})
		return nil
	})
}

// FillSyntheticLowRank 填充 U 数据块的低秩列
// 第 i 行第 j 列（j 从低秩列起算）的值为 (全局行 + i + j) mod rank
func (m *Matrix) FillSyntheticLowRank(eng engine.Engine, u NodeID, rowOffset int, tag types.Range) error {
	return m.eachGranularity(u, rowOffset, tag, func(id NodeID, row int, tag types.Range) error {
		blk, err := m.uBlock(id)
		if err != nil {
			return err
		}
		rank, first := m.Rank, m.RHSCols
		eng.Submit(engine.Task{
			Name:         "fill_lowrank",
			Tag:          tag,
			Requirements: []engine.Requirement{engine.RW(blk)},
			Run: m.timed(types.PhaseFill, func() error {
				maths.FillCirculant(blk.View(0, blk.Rows(), first, blk.Cols()), row, rank)
				return nil
			}),
		})
		return nil
	})
}

// FillCoupling 填充耦合结构：投影块、粒度叶子 V 基数据块与稠密块
// 稠密块为每个真实叶子的低秩外积加 diag 对角
func (m *Matrix) FillCoupling(eng engine.Engine, v NodeID, diag float64, rowOffset int, tag types.Range) error {
	n := m.Node(v)
	if n.GranularityLeaf {
		return m.fillLeafCoupling(eng, v, diag, rowOffset, tag)
	}
	if n.IsLeaf() {
		return structural(n, "real leaf above granularity boundary")
	}
	left, right, lrows, proj := n.Left, n.Right, m.Node(n.Left).RowCount, n.Projector
	if proj == Nil {
		return structural(n, "internal node without projector")
	}
	h := m.Node(proj)
	for i, hc := range [2]NodeID{h.Left, h.Right} {
		offset, htag := rowOffset, tag.LChild()
		if i == 1 {
			offset, htag = rowOffset+lrows, tag.RChild()
		}
		if err := m.fillProjector(eng, hc, offset, htag); err != nil {
			return err
		}
	}
	if err := m.FillCoupling(eng, left, diag, rowOffset, tag.LChild()); err != nil {
		return err
	}
	return m.FillCoupling(eng, right, diag, rowOffset+lrows, tag.RChild())
}

func (m *Matrix) fillProjector(eng engine.Engine, h NodeID, rowOffset int, tag types.Range) error {
	return m.eachGranularity(h, rowOffset, tag, func(id NodeID, row int, tag types.Range) error {
		blk := m.Node(id).Block
		if blk == nil {
			return structural(m.Node(id), "projector leaf without block")
		}
		rank := m.Rank
		eng.Submit(engine.Task{
			Name:         "fill_projector",
			Tag:          tag,
			Requirements: []engine.Requirement{engine.WD(blk)},
			Run: m.timed(types.PhaseFill, func() error {
				maths.FillCirculant(blk.Dense(), row, rank)
				return nil
			}),
		})
		return nil
	})
}

func (m *Matrix) fillLeafCoupling(eng engine.Engine, v NodeID, diag float64, rowOffset int, tag types.Range) error {
	n := m.Node(v)
	vblk, kblk := n.Block, n.Dense
	if vblk == nil || kblk == nil {
		return structural(n, "granularity leaf without coupling blocks")
	}
	type leaf struct{ begin, size int }
	var leaves []leaf
	for _, id := range m.Leaves(v) {
		ln := m.Node(id)
		leaves = append(leaves, leaf{ln.RowBegin - n.RowBegin, ln.RowCount})
	}
	rank := m.Rank
	eng.Submit(engine.Task{
		Name:         "fill_coupling",
		Tag:          tag,
		Requirements: []engine.Requirement{engine.WD(vblk), engine.WD(kblk)},
		Run: m.timed(types.PhaseFill, func() error {
			maths.FillCirculant(vblk.Dense(), rowOffset, rank)
			maths.Zero(kblk.Dense())
			for _, l := range leaves {
				u := mat.NewDense(l.size, rank, nil)
				maths.FillCirculant(u, rowOffset+l.begin, rank)
				k := kblk.View(l.begin, l.begin+l.size, 0, l.size)
				maths.Gemm(false, true, 1, u, u, 0, k)
				maths.AddDiagonal(k, diag)
			}
			return nil
		}),
	})
	return nil
}

// InitCirculant 合成测试矩阵 U·Uᵀ + diag·I 的全部数据
// skipU 时保留 U 树数据块，只重建耦合结构
func (m *Matrix) InitCirculant(eng engine.Engine, diag float64, rowOffset int, skipU bool, tag types.Range) error {
	if !skipU {
		if err := m.FillSyntheticLowRank(eng, m.U, rowOffset, tag); err != nil {
			return err
		}
	}
	return m.FillCoupling(eng, m.V, diag, rowOffset, tag)
}

// LoadExternalFactors 按从左到右顺序把外部数据块挂到粒度叶子上
func (m *Matrix) LoadExternalFactors(u NodeID, blocks []*maths.Block, cursor *int) error {
	return m.eachGranularity(u, 0, types.Range{}, func(id NodeID, _ int, _ types.Range) error {
		n := m.Node(id)
		if *cursor >= len(blocks) {
			return structural(n, "ran out of external factors at %d", *cursor)
		}
		blk := blocks[*cursor]
		if blk == nil || blk.Rows() != n.RowCount || blk.Cols() != m.UWidth(id) {
			return structural(n, "external factor %s, want %dx%d", blk, n.RowCount, m.UWidth(id))
		}
		if err := m.Alloc.Adopt(blk); err != nil {
			return &NodeError{Kind: n.Kind, Rows: n.Rows(), Cols: n.Cols(), Err: err}
		}
		n.Block = blk
		*cursor++
		return nil
	})
}

// LoadFactors 整棵 U 树加载外部数据块，数量必须恰好一致
func (m *Matrix) LoadFactors(blocks []*maths.Block) error {
	cursor := 0
	if err := m.LoadExternalFactors(m.U, blocks, &cursor); err != nil {
		return err
	}
	if cursor != len(blocks) {
		return structural(m.Node(m.U), "%d external factors supplied, %d used", len(blocks), cursor)
	}
	return nil
}

// Factors 粒度叶子的 U 数据块，从左到右
func (m *Matrix) Factors() []*maths.Block {
	var list []*maths.Block
	for _, id := range m.GranularityLeaves(m.U) {
		list = append(list, m.Node(id).Block)
	}
	return list
}

// LoadRHS 把 Rows×RHSCols 的右端项按全局行写入粒度叶子
func (m *Matrix) LoadRHS(eng engine.Engine, b mat.Matrix, tag types.Range) error {
	r, c := b.Dims()
	if r != m.Rows || c != m.RHSCols {
		return fmt.Errorf("%w: rhs is %dx%d, want %dx%d", ErrStructure, r, c, m.Rows, m.RHSCols)
	}
	src := mat.DenseCopyOf(b)
	return m.eachGranularity(m.U, 0, tag, func(id NodeID, row int, tag types.Range) error {
		blk, err := m.uBlock(id)
		if err != nil {
			return err
		}
		eng.Submit(engine.Task{
			Name:         "load_rhs",
			Tag:          tag,
			Requirements: []engine.Requirement{engine.RW(blk)},
			Run: m.timed(types.PhaseFill, func() error {
				blk.View(0, blk.Rows(), 0, c).Copy(src.Slice(row, row+blk.Rows(), 0, c))
				return nil
			}),
		})
		return nil
	})
}

// Columns 按全局行收集粒度叶子 U 数据块的 cols 列
// 调用前需等待引擎完成全部任务
func (m *Matrix) Columns(cols types.Range) (*mat.Dense, error) {
	out := mat.NewDense(m.Rows, cols.Size, nil)
	err := m.eachGranularity(m.U, 0, types.Range{}, func(id NodeID, row int, _ types.Range) error {
		blk, err := m.uBlock(id)
		if err != nil {
			return err
		}
		if cols.End() > blk.Cols() {
			return structural(m.Node(id), "columns %s outside block %s", cols, blk)
		}
		out.Slice(row, row+blk.Rows(), 0, cols.Size).(*mat.Dense).Copy(blk.View(0, blk.Rows(), cols.Begin, cols.End()))
		return nil
	})
	return out, err
}

// RHS 右端项列（求解后即为解）
func (m *Matrix) RHS() (*mat.Dense, error) { return m.Columns(types.NewRange(0, m.RHSCols)) }

// SaveText 把右端项列写入文本文件
func (m *Matrix) SaveText(path string) error {
	x, err := m.RHS()
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return maths.WriteText(file, x)
}

// LoadText 从文本文件读取右端项
func (m *Matrix) LoadText(eng engine.Engine, path string, tag types.Range) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	b, err := maths.ReadText(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return m.LoadRHS(eng, b, tag)
}
