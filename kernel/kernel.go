// Package kernel 节点耦合求解与粒度叶子求解的数值内核
//
// 设 Ai 为子节点 i 的对角块，ui 为其低秩列，Vi 为同位置 V 节点的基，
// 子树求解后 ũi = Ai⁻¹ui、di = Ai⁻¹bi。父节点上的修正项满足
//
//	[ I      V1ᵀũ1 ] [η0]   [V1ᵀd1]
//	[ V0ᵀũ0  I     ] [η1] = [V0ᵀd0]
//
// 解为 x0 = d0 - ũ0·η0，x1 = d1 - ũ1·η1。
package kernel

import (
	"fmt"

	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular 稠密块奇异
var ErrSingular = maths.ErrSingular

// SolveError 带节点位置的数值错误
type SolveError struct {
	Op    string
	Rows  types.Range
	Cols  types.Range
	Block uint64
	Err   error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s at rows %s cols %s (block #%d): %v", e.Op, e.Rows, e.Cols, e.Block, e.Err)
}

func (e *SolveError) Unwrap() error { return e.Err }

// LeafProblem 粒度叶子求解的输入
// U 原地更新为 A⁻¹U 的前 Layout.Width() 列
type LeafProblem struct {
	Layout htree.Layout
	U      *mat.Dense // 低秩因子与右端项
	V      *mat.Dense // 叶子内部各层的 V 基，粒度叶子即真实叶子时为空
	K      *mat.Dense // 各真实叶子的稠密块
	Block  uint64     // U 数据块编号
}

// Kernel 数值内核
type Kernel interface {
	// LeafSolve 粒度叶子原地求解
	LeafSolve(p LeafProblem) error
	// NodeSolve 节点耦合求解，η0 写入 v1td1，η1 写入 v0td0
	NodeSolve(v0tu0, v1tu1, v0td0, v1td1 *mat.Dense) error
}

// New 按名称选择内核
func New(name string) (Kernel, error) {
	switch name {
	case "", "blocked":
		return Blocked{}, nil
	case "reference":
		return Reference{}, nil
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

// checkNode 检查四个归约块的形状
func checkNode(v0tu0, v1tu1, v0td0, v1td1 *mat.Dense) (r0, r1, c int, err error) {
	if v0tu0 == nil || v1tu1 == nil {
		return 0, 0, 0, fmt.Errorf("node solve: empty coupling block")
	}
	r0, r1 = v1tu1.Dims()
	a, b := v0tu0.Dims()
	if a != r1 || b != r0 {
		return 0, 0, 0, fmt.Errorf("node solve: V0Tu0 is %dx%d, want %dx%d", a, b, r1, r0)
	}
	if v0td0 == nil || v1td1 == nil {
		return r0, r1, 0, nil
	}
	x, c := v1td1.Dims()
	y, c1 := v0td0.Dims()
	if x != r0 || y != r1 || c != c1 {
		return 0, 0, 0, fmt.Errorf("node solve: correction blocks %dx%d and %dx%d do not match ranks %d,%d", x, c, y, c1, r0, r1)
	}
	return r0, r1, c, nil
}

// leafError 包装叶子求解错误
func leafError(p LeafProblem, n htree.LocalNode, err error) error {
	return &SolveError{
		Op:    "leaf_solve",
		Rows:  types.NewRange(p.Layout.Row.Begin+n.Rows.Begin, n.Rows.Size),
		Cols:  n.UCols,
		Block: p.Block,
		Err:   err,
	}
}

// rows 行区间视图
func rows(m *mat.Dense, r types.Range, c types.Range) *mat.Dense {
	return maths.View(m, r.Begin, r.End(), c.Begin, c.End())
}
