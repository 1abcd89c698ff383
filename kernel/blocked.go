package kernel

import (
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gonum.org/v1/gonum/mat"
)

// Blocked 生产内核
// 节点求解消去 η1 后只解 r0 阶方程组；叶子求解在粒度叶子内部递归执行
// 与外层相同的 归约-耦合-广播 过程，每个真实叶子只分解一次稠密块
type Blocked struct{}

// NodeSolve 舒尔补求解
//
//	(I - V1Tu1·V0Tu0)·η0 = V1Td1 - V1Tu1·V0Td0
//	η1 = V0Td0 - V0Tu0·η0
func (Blocked) NodeSolve(v0tu0, v1tu1, v0td0, v1td1 *mat.Dense) error {
	r0, _, c, err := checkNode(v0tu0, v1tu1, v0td0, v1td1)
	if err != nil || c == 0 {
		return err
	}
	s := maths.Identity(r0)
	maths.Gemm(false, false, -1, v1tu1, v0tu0, 1, s)
	maths.Gemm(false, false, -1, v1tu1, v0td0, 1, v1td1)
	if err := maths.Solve(s, v1td1); err != nil {
		return err
	}
	maths.Gemm(false, false, -1, v0tu0, v1td1, 1, v0td0)
	return nil
}

// LeafSolve 粒度叶子内部的串行层次求解
func (k Blocked) LeafSolve(p LeafProblem) error { return k.solve(p, 0) }

func (k Blocked) solve(p LeafProblem, i int) error {
	node := p.Layout.Nodes[i]
	if node.IsLeaf() {
		a := rows(p.K, node.Rows, types.NewRange(0, node.Rows.Size))
		b := rows(p.U, node.Rows, types.NewRange(0, node.UCols.End()))
		if err := maths.Solve(a, b); err != nil {
			return leafError(p, node, err)
		}
		return nil
	}
	if err := k.solve(p, node.Left); err != nil {
		return err
	}
	if err := k.solve(p, node.Right); err != nil {
		return err
	}

	c0, c1 := p.Layout.Nodes[node.Left], p.Layout.Nodes[node.Right]
	prefix := types.NewRange(0, c0.UCols.Begin)
	v0, v1 := rows(p.V, c0.Rows, c0.VCols), rows(p.V, c1.Rows, c1.VCols)
	u0, u1 := rows(p.U, c0.Rows, c0.UCols), rows(p.U, c1.Rows, c1.UCols)
	d0, d1 := rows(p.U, c0.Rows, prefix), rows(p.U, c1.Rows, prefix)

	// 归约
	v0tu0 := mat.NewDense(c0.VCols.Size, c0.UCols.Size, nil)
	v1tu1 := mat.NewDense(c1.VCols.Size, c1.UCols.Size, nil)
	v0td0 := mat.NewDense(c0.VCols.Size, prefix.Size, nil)
	v1td1 := mat.NewDense(c1.VCols.Size, prefix.Size, nil)
	maths.Gemm(true, false, 1, v0, u0, 0, v0tu0)
	maths.Gemm(true, false, 1, v1, u1, 0, v1tu1)
	maths.Gemm(true, false, 1, v0, d0, 0, v0td0)
	maths.Gemm(true, false, 1, v1, d1, 0, v1td1)

	// 耦合
	if err := k.NodeSolve(v0tu0, v1tu1, v0td0, v1td1); err != nil {
		return leafError(p, node, err)
	}

	// 广播
	maths.Gemm(false, false, -1, u0, v1td1, 1, d0)
	maths.Gemm(false, false, -1, u1, v0td0, 1, d1)
	return nil
}

var _ Kernel = Blocked{}
