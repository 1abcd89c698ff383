package kernel

import (
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gonum.org/v1/gonum/mat"
)

// Reference 组装完整稠密矩阵后直接求解，用于对照
type Reference struct{}

// NodeSolve 组装 (r0+r1) 阶耦合方程组并 LU 求解
func (Reference) NodeSolve(v0tu0, v1tu1, v0td0, v1td1 *mat.Dense) error {
	r0, r1, c, err := checkNode(v0tu0, v1tu1, v0td0, v1td1)
	if err != nil || c == 0 {
		return err
	}
	n := r0 + r1
	s := maths.Identity(n)
	s.Slice(0, r0, r0, n).(*mat.Dense).Copy(v1tu1)
	s.Slice(r0, n, 0, r0).(*mat.Dense).Copy(v0tu0)
	rhs := mat.NewDense(n, c, nil)
	rhs.Slice(0, r0, 0, c).(*mat.Dense).Copy(v1td1)
	rhs.Slice(r0, n, 0, c).(*mat.Dense).Copy(v0td0)
	if err := maths.Solve(s, rhs); err != nil {
		return err
	}
	v1td1.Copy(rhs.Slice(0, r0, 0, c))
	v0td0.Copy(rhs.Slice(r0, n, 0, c))
	return nil
}

// LeafSolve 由稠密块与各层低秩外积组装粒度叶子矩阵后 LU 求解
func (Reference) LeafSolve(p LeafProblem) error {
	root := p.Layout.Nodes[0]
	n := root.Rows.Size
	a := mat.NewDense(n, n, nil)
	var assemble func(i int)
	assemble = func(i int) {
		node := p.Layout.Nodes[i]
		if node.IsLeaf() {
			rows(a, node.Rows, node.Rows).Copy(rows(p.K, node.Rows, types.NewRange(0, node.Rows.Size)))
			return
		}
		c0, c1 := p.Layout.Nodes[node.Left], p.Layout.Nodes[node.Right]
		// A01 = u0·V1ᵀ，A10 = u1·V0ᵀ
		maths.Gemm(false, true, 1, rows(p.U, c0.Rows, c0.UCols), rows(p.V, c1.Rows, c1.VCols), 0, rows(a, c0.Rows, c1.Rows))
		maths.Gemm(false, true, 1, rows(p.U, c1.Rows, c1.UCols), rows(p.V, c0.Rows, c0.VCols), 0, rows(a, c1.Rows, c0.Rows))
		assemble(node.Left)
		assemble(node.Right)
	}
	assemble(0)
	b := rows(p.U, root.Rows, types.NewRange(0, p.Layout.Width()))
	if err := maths.Solve(a, b); err != nil {
		return leafError(p, root, err)
	}
	return nil
}

var _ Kernel = Reference{}
