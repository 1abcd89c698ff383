// Package reference 稠密直接求解，用于校验快速求解结果
package reference

import (
	"fmt"
	"math"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"gonum.org/v1/gonum/mat"
)

// Circulant n 阶合成矩阵 U·Uᵀ + diag·I
// U 为 n×rank，第 i 行第 j 列为 (rowOffset+i+j) mod rank
func Circulant(n, rank int, diag float64, rowOffset int) *mat.Dense {
	u := mat.NewDense(n, rank, nil)
	maths.FillCirculant(u, rowOffset, rank)
	a := mat.NewDense(n, n, nil)
	maths.Gemm(false, true, 1, u, u, 0, a)
	maths.AddDiagonal(a, diag)
	return a
}

// Solve 返回 A⁻¹B，不修改输入
func Solve(a *mat.Dense, b mat.Matrix) (*mat.Dense, error) {
	x := mat.DenseCopyOf(b)
	if err := maths.Solve(a, x); err != nil {
		return nil, fmt.Errorf("reference solve: %w", err)
	}
	return x, nil
}

// RelativeError 相对 L2 误差 sqrt(Σ(x-ref)² / Σref²)
func RelativeError(x, ref mat.Matrix) float64 {
	r, c := ref.Dims()
	var diff, denom float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := x.At(i, j) - ref.At(i, j)
			diff += d * d
			denom += ref.At(i, j) * ref.At(i, j)
		}
	}
	if denom == 0 {
		return math.Sqrt(diff)
	}
	return math.Sqrt(diff / denom)
}

// Verify 对合成矩阵直接求解 b，返回 x 的相对误差
func Verify(x, b mat.Matrix, rank int, diag float64) (float64, error) {
	n, c := b.Dims()
	xr, xc := x.Dims()
	if xr != n || xc != c {
		return 0, fmt.Errorf("solution is %dx%d, rhs is %dx%d", xr, xc, n, c)
	}
	ref, err := Solve(Circulant(n, rank, diag, 0), b)
	if err != nil {
		return 0, err
	}
	return RelativeError(x, ref), nil
}
