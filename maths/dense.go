package maths

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular 稠密求解矩阵奇异或接近奇异
var ErrSingular = errors.New("matrix is singular or nearly singular")

// View 行 [i,k) 列 [j,l) 的子矩阵视图
// 空区间返回 nil，所有内核都把 nil 当作空矩阵处理
func View(m *mat.Dense, i, k, j, l int) *mat.Dense {
	if m == nil || i >= k || j >= l {
		return nil
	}
	return m.Slice(i, k, j, l).(*mat.Dense)
}

func trans(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Gemm 计算 C = alpha*op(A)*op(B) + beta*C
// 参数:
//
//	transA, transB - 是否转置 A、B
//	alpha, beta    - 缩放系数
//	a, b, c        - 参与运算的矩阵，c 原地更新
func Gemm(transA, transB bool, alpha float64, a, b *mat.Dense, beta float64, c *mat.Dense) {
	if c == nil {
		return
	}
	// 内维为零时只剩缩放
	if a == nil || b == nil || alpha == 0 {
		if beta != 1 {
			c.Scale(beta, c)
		}
		return
	}
	blas64.Gemm(trans(transA), trans(transB), alpha, a.RawMatrix(), b.RawMatrix(), beta, c.RawMatrix())
}

// Solve 原地求解 A*X = B，结果写回 b
func Solve(a, b *mat.Dense) error {
	if b == nil {
		return nil
	}
	if a == nil {
		return fmt.Errorf("%w: empty system", ErrSingular)
	}
	var lu mat.LU
	lu.Factorize(a)
	if err := lu.SolveTo(b, false, b); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return fmt.Errorf("%w: condition number %.3g", ErrSingular, float64(cond))
		}
		if errors.Is(err, mat.ErrSingular) {
			return fmt.Errorf("%w: %v", ErrSingular, err)
		}
		return err
	}
	return nil
}

// Zero 清零
func Zero(m *mat.Dense) {
	if m != nil {
		m.Zero()
	}
}

// Add 计算 dst += src
func Add(dst, src *mat.Dense) {
	if dst == nil || src == nil {
		return
	}
	dst.Add(dst, src)
}

// FillRandom 以固定种子按行优先顺序填充 [0,1) 随机数
func FillRandom(m *mat.Dense, seed int64) {
	if m == nil {
		return
	}
	rng := rand.New(rand.NewSource(seed))
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.Float64())
		}
	}
}

// FillCirculant 填充循环低秩模式 (rowBegin+i+j) mod rank
func FillCirculant(m *mat.Dense, rowBegin, rank int) {
	if m == nil || rank <= 0 {
		return
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, float64((rowBegin+i+j)%rank))
		}
	}
}

// AddDiagonal 对角线加 diag
func AddDiagonal(m *mat.Dense, diag float64) {
	if m == nil {
		return
	}
	r, c := m.Dims()
	for i := 0; i < min(r, c); i++ {
		m.Set(i, i, m.At(i, i)+diag)
	}
}

// Identity n 阶单位阵
func Identity(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
