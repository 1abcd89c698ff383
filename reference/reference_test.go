package reference

import (
	"testing"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCirculant(t *testing.T) {
	a := Circulant(5, 3, 10, 0)
	// 行 0 的 U 为 [0 1 2]，行 1 为 [1 2 0]
	assert.Equal(t, 0*0+1*1+2*2+10.0, a.At(0, 0))
	assert.Equal(t, 0*1+1*2+2*0.0, a.At(0, 1))
	assert.True(t, mat.Equal(a, a.T()))

	// 行偏移等价于取大矩阵的子块
	big := Circulant(9, 3, 10, 0)
	sub := Circulant(5, 3, 10, 4)
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			require.Equal(t, big.At(i+4, j+4), sub.At(i, j))
		}
	}
}

func TestSolveAndError(t *testing.T) {
	a := Circulant(40, 6, 10, 0)
	b := mat.NewDense(40, 2, nil)
	maths.FillRandom(b, 1123)
	x, err := Solve(a, b)
	require.NoError(t, err)

	var r mat.Dense
	r.Mul(a, x)
	assert.Less(t, RelativeError(&r, b), 1e-12)

	e, err := Verify(x, b, 6, 10)
	require.NoError(t, err)
	assert.Less(t, e, 1e-14)

	_, err = Verify(mat.NewDense(3, 2, nil), b, 6, 10)
	assert.Error(t, err)
}

func TestSolveSingular(t *testing.T) {
	_, err := Solve(mat.NewDense(10, 10, nil), mat.NewDense(10, 1, nil))
	assert.ErrorIs(t, err, maths.ErrSingular)
}

func TestRelativeError(t *testing.T) {
	ref := mat.NewDense(2, 1, []float64{3, 4})
	x := mat.NewDense(2, 1, []float64{3, 4.5})
	assert.InDelta(t, 0.1, RelativeError(x, ref), 1e-15)
	assert.Zero(t, RelativeError(ref, ref))
}
