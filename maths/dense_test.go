package maths

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// matrixEquals 比较两个矩阵是否在给定的容差范围内相等。
func matrixEquals(t *testing.T, a, b mat.Matrix, tol float64) {
	t.Helper()
	ar, ac := a.Dims()
	br, bc := b.Dims()
	require.Equal(t, ar, br, "rows")
	require.Equal(t, ac, bc, "cols")
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tol {
				t.Fatalf("mismatch at (%d, %d): A=%v, B=%v", i, j, a.At(i, j), b.At(i, j))
			}
		}
	}
}

func TestGemmAccumulate(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	b := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 1, 2, -1})
	c := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		c.Set(i, i, 1)
	}

	// C = C - A*B^T
	var want mat.Dense
	want.Mul(a, b.T())
	want.Sub(c, &want)
	Gemm(false, true, -1, a, b, 1, c)
	matrixEquals(t, c, &want, 1e-14)
}

func TestGemmTransposeOnViews(t *testing.T) {
	h := mat.NewDense(4, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	u := mat.NewDense(4, 5, nil)
	FillCirculant(u, 0, 3)
	c := mat.NewDense(2, 2, nil)

	// 只取 u 的第 2、3 列
	Gemm(true, false, 1, h, View(u, 0, 4, 2, 4), 0, c)
	var want mat.Dense
	want.Mul(h.T(), u.Slice(0, 4, 2, 4))
	matrixEquals(t, c, &want, 1e-14)
}

func TestGemmEmptyInner(t *testing.T) {
	c := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	Gemm(false, false, 1, nil, nil, 0.5, c)
	matrixEquals(t, c, mat.NewDense(2, 2, []float64{0.5, 1, 1.5, 2}), 0)
	// nil 输出不做任何事
	Gemm(false, false, 1, c, c, 0, nil)
}

func TestViewEmpty(t *testing.T) {
	m := mat.NewDense(3, 3, nil)
	assert.Nil(t, View(m, 0, 3, 1, 1))
	assert.Nil(t, View(nil, 0, 1, 0, 1))
	v := View(m, 1, 3, 0, 2)
	r, c := v.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
}

func TestSolveInPlace(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{2, 3, 1, 1, 2, 3, 3, 1, 2})
	b := mat.NewDense(3, 1, []float64{9, 6, 8})
	require.NoError(t, Solve(a, b))
	want := mat.NewDense(3, 1, []float64{35.0 / 18, 29.0 / 18, 5.0 / 18})
	matrixEquals(t, b, want, 1e-12)
}

func TestSolveSingular(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 2, 4})
	b := mat.NewDense(2, 1, []float64{1, 1})
	err := Solve(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSingular)
}

func TestFillRandomDeterministic(t *testing.T) {
	a := mat.NewDense(4, 3, nil)
	b := mat.NewDense(4, 3, nil)
	FillRandom(a, 1123)
	FillRandom(b, 1123)
	assert.True(t, mat.Equal(a, b))
	for _, v := range a.RawMatrix().Data {
		assert.True(t, v >= 0 && v < 1)
	}
	FillRandom(b, 7)
	assert.False(t, mat.Equal(a, b))
}

func TestFillCirculant(t *testing.T) {
	m := mat.NewDense(3, 4, nil)
	FillCirculant(m, 5, 6)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			assert.Equal(t, float64((5+i+j)%6), m.At(i, j))
		}
	}
	AddDiagonal(m, 10)
	assert.Equal(t, float64(5%6)+10, m.At(0, 0))
	assert.Equal(t, float64(9%6), m.At(1, 3))
}

func TestTextRoundTrip(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1.0 / 3, -2.5e-17, 7, math.Pi, 0, 1e300})
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, m))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	got, err := ReadText(&buf)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))
}

func TestReadTextErrors(t *testing.T) {
	_, err := ReadText(strings.NewReader("1 2\n3\n"))
	assert.Error(t, err)
	_, err = ReadText(strings.NewReader("1 x\n"))
	assert.Error(t, err)
	_, err = ReadText(strings.NewReader("\n# only comments\n"))
	assert.Error(t, err)

	m, err := ReadText(strings.NewReader("# header\n1 2\n\n3 4\n"))
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
}
