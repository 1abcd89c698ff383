package solver

import (
	"context"
	"errors"
	"testing"

	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/kernel"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/reference"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	testRank  = 6
	testDiag  = 10.0
	testSeed  = 1123
	testTol   = 1e-10
	testProcs = 4
)

func params(rows, budget int) htree.Params {
	return htree.Params{Rows: rows, RHSCols: 2, Rank: testRank, Threshold: 15, LeafBudget: budget}
}

// setup 构造合成问题并返回求解前的右端项
func setup(t *testing.T, eng engine.Engine, p htree.Params, opts ...htree.BuildOption) (*htree.Matrix, *mat.Dense) {
	t.Helper()
	ctx := context.Background()
	m, err := htree.Build(p, opts...)
	require.NoError(t, err)
	tag := types.NewRange(0, testProcs)
	require.NoError(t, m.InitCirculant(eng, testDiag, 0, false, tag))
	require.NoError(t, m.FillRandom(eng, m.U, testSeed, types.NewRange(0, p.RHSCols), tag))
	require.NoError(t, eng.Wait(ctx))
	b, err := m.RHS()
	require.NoError(t, err)
	return m, b
}

func solution(t *testing.T, m *htree.Matrix) *mat.Dense {
	t.Helper()
	x, err := m.RHS()
	require.NoError(t, err)
	return x
}

func TestSolveMatchesReference(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"blocked", "reference"} {
		t.Run(name, func(t *testing.T) {
			kern, err := kernel.New(name)
			require.NoError(t, err)
			eng := engine.NewSerial(ctx)
			m, b := setup(t, eng, params(480, 1))
			s := New(eng, kern, nil)
			require.NoError(t, s.Solve(ctx, m, types.NewRange(0, testProcs)))

			e, err := reference.Verify(solution(t, m), b, testRank, testDiag)
			require.NoError(t, err)
			assert.Less(t, e, testTol)

			// 临时归约块全部释放
			assert.Equal(t, len(m.Blocks()), m.Alloc.Live())
			assert.Positive(t, m.Stats.Tasks(types.PhaseCouple))
			assert.Equal(t, int64(32), m.Stats.Tasks(types.PhaseLeaf))
		})
	}
}

func TestGranularityInvariance(t *testing.T) {
	ctx := context.Background()
	var results []*mat.Dense
	var rhs *mat.Dense
	for _, budget := range []int{1, 4, 32} {
		eng := engine.NewSerial(ctx)
		m, b := setup(t, eng, params(480, budget))
		if rhs == nil {
			rhs = b
		} else {
			require.NoError(t, m.LoadRHS(eng, rhs, types.NewRange(0, 1)))
		}
		require.NoError(t, New(eng, nil, nil).Solve(ctx, m, types.NewRange(0, 1)))
		results = append(results, solution(t, m))
	}
	for i := 1; i < len(results); i++ {
		assert.Less(t, reference.RelativeError(results[i], results[0]), testTol, "budget case %d", i)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	ctx := context.Background()
	serial := engine.NewSerial(ctx)
	a, _ := setup(t, serial, params(480, 2))
	require.NoError(t, New(serial, nil, nil).Solve(ctx, a, types.NewRange(0, testProcs)))

	par := engine.NewParallel(ctx, engine.WithWorkers(testProcs))
	b, _ := setup(t, par, params(480, 2))
	require.NoError(t, New(par, nil, nil).Solve(ctx, b, types.NewRange(0, testProcs)))

	assert.Less(t, reference.RelativeError(solution(t, b), solution(t, a)), testTol)
	assert.Equal(t, len(b.Blocks()), b.Alloc.Live())
}

func TestLaunchModeMatchesPlain(t *testing.T) {
	ctx := context.Background()
	serial := engine.NewSerial(ctx)
	plain, _ := setup(t, serial, params(480, 1))
	require.NoError(t, New(serial, nil, nil).Solve(ctx, plain, types.NewRange(0, testProcs)))

	p := params(480, 1)
	p.LaunchThreshold = 4
	par := engine.NewParallel(ctx)
	m, _ := setup(t, par, p)
	require.Equal(t, 8, m.Stats.LaunchNodes)
	s := New(par, nil, nil)
	s.Launch = true
	require.NoError(t, s.Solve(ctx, m, types.NewRange(0, testProcs)))

	assert.Less(t, reference.RelativeError(solution(t, m), solution(t, plain)), testTol)
	assert.Equal(t, len(m.Blocks()), m.Alloc.Live())
}

func TestSingularLeafPropagates(t *testing.T) {
	ctx := context.Background()
	for _, eng := range []engine.Engine{engine.NewSerial(ctx), engine.NewParallel(ctx)} {
		m, _ := setup(t, eng, params(480, 1))
		bad := m.GranularityPairs(m.Root())[5]
		maths.Zero(m.Node(bad.V).Dense.Dense())

		err := New(eng, nil, nil).Solve(ctx, m, types.NewRange(0, 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, kernel.ErrSingular)
		var se *kernel.SolveError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, m.Node(bad.U).Rows(), se.Rows)
	}
}

func TestSolveTopRejectsDeepLevel(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewSerial(ctx)
	p := params(480, 8)
	m, _ := setup(t, eng, p)
	err := New(eng, nil, nil).SolveTop(ctx, m, 4, types.NewRange(0, 1))
	assert.ErrorIs(t, err, htree.ErrStructure)
	err = New(eng, nil, nil).SolveTop(ctx, m, -1, types.NewRange(0, 1))
	assert.ErrorIs(t, err, htree.ErrStructure)
}

// subSolver 子问题：行偏移 index·rows，外层 levels 层低秩列随子问题一起求解
func subSolver(p htree.Params, levels int) SubSolve {
	return func(ctx context.Context, index int, tag types.Range) ([]*maths.Block, error) {
		sp := p
		sp.Rows = p.Rows >> levels
		sp.ExtraLevels = levels
		m, err := htree.Build(sp)
		if err != nil {
			return nil, err
		}
		eng := engine.NewSerial(ctx)
		if err := m.InitCirculant(eng, testDiag, index*sp.Rows, false, tag); err != nil {
			return nil, err
		}
		if err := m.FillRandom(eng, m.U, testSeed, types.NewRange(0, sp.RHSCols), tag); err != nil {
			return nil, err
		}
		if err := New(eng, nil, nil).Solve(ctx, m, tag); err != nil {
			return nil, err
		}
		return m.Factors(), nil
	}
}

func TestComposition(t *testing.T) {
	ctx := context.Background()
	p := params(960, 1)
	const levels = 1

	// 单会话求解作为对照
	serial := engine.NewSerial(ctx)
	single, b := setup(t, serial, p)
	require.NoError(t, New(serial, nil, nil).Solve(ctx, single, types.NewRange(0, testProcs)))

	par := engine.NewParallel(ctx)
	tag := types.NewRange(0, testProcs)
	factors, err := New(par, nil, nil).LaunchSubSolves(ctx, 1<<levels, tag, subSolver(p, levels))
	require.NoError(t, err)

	m, err := htree.Build(p, htree.WithExternalFactors())
	require.NoError(t, err)
	require.NoError(t, m.LoadFactors(factors))
	require.NoError(t, m.InitCirculant(par, testDiag, 0, true, tag))
	s := New(par, nil, nil)
	require.NoError(t, s.SolveTop(ctx, m, levels, tag))

	x := solution(t, m)
	assert.Less(t, reference.RelativeError(x, solution(t, single)), testTol)
	e, err := reference.Verify(x, b, testRank, testDiag)
	require.NoError(t, err)
	assert.Less(t, e, testTol)
}

func TestLaunchSubSolvesFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := New(engine.NewParallel(ctx), nil, nil).LaunchSubSolves(ctx, 2, types.NewRange(0, 2),
		func(_ context.Context, i int, _ types.Range) ([]*maths.Block, error) {
			if i == 1 {
				return nil, boom
			}
			return nil, nil
		})
	assert.ErrorIs(t, err, boom)

	_, err = New(engine.NewSerial(ctx), nil, nil).LaunchSubSolves(ctx, 0, types.Range{}, nil)
	assert.Error(t, err)

	// 引擎返回了非数据块结果
	_, err = New(resolvedEngine{val: "blocks"}, nil, nil).LaunchSubSolves(ctx, 2, types.NewRange(0, 2), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-solve 0")
}

// resolvedEngine 不执行任务，直接返回固定结果
type resolvedEngine struct{ val any }

func (e resolvedEngine) Submit(engine.Task) engine.Future { return engine.Resolved(e.val, nil) }

func (resolvedEngine) Wait(context.Context) error { return nil }

// singularCoupling 以互逆的归约块调用生产内核，使 I - V1Tu1·V0Tu0 恰好为零
type singularCoupling struct{ kernel.Blocked }

func (singularCoupling) NodeSolve(_, v1tu1, v0td0, v1td1 *mat.Dense) error {
	r0, r1 := v1tu1.Dims()
	p, q := mat.NewDense(r0, r1, nil), mat.NewDense(r1, r0, nil)
	for i := range min(r0, r1) {
		p.Set(i, i, 1)
		q.Set(i, i, 1)
	}
	return kernel.Blocked{}.NodeSolve(q, p, v0td0, v1td1)
}

func TestSingularNodePropagates(t *testing.T) {
	ctx := context.Background()
	for _, eng := range []engine.Engine{engine.NewSerial(ctx), engine.NewParallel(ctx)} {
		// 预算 16 时只有根是内部节点
		m, _ := setup(t, eng, params(480, 16))
		require.Equal(t, 2, m.Stats.GranularityLeaves)

		err := New(eng, singularCoupling{}, nil).Solve(ctx, m, types.NewRange(0, 2))
		require.Error(t, err)
		assert.ErrorIs(t, err, kernel.ErrSingular)
		var se *kernel.SolveError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "node_solve", se.Op)
		assert.Equal(t, m.Node(m.U).Rows(), se.Rows)
	}
}
