package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engines 每个测试在两种实现上各跑一遍
func engines(t *testing.T) map[string]func() Engine {
	t.Helper()
	ctx := context.Background()
	return map[string]func() Engine{
		"serial":   func() Engine { return NewSerial(ctx) },
		"parallel": func() Engine { return NewParallel(ctx, WithWorkers(4)) },
	}
}

func newBlock(t *testing.T, a *maths.Allocator) *maths.Block {
	t.Helper()
	b, err := a.Create(1, 1)
	require.NoError(t, err)
	return b
}

func TestSubmissionOrderOnSharedBlock(t *testing.T) {
	for name, mk := range engines(t) {
		t.Run(name, func(t *testing.T) {
			eng := mk()
			alloc := maths.NewAllocator(0)
			x := newBlock(t, alloc)
			var (
				mu  sync.Mutex
				log []string
			)
			record := func(s string) {
				mu.Lock()
				log = append(log, s)
				mu.Unlock()
			}

			// 写 -> 两个读 -> 写
			eng.Submit(Task{Name: "w1", Requirements: []Requirement{WD(x)}, Run: func(context.Context) (any, error) {
				time.Sleep(20 * time.Millisecond)
				x.Dense().Set(0, 0, 1)
				record("w1")
				return nil, nil
			}})
			var seen [2]float64
			for i := range 2 {
				eng.Submit(Task{Name: "r", Requirements: []Requirement{RO(x)}, Run: func(context.Context) (any, error) {
					seen[i] = x.Dense().At(0, 0)
					time.Sleep(10 * time.Millisecond)
					record("r")
					return nil, nil
				}})
			}
			eng.Submit(Task{Name: "w2", Requirements: []Requirement{RW(x)}, Run: func(context.Context) (any, error) {
				x.Dense().Set(0, 0, x.Dense().At(0, 0)+1)
				record("w2")
				return nil, nil
			}})
			require.NoError(t, eng.Wait(context.Background()))

			assert.Equal(t, [2]float64{1, 1}, seen)
			assert.Equal(t, []string{"w1", "r", "r", "w2"}, log)
			assert.Equal(t, 2.0, x.Dense().At(0, 0))
		})
	}
}

func TestDisjointBlocksRunConcurrently(t *testing.T) {
	eng := NewParallel(context.Background(), WithWorkers(4))
	alloc := maths.NewAllocator(0)
	var active, peak atomic.Int32
	start := make(chan struct{})
	for range 4 {
		b := newBlock(t, alloc)
		eng.Submit(Task{Name: "leaf", Requirements: []Requirement{RW(b)}, Run: func(context.Context) (any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-start
			active.Add(-1)
			return nil, nil
		}})
	}
	time.Sleep(50 * time.Millisecond)
	close(start)
	require.NoError(t, eng.Wait(context.Background()))
	assert.Equal(t, int32(4), peak.Load())
}

func TestFutureValue(t *testing.T) {
	for name, mk := range engines(t) {
		t.Run(name, func(t *testing.T) {
			eng := mk()
			var list []Future
			for i := range 3 {
				list = append(list, eng.Submit(Task{Name: "value", Tag: types.NewRange(i, 1), Run: func(context.Context) (any, error) {
					return i * 10, nil
				}}))
			}
			values, err := WaitAll(list...)
			require.NoError(t, err)
			assert.Equal(t, []any{0, 10, 20}, values)
		})
	}
}

func TestFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	for name, mk := range engines(t) {
		t.Run(name, func(t *testing.T) {
			eng := mk()
			alloc := maths.NewAllocator(0)
			x := newBlock(t, alloc)
			var ran atomic.Bool
			eng.Submit(Task{Name: "fail", Requirements: []Requirement{RW(x)}, Run: func(context.Context) (any, error) {
				return nil, boom
			}})
			f := eng.Submit(Task{Name: "after", Requirements: []Requirement{RO(x)}, Run: func(context.Context) (any, error) {
				ran.Store(true)
				return nil, nil
			}})
			_, err := f.Get()
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			err = eng.Wait(context.Background())
			assert.ErrorIs(t, err, boom)
			assert.False(t, ran.Load())

			// 失败后的提交直接失败
			_, err = eng.Submit(Task{Name: "late", Run: func(context.Context) (any, error) { return nil, nil }}).Get()
			assert.ErrorIs(t, err, ErrDependency)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestParallelReusableAfterWait(t *testing.T) {
	eng := NewParallel(context.Background())
	alloc := maths.NewAllocator(0)
	x := newBlock(t, alloc)
	for round := range 3 {
		eng.Submit(Task{Name: "inc", Requirements: []Requirement{RW(x)}, Run: func(context.Context) (any, error) {
			x.Dense().Set(0, 0, x.Dense().At(0, 0)+1)
			return nil, nil
		}})
		require.NoError(t, eng.Wait(context.Background()))
		assert.Equal(t, float64(round+1), x.Dense().At(0, 0))
	}
	assert.Equal(t, 3, eng.Submitted())
}

func TestAccessString(t *testing.T) {
	assert.Equal(t, "read_only", ReadOnly.String())
	assert.Equal(t, "read_write", ReadWrite.String())
	assert.Equal(t, "write_discard", WriteDiscard.String())
}
