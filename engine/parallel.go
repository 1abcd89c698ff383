package engine

import (
	"context"
	"runtime"
	"sync"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// hazard 单个数据块的访问历史
type hazard struct {
	writer  *future   // 最近一次写任务
	readers []*future // 该写任务之后的读任务
}

// Parallel 协程执行引擎
// 每个任务一个协程，等待其依赖完成后在并发上限内执行。
// 依赖由访问声明推导：只读等待上一个写任务，读写与覆盖写
// 等待上一个写任务以及其后的全部读任务。
// Submit 与 Wait 需由同一个协程调用。
type Parallel struct {
	ctx     context.Context
	obs     *observer
	sem     *semaphore.Weighted
	workers int

	group *errgroup.Group
	gctx  context.Context

	mu     sync.Mutex
	blocks map[*maths.Block]*hazard
	err    error
	count  int
}

// NewParallel 创建并行引擎，默认并发上限为 GOMAXPROCS
func NewParallel(ctx context.Context, opts ...Option) *Parallel {
	o := buildOptions(opts)
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	p := &Parallel{
		ctx:     ctx,
		obs:     newObserver(o.logger),
		sem:     semaphore.NewWeighted(int64(o.workers)),
		workers: o.workers,
	}
	p.reset()
	return p
}

func (p *Parallel) reset() {
	p.group, p.gctx = errgroup.WithContext(p.ctx)
	p.blocks = make(map[*maths.Block]*hazard)
}

// Workers 并发上限
func (p *Parallel) Workers() int { return p.workers }

// Submitted 已提交任务数
func (p *Parallel) Submitted() int { return p.count }

// Submit 登记任务依赖并异步执行
func (p *Parallel) Submit(t Task) Future {
	p.count++
	if p.err != nil {
		return Resolved(nil, skipped(t.Name, p.err))
	}
	f := newFuture()
	deps := p.track(f, t.Requirements)
	ctx := p.gctx
	p.group.Go(func() error {
		for _, d := range deps {
			if err := waitDependency(ctx, t.Name, d); err != nil {
				f.resolve(nil, err)
				return nil
			}
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.resolve(nil, err)
			return nil
		}
		defer p.sem.Release(1)
		v, err := p.obs.run(ctx, t)
		f.resolve(v, err)
		return err
	})
	return f
}

// waitDependency 等待前序任务，前序失败优先于取消上报
func waitDependency(ctx context.Context, name string, d *future) error {
	select {
	case <-d.done:
	case <-ctx.Done():
		select {
		case <-d.done:
		default:
			return ctx.Err()
		}
	}
	if d.err != nil {
		return skipped(name, d.err)
	}
	return nil
}

// track 根据访问声明登记任务并返回需要等待的前序任务
func (p *Parallel) track(f *future, reqs []Requirement) []*future {
	p.mu.Lock()
	defer p.mu.Unlock()
	var deps []*future
	add := func(d *future) {
		if d == nil || d == f {
			return
		}
		for _, x := range deps {
			if x == d {
				return
			}
		}
		deps = append(deps, d)
	}
	for _, r := range reqs {
		if r.Block == nil {
			continue
		}
		h := p.blocks[r.Block]
		if h == nil {
			h = &hazard{}
			p.blocks[r.Block] = h
		}
		add(h.writer)
		if r.Access == ReadOnly {
			h.readers = append(h.readers, f)
			continue
		}
		for _, d := range h.readers {
			add(d)
		}
		h.writer, h.readers = f, nil
	}
	return deps
}

// Wait 等待全部任务，返回首个执行失败；之后引擎可以继续使用
func (p *Parallel) Wait(context.Context) error {
	err := p.group.Wait()
	if err != nil && p.err == nil {
		p.err = err
	}
	p.reset()
	return p.err
}
