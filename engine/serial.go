package engine

import (
	"context"
	"log/slog"
)

// Option 引擎选项
type Option func(*options)

type options struct {
	logger  *slog.Logger
	workers int
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithWorkers 设置并行引擎的并发上限
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Serial 参考实现：提交即同步执行
// 提交顺序就是执行顺序，天然满足所有访问冲突约束
type Serial struct {
	ctx   context.Context
	obs   *observer
	err   error
	count int
}

// NewSerial 创建串行引擎
func NewSerial(ctx context.Context, opts ...Option) *Serial {
	o := buildOptions(opts)
	return &Serial{ctx: ctx, obs: newObserver(o.logger)}
}

// Submit 立即执行任务，首个失败之后的任务全部跳过
func (s *Serial) Submit(t Task) Future {
	s.count++
	if s.err != nil {
		return Resolved(nil, skipped(t.Name, s.err))
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return Resolved(nil, err)
	}
	v, err := s.obs.run(s.ctx, t)
	if err != nil {
		s.err = err
	}
	return Resolved(v, err)
}

// Wait 返回首个失败
func (s *Serial) Wait(context.Context) error { return s.err }

// Submitted 已提交任务数
func (s *Serial) Submitted() int { return s.count }
