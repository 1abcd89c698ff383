// Package fastsolver 层次非对角低秩矩阵的快速直接求解
//
// Session 把配置、树结构、初始化、调度与诊断输出串成一次完整的求解：
//
//	s, _ := fastsolver.NewSession(ctx, config.Default())
//	defer s.Close()
//	err := s.Run(ctx)
package fastsolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Charles-Chao-Chen/FastSolver/config"
	"github.com/Charles-Chao-Chen/FastSolver/debug"
	"github.com/Charles-Chao-Chen/FastSolver/engine"
	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/kernel"
	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/reference"
	"github.com/Charles-Chao-Chen/FastSolver/solver"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Option 会话选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.base = l } }

// Session 一次求解会话
type Session struct {
	ID     string
	Config config.Config
	Logger *slog.Logger
	Matrix *htree.Matrix
	Engine engine.Engine
	Kernel kernel.Kernel
	Alloc  *maths.Allocator
	Record debug.Record

	base *slog.Logger
	rhs  *mat.Dense // 求解前的右端项
}

// NewSession 校验配置并创建会话
func NewSession(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Session{ID: uuid.NewString()[:12], Config: cfg}
	for _, fn := range opts {
		fn(s)
	}
	if s.base == nil {
		s.base = slog.Default()
	}
	s.Logger = s.base.With(slog.String("session", s.ID))
	kern, err := kernel.New(cfg.Solver.Kernel)
	if err != nil {
		return nil, err
	}
	s.Kernel = kern
	s.Alloc = maths.NewAllocator(cfg.Solver.MemoryLimit)
	s.Engine = s.newEngine(ctx)
	s.Record = debug.Record{
		Session: s.ID,
		Mode:    "single",
		Engine:  cfg.Solver.Engine,
		Kernel:  cfg.Solver.Kernel,
	}
	if cfg.Solver.LaunchLevel > 0 {
		s.Record.Mode = "compose"
	}
	return s, nil
}

func (s *Session) newEngine(ctx context.Context) engine.Engine {
	if s.Config.Solver.Engine == "serial" {
		return engine.NewSerial(ctx, engine.WithLogger(s.Logger))
	}
	return engine.NewParallel(ctx, engine.WithLogger(s.Logger), engine.WithWorkers(s.Config.Solver.Workers))
}

func (s *Session) tag() types.Range { return types.NewRange(0, s.Config.Solver.Procs) }

func (s *Session) scheduler(eng engine.Engine) *solver.Scheduler {
	sch := solver.New(eng, s.Kernel, s.Logger)
	sch.Launch = s.Config.Solver.Launch
	return sch
}

// Build 构造树结构并分配数据块
func (s *Session) Build(opts ...htree.BuildOption) error {
	opts = append([]htree.BuildOption{htree.WithAllocator(s.Alloc)}, opts...)
	m, err := htree.Build(s.Config.Params(), opts...)
	if err != nil {
		return err
	}
	s.Matrix = m
	s.Record.Init(m)
	s.Logger.Info("tree built",
		slog.Int("rows", m.Rows),
		slog.Int("real_leaves", m.Stats.RealLeaves),
		slog.Int("granularity_leaves", m.Stats.GranularityLeaves),
		slog.Int("launch_nodes", m.Stats.LaunchNodes),
		slog.Int64("bytes", s.Alloc.InUse()),
	)
	return nil
}

// Init 填充合成矩阵与随机右端项，并保存右端项副本
func (s *Session) Init(ctx context.Context) error {
	if s.Matrix == nil {
		return errors.New("session: tree not built")
	}
	m, cfg := s.Matrix, s.Config.Matrix
	if err := m.InitCirculant(s.Engine, cfg.Diagonal, 0, false, s.tag()); err != nil {
		return err
	}
	if err := m.FillRandom(s.Engine, m.U, cfg.Seed, types.NewRange(0, cfg.RHSCols), s.tag()); err != nil {
		return err
	}
	if err := s.Engine.Wait(ctx); err != nil {
		return err
	}
	b, err := m.RHS()
	if err != nil {
		return err
	}
	s.rhs = b
	return nil
}

// LoadRHS 用给定右端项替换随机右端项
func (s *Session) LoadRHS(ctx context.Context, b mat.Matrix) error {
	if err := s.Matrix.LoadRHS(s.Engine, b, s.tag()); err != nil {
		return err
	}
	if err := s.Engine.Wait(ctx); err != nil {
		return err
	}
	s.rhs = mat.DenseCopyOf(b)
	return nil
}

// Solve 单会话求解
func (s *Session) Solve(ctx context.Context) error {
	start := time.Now()
	err := s.scheduler(s.Engine).Solve(ctx, s.Matrix, s.tag())
	s.finish(start, err)
	return err
}

// Compose 组合求解：2^LaunchLevel 个子问题各自独立构造并求解，
// 其数据块作为外部因子挂到全局树上，最后只求解顶部各层
func (s *Session) Compose(ctx context.Context) error {
	level := s.Config.Solver.LaunchLevel
	if level <= 0 {
		return fmt.Errorf("compose: launch level must be positive, got %d", level)
	}
	start := time.Now()
	cfg := s.Config.Matrix
	count := 1 << level
	sub := s.Config.Params()
	sub.Rows /= count
	sub.ExtraLevels = level
	sub.LaunchThreshold = 0
	rhs := make([]*mat.Dense, count)

	factors, err := s.scheduler(s.Engine).LaunchSubSolves(ctx, count, s.tag(),
		func(ctx context.Context, i int, tag types.Range) ([]*maths.Block, error) {
			m, err := htree.Build(sub)
			if err != nil {
				return nil, err
			}
			eng := engine.NewSerial(ctx, engine.WithLogger(s.Logger))
			if err := m.InitCirculant(eng, cfg.Diagonal, i*sub.Rows, false, tag); err != nil {
				return nil, err
			}
			if err := m.FillRandom(eng, m.U, cfg.Seed, types.NewRange(0, cfg.RHSCols), tag); err != nil {
				return nil, err
			}
			if err := eng.Wait(ctx); err != nil {
				return nil, err
			}
			if rhs[i], err = m.RHS(); err != nil {
				return nil, err
			}
			if err := s.scheduler(eng).Solve(ctx, m, tag); err != nil {
				return nil, err
			}
			s.Logger.Debug("sub-problem solved", slog.Int("index", i), slog.Int("row_offset", i*sub.Rows))
			return m.Factors(), nil
		})
	if err != nil {
		s.finish(start, err)
		return err
	}

	if err := s.Build(htree.WithExternalFactors()); err != nil {
		return err
	}
	m := s.Matrix
	if err := m.LoadFactors(factors); err != nil {
		return err
	}
	if err := m.InitCirculant(s.Engine, cfg.Diagonal, 0, true, s.tag()); err != nil {
		return err
	}
	s.rhs = mat.NewDense(m.Rows, cfg.RHSCols, nil)
	for i, b := range rhs {
		s.rhs.Slice(i*sub.Rows, (i+1)*sub.Rows, 0, cfg.RHSCols).(*mat.Dense).Copy(b)
	}
	err = s.scheduler(s.Engine).SolveTop(ctx, m, level, s.tag())
	s.finish(start, err)
	return err
}

func (s *Session) finish(start time.Time, err error) {
	elapsed := time.Since(start)
	if s.Matrix != nil {
		s.Record.Update(s.Matrix, elapsed)
	}
	if err != nil {
		s.Record.Error(err)
		return
	}
	snap := s.Record.Stats
	s.Logger.Info("solve finished",
		slog.String("mode", s.Record.Mode),
		slog.Duration("elapsed", elapsed),
		slog.Duration("leaf", snap.Elapsed[types.PhaseLeaf.String()]),
		slog.Duration("reduce", snap.Elapsed[types.PhaseReduce.String()]),
		slog.Duration("couple", snap.Elapsed[types.PhaseCouple.String()]),
		slog.Duration("broadcast", snap.Elapsed[types.PhaseBroadcast.String()]),
		slog.Int64("peak_bytes", s.Record.PeakBytes),
	)
}

// RHS 求解前的右端项
func (s *Session) RHS() *mat.Dense { return s.rhs }

// Solution 当前解
func (s *Session) Solution() (*mat.Dense, error) { return s.Matrix.RHS() }

// Verify 与稠密直接求解比较，返回相对误差
func (s *Session) Verify() (float64, error) {
	if s.rhs == nil {
		return 0, errors.New("session: no right-hand side recorded")
	}
	x, err := s.Solution()
	if err != nil {
		return 0, err
	}
	e, err := reference.Verify(x, s.rhs, s.Config.Matrix.Rank, s.Config.Matrix.Diagonal)
	if err != nil {
		return 0, err
	}
	s.Record.Residual = e
	s.Logger.Info("verified against dense solve", slog.Float64("relative_error", e))
	return e, nil
}

// Run 按配置完成 构造、初始化、求解 并写出结果
func (s *Session) Run(ctx context.Context) error {
	if s.Config.Solver.LaunchLevel > 0 {
		if err := s.Compose(ctx); err != nil {
			return err
		}
	} else {
		if err := s.Build(); err != nil {
			return err
		}
		if err := s.Init(ctx); err != nil {
			return err
		}
		if err := s.Solve(ctx); err != nil {
			return err
		}
	}
	return s.WriteOutputs()
}

// WriteOutputs 写出配置中指定的解与诊断文件
func (s *Session) WriteOutputs() error {
	out := s.Config.Output
	if out.Solution != "" {
		if err := s.Matrix.SaveText(out.Solution); err != nil {
			return fmt.Errorf("save solution: %w", err)
		}
	}
	write := func(path string, d types.Debug) error {
		if path == "" {
			return nil
		}
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return d.Render(file)
	}
	if err := write(out.Record, &s.Record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := write(out.Charts, &debug.Charts{Record: s.Record}); err != nil {
		return fmt.Errorf("write charts: %w", err)
	}
	if out.Plot != "" {
		if err := (&debug.Plot{Record: s.Record}).Save(out.Plot); err != nil {
			return fmt.Errorf("write plot: %w", err)
		}
	}
	return nil
}

// Close 释放全部数据块
func (s *Session) Close() error {
	if s.Matrix == nil {
		return nil
	}
	err := s.Matrix.Release()
	s.Matrix = nil
	return err
}
