package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	fastsolver "github.com/Charles-Chao-Chen/FastSolver"
	"github.com/Charles-Chao-Chen/FastSolver/config"
	"github.com/Charles-Chao-Chen/FastSolver/telemetry"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
	flags      = config.Default()
	tolerance  float64
	verify     bool

	rootCmd = &cobra.Command{
		Use:   "fastsolver",
		Short: "Fast direct solver for hierarchically off-diagonal low-rank matrices",
		Long: `fastsolver builds a HODLR test matrix, solves it with the
hierarchical reduce / couple / broadcast scheme and optionally checks
the result against a dense direct solve.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	solveCmd = &cobra.Command{
		Use:   "solve",
		Short: "Solve the synthetic problem in a single session",
		RunE:  runSolve,
	}

	composeCmd = &cobra.Command{
		Use:   "compose",
		Short: "Solve 2^levels independent sub-problems and compose the top levels",
		RunE:  runSolve,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Solve and fail unless the relative error is below the tolerance",
		RunE: func(cmd *cobra.Command, args []string) error {
			verify = true
			return runSolve(cmd, args)
		},
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Build the tree and print its per-level structure",
		RunE:  runInspect,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug | info | warn | error")
	pf.IntVar(&flags.Matrix.Rows, "rows", flags.Matrix.Rows, "matrix order")
	pf.IntVar(&flags.Matrix.RHSCols, "rhs-cols", flags.Matrix.RHSCols, "right-hand side columns")
	pf.IntVar(&flags.Matrix.Rank, "rank", flags.Matrix.Rank, "off-diagonal rank")
	pf.IntVar(&flags.Matrix.Threshold, "threshold", flags.Matrix.Threshold, "dense leaf size threshold")
	pf.IntVar(&flags.Matrix.LeafBudget, "leaf-budget", flags.Matrix.LeafBudget, "real leaves per granularity leaf")
	pf.IntVar(&flags.Matrix.LaunchThreshold, "launch-threshold", flags.Matrix.LaunchThreshold, "granularity leaves per launch node, 0 disables")
	pf.Float64Var(&flags.Matrix.Diagonal, "diag", flags.Matrix.Diagonal, "diagonal shift")
	pf.Int64Var(&flags.Matrix.Seed, "seed", flags.Matrix.Seed, "right-hand side seed")
	pf.StringVar(&flags.Solver.Engine, "engine", flags.Solver.Engine, "serial | parallel")
	pf.StringVar(&flags.Solver.Kernel, "kernel", flags.Solver.Kernel, "blocked | reference")
	pf.IntVar(&flags.Solver.Workers, "workers", flags.Solver.Workers, "parallel engine workers, 0 uses GOMAXPROCS")
	pf.IntVar(&flags.Solver.Procs, "procs", flags.Solver.Procs, "affinity tag width")
	pf.BoolVar(&flags.Solver.Launch, "launch", flags.Solver.Launch, "submit launch-node subtrees as coarse tasks")
	pf.Int64Var(&flags.Solver.MemoryLimit, "memory-limit", flags.Solver.MemoryLimit, "block memory budget in bytes, 0 is unlimited")
	pf.StringVar(&flags.Telemetry.TraceExporter, "trace", flags.Telemetry.TraceExporter, "otlp | stdout | none")
	pf.StringVar(&flags.Telemetry.MetricExporter, "metrics", flags.Telemetry.MetricExporter, "prometheus | stdout | none")
	pf.StringVar(&flags.Telemetry.OTLPEndpoint, "otlp-endpoint", flags.Telemetry.OTLPEndpoint, "OTLP gRPC endpoint")
	pf.StringVar(&flags.Telemetry.MetricsAddr, "metrics-addr", flags.Telemetry.MetricsAddr, "listen address of /metrics")
	pf.StringVar(&flags.Output.Solution, "solution", "", "write the solution to this text file")
	pf.StringVar(&flags.Output.Record, "record", "", "write the session record JSON")
	pf.StringVar(&flags.Output.Charts, "charts", "", "write the HTML charts page")
	pf.StringVar(&flags.Output.Plot, "plot", "", "write the phase time plot (png, svg or pdf)")

	composeCmd.Flags().IntVar(&flags.Solver.LaunchLevel, "levels", 1, "sub-problem levels")
	verifyCmd.Flags().Float64Var(&tolerance, "tolerance", types.DefaultTolerance, "maximum relative error")
	solveCmd.Flags().BoolVar(&verify, "verify", false, "compare with a dense direct solve")

	rootCmd.AddCommand(solveCmd, composeCmd, verifyCmd, inspectCmd)
}

// overrides 命令行参数覆盖配置文件
var overrides = map[string]func(dst *config.Config){
	"log-level":        func(c *config.Config) { c.LogLevel = flags.LogLevel },
	"rows":             func(c *config.Config) { c.Matrix.Rows = flags.Matrix.Rows },
	"rhs-cols":         func(c *config.Config) { c.Matrix.RHSCols = flags.Matrix.RHSCols },
	"rank":             func(c *config.Config) { c.Matrix.Rank = flags.Matrix.Rank },
	"threshold":        func(c *config.Config) { c.Matrix.Threshold = flags.Matrix.Threshold },
	"leaf-budget":      func(c *config.Config) { c.Matrix.LeafBudget = flags.Matrix.LeafBudget },
	"launch-threshold": func(c *config.Config) { c.Matrix.LaunchThreshold = flags.Matrix.LaunchThreshold },
	"diag":             func(c *config.Config) { c.Matrix.Diagonal = flags.Matrix.Diagonal },
	"seed":             func(c *config.Config) { c.Matrix.Seed = flags.Matrix.Seed },
	"engine":           func(c *config.Config) { c.Solver.Engine = flags.Solver.Engine },
	"kernel":           func(c *config.Config) { c.Solver.Kernel = flags.Solver.Kernel },
	"workers":          func(c *config.Config) { c.Solver.Workers = flags.Solver.Workers },
	"procs":            func(c *config.Config) { c.Solver.Procs = flags.Solver.Procs },
	"launch":           func(c *config.Config) { c.Solver.Launch = flags.Solver.Launch },
	"levels":           func(c *config.Config) { c.Solver.LaunchLevel = flags.Solver.LaunchLevel },
	"memory-limit":     func(c *config.Config) { c.Solver.MemoryLimit = flags.Solver.MemoryLimit },
	"trace":            func(c *config.Config) { c.Telemetry.TraceExporter = flags.Telemetry.TraceExporter },
	"metrics":          func(c *config.Config) { c.Telemetry.MetricExporter = flags.Telemetry.MetricExporter },
	"otlp-endpoint":    func(c *config.Config) { c.Telemetry.OTLPEndpoint = flags.Telemetry.OTLPEndpoint },
	"metrics-addr":     func(c *config.Config) { c.Telemetry.MetricsAddr = flags.Telemetry.MetricsAddr },
	"solution":         func(c *config.Config) { c.Output.Solution = flags.Output.Solution },
	"record":           func(c *config.Config) { c.Output.Record = flags.Output.Record },
	"charts":           func(c *config.Config) { c.Output.Charts = flags.Output.Charts },
	"plot":             func(c *config.Config) { c.Output.Plot = flags.Output.Plot },
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg = config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	for name, apply := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply(&cfg)
		}
	}
	// compose 子命令总是组合求解，其余子命令总是单会话
	if cmd == composeCmd && cfg.Solver.LaunchLevel <= 0 {
		cfg.Solver.LaunchLevel = flags.Solver.LaunchLevel
	}
	if cmd != composeCmd {
		cfg.Solver.LaunchLevel = 0
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	return cfg.Validate()
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// startTelemetry 安装导出器；Prometheus 导出时在后台提供 /metrics
func startTelemetry(ctx context.Context) (func(context.Context) error, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	if h := telemetry.MetricsHandler(); h != nil && cfg.Telemetry.MetricExporter == "prometheus" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server stopped", slog.Any("error", err))
			}
		}()
		inner := shutdown
		shutdown = func(ctx context.Context) error {
			return errors.Join(srv.Shutdown(ctx), inner(ctx))
		}
	}
	return shutdown, nil
}

func runSolve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	shutdown, err := startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	s, err := fastsolver.NewSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Run(ctx); err != nil {
		return err
	}
	if !verify {
		fmt.Fprintf(cmd.OutOrStdout(), "session %s solved %d rows\n", s.ID, cfg.Matrix.Rows)
		return nil
	}
	e, err := s.Verify()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s relative error %.3e\n", s.ID, e)
	if tolerance > 0 && e > tolerance {
		return fmt.Errorf("relative error %.3e exceeds tolerance %.3e", e, tolerance)
	}
	// 输出文件在校验之后重写，使记录中包含误差
	return s.WriteOutputs()
}

func runInspect(cmd *cobra.Command, _ []string) error {
	s, err := fastsolver.NewSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Build(); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(s.Record)
}
