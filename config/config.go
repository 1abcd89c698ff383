// Package config 求解会话配置
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Charles-Chao-Chen/FastSolver/htree"
	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gopkg.in/yaml.v3"
)

// Matrix 矩阵结构
type Matrix struct {
	Rows            int     `yaml:"rows" json:"rows"`
	RHSCols         int     `yaml:"rhs_cols" json:"rhs_cols"`
	Rank            int     `yaml:"rank" json:"rank"`
	Threshold       int     `yaml:"threshold" json:"threshold"`
	LeafBudget      int     `yaml:"leaf_budget" json:"leaf_budget"`
	LaunchThreshold int     `yaml:"launch_threshold" json:"launch_threshold"`
	Diagonal        float64 `yaml:"diagonal" json:"diagonal"`
	Seed            int64   `yaml:"seed" json:"seed"`
}

// Solver 调度与执行
type Solver struct {
	Engine      string `yaml:"engine" json:"engine"`             // serial | parallel
	Kernel      string `yaml:"kernel" json:"kernel"`             // blocked | reference
	Workers     int    `yaml:"workers" json:"workers"`           // 并行引擎并发上限，0 为 GOMAXPROCS
	Procs       int    `yaml:"procs" json:"procs"`               // 亲和标签宽度
	Launch      bool   `yaml:"launch" json:"launch"`             // 发射边界粗粒度任务
	LaunchLevel int    `yaml:"launch_level" json:"launch_level"` // 组合求解的子问题层数
	MemoryLimit int64  `yaml:"memory_limit" json:"memory_limit"` // 数据块字节上限，0 不限制
}

// Telemetry 观测数据导出
type Telemetry struct {
	TraceExporter  string `yaml:"trace_exporter" json:"trace_exporter"`   // otlp | stdout | none
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter"` // prometheus | stdout | none
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	MetricsAddr    string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Output 结果与诊断文件，空字符串表示不输出
type Output struct {
	Solution string `yaml:"solution" json:"solution"`
	Record   string `yaml:"record" json:"record"`
	Charts   string `yaml:"charts" json:"charts"`
	Plot     string `yaml:"plot" json:"plot"`
}

// Config 完整配置
type Config struct {
	Matrix    Matrix    `yaml:"matrix" json:"matrix"`
	Solver    Solver    `yaml:"solver" json:"solver"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
	Output    Output    `yaml:"output" json:"output"`
	LogLevel  string    `yaml:"log_level" json:"log_level"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Matrix: Matrix{
			Rows:       types.DefaultThreshold << types.DefaultLevels,
			RHSCols:    types.DefaultRHSCols,
			Rank:       types.DefaultRank,
			Threshold:  types.DefaultThreshold,
			LeafBudget: types.DefaultLeafBudget,
			Diagonal:   types.DefaultDiagonal,
			Seed:       types.DefaultSeed,
		},
		Solver: Solver{
			Engine: "parallel",
			Kernel: "blocked",
			Procs:  4,
		},
		Telemetry: Telemetry{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
			MetricsAddr:    ":9090",
		},
		LogLevel: "info",
	}
}

// Load 读取 YAML 配置，未出现的字段保持默认值
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save 写出 YAML 配置
func (c Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Params 树结构参数
func (c Config) Params() htree.Params {
	return htree.Params{
		Rows:            c.Matrix.Rows,
		RHSCols:         c.Matrix.RHSCols,
		Rank:            c.Matrix.Rank,
		Threshold:       c.Matrix.Threshold,
		LeafBudget:      c.Matrix.LeafBudget,
		LaunchThreshold: c.Matrix.LaunchThreshold,
	}
}

// Validate 配置检查
func (c Config) Validate() error {
	var errs []error
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Solver.Engine {
	case "serial", "parallel":
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Solver.Engine))
	}
	switch c.Solver.Kernel {
	case "", "blocked", "reference":
	default:
		errs = append(errs, fmt.Errorf("unknown kernel %q", c.Solver.Kernel))
	}
	if c.Solver.Procs <= 0 {
		errs = append(errs, fmt.Errorf("procs must be positive, got %d", c.Solver.Procs))
	}
	if c.Solver.LaunchLevel < 0 {
		errs = append(errs, fmt.Errorf("launch level must not be negative, got %d", c.Solver.LaunchLevel))
	}
	if c.Solver.LaunchLevel > 0 && c.Matrix.Rows%(1<<c.Solver.LaunchLevel) != 0 {
		errs = append(errs, fmt.Errorf("rows %d not divisible into %d sub-problems",
			c.Matrix.Rows, 1<<c.Solver.LaunchLevel))
	}
	if c.Solver.Workers < 0 || c.Solver.MemoryLimit < 0 {
		errs = append(errs, errors.New("workers and memory limit must not be negative"))
	}
	return errors.Join(errs...)
}
