package types

// 默认参数常量定义
var (
	DefaultRank       = 6     // 非对角块目标秩
	DefaultThreshold  = 15    // 稠密叶子行数阈值
	DefaultLeafBudget = 1     // 粒度叶子包含的真实叶子数
	DefaultRHSCols    = 2     // 右端项列数
	DefaultDiagonal   = 10.0  // 稠密块对角增量
	DefaultSeed int64 = 1123  // 随机右端项种子
	DefaultTolerance  = 1e-10 // 与参考解比较的相对误差上限
)

// 默认树规模常量定义
const (
	DefaultLevels = 5 // 默认树深度，行数 = Threshold * 2^Levels
)
