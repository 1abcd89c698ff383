package maths

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrAllocation 数据块分配失败
	ErrAllocation = errors.New("block allocation failed")
	// ErrReleased 数据块重复释放
	ErrReleased = errors.New("block already released")
)

// Block 二维稠密数据块句柄
// 数据只能在声明了访问模式的任务中修改
type Block struct {
	id   uint64
	rows int
	cols int
	data *mat.Dense // 零尺寸时为空
}

// ID 会话内唯一编号
func (b *Block) ID() uint64 { return b.id }

// Rows 行数
func (b *Block) Rows() int { return b.rows }

// Cols 列数
func (b *Block) Cols() int { return b.cols }

// Bytes 占用字节数
func (b *Block) Bytes() int64 { return int64(b.rows) * int64(b.cols) * 8 }

// Dense 底层矩阵，零尺寸数据块返回 nil
func (b *Block) Dense() *mat.Dense {
	if b == nil {
		return nil
	}
	return b.data
}

// View 行 [i,k) 列 [j,l) 的子矩阵视图，不复制数据
func (b *Block) View(i, k, j, l int) *mat.Dense { return View(b.Dense(), i, k, j, l) }

func (b *Block) String() string {
	if b == nil {
		return "block(nil)"
	}
	return fmt.Sprintf("block#%d(%dx%d)", b.id, b.rows, b.cols)
}

// Allocator 数据块分配器
// limit 为字节上限，0 表示不限制
type Allocator struct {
	mu    sync.Mutex
	next  uint64
	limit int64
	inUse int64
	peak  int64
	live  map[*Block]struct{}
}

// NewAllocator 创建分配器
func NewAllocator(limit int64) *Allocator {
	return &Allocator{limit: limit, live: make(map[*Block]struct{})}
}

// Create 分配 rows×cols 数据块（内容未定义）
func (a *Allocator) Create(rows, cols int) (*Block, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: negative shape %dx%d", ErrAllocation, rows, cols)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b := &Block{rows: rows, cols: cols}
	if err := a.reserve(b.Bytes()); err != nil {
		return nil, err
	}
	a.next++
	b.id = a.next
	if rows > 0 && cols > 0 {
		b.data = mat.NewDense(rows, cols, nil)
	}
	a.live[b] = struct{}{}
	return b, nil
}

// Adopt 接管其它分配器创建的数据块
func (a *Allocator) Adopt(b *Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[b]; ok {
		return nil
	}
	if err := a.reserve(b.Bytes()); err != nil {
		return err
	}
	a.live[b] = struct{}{}
	return nil
}

// Release 释放数据块
func (a *Allocator) Release(b *Block) error {
	if b == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[b]; !ok {
		return fmt.Errorf("%w: %s", ErrReleased, b)
	}
	delete(a.live, b)
	a.inUse -= b.Bytes()
	return nil
}

// reserve 预留字节，调用方持有锁
func (a *Allocator) reserve(n int64) error {
	if a.limit > 0 && a.inUse+n > a.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrAllocation, n, a.inUse, a.limit)
	}
	a.inUse += n
	a.peak = max(a.peak, a.inUse)
	return nil
}

// InUse 当前占用字节
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Peak 峰值占用字节
func (a *Allocator) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// Live 存活数据块数量
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
