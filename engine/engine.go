// Package engine 按数据块访问声明推导先后关系的任务执行引擎
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// ErrDependency 前序任务失败导致当前任务未执行
var ErrDependency = errors.New("dependency failed")

// Access 数据块访问模式
type Access uint8

const (
	ReadOnly     Access = iota // 只读
	ReadWrite                  // 独占读写
	WriteDiscard               // 覆盖写，不关心旧值
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	case WriteDiscard:
		return "write_discard"
	}
	return fmt.Sprintf("access(%d)", a)
}

// Requirement 任务对单个数据块的访问声明
type Requirement struct {
	Block  *maths.Block
	Access Access
}

// RO 只读声明
func RO(b *maths.Block) Requirement { return Requirement{Block: b, Access: ReadOnly} }

// RW 读写声明
func RW(b *maths.Block) Requirement { return Requirement{Block: b, Access: ReadWrite} }

// WD 覆盖写声明
func WD(b *maths.Block) Requirement { return Requirement{Block: b, Access: WriteDiscard} }

// Task 提交给引擎的一次操作
type Task struct {
	Name         string
	Tag          types.Range // 亲和标签，仅透传给执行端
	Requirements []Requirement
	Run          func(ctx context.Context) (any, error)
}

// Future 任务结果
type Future interface {
	// Get 阻塞直到任务结束
	Get() (any, error)
	// Done 任务结束时关闭
	Done() <-chan struct{}
}

// Engine 任务执行引擎
type Engine interface {
	// Submit 按提交顺序登记任务，不等待其完成
	Submit(task Task) Future
	// Wait 等待全部已提交任务结束，返回首个失败
	Wait(ctx context.Context) error
}

// WaitAll 等待一组结果，按顺序收集返回值
func WaitAll(list ...Future) ([]any, error) {
	values := make([]any, len(list))
	var first error
	for i, f := range list {
		v, err := f.Get()
		if err != nil && first == nil {
			first = err
		}
		values[i] = v
	}
	return values, first
}

// future Future 实现
type future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) resolve(v any, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func (f *future) Get() (any, error) {
	<-f.done
	return f.val, f.err
}

func (f *future) Done() <-chan struct{} { return f.done }

// Resolved 返回已完成的结果
func Resolved(v any, err error) Future {
	f := newFuture()
	f.resolve(v, err)
	return f
}

// skipped 依赖失败时的错误，保留根因
func skipped(name string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependency, name, cause)
}
