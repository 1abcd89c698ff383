package types

import "fmt"

// Range 半开区间 [Begin, Begin+Size)
// 既用于行列范围，也用作递归二分的亲和标签
type Range struct {
	Begin int // 起始位置
	Size  int // 区间长度
}

// NewRange 创建区间
func NewRange(begin, size int) Range { return Range{Begin: begin, Size: size} }

// End 区间结束位置（不含）
func (r Range) End() int { return r.Begin + r.Size }

// LChild 左半区间
func (r Range) LChild() Range { return Range{Begin: r.Begin, Size: r.Size / 2} }

// RChild 右半区间，奇数长度时多出的一个元素归右侧
func (r Range) RChild() Range {
	half := r.Size / 2
	return Range{Begin: r.Begin + half, Size: r.Size - half}
}

// Split 连续二分 level 次，按从左到右顺序返回 2^level 个标签
func (r Range) Split(level int) []Range {
	if level <= 0 {
		return []Range{r}
	}
	list := make([]Range, 0, 1<<level)
	list = append(list, r.LChild().Split(level-1)...)
	return append(list, r.RChild().Split(level-1)...)
}

// Contains 是否包含位置 i
func (r Range) Contains(i int) bool { return i >= r.Begin && i < r.End() }

// Empty 是否为空区间
func (r Range) Empty() bool { return r.Size <= 0 }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Begin, r.End()) }
