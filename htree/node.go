// Package htree 层次非对角低秩（HODLR）矩阵的树模型
package htree

import (
	"errors"
	"fmt"

	"github.com/Charles-Chao-Chen/FastSolver/maths"
	"github.com/Charles-Chao-Chen/FastSolver/types"
)

// ErrStructure 树结构不合法
var ErrStructure = errors.New("malformed tree")

// NodeID 节点在 Forest 中的下标
type NodeID int32

// Nil 空节点
const Nil NodeID = -1

// Kind 节点所属的树
type Kind uint8

const (
	KindU Kind = iota // 低秩因子树
	KindV                 // 耦合基树
	KindH                 // 投影树
)

func (k Kind) String() string {
	switch k {
	case KindU:
		return "U"
	case KindV:
		return "V"
	case KindH:
		return "H"
	}
	return "?"
}

// Node 树节点
type Node struct {
	Kind     Kind
	RowBegin int // 行起始位置
	RowCount int // 行数
	ColBegin int // 列起始位置
	ColCount int // 向父节点贡献的低秩列数
	Left     NodeID
	Right    NodeID

	Block     *maths.Block // 低秩因子或投影数据，仅粒度叶子及投影叶子持有
	Dense     *maths.Block // 稠密对角块，仅粒度叶子 V 节点持有
	Projector NodeID       // V 节点的投影树根

	GranularityLeaf bool // 粒度叶子
	LaunchBoundary  bool // 发射边界
}

// IsLeaf 是否真实叶子
func (n *Node) IsLeaf() bool { return n.Left == Nil }

// Rows 行区间
func (n *Node) Rows() types.Range { return types.NewRange(n.RowBegin, n.RowCount) }

// Cols 列区间
func (n *Node) Cols() types.Range { return types.NewRange(n.ColBegin, n.ColCount) }

// Rank 向父节点贡献的低秩列数
func (n *Node) Rank() int { return n.ColCount }

func (n *Node) String() string {
	return fmt.Sprintf("%s%s%s", n.Kind, n.Rows(), n.Cols())
}

// Forest 节点池，U、V、H 三类树共用
// Node 返回的指针在下一次 add 之前有效
type Forest struct {
	nodes []Node
}

// NewForest 创建节点池
func NewForest() *Forest { return &Forest{} }

func (f *Forest) add(n Node) NodeID {
	f.nodes = append(f.nodes, n)
	return NodeID(len(f.nodes) - 1)
}

// NewNode 新建无子节点
func (f *Forest) NewNode(kind Kind, rowBegin, rowCount, colBegin, colCount int) NodeID {
	return f.add(Node{
		Kind:      kind,
		RowBegin:  rowBegin,
		RowCount:  rowCount,
		ColBegin:  colBegin,
		ColCount:  colCount,
		Left:      Nil,
		Right:     Nil,
		Projector: Nil,
	})
}

// Node 取节点
func (f *Forest) Node(id NodeID) *Node { return &f.nodes[id] }

// Len 节点总数
func (f *Forest) Len() int { return len(f.nodes) }

// Walk 先序遍历，fn 返回 false 时不再进入子树
func (f *Forest) Walk(id NodeID, fn func(id NodeID) bool) {
	if id == Nil || !fn(id) {
		return
	}
	n := f.Node(id)
	left, right := n.Left, n.Right
	f.Walk(left, fn)
	f.Walk(right, fn)
}

// Leaves 子树中的真实叶子，从左到右
func (f *Forest) Leaves(id NodeID) []NodeID {
	var list []NodeID
	f.Walk(id, func(x NodeID) bool {
		if f.Node(x).IsLeaf() {
			list = append(list, x)
		}
		return true
	})
	return list
}

// GranularityLeaves 子树中的粒度叶子，从左到右
func (f *Forest) GranularityLeaves(id NodeID) []NodeID {
	var list []NodeID
	f.Walk(id, func(x NodeID) bool {
		if f.Node(x).GranularityLeaf {
			list = append(list, x)
			return false
		}
		return true
	})
	return list
}

// Depth 子树所需列数：本节点列数加上子节点中的最大值
func (f *Forest) Depth(id NodeID) int {
	n := f.Node(id)
	if n.IsLeaf() {
		return n.ColCount
	}
	return n.ColCount + max(f.Depth(n.Left), f.Depth(n.Right))
}

// MaxLeafRows 子树中最大真实叶子行数
func (f *Forest) MaxLeafRows(id NodeID) int {
	n := f.Node(id)
	if n.IsLeaf() {
		return n.RowCount
	}
	return max(f.MaxLeafRows(n.Left), f.MaxLeafRows(n.Right))
}

// Height 子树高度，叶子为 0
func (f *Forest) Height(id NodeID) int {
	n := f.Node(id)
	if n.IsLeaf() {
		return 0
	}
	return 1 + max(f.Height(n.Left), f.Height(n.Right))
}

// NodeError 带节点位置的结构错误
type NodeError struct {
	Kind Kind
	Rows types.Range
	Cols types.Range
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s node rows %s cols %s: %v", e.Kind, e.Rows, e.Cols, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// structural 生成结构错误
func structural(n *Node, format string, args ...any) error {
	return &NodeError{
		Kind: n.Kind,
		Rows: n.Rows(),
		Cols: n.Cols(),
		Err:  fmt.Errorf("%w: %s", ErrStructure, fmt.Sprintf(format, args...)),
	}
}
