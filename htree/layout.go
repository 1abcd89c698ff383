package htree

import "github.com/Charles-Chao-Chen/FastSolver/types"

// LocalNode 粒度叶子内部节点，行坐标相对于粒度叶子
type LocalNode struct {
	Rows  types.Range // 行区间
	UCols types.Range // 本节点低秩列在 U 数据块中的位置
	VCols types.Range // 同位置 V 节点的基在 V 数据块中的位置，根为空
	Left  int         // 子节点下标，-1 表示真实叶子
	Right int
}

// IsLeaf 是否真实叶子
func (n LocalNode) IsLeaf() bool { return n.Left < 0 }

// Layout 粒度叶子的自包含描述，数值内核只依赖它与三个数据块
type Layout struct {
	Nodes []LocalNode // Nodes[0] 为粒度叶子本身
	Row   types.Range // 全局行区间
	Col   types.Range // 粒度叶子的列区间
}

// Width 叶子求解覆盖的 U 列数：前缀加本节点低秩列
func (l Layout) Width() int { return l.Nodes[0].UCols.End() }

// Layout 生成粒度叶子 p 的局部描述
func (m *Matrix) Layout(p Pair) Layout {
	un := m.Node(p.U)
	out := Layout{Row: un.Rows(), Col: un.Cols()}
	m.layout(&out, p, un.RowBegin, true)
	return out
}

func (m *Matrix) layout(out *Layout, p Pair, base int, root bool) int {
	un, vn := m.Node(p.U), m.Node(p.V)
	idx := len(out.Nodes)
	node := LocalNode{
		Rows:  types.NewRange(un.RowBegin-base, un.RowCount),
		UCols: un.Cols(),
		Left:  -1,
		Right: -1,
	}
	if !root {
		node.VCols = vn.Cols()
	}
	out.Nodes = append(out.Nodes, node)
	if un.IsLeaf() {
		return idx
	}
	l, r := m.Children(p)
	li := m.layout(out, l, base, false)
	ri := m.layout(out, r, base, false)
	out.Nodes[idx].Left, out.Nodes[idx].Right = li, ri
	return idx
}
