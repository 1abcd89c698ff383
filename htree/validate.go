package htree

import (
	"github.com/kelindar/bitmap"
)

// Validate 检查树结构的全部不变量
func (m *Matrix) Validate() error {
	if err := m.validateShape(m.U, false, false); err != nil {
		return err
	}
	if err := m.validateCoverage(); err != nil {
		return err
	}
	if err := m.validateMirror(m.U, m.V); err != nil {
		return err
	}
	return m.validateBlocks(m.Root())
}

// validateShape 二叉结构、叶子大小、行划分与标记单调性
func (m *Matrix) validateShape(id NodeID, granular, launched bool) error {
	n := m.Node(id)
	if n.GranularityLeaf && granular {
		return structural(n, "granularity leaf nested under another granularity leaf")
	}
	if n.LaunchBoundary && (launched || granular) {
		return structural(n, "launch boundary nested or below granularity boundary")
	}
	if (n.Left == Nil) != (n.Right == Nil) {
		return structural(n, "node has exactly one child")
	}
	granular = granular || n.GranularityLeaf
	launched = launched || n.LaunchBoundary
	if n.IsLeaf() {
		if n.RowCount <= m.Rank {
			return structural(n, "leaf size %d not larger than rank %d", n.RowCount, m.Rank)
		}
		if !granular {
			return structural(n, "real leaf not covered by a granularity leaf")
		}
		return nil
	}
	l, r := m.Node(n.Left), m.Node(n.Right)
	if l.RowBegin != n.RowBegin || r.RowBegin != l.RowBegin+l.RowCount || l.RowCount+r.RowCount != n.RowCount {
		return structural(n, "children rows %s %s do not partition parent", l.Rows(), r.Rows())
	}
	if l.ColBegin != n.ColBegin+n.ColCount || r.ColBegin != l.ColBegin {
		return structural(n, "children column layout %s %s inconsistent", l.Cols(), r.Cols())
	}
	if err := m.validateShape(n.Left, granular, launched); err != nil {
		return err
	}
	return m.validateShape(n.Right, granular, launched)
}

// validateCoverage 真实叶子与粒度叶子各自恰好覆盖全部行
func (m *Matrix) validateCoverage() error {
	root := m.Node(m.U)
	check := func(list []NodeID, what string) error {
		var cover bitmap.Bitmap
		for _, id := range list {
			n := m.Node(id)
			for i := n.RowBegin; i < n.RowBegin+n.RowCount; i++ {
				if i < 0 || i >= root.RowCount {
					return structural(n, "%s row %d outside matrix", what, i)
				}
				if cover.Contains(uint32(i)) {
					return structural(n, "%s row %d covered twice", what, i)
				}
				cover.Set(uint32(i))
			}
		}
		if cover.Count() != root.RowCount {
			return structural(root, "%s cover %d of %d rows", what, cover.Count(), root.RowCount)
		}
		return nil
	}
	if err := check(m.Leaves(m.U), "real leaves"); err != nil {
		return err
	}
	return check(m.GranularityLeaves(m.U), "granularity leaves")
}

// validateMirror V 树与 U 树同形，兄弟列数互换，标记一致
func (m *Matrix) validateMirror(u, v NodeID) error {
	un, vn := m.Node(u), m.Node(v)
	if vn.Kind != KindV || un.Rows() != vn.Rows() {
		return structural(vn, "V node does not mirror %s", un)
	}
	if un.GranularityLeaf != vn.GranularityLeaf || un.LaunchBoundary != vn.LaunchBoundary {
		return structural(vn, "V node marking differs from %s", un)
	}
	if un.IsLeaf() != vn.IsLeaf() {
		return structural(vn, "V node shape differs from %s", un)
	}
	if un.IsLeaf() {
		return nil
	}
	if m.Node(vn.Left).ColCount != m.Node(un.Right).ColCount ||
		m.Node(vn.Right).ColCount != m.Node(un.Left).ColCount {
		return structural(vn, "V children ranks not swapped")
	}
	if err := m.validateMirror(un.Left, vn.Left); err != nil {
		return err
	}
	return m.validateMirror(un.Right, vn.Right)
}

// validateBlocks 数据块与投影树的存在性和形状
func (m *Matrix) validateBlocks(p Pair) error {
	un, vn := m.Node(p.U), m.Node(p.V)
	if un.GranularityLeaf {
		if un.Block != nil && (un.Block.Rows() != un.RowCount || un.Block.Cols() != m.UWidth(p.U)) {
			return structural(un, "U block %s, want %dx%d", un.Block, un.RowCount, m.UWidth(p.U))
		}
		if vn.Projector != Nil {
			return structural(vn, "granularity leaf owns a projector")
		}
		if vn.Block == nil || vn.Dense == nil {
			return structural(vn, "granularity leaf without coupling blocks")
		}
		if vn.Block.Rows() != vn.RowCount || vn.Block.Cols() != m.Depth(p.V)-vn.ColCount {
			return structural(vn, "V block %s has wrong shape", vn.Block)
		}
		if vn.Dense.Rows() != vn.RowCount || vn.Dense.Cols() != m.MaxLeafRows(p.V) {
			return structural(vn, "dense block %s has wrong shape", vn.Dense)
		}
		return nil
	}
	if un.Block != nil || vn.Block != nil || vn.Dense != nil {
		return structural(un, "data block above granularity boundary")
	}
	if vn.Projector == Nil {
		return structural(vn, "internal node without projector")
	}
	h := m.Node(vn.Projector)
	l, r := m.Children(p)
	if err := m.validateProjector(h.Left, l.V, m.Node(l.V).ColCount); err != nil {
		return err
	}
	if err := m.validateProjector(h.Right, r.V, m.Node(r.V).ColCount); err != nil {
		return err
	}
	if err := m.validateBlocks(l); err != nil {
		return err
	}
	return m.validateBlocks(r)
}

// validateProjector 投影树镜像 V 子树直到粒度边界
func (m *Matrix) validateProjector(h, v NodeID, cols int) error {
	if h == Nil {
		return structural(m.Node(v), "missing projector subtree")
	}
	hn, vn := m.Node(h), m.Node(v)
	if hn.Rows() != vn.Rows() || hn.ColCount != cols {
		return structural(hn, "projector does not mirror %s", vn)
	}
	if vn.GranularityLeaf {
		if hn.Block == nil || hn.Block.Rows() != hn.RowCount || hn.Block.Cols() != cols {
			return structural(hn, "projector leaf block %s has wrong shape", hn.Block)
		}
		return nil
	}
	if err := m.validateProjector(hn.Left, vn.Left, cols); err != nil {
		return err
	}
	return m.validateProjector(hn.Right, vn.Right, cols)
}
