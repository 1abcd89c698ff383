package htree

// BuildBalancedTree 递归二分构造平衡树
// 行数超过 threshold 的节点拆分为 ⌊n/2⌋ 与 n-⌊n/2⌋ 两个子节点，
// 子节点各贡献 rank 列；否则为真实叶子，要求行数大于 rank
func (f *Forest) BuildBalancedTree(id NodeID, rank, threshold int) error {
	n := f.Node(id)
	if n.RowCount <= threshold {
		if n.RowCount <= rank {
			return structural(n, "leaf size %d not larger than rank %d", n.RowCount, rank)
		}
		return nil
	}
	rows := n.Rows()
	kind, colBegin := n.Kind, n.ColBegin+n.ColCount
	l := f.NewNode(kind, rows.LChild().Begin, rows.LChild().Size, colBegin, rank)
	r := f.NewNode(kind, rows.RChild().Begin, rows.RChild().Size, colBegin, rank)
	n = f.Node(id)
	n.Left, n.Right = l, r
	if err := f.BuildBalancedTree(l, rank, threshold); err != nil {
		return err
	}
	return f.BuildBalancedTree(r, rank, threshold)
}

// MarkGranularityLeaves 后序标记粒度叶子
// 返回子树真实叶子数；叶子数不超过 budget 的最高节点被标记，
// 其子孙的标记被撤销，counter 记录当前标记总数
func (f *Forest) MarkGranularityLeaves(id NodeID, budget int, counter *int) int {
	n := f.Node(id)
	count := 1
	if !n.IsLeaf() {
		count = f.MarkGranularityLeaves(n.Left, budget, counter) +
			f.MarkGranularityLeaves(n.Right, budget, counter)
	}
	if count <= budget {
		f.promote(id, func(n *Node) *bool { return &n.GranularityLeaf }, counter)
	}
	return count
}

// MarkLaunchBoundary 后序标记发射边界，规则同粒度叶子，
// 计数单位为粒度叶子；threshold 不大于 0 时不做标记
func (f *Forest) MarkLaunchBoundary(id NodeID, threshold int, counter *int) int {
	n := f.Node(id)
	count := 1
	if !n.GranularityLeaf {
		if n.IsLeaf() {
			return 0
		}
		count = f.MarkLaunchBoundary(n.Left, threshold, counter) +
			f.MarkLaunchBoundary(n.Right, threshold, counter)
	}
	if threshold > 0 && count <= threshold {
		f.promote(id, func(n *Node) *bool { return &n.LaunchBoundary }, counter)
	}
	return count
}

// promote 标记节点并撤销两个子节点的同类标记
func (f *Forest) promote(id NodeID, flag func(*Node) *bool, counter *int) {
	n := f.Node(id)
	if !n.IsLeaf() {
		for _, c := range [2]NodeID{n.Left, n.Right} {
			if p := flag(f.Node(c)); *p {
				*p = false
				*counter--
			}
		}
	}
	*flag(n) = true
	*counter++
}

// MirrorVTree 按 U 树逐节点构造 V 树
// 兄弟节点的列数互换：左 V 子节点取右 U 子节点的列数，反之亦然。
// 粒度叶子以下的 V 节点 ColBegin 为其在粒度叶子 V 数据块中的列偏移
func (f *Forest) MirrorVTree(u NodeID) NodeID {
	un := f.Node(u)
	v := f.NewNode(KindV, un.RowBegin, un.RowCount, 0, 0)
	f.mirror(u, v, false)
	return v
}

func (f *Forest) mirror(u, v NodeID, inside bool) {
	un := *f.Node(u)
	vn := f.Node(v)
	vn.GranularityLeaf = un.GranularityLeaf
	vn.LaunchBoundary = un.LaunchBoundary
	if un.IsLeaf() {
		return
	}
	colBegin := 0
	if inside {
		colBegin = vn.ColBegin + vn.ColCount
	}
	ul, ur := *f.Node(un.Left), *f.Node(un.Right)
	l := f.NewNode(KindV, ul.RowBegin, ul.RowCount, colBegin, ur.ColCount)
	r := f.NewNode(KindV, ur.RowBegin, ur.RowCount, colBegin, ul.ColCount)
	vn = f.Node(v)
	vn.Left, vn.Right = l, r
	below := inside || un.GranularityLeaf
	f.mirror(un.Left, l, below)
	f.mirror(un.Right, r, below)
}
