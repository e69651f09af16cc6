package hypersplit

import (
	"bufio"
	"fmt"
	"io"
)

// Stats 树结构统计
type Stats struct {
	Nodes        int                // 节点总数
	Internal     int                // 内部节点数
	Leaves       int                // 叶子节点数
	EmptyLeaves  int                // 空叶子数
	MaxDepth     int                // 最大深度 (根为 0)
	RuleRefs     int                // 所有叶子中的规则引用总数
	MaxLeafRules int                // 单个叶子的最大规则数
	Replication  float64            // RuleRefs / 规则数
	LeafReasons  map[LeafReason]int // 按生成原因统计的叶子数
}

// Stats walks the tree and summarizes its shape.
func (t *Tree) Stats() Stats {
	s := Stats{LeafReasons: make(map[LeafReason]int)}
	t.Walk(func(_ NodeID, n NodeView, depth int) bool {
		s.Nodes++
		if depth > s.MaxDepth {
			s.MaxDepth = depth
		}
		if !n.Leaf {
			s.Internal++
			return true
		}
		s.Leaves++
		s.LeafReasons[n.Reason]++
		s.RuleRefs += len(n.Rules)
		if len(n.Rules) == 0 {
			s.EmptyLeaves++
		}
		if len(n.Rules) > s.MaxLeafRules {
			s.MaxLeafRules = len(n.Rules)
		}
		return true
	})
	if t.rules.Len() > 0 {
		s.Replication = float64(s.RuleRefs) / float64(t.rules.Len())
	}
	return s
}

// Dump writes the tree in pre-order, one node per block.
func (t *Tree) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	t.Walk(func(id NodeID, n NodeView, depth int) bool {
		if n.Leaf {
			fmt.Fprintf(bw, "%*sLeaf Node #%d depth=%d reason=%s rules=%v\n",
				2*depth, "", id, depth, n.Reason, n.Rules)
			return true
		}
		fmt.Fprintf(bw, "%*sNon-Leaf Node #%d depth=%d split_field=%s split_point=%d\n",
			2*depth, "", id, depth, n.Field, n.Point)
		return true
	})
	return bw.Flush()
}
