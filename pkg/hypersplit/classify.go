package hypersplit

import (
	"hypersplit/pkg/filter"
)

// Classify returns the highest priority rule containing p, or filter.NoMatch.
//
// The descent follows one path: a packet value strictly below the split
// point goes left, anything else goes right. Rules straddling a split point
// were copied into both children, so nothing is lost. The leaf candidates
// only overlap the leaf's region on the split fields, so every candidate is
// checked on all five fields.
func (t *Tree) Classify(p filter.Packet) filter.RuleID {
	n := &t.nodes[0]
	for !n.leaf {
		if p[n.field] < n.point {
			n = &t.nodes[n.left]
		} else {
			n = &t.nodes[n.right]
		}
	}
	for _, id := range n.rules {
		if t.rules.Match(id, p) {
			return id
		}
	}
	return filter.NoMatch
}

// ClassifyAll classifies packets in order.
func (t *Tree) ClassifyAll(packets []filter.Packet) []filter.RuleID {
	out := make([]filter.RuleID, len(packets))
	for i := range packets {
		out[i] = t.Classify(packets[i])
	}
	return out
}

// Linear scans every rule and returns the highest priority match. It is the
// reference the tree must agree with.
func Linear(rules *filter.RuleSet, p filter.Packet) filter.RuleID {
	best := filter.NoMatch
	for i := 0; i < rules.Len(); i++ {
		id := filter.RuleID(i)
		if !rules.Match(id, p) {
			continue
		}
		if best == filter.NoMatch || rules.Less(id, best) {
			best = id
		}
	}
	return best
}
