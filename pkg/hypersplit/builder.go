package hypersplit

import (
	"math"
	"slices"
	"sort"

	"github.com/pkg/errors"

	"hypersplit/pkg/filter"
)

// DefaultMaxDepth bounds the recursion when Options.MaxDepth is not set.
const DefaultMaxDepth = 128

var (
	ErrNegativeBinth = errors.New("binth must not be negative")
	ErrNilRules      = errors.New("rule set is nil")
)

// Options 构建参数
type Options struct {
	Binth    int // 叶子节点最大规则数
	MaxDepth int // 最大深度, <= 0 时使用 DefaultMaxDepth
}

// inherited carries the split field and bounding interval of the parent.
type inherited struct {
	ok    bool
	field filter.Field
	low   uint32
	high  uint32
}

type builder struct {
	rules    *filter.RuleSet
	binth    int
	maxDepth int
	nodes    []node

	// scratch, only valid until the current call partitions its rules
	endpoints [filter.NumFields][]uint32
	weights   []int
}

// Build constructs the tree for every rule in rules.
func Build(rules *filter.RuleSet, opts Options) (*Tree, error) {
	if rules == nil {
		return nil, ErrNilRules
	}
	if opts.Binth < 0 {
		return nil, errors.Wrapf(ErrNegativeBinth, "binth %d", opts.Binth)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	b := &builder{
		rules:    rules,
		binth:    opts.Binth,
		maxDepth: opts.MaxDepth,
		nodes:    make([]node, 0, 2*rules.Len()+1),
	}
	b.build(rules.IDs(), inherited{}, 0)

	return &Tree{
		nodes: b.nodes,
		rules: rules,
		binth: opts.Binth,
	}, nil
}

func (b *builder) alloc() NodeID {
	b.nodes = append(b.nodes, node{left: noNode, right: noNode})
	return NodeID(len(b.nodes) - 1)
}

func (b *builder) build(ids []filter.RuleID, in inherited, depth int) NodeID {
	id := b.alloc()

	if len(ids) <= b.binth {
		b.leaf(id, ids, ReasonThreshold)
		return id
	}
	if depth >= b.maxDepth {
		b.leaf(id, ids, ReasonDepthLimit)
		return id
	}

	field, ok := b.selectField(ids)
	if !ok {
		b.leaf(id, ids, ReasonUnsplittable)
		return id
	}
	ep := b.endpoints[field]
	low, high := ep[0], ep[len(ep)-1]

	// Same field and same bounds as the parent: splitting again cannot help.
	if in.ok && in.field == field && in.low == low && in.high == high {
		b.leaf(id, ids, ReasonConverged)
		return id
	}

	point := b.splitPoint(field, ids)
	left, right := b.partition(ids, field, point)
	if len(left) == len(ids) && len(right) == len(ids) {
		b.leaf(id, ids, ReasonNoProgress)
		return id
	}

	next := inherited{ok: true, field: field, low: low, high: high}
	l := b.build(left, next, depth+1)
	r := b.build(right, next, depth+1)

	// b.nodes may have grown during recursion
	n := &b.nodes[id]
	n.field = field
	n.point = point
	n.left = l
	n.right = r
	return id
}

func (b *builder) leaf(id NodeID, ids []filter.RuleID, reason LeafReason) {
	rules := make([]filter.RuleID, len(ids))
	copy(rules, ids)
	sort.Slice(rules, func(i, j int) bool {
		return b.rules.Less(rules[i], rules[j])
	})

	n := &b.nodes[id]
	n.leaf = true
	n.rules = rules
	n.reason = reason
}

// selectField fills b.endpoints for every field and returns the field whose
// segments have the lowest average weight. Ties go to the lower field index.
// Fields with a single distinct endpoint have no segments and are skipped.
func (b *builder) selectField(ids []filter.RuleID) (filter.Field, bool) {
	best, found := filter.Field(0), false
	bestAvg := math.Inf(1)

	for f := filter.Field(0); f < filter.NumFields; f++ {
		ep := endpoints(b.endpoints[f][:0], b.rules, ids, f)
		b.endpoints[f] = ep
		if len(ep) < 2 {
			continue
		}

		b.weights = segmentWeights(b.weights, b.rules, ids, f, ep)
		sum := 0
		for _, w := range b.weights {
			sum += w
		}
		avg := float64(sum) / float64(len(b.weights))
		if avg < bestAvg {
			best, bestAvg, found = f, avg, true
		}
	}
	return best, found
}

// splitPoint walks the segment weights of field f, leaving out the last
// segment, and returns the endpoint at the first boundary where the weight
// accumulated before it reaches half of the total. When no boundary
// qualifies the last endpoint is used.
func (b *builder) splitPoint(f filter.Field, ids []filter.RuleID) uint32 {
	ep := b.endpoints[f]
	b.weights = segmentWeights(b.weights, b.rules, ids, f, ep)
	weights := b.weights[:len(b.weights)-1]

	total := 0
	for _, w := range weights {
		total += w
	}
	half := total / 2

	acc := 0
	for i, w := range weights {
		if acc >= half {
			return ep[i]
		}
		acc += w
	}
	return ep[len(ep)-1]
}

// partition places rules below point left, rules above point right and
// rules straddling point in both children.
func (b *builder) partition(ids []filter.RuleID, f filter.Field, point uint32) (left, right []filter.RuleID) {
	for _, id := range ids {
		r := b.rules.At(id).Fields[f]
		switch {
		case r.High < point:
			left = append(left, id)
		case r.Low > point:
			right = append(right, id)
		default:
			left = append(left, id)
			right = append(right, id)
		}
	}
	return left, right
}

// endpoints returns the sorted distinct low and high bounds of field f.
func endpoints(dst []uint32, rules *filter.RuleSet, ids []filter.RuleID, f filter.Field) []uint32 {
	for _, id := range ids {
		r := rules.At(id).Fields[f]
		dst = append(dst, r.Low, r.High)
	}
	slices.Sort(dst)
	return slices.Compact(dst)
}

// segmentWeights returns, for each segment [ep[j], ep[j+1]], the number of
// rules whose range on f covers it. Both bounds of every rule are endpoints,
// so a rule covers exactly the segments between the index of its low and
// the index of its high; a difference array turns that into one pass.
func segmentWeights(dst []int, rules *filter.RuleSet, ids []filter.RuleID, f filter.Field, ep []uint32) []int {
	n := len(ep) - 1
	if cap(dst) < n+1 {
		dst = make([]int, n+1)
	}
	dst = dst[:n+1]
	clear(dst)

	for _, id := range ids {
		r := rules.At(id).Fields[f]
		lo, _ := slices.BinarySearch(ep, r.Low)
		hi, _ := slices.BinarySearch(ep, r.High)
		dst[lo]++
		dst[hi]--
	}
	for j := 1; j < n; j++ {
		dst[j] += dst[j-1]
	}
	return dst[:n]
}
