package hypersplit

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypersplit/pkg/filter"
)

func uniform(lo, hi uint32) [filter.NumFields]filter.Range {
	var f [filter.NumFields]filter.Range
	for i := range f {
		f[i] = filter.Range{Low: lo, High: hi}
	}
	return f
}

func mustRuleSet(t testing.TB, rules []filter.Rule) *filter.RuleSet {
	t.Helper()
	for i := range rules {
		rules[i].Priority = uint32(i)
	}
	set, err := filter.NewRuleSet(rules)
	require.NoError(t, err)
	return set
}

func mustBuild(t testing.TB, set *filter.RuleSet, binth int) *Tree {
	t.Helper()
	tree, err := Build(set, Options{Binth: binth})
	require.NoError(t, err)
	return tree
}

// sportRules differ only on the source port, so that field is selected.
func sportRules(t testing.TB) *filter.RuleSet {
	ports := []filter.Range{{Low: 0, High: 10}, {Low: 20, High: 30}, {Low: 5, High: 25}, {Low: 40, High: 50}}
	rules := make([]filter.Rule, len(ports))
	for i, r := range ports {
		rules[i].Fields = uniform(0, 100)
		rules[i].Fields[filter.FieldSrcPort] = r
	}
	return mustRuleSet(t, rules)
}

func randomRules(rng *rand.Rand, n int, span uint32) []filter.Rule {
	rules := make([]filter.Rule, n)
	for i := range rules {
		for f := 0; f < filter.NumFields; f++ {
			a, b := uint32(rng.Intn(int(span))), uint32(rng.Intn(int(span)))
			if a > b {
				a, b = b, a
			}
			// keep some wildcards around, like real ACLs
			if rng.Intn(4) == 0 {
				a, b = 0, span-1
			}
			rules[i].Fields[f] = filter.Range{Low: a, High: b}
		}
	}
	return rules
}

func randomPacket(rng *rand.Rand, span uint32) filter.Packet {
	var p filter.Packet
	for f := range p {
		p[f] = uint32(rng.Intn(int(span) + 2))
	}
	return p
}

func TestScenarioSingleRuleLeaf(t *testing.T) {
	set := mustRuleSet(t, []filter.Rule{{Fields: uniform(0, 10)}})
	tree := mustBuild(t, set, 1)

	require.Equal(t, 1, tree.Len())
	root := tree.Node(tree.Root())
	assert.True(t, root.Leaf)
	assert.Equal(t, ReasonThreshold, root.Reason)

	assert.Equal(t, filter.RuleID(0), tree.Classify(filter.Packet{5, 5, 5, 5, 5}))
	assert.Equal(t, filter.NoMatch, tree.Classify(filter.Packet{11, 0, 0, 0, 0}))
}

func TestScenarioLowerPriorityNumberWins(t *testing.T) {
	set := mustRuleSet(t, []filter.Rule{
		{Fields: uniform(0, 100)},
		{Fields: uniform(10, 20)},
	})
	tree := mustBuild(t, set, 1)

	assert.Equal(t, filter.RuleID(0), tree.Classify(filter.Packet{15, 15, 15, 15, 15}))
	assert.Equal(t, filter.RuleID(0), tree.Classify(filter.Packet{50, 50, 50, 50, 50}))
	assert.Equal(t, filter.NoMatch, tree.Classify(filter.Packet{101, 15, 15, 15, 15}))
}

func TestScenarioStraddlingRuleReplicated(t *testing.T) {
	tree := mustBuild(t, sportRules(t), 2)

	root := tree.Node(tree.Root())
	require.False(t, root.Leaf)
	assert.Equal(t, filter.FieldSrcPort, root.Field)
	assert.Equal(t, uint32(10), root.Point)

	left, right := tree.Node(root.Left), tree.Node(root.Right)
	require.True(t, left.Leaf)
	require.True(t, right.Leaf)
	assert.Equal(t, []filter.RuleID{0, 2}, left.Rules)
	assert.Equal(t, ReasonThreshold, left.Reason)
	assert.Equal(t, []filter.RuleID{0, 1, 2, 3}, right.Rules)
	assert.Equal(t, ReasonConverged, right.Reason)

	// rule 2 spans [5, 25] on the source port
	assert.Contains(t, left.Rules, filter.RuleID(2))
	assert.Contains(t, right.Rules, filter.RuleID(2))
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(nil, Options{})
	assert.True(t, errors.Is(err, ErrNilRules))

	set := mustRuleSet(t, nil)
	_, err = Build(set, Options{Binth: -1})
	assert.True(t, errors.Is(err, ErrNegativeBinth))
}

func TestEmptyRuleSet(t *testing.T) {
	tree := mustBuild(t, mustRuleSet(t, nil), 0)

	require.Equal(t, 1, tree.Len())
	root := tree.Node(tree.Root())
	assert.True(t, root.Leaf)
	assert.Empty(t, root.Rules)
	assert.Equal(t, filter.NoMatch, tree.Classify(filter.Packet{}))
	assert.Zero(t, tree.Stats().Replication)
}

func TestDuplicateWildcardsTerminate(t *testing.T) {
	rules := make([]filter.Rule, 50)
	for i := range rules {
		rules[i].Fields = uniform(0, math.MaxUint32)
	}
	tree := mustBuild(t, mustRuleSet(t, rules), 0)

	require.Equal(t, 1, tree.Len())
	root := tree.Node(tree.Root())
	assert.Equal(t, ReasonNoProgress, root.Reason)
	assert.Len(t, root.Rules, 50)
	assert.Equal(t, filter.RuleID(0), tree.Classify(filter.Packet{1, 2, 3, 4, 5}))
}

func TestPointRulesAreUnsplittable(t *testing.T) {
	rules := make([]filter.Rule, 3)
	for i := range rules {
		rules[i].Fields = uniform(7, 7)
	}
	tree := mustBuild(t, mustRuleSet(t, rules), 0)

	root := tree.Node(tree.Root())
	require.True(t, root.Leaf)
	assert.Equal(t, ReasonUnsplittable, root.Reason)
	assert.Equal(t, filter.RuleID(0), tree.Classify(filter.Packet{7, 7, 7, 7, 7}))
}

func TestDepthLimit(t *testing.T) {
	tree, err := Build(sportRules(t), Options{Binth: 2, MaxDepth: 1})
	require.NoError(t, err)

	root := tree.Node(tree.Root())
	require.False(t, root.Leaf)
	assert.Equal(t, ReasonThreshold, tree.Node(root.Left).Reason)
	assert.Equal(t, ReasonDepthLimit, tree.Node(root.Right).Reason)
}

func TestSplitPointFallsBackToLastEndpoint(t *testing.T) {
	set := mustRuleSet(t, []filter.Rule{
		{Fields: uniform(3, 9)},
		{Fields: uniform(3, 9)},
	})
	b := &builder{rules: set}
	ids := set.IDs()
	field, ok := b.selectField(ids)
	require.True(t, ok)
	assert.Equal(t, filter.FieldSrcIP, field)
	assert.Equal(t, uint32(9), b.splitPoint(field, ids))
}

func TestSegmentWeightsMatchDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	set := mustRuleSet(t, randomRules(rng, 40, 64))
	ids := set.IDs()

	for f := filter.Field(0); f < filter.NumFields; f++ {
		ep := endpoints(nil, set, ids, f)
		got := segmentWeights(nil, set, ids, f, ep)
		require.Len(t, got, len(ep)-1)
		for j := 0; j+1 < len(ep); j++ {
			want := 0
			for _, id := range ids {
				if set.At(id).Fields[f].Covers(ep[j], ep[j+1]) {
					want++
				}
			}
			assert.Equal(t, want, got[j], "field %s segment %d", f, j)
		}
	}
}

func TestPartitionReplicatesOnlyStraddlers(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	set := mustRuleSet(t, randomRules(rng, 60, 100))
	b := &builder{rules: set}
	ids := set.IDs()

	for _, point := range []uint32{0, 1, 17, 50, 99, 100} {
		left, right := b.partition(ids, filter.FieldDstPort, point)
		inLeft := make(map[filter.RuleID]bool)
		inRight := make(map[filter.RuleID]bool)
		for _, id := range left {
			inLeft[id] = true
		}
		for _, id := range right {
			inRight[id] = true
		}
		for _, id := range ids {
			r := set.At(id).Fields[filter.FieldDstPort]
			assert.True(t, inLeft[id] || inRight[id], "rule %d lost at %d", id, point)
			straddles := r.Low <= point && point <= r.High
			assert.Equal(t, straddles, inLeft[id] && inRight[id], "rule %d at %d", id, point)
		}
	}
}

func TestTreeInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	set := mustRuleSet(t, randomRules(rng, 200, 64))

	for _, binth := range []int{0, 1, 4, 16} {
		tree := mustBuild(t, set, binth)
		tree.Walk(func(id NodeID, n NodeView, depth int) bool {
			if !n.Leaf {
				// everything routed left starts at or below the point,
				// everything routed right ends at or above it
				for _, rid := range subtreeRules(tree, n.Left) {
					assert.LessOrEqual(t, set.At(rid).Fields[n.Field].Low, n.Point)
				}
				for _, rid := range subtreeRules(tree, n.Right) {
					assert.GreaterOrEqual(t, set.At(rid).Fields[n.Field].High, n.Point)
				}
				return true
			}
			if n.Reason == ReasonThreshold {
				assert.LessOrEqual(t, len(n.Rules), binth)
			}
			for i := 1; i < len(n.Rules); i++ {
				assert.LessOrEqual(t, set.At(n.Rules[i-1]).Priority, set.At(n.Rules[i]).Priority,
					"leaf %d not sorted", id)
			}
			return true
		})
	}
}

func subtreeRules(tree *Tree, id NodeID) []filter.RuleID {
	var out []filter.RuleID
	tree.walk(id, 0, func(_ NodeID, n NodeView, _ int) bool {
		out = append(out, n.Rules...)
		return true
	})
	return out
}

func TestClassifyMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 10, 100, 400} {
		set := mustRuleSet(t, randomRules(rng, n, 64))
		for _, binth := range []int{0, 1, 2, 8, 32} {
			tree := mustBuild(t, set, binth)
			for i := 0; i < 2000; i++ {
				p := randomPacket(rng, 64)
				require.Equal(t, Linear(set, p), tree.Classify(p),
					"rules=%d binth=%d packet=%v", n, binth, p)
			}
		}
	}
}

func TestClassifyAtRuleBoundaries(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	set := mustRuleSet(t, randomRules(rng, 150, 1000))
	tree := mustBuild(t, set, 4)

	for _, id := range set.IDs() {
		r := set.At(id)
		var lo, hi filter.Packet
		for f := range lo {
			lo[f], hi[f] = r.Fields[f].Low, r.Fields[f].High
		}
		assert.Equal(t, Linear(set, lo), tree.Classify(lo))
		assert.Equal(t, Linear(set, hi), tree.Classify(hi))
		assert.NotEqual(t, filter.NoMatch, tree.Classify(lo))
	}
}

func TestClassifyAll(t *testing.T) {
	tree := mustBuild(t, sportRules(t), 2)
	got := tree.ClassifyAll([]filter.Packet{
		{50, 50, 45, 50, 50},
		{50, 50, 22, 50, 50},
		{50, 50, 35, 50, 50},
		{50, 50, 10, 50, 50},
	})
	assert.Equal(t, []filter.RuleID{3, 1, filter.NoMatch, 0}, got)
}

func TestBuildIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	set := mustRuleSet(t, randomRules(rng, 300, 256))

	shape := func(tree *Tree) []NodeView {
		var out []NodeView
		tree.Walk(func(_ NodeID, n NodeView, _ int) bool {
			out = append(out, n)
			return true
		})
		return out
	}
	a, b := mustBuild(t, set, 4), mustBuild(t, set, 4)
	if diff := cmp.Diff(shape(a), shape(b)); diff != "" {
		t.Fatalf("trees differ (-a +b):\n%s", diff)
	}
}

func TestStatsAndDump(t *testing.T) {
	tree := mustBuild(t, sportRules(t), 2)

	s := tree.Stats()
	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, 1, s.Internal)
	assert.Equal(t, 2, s.Leaves)
	assert.Equal(t, 1, s.MaxDepth)
	assert.Equal(t, 6, s.RuleRefs)
	assert.Equal(t, 4, s.MaxLeafRules)
	assert.InDelta(t, 1.5, s.Replication, 1e-9)
	assert.Equal(t, 1, s.LeafReasons[ReasonConverged])

	var buf bytes.Buffer
	require.NoError(t, tree.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "Non-Leaf Node #0 depth=0 split_field=src_port split_point=10")
	assert.Contains(t, out, "  Leaf Node #1 depth=1 reason=threshold rules=[0 2]")
}

func BenchmarkBuild(b *testing.B) {
	rng := rand.New(rand.NewSource(9))
	set := mustRuleSet(b, randomRules(rng, 1000, 1<<16))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Build(set, Options{Binth: 8})
	}
}

func BenchmarkClassify(b *testing.B) {
	rng := rand.New(rand.NewSource(9))
	set := mustRuleSet(b, randomRules(rng, 1000, 1<<16))
	tree := mustBuild(b, set, 8)
	packets := make([]filter.Packet, 1024)
	for i := range packets {
		packets[i] = randomPacket(rng, 1<<16)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.Classify(packets[i%len(packets)])
	}
}

func BenchmarkLinear(b *testing.B) {
	rng := rand.New(rand.NewSource(9))
	set := mustRuleSet(b, randomRules(rng, 1000, 1<<16))
	packets := make([]filter.Packet, 1024)
	for i := range packets {
		packets[i] = randomPacket(rng, 1<<16)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Linear(set, packets[i%len(packets)])
	}
}
