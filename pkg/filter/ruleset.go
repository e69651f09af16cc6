package filter

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidRange = errors.New("range low is greater than high")
	ErrRuleID       = errors.New("rule id out of range")
)

// RuleSet 只读规则集
// 构建完成后不可修改, 其他结构只通过 RuleID 引用规则
type RuleSet struct {
	rules []Rule
}

// NewRuleSet 校验并冻结规则
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	frozen := make([]Rule, len(rules))
	copy(frozen, rules)
	for i := range frozen {
		if err := frozen[i].check(); err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
	}
	return &RuleSet{rules: frozen}, nil
}

func (r *Rule) check() error {
	for f := Field(0); f < NumFields; f++ {
		if !r.Fields[f].Valid() {
			return errors.Wrapf(ErrInvalidRange, "field %s %s", f, r.Fields[f])
		}
	}
	return nil
}

// Len 规则数量
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// At returns the rule with the given id. It panics if id is out of range,
// like a slice index would.
func (s *RuleSet) At(id RuleID) *Rule {
	return &s.rules[id]
}

// Lookup is the checked variant of At.
func (s *RuleSet) Lookup(id RuleID) (*Rule, error) {
	if id < 0 || int(id) >= len(s.rules) {
		return nil, errors.Wrapf(ErrRuleID, "id %d, have %d rules", id, len(s.rules))
	}
	return &s.rules[id], nil
}

// IDs returns 0..Len()-1.
func (s *RuleSet) IDs() []RuleID {
	ids := make([]RuleID, len(s.rules))
	for i := range ids {
		ids[i] = RuleID(i)
	}
	return ids
}

// Match reports whether rule id contains packet p on all fields.
func (s *RuleSet) Match(id RuleID, p Packet) bool {
	return s.rules[id].Matches(p)
}

// Less orders rule ids by priority, then by id so that equal priorities
// still sort deterministically.
func (s *RuleSet) Less(a, b RuleID) bool {
	pa, pb := s.rules[a].Priority, s.rules[b].Priority
	if pa != pb {
		return pa < pb
	}
	return a < b
}
