// Package filter 提供五元组分类规则的基础类型
// 核心功能: 规则集 (只读)、报文、范围匹配
package filter

import (
	"fmt"
)

// Field 报文头字段
type Field uint8

const (
	FieldSrcIP   Field = iota // 源 IP
	FieldDstIP                // 目的 IP
	FieldSrcPort              // 源端口
	FieldDstPort              // 目的端口
	FieldProto                // 协议

	NumFields = 5
)

// String 返回字段名称
func (f Field) String() string {
	switch f {
	case FieldSrcIP:
		return "src_ip"
	case FieldDstIP:
		return "dst_ip"
	case FieldSrcPort:
		return "src_port"
	case FieldDstPort:
		return "dst_port"
	case FieldProto:
		return "proto"
	default:
		return "unknown"
	}
}

// RuleID 规则在规则集中的下标
type RuleID int32

// NoMatch 未匹配任何规则
const NoMatch RuleID = -1

// Range is an inclusive interval [Low, High] over one header field.
type Range struct {
	Low  uint32
	High uint32
}

// Valid reports whether Low <= High.
func (r Range) Valid() bool {
	return r.Low <= r.High
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v uint32) bool {
	return r.Low <= v && v <= r.High
}

// Covers reports whether the range fully covers the segment [lo, hi].
func (r Range) Covers(lo, hi uint32) bool {
	return r.Low <= lo && r.High >= hi
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Low, r.High)
}

// Packet 报文五元组, 字段顺序与 Rule.Fields 一致
type Packet [NumFields]uint32

// Rule 分类规则
type Rule struct {
	Fields   [NumFields]Range // 每个字段的取值范围
	Priority uint32           // 优先级 (越小越优先)
}

// Matches reports whether every field of p lies inside the rule's ranges.
func (r *Rule) Matches(p Packet) bool {
	for i := 0; i < NumFields; i++ {
		if r.Fields[i].Low > p[i] || r.Fields[i].High < p[i] {
			return false
		}
	}
	return true
}
