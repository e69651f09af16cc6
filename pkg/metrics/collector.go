// Package metrics 提供分类过程的指标收集
package metrics

import (
	"sync/atomic"
	"time"

	"hypersplit/pkg/filter"
)

// Collector 指标收集器
type Collector struct {
	classified  uint64 // 分类的报文数
	matched     uint64 // 命中规则数
	missed      uint64 // 未命中数
	skipped     uint64 // 读取时跳过的帧数
	parseErrors uint64 // 输入解析错误数

	buildNanos    int64 // 建树耗时
	classifyNanos int64 // 分类耗时
}

// NewCollector 创建新的指标收集器
func NewCollector() *Collector {
	return &Collector{}
}

// IncClassified 增加分类计数
func (c *Collector) IncClassified() {
	atomic.AddUint64(&c.classified, 1)
}

// IncMatched 增加命中计数
func (c *Collector) IncMatched() {
	atomic.AddUint64(&c.matched, 1)
}

// IncMissed 增加未命中计数
func (c *Collector) IncMissed() {
	atomic.AddUint64(&c.missed, 1)
}

// AddSkipped 增加跳过计数
func (c *Collector) AddSkipped(n int) {
	atomic.AddUint64(&c.skipped, uint64(n))
}

// IncParseError 增加解析错误计数
func (c *Collector) IncParseError() {
	atomic.AddUint64(&c.parseErrors, 1)
}

// ObserveResults counts a batch of classification results. Workers call it
// once per batch instead of once per packet.
func (c *Collector) ObserveResults(results []filter.RuleID) {
	var matched uint64
	for _, id := range results {
		if id != filter.NoMatch {
			matched++
		}
	}
	atomic.AddUint64(&c.classified, uint64(len(results)))
	atomic.AddUint64(&c.matched, matched)
	atomic.AddUint64(&c.missed, uint64(len(results))-matched)
}

// SetBuildDuration 记录建树耗时
func (c *Collector) SetBuildDuration(d time.Duration) {
	atomic.StoreInt64(&c.buildNanos, int64(d))
}

// SetClassifyDuration 记录分类耗时
func (c *Collector) SetClassifyDuration(d time.Duration) {
	atomic.StoreInt64(&c.classifyNanos, int64(d))
}

// Stats 统计信息
type Stats struct {
	Classified  uint64        `json:"classified"`   // 分类总数
	Matched     uint64        `json:"matched"`      // 命中
	Missed      uint64        `json:"missed"`       // 未命中
	Skipped     uint64        `json:"skipped"`      // 跳过
	ParseErrors uint64        `json:"parse_errors"` // 解析错误
	Build       time.Duration `json:"build"`        // 建树耗时
	Classify    time.Duration `json:"classify"`     // 分类耗时
}

// GetStats 获取当前统计
func (c *Collector) GetStats() Stats {
	return Stats{
		Classified:  atomic.LoadUint64(&c.classified),
		Matched:     atomic.LoadUint64(&c.matched),
		Missed:      atomic.LoadUint64(&c.missed),
		Skipped:     atomic.LoadUint64(&c.skipped),
		ParseErrors: atomic.LoadUint64(&c.parseErrors),
		Build:       time.Duration(atomic.LoadInt64(&c.buildNanos)),
		Classify:    time.Duration(atomic.LoadInt64(&c.classifyNanos)),
	}
}

// Reset 重置所有计数器
func (c *Collector) Reset() {
	atomic.StoreUint64(&c.classified, 0)
	atomic.StoreUint64(&c.matched, 0)
	atomic.StoreUint64(&c.missed, 0)
	atomic.StoreUint64(&c.skipped, 0)
	atomic.StoreUint64(&c.parseErrors, 0)
	atomic.StoreInt64(&c.buildNanos, 0)
	atomic.StoreInt64(&c.classifyNanos, 0)
}
