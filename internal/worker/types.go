package worker

import (
	"go.uber.org/zap"

	"hypersplit/pkg/hypersplit"
	"hypersplit/pkg/metrics"
)

// PoolOptions Worker池配置选项
type PoolOptions struct {
	NumWorkers int                // Worker数量
	BatchSize  int                // 每个批次的报文数
	Tree       *hypersplit.Tree   // 只读分类树
	Metrics    *metrics.Collector // 指标收集器 (可选)
	Logger     *zap.Logger        // 日志 (可选)
}

// batch 报文下标区间 [start, end)
type batch struct {
	start int
	end   int
}
