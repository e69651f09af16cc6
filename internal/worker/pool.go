// Package worker 提供并行报文分类工作池
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hypersplit/pkg/filter"
)

var (
	ErrNoTree   = errors.New("worker pool has no tree")
	ErrPoolBusy = errors.New("worker pool is already running")
)

// Pool Worker 处理池
// 树是只读的, 所有 worker 共享同一棵树, 结果按报文下标写回
type Pool struct {
	options PoolOptions
	running bool
	mu      sync.Mutex
}

// NewPool 创建新的 Worker 池
func NewPool(opts PoolOptions) *Pool {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pool{
		options: opts,
	}
}

// Run classifies packets and returns one result per packet in input order.
// A Pool runs one batch at a time.
func (p *Pool) Run(ctx context.Context, packets []filter.Packet) ([]filter.RuleID, error) {
	if p.options.Tree == nil {
		return nil, ErrNoTree
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrPoolBusy
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	results := make([]filter.RuleID, len(packets))
	batches := make(chan batch, p.options.NumWorkers*4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.feeder(gctx, len(packets), batches)
	})
	for i := 0; i < p.options.NumWorkers; i++ {
		id := i
		g.Go(func() error {
			return p.worker(gctx, id, packets, results, batches)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// feeder 切分报文下标区间并分发给 workers
func (p *Pool) feeder(ctx context.Context, n int, out chan<- batch) error {
	defer close(out)

	size := p.options.BatchSize
	for start := 0; start < n; start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > n {
			end = n
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- batch{start: start, end: end}:
		}
	}
	return nil
}

// worker 分类一个批次并按下标写回结果
func (p *Pool) worker(ctx context.Context, id int, packets []filter.Packet,
	results []filter.RuleID, in <-chan batch) error {

	tree := p.options.Tree
	metricsCollector := p.options.Metrics
	done := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				p.options.Logger.Debug("worker finished",
					zap.Int("worker", id), zap.Int("packets", done))
				return nil
			}
			for i := b.start; i < b.end; i++ {
				results[i] = tree.Classify(packets[i])
			}
			if metricsCollector != nil {
				metricsCollector.ObserveResults(results[b.start:b.end])
			}
			done += b.end - b.start
		}
	}
}
