package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

const projectTimeout = 30 * time.Second

// projectionTask is one raw row with its position in the page
type projectionTask struct {
	index   int
	columns []domain.Column
	raw     json.RawMessage
	results chan<- projectionResult
}

// projectionResult carries the index back so the page keeps its order
type projectionResult struct {
	index int
	row   domain.Row
	err   error
}

// OrderedProjector implements domain.RowProjector with a worker pool.
// Each call gets its own result channel, so concurrent pages never mix.
type OrderedProjector struct {
	workers   int
	taskQueue chan *projectionTask
	wg        sync.WaitGroup
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewOrderedProjector creates a projector with the given pool size
func NewOrderedProjector(workers int, queueSize int, logger *zap.Logger) *OrderedProjector {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &OrderedProjector{
		workers:   workers,
		taskQueue: make(chan *projectionTask, queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the worker pool
func (p *OrderedProjector) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("row projector started", zap.Int("workers", p.workers))
	})
}

// Stop stops the worker pool and waits for running projections
func (p *OrderedProjector) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("row projector stopped")
	})
}

// Project implements domain.RowProjector
func (p *OrderedProjector) Project(ctx context.Context, columns []domain.Column, raws []json.RawMessage) ([]domain.Row, error) {
	if len(raws) == 0 {
		return []domain.Row{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, projectTimeout)
	defer cancel()

	// buffered for the whole page: workers never block on a caller that gave up
	results := make(chan projectionResult, len(raws))

	for i, raw := range raws {
		task := &projectionTask{index: i, columns: columns, raw: raw, results: results}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, fmt.Errorf("row projector stopped")
		case p.taskQueue <- task:
		}
	}

	rows := make([]domain.Row, len(raws))
	for collected := 0; collected < len(raws); collected++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, fmt.Errorf("row projector stopped")
		case res := <-results:
			if res.err != nil {
				return nil, fmt.Errorf("row %d: %w", res.index, res.err)
			}
			rows[res.index] = res.row
		}
	}
	return rows, nil
}

func (p *OrderedProjector) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("projector worker stopping", zap.Int("worker_id", id))
			return
		case task := <-p.taskQueue:
			row, err := ProjectRow(task.columns, task.raw)
			task.results <- projectionResult{index: task.index, row: row, err: err}
		}
	}
}

// ProjectRow extracts the configured columns from one raw row. Without
// columns the whole object is decoded. Missing paths become nil cells.
func ProjectRow(columns []domain.Column, raw json.RawMessage) (domain.Row, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid row json")
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("row is not an object")
	}

	if len(columns) == 0 {
		row, ok := parsed.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row is not an object")
		}
		return row, nil
	}

	row := make(domain.Row, len(columns))
	for _, col := range columns {
		path := col.Path
		if path == "" {
			path = col.Name
		}
		res := parsed.Get(path)
		if !res.Exists() {
			row[col.Name] = nil
			continue
		}
		row[col.Name] = res.Value()
	}
	return row, nil
}

var _ domain.RowProjector = (*OrderedProjector)(nil)
