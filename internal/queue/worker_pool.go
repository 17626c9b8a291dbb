package queue

import (
	"context"
	"sync"
	"time"

	"docgen-backend/internal/retry"
	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/telemetry"
)

// HandlerFunc processes one message.
type HandlerFunc func(ctx context.Context, msg Message) error

// WorkerPool runs a fixed number of goroutines draining a message channel.
type WorkerPool struct {
	source  <-chan Message
	handle  HandlerFunc
	workers int

	redeliver Redelivery

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Redelivery re-sends messages whose handler failed, standing in for a
// broker's visibility timeout. The zero value disables it.
type Redelivery struct {
	Send func(ctx context.Context, msg Message) error
	// Delay before the first redelivery; it doubles up to ten times Delay.
	Delay time.Duration
	// MaxDeliveries bounds handling attempts per message, the first included.
	MaxDeliveries int
	// Retryable filters errors worth redelivering. Nil redelivers all.
	Retryable func(error) bool
}

// WithRedelivery enables redelivery of failed messages.
func (p *WorkerPool) WithRedelivery(r Redelivery) *WorkerPool {
	p.redeliver = r
	return p
}

// NewWorkerPool creates a pool. A non-positive worker count falls back to 1.
func NewWorkerPool(source <-chan Message, workers int, handle HandlerFunc) *WorkerPool {
	if workers <= 0 {
		telemetry.Warn("worker_pool.invalid_count", map[string]any{"workers": workers, "using": 1})
		workers = 1
	}
	return &WorkerPool{source: source, handle: handle, workers: workers}
}

// Start launches the workers. They exit when ctx is cancelled, Stop is
// called, or the source channel is closed.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	telemetry.Info("worker_pool.started", map[string]any{"workers": p.workers})
}

// Stop cancels in-flight work and waits for every worker to return.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	telemetry.Info("worker_pool.stopped", nil)
}

// Wait blocks until all workers exit without cancelling them.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.source:
			if !ok {
				return
			}
			p.process(ctx, id, msg)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, id int, msg Message) {
	metrics.IncWorkerJobsReceived()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncWorkerJobsFailed()
			telemetry.Error("worker_pool.panic", map[string]any{
				"worker":  id,
				"task_id": msg.TaskID,
				"panic":   r,
			})
		}
	}()

	if err := p.handle(ctx, msg); err != nil {
		metrics.IncWorkerJobsFailed()
		telemetry.Error("worker_pool.job_failed", map[string]any{
			"worker":     id,
			"task_id":    msg.TaskID,
			"request_id": msg.RequestID,
			"error":      err,
		})
		p.requeue(msg, err)
		return
	}
	metrics.IncWorkerJobsCompleted()
}

func (p *WorkerPool) requeue(msg Message, err error) {
	r := p.redeliver
	if r.Send == nil || (r.Retryable != nil && !r.Retryable(err)) {
		return
	}
	if msg.Deliveries+1 >= max(r.MaxDeliveries, 1) {
		telemetry.Error("worker_pool.redelivery_exhausted", map[string]any{
			"task_id":    msg.TaskID,
			"deliveries": msg.Deliveries + 1,
		})
		return
	}
	delay := retry.Backoff(r.Delay, 10*r.Delay, msg.Deliveries)
	msg.Deliveries++
	ctx := p.ctx
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := r.Send(ctx, msg); err != nil {
			telemetry.Error("worker_pool.redelivery_failed", map[string]any{"task_id": msg.TaskID, "error": err})
			return
		}
		telemetry.Warn("worker_pool.redelivered", map[string]any{
			"task_id":    msg.TaskID,
			"deliveries": msg.Deliveries,
			"delay_ms":   delay.Milliseconds(),
		})
	})
}
