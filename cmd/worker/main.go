package main

// Long-polling SQS worker. Each received message names a task; the executor
// runs it to a terminal stage or returns an error so SQS redelivers it.

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docgen-backend/internal/bootstrap"
	"docgen-backend/internal/queue"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/workerproc"
)

const (
	defaultVisibility      = 20 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	telemetry.Configure(os.Stdout, cfg.LogLevel)
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		log.Fatal("SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := queue.NewSQSClient(ctx, queue.SQSOptions{
		QueueURL:   cfg.SQSQueueURL,
		Region:     cfg.AWSRegion,
		Visibility: envSeconds("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibility),
	})
	if err != nil {
		log.Fatalf("sqs client: %v", err)
	}
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{SkipRouter: true, SkipQueue: true})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	w := &worker{
		consumer:    consumer,
		proc:        app.Executor,
		concurrency: max(1, cfg.WorkerConcurrency),
		visibility:  consumer.Visibility(),
		shutdown:    envSeconds("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeout),
	}
	w.run(ctx)
}

type worker struct {
	consumer    queue.Consumer
	proc        workerproc.Processor
	concurrency int
	// visibility is re-applied every half period while a task runs, so a
	// task outliving the queue's timeout is not handed to another worker.
	visibility time.Duration
	shutdown   time.Duration
}

// run receives until ctx is cancelled, then waits up to w.shutdown for
// in-flight tasks. Tasks run on a context detached from ctx so a signal does
// not abort a stage halfway through recording its outcome.
func (w *worker) run(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	telemetry.Info("worker.started", map[string]any{"concurrency": w.concurrency})
	for ctx.Err() == nil {
		deliveries, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err})
			continue
		}
		for _, d := range deliveries {
			d := d
			metrics.IncWorkerJobsReceived()
			g.Go(func() error {
				w.handle(workCtx, d)
				return nil
			})
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout_ms": w.shutdown.Milliseconds()})
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.shutdown):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

// handle runs one delivery. Poison payloads are deleted; processing errors
// leave the message for redelivery once its visibility timeout lapses.
func (w *worker) handle(ctx context.Context, d queue.Delivery) {
	fields := map[string]any{"sqs_message_id": d.ID, "receive_count": d.ReceiveCount}

	msg, err := workerproc.ParseMessage(d.Body)
	if err != nil {
		var pe *workerproc.PoisonError
		if errors.As(err, &pe) {
			for k, v := range pe.Fields() {
				fields[k] = v
			}
		}
		fields["error"] = err
		telemetry.Error("worker.task.invalid_message", fields)
		if w.delete(ctx, d, fields) {
			metrics.IncWorkerJobsDeletedUnrecoverable()
		}
		return
	}

	fields["task_id"] = msg.TaskID
	if msg.RequestID != "" {
		fields["request_id"] = msg.RequestID
	}
	fields["queued_ms"] = msg.Age(time.Now()).Milliseconds()
	telemetry.Info("worker.task.received", fields)

	stop := w.keepVisible(ctx, d)
	err = workerproc.Handle(ctx, w.proc, msg)
	stop()
	if err != nil {
		fields["error"] = err
		telemetry.Error("worker.task.failed", fields)
		metrics.IncWorkerJobsFailed()
		return
	}
	if w.delete(ctx, d, fields) {
		telemetry.Info("worker.task.completed", fields)
		metrics.IncWorkerJobsCompleted()
	}
}

// keepVisible extends d until the returned func is called.
func (w *worker) keepVisible(ctx context.Context, d queue.Delivery) func() {
	ext, ok := w.consumer.(queue.Extender)
	if !ok || w.visibility <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.visibility / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, d, w.visibility); err != nil {
					telemetry.Warn("worker.task.extend_failed", map[string]any{"sqs_message_id": d.ID, "error": err})
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (w *worker) delete(ctx context.Context, d queue.Delivery, fields map[string]any) bool {
	if err := w.consumer.Delete(ctx, d); err != nil {
		out := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		out["delete_error"] = err
		telemetry.Error("worker.task.delete_failed", out)
		return false
	}
	return true
}

func envSeconds(key string, def time.Duration) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
