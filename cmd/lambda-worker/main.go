package main

// SQS-triggered Lambda worker. Enable ReportBatchItemFailures on the event
// source mapping so only failed records are retried.
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"golang.org/x/sync/errgroup"

	"docgen-backend/internal/bootstrap"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/workerproc"
)

// records are not started with less than this much invocation time left
const deadlineMargin = 45 * time.Second

var (
	initOnce sync.Once
	initErr  error
	batch    *batchHandler
)

func initApp() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	telemetry.Configure(os.Stdout, cfg.LogLevel)
	app, err := bootstrap.Build(context.Background(), cfg, bootstrap.Options{SkipRouter: true, SkipQueue: true})
	if err != nil {
		initErr = err
		return
	}
	batch = &batchHandler{proc: app.Executor, concurrency: max(1, cfg.WorkerConcurrency), margin: deadlineMargin}
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr})
		return failAll(event.Records), initErr
	}
	return batch.process(ctx, event), nil
}

type batchHandler struct {
	proc        workerproc.Processor
	concurrency int
	margin      time.Duration
}

// process runs the records concurrently and reports the ones worth retrying.
// Poison records are dropped so they do not cycle until the DLQ. Records that
// would start too close to the invocation deadline are handed back unstarted.
func (b *batchHandler) process(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	var (
		mu       sync.Mutex
		failures []events.SQSBatchItemFailure
		g        errgroup.Group
	)
	fail := func(id string) {
		mu.Lock()
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
		mu.Unlock()
	}
	g.SetLimit(max(1, b.concurrency))

	for _, record := range event.Records {
		record := record
		if b.outOfTime(ctx) {
			telemetry.Warn("lambda.task.deferred", map[string]any{"sqs_message_id": record.MessageId})
			fail(record.MessageId)
			continue
		}
		g.Go(func() error {
			err := workerproc.HandleMessage(ctx, b.proc, record.Body)
			if err == nil {
				return nil
			}
			fields := map[string]any{"sqs_message_id": record.MessageId, "error": err}
			if workerproc.Poison(err) {
				telemetry.Error("lambda.task.invalid_message", fields)
				return nil
			}
			telemetry.Error("lambda.task.failed", fields)
			fail(record.MessageId)
			return nil
		})
	}
	_ = g.Wait()
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func (b *batchHandler) outOfTime(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && time.Until(deadline) < b.margin
}

func failAll(records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0, len(records))
	for _, r := range records {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: r.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
