package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docgen-backend/internal/bootstrap"
	"docgen-backend/internal/queue"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/server"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/workerproc"
)

const (
	shutdownTimeout = 30 * time.Second

	// Tasks abandoned after a task store error are retried in-process.
	redeliveryDelay = 15 * time.Second
	maxDeliveries   = 5
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	telemetry.Configure(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	// With the in-memory queue the API process is also the worker.
	var pool *queue.WorkerPool
	if app.Memory != nil {
		pool = queue.NewWorkerPool(app.Memory.Messages(), cfg.WorkerConcurrency, func(ctx context.Context, msg queue.Message) error {
			return workerproc.Handle(ctx, app.Executor, msg)
		}).WithRedelivery(queue.Redelivery{
			Send:          app.Memory.Send,
			Delay:         redeliveryDelay,
			MaxDeliveries: maxDeliveries,
			Retryable:     func(err error) bool { return !workerproc.Poison(err) },
		})
		pool.Start(context.WithoutCancel(ctx))
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		telemetry.Info("api.started", map[string]any{
			"addr":         srv.Addr,
			"env":          cfg.Env,
			"queue":        cfg.QueueBackend,
			"task_store":   cfg.TaskStore,
			"llm":          cfg.LLMProvider,
			"object_store": cfg.ObjectStoreType,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	telemetry.Info("api.shutdown", map[string]any{"timeout_ms": shutdownTimeout.Milliseconds()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Warn("api.shutdown_failed", map[string]any{"error": err})
	}
	if pool != nil {
		app.Memory.Close()
		done := make(chan struct{})
		go func() {
			pool.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			pool.Stop()
		}
	}
}
