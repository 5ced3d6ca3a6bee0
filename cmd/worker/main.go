package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"opspulse.app/reporter/common/id"
	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/common/otel"
	"opspulse.app/reporter/core/config"
	"opspulse.app/reporter/core/db"
	"opspulse.app/reporter/internal/http/handler"
	"opspulse.app/reporter/internal/http/middleware"
	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/pipeline"
	"opspulse.app/reporter/internal/publish"
	"opspulse.app/reporter/internal/query"
	"opspulse.app/reporter/internal/queue"
	"opspulse.app/reporter/internal/registry"
	"opspulse.app/reporter/internal/report"
	"opspulse.app/reporter/internal/retry"
	"opspulse.app/reporter/internal/scheduler"
	"opspulse.app/reporter/internal/store"
	"opspulse.app/reporter/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "reporter worker starting",
		"env", cfg.Env,
		"template_type", string(cfg.Report.TemplateType),
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer)

	// Different node ID than the server so both can mint run IDs
	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	if err := store.EnsureSchema(ctx, database); err != nil {
		slog.ErrorContext(ctx, "failed to ensure schema", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:      cfg.Queue.RedisStream,
		Group:       cfg.Queue.RedisGroup,
		Consumer:    cfg.Queue.RedisConsumer,
		BatchSize:   1, // one trigger at a time
		Block:       5 * time.Second,
		MaxAttempts: 3,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	workspaces, err := registry.FromConfig(cfg.Workspaces)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build workspace registry", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "workspace registry ready", "workspaces", len(workspaces.All()))

	logsClient := query.NewHTTPLogsClient(cfg.Logs.BaseURL, query.StaticTokenProvider(cfg.Logs.Token), nil)
	strategies, err := query.NewRegistry(logsClient, cfg.Report.TemplateType)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build strategy registry", "error", err)
		os.Exit(1)
	}

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Logs.MaxAttempts,
		BaseDelay:   cfg.Logs.RetryBase,
		MaxDelay:    cfg.Logs.RetryMax,
		Jitter:      0.2,
	}
	executor := query.NewExecutor(workspaces, strategies, query.ExecutorConfig{
		Timeout: cfg.Logs.QueryTimeout,
		Retry:   retryPolicy,
	})

	blobStore, err := publish.NewMinIOStore(publish.MinIOConfig{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create object store", "error", err)
		os.Exit(1)
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure report bucket", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "report bucket ready", "bucket", cfg.Blob.Bucket)

	publisher := publish.NewPublisher(blobStore, retryPolicy)
	runs := store.NewRunStore(database)

	runner := pipeline.NewRunner(pipeline.Config{
		TemplateType:         cfg.Report.TemplateType,
		Formats:              cfg.Report.Formats,
		DaysRange:            cfg.Schedule.DaysRange,
		MaxConcurrentQueries: cfg.Schedule.MaxConcurrentQueries,
		FailureThreshold:     cfg.Schedule.FailureThreshold,
	}, workspaces, executor, report.NewFactory(), publisher, runs)

	sched, err := scheduler.New(scheduler.Config{
		CronSpec:  cfg.Schedule.Cron,
		Enabled:   cfg.Schedule.Enabled,
		DebugMode: cfg.Schedule.DebugMode,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create scheduler", "error", err)
		os.Exit(1)
	}
	if err := sched.Register(model.JobDailyUsage, runner.Run); err != nil {
		slog.ErrorContext(ctx, "failed to register job", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, sched)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	healthServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupHealthRouter(sched),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- sched.Run(ctx)
	}()
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		slog.InfoContext(ctx, "health server starting", "port", cfg.Port)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "health server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the trigger consumer first so no new runs start, then the
	// scheduler, which cancels in-flight runs and waits for them. Stopping
	// runs in its own goroutine so a hung run cannot outlast the timeout.
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	}

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "health server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// setupHealthRouter exposes the scheduler's liveness and job status. The
// window is generous against the 15s loop heartbeat so a single missed tick
// does not flap the probe.
func setupHealthRouter(sched *scheduler.Scheduler) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())

	health := handler.NewHealthHandler(sched, time.Minute)
	router.GET("/health", health.Health)

	return router
}

const banner = `
██████╗ ███████╗██████╗  ██████╗ ██████╗ ████████╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██╔════╝██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██████╔╝█████╗  ██████╔╝██║   ██║██████╔╝   ██║       ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██╔══██╗██╔══╝  ██╔═══╝ ██║   ██║██╔══██╗   ██║       ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██║  ██║███████╗██║     ╚██████╔╝██║  ██║   ██║       ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝        ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
