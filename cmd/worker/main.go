package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rollcall-hq/rollcall/internal/app"
	"github.com/rollcall-hq/rollcall/internal/attendance"
	"github.com/rollcall-hq/rollcall/internal/gateway"
	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
	"github.com/rollcall-hq/rollcall/internal/notify"
	"github.com/rollcall-hq/rollcall/internal/reconcile"
	"github.com/rollcall-hq/rollcall/internal/report"
	"github.com/rollcall-hq/rollcall/internal/shared"
	"github.com/rollcall-hq/rollcall/internal/tenant"
	"github.com/rollcall-hq/rollcall/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	location, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	// Stand-in until a chat-platform client is wired in.
	var gw gateway.Client = gateway.NewRetrying(&gateway.LogOnly{Logger: logger})

	store := attendance.NewRepository(pool)
	settingsRepo := tenant.NewRepository(pool)
	settingsCache := tenant.NewCache(settingsRepo, 5*time.Minute)
	locks := shared.NewJobLocks()
	metrics := jobmetrics.NewMetrics(nil)
	alerter := notify.NewCapabilityAlerter(&notify.LogSink{Logger: logger}, redisClient, cfg.AlertCooldown, logger)

	engine := reconcile.NewEngine(store, settingsCache, gw, locks, alerter, metrics, logger, location)
	generator := report.NewGenerator(store, settingsCache, gw, locks, alerter, metrics, logger, location, cfg.ReportPageBudget)

	sweepJob := jobs.NewCheckoutSweepJob(engine, settingsRepo, logger, metrics)
	dailyJob := jobs.NewDailyReportJob(generator, settingsRepo, logger, metrics)
	weeklyJob := jobs.NewWeeklyReportJob(generator, settingsRepo, logger, metrics)

	sweepTask, err := jobs.NewCheckoutSweepTask(jobs.TenantAll)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	dailyTask, err := jobs.NewDailyReportTask(jobs.TenantAll)
	if err != nil {
		logger.Error("build daily report task", slog.Any("error", err))
		os.Exit(1)
	}
	weeklyTask, err := jobs.NewWeeklyReportTask(jobs.TenantAll)
	if err != nil {
		logger.Error("build weekly report task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Location:  location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCheckoutSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskDailyReport, Handler: dailyJob.Handle},
			{Type: jobs.TaskWeeklyReport, Handler: weeklyJob.Handle},
		},
		// Retries live inside the engines; a missed or failed tick is never
		// replayed by the queue.
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CheckoutCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: cfg.DailyReportCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: cfg.WeeklyReportCron, Task: weeklyTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		JobHandler: jobs.NewHandler(inspector, client, logger),
	})
	adminServer := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		err := adminServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return adminServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
