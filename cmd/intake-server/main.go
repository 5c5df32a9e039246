// cmd/intake-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"submission-sync/internal/common/auth"
	awsclients "submission-sync/internal/common/aws"
	"submission-sync/internal/common/config"
	"submission-sync/internal/common/database"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/observability"
	"submission-sync/internal/common/validation"
	"submission-sync/internal/httpapi"
	"submission-sync/internal/intake"
	"submission-sync/internal/journal"
	"submission-sync/internal/remote"
	"submission-sync/internal/scheduler"

	ps "submission-sync/internal/workers/submission/process-submission"
	sc "submission-sync/internal/workers/submission/send-confirmation"
	ua "submission-sync/internal/workers/submission/upload-attachments"
	rj "submission-sync/internal/workers/sync/reconcile-journal"
	sa "submission-sync/internal/workers/sync/sweep-attachments"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// infra holds the connections opened at startup. Fields stay nil when no
// component needs them.
type infra struct {
	pg    *database.PostgresClient
	es    *database.ElasticsearchClient
	redis *database.RedisClient
}

func (i *infra) close() {
	if i.pg != nil {
		_ = i.pg.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func connectInfra(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (*infra, error) {
	in := &infra{}

	needsPostgres := cfg.Journal.Backend == "postgres" || cfg.Remote.TableBackend == "postgres"
	if needsPostgres {
		err := retryWithBackoff(func() error {
			var err error
			in.pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return in.pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return in, err
		}
		zapLog.Info("PostgreSQL connected successfully")
	}

	if cfg.Remote.TableBackend == "elasticsearch" {
		err := retryWithBackoff(func() error {
			var err error
			in.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
			if err != nil {
				return err
			}
			return in.es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			return in, err
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	needsRedis := cfg.Sync.DistributedLock || (cfg.Token.Enabled && cfg.Token.SharedCache)
	if needsRedis {
		err := retryWithBackoff(func() error {
			var err error
			in.redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return in.redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			return in, err
		}
		zapLog.Info("Redis connected successfully")
	}
	return in, nil
}

func openJournal(ctx context.Context, cfg *config.Config, in *infra, log logger.Logger) (*journal.Store, error) {
	var backend journal.Backend
	switch cfg.Journal.Backend {
	case "postgres":
		pb, err := journal.NewPostgresBackend(in.pg.DB, cfg.Journal.PostgresTable, cfg.Journal.PostgresKey)
		if err != nil {
			return nil, err
		}
		backend = pb
	case "memory":
		backend = journal.NewMemoryBackend()
	default:
		backend = journal.NewFileBackend(cfg.Journal.Path)
	}
	return journal.Open(ctx, backend, log)
}

func buildTokens(cfg *config.Config, in *infra, log logger.Logger) (remote.TokenProvider, *auth.TokenManager) {
	if !cfg.Token.Enabled {
		return auth.StaticToken(cfg.Token.FallbackToken), nil
	}
	var cache auth.TokenCache
	if cfg.Token.SharedCache && in.redis != nil {
		cache = auth.NewRedisTokenCache(in.redis.Client, "")
	}
	tm := auth.NewTokenManager(auth.TokenManagerConfig{
		APIURL:          cfg.Token.APIURL,
		Email:           cfg.Token.Email,
		Password:        cfg.Token.Password,
		ApplicationName: cfg.Token.ApplicationName,
		Lifetime:        config.GetDuration(cfg.Token.LifetimeMs),
		RefreshBuffer:   config.GetDuration(cfg.Token.RefreshBufferMs),
		FallbackToken:   cfg.Token.FallbackToken,
		Timeout:         config.GetDuration(cfg.Remote.CallTimeoutMs),
	}, cache, log)
	return tm, tm
}

func buildTable(cfg *config.Config, in *infra, tokens remote.TokenProvider) (remote.Table, error) {
	switch cfg.Remote.TableBackend {
	case "elasticsearch":
		return remote.NewElasticsearchTable(in.es.Client, tokens, remote.ElasticsearchTableConfig{
			IDColumn: cfg.Remote.IDColumn,
		}), nil
	case "postgres":
		return remote.NewPostgresTable(in.pg.DB, remote.PostgresTableConfig{
			IDColumn:    cfg.Remote.IDColumn,
			LockTimeout: config.GetDuration(cfg.Remote.LockTimeoutMs),
			AutoCreate:  true,
		})
	default:
		return remote.NewMemoryTable(), nil
	}
}

func buildFileStore(ctx context.Context, cfg *config.Config) (remote.FileStore, error) {
	switch cfg.Remote.FileBackend {
	case "s3":
		awsCfg, err := awsclients.LoadConfig(ctx, cfg.Remote.Region)
		if err != nil {
			return nil, err
		}
		return remote.NewS3FileStore(awsclients.NewS3Client(awsCfg, cfg.Remote.Endpoint), cfg.Remote.Bucket)
	case "local":
		return remote.NewLocalFileStore(cfg.Remote.LocalRoot)
	default:
		return remote.NewMemoryFileStore(), nil
	}
}

func buildNotifier(ctx context.Context, cfg *config.Config) (remote.Notifier, error) {
	n := cfg.Notifications
	if !n.Email.Enabled && !n.SNS.Enabled {
		return nil, nil
	}
	awsCfg, err := awsclients.LoadConfig(ctx, n.AWS.Region)
	if err != nil {
		return nil, err
	}
	var notifiers sc.MultiNotifier
	if n.Email.Enabled {
		notifiers = append(notifiers, sc.NewSESNotifier(awsclients.NewSESClient(awsCfg), n.Email.FromEmail, n.Email.CC))
	}
	if n.SNS.Enabled {
		notifiers = append(notifiers, sc.NewSNSNotifier(awsclients.NewSNSClient(awsCfg), n.SNS.TopicARN))
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notifiers, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting intake server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("journal", cfg.Journal.Backend),
		zap.String("table", cfg.Remote.TableBackend),
		zap.String("files", cfg.Remote.FileBackend),
	)

	obs := observability.New(cfg.App.Name, nil)
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	in, err := connectInfra(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("infrastructure unavailable", zap.Error(err))
	}
	defer in.close()

	store, err := openJournal(ctx, cfg, in, log)
	if err != nil {
		zapLog.Fatal("journal open failed", zap.Error(err))
	}

	tokens, tokenManager := buildTokens(cfg, in, log)

	table, err := buildTable(cfg, in, tokens)
	if err != nil {
		zapLog.Fatal("remote table init failed", zap.Error(err))
	}
	files, err := buildFileStore(ctx, cfg)
	if err != nil {
		zapLog.Fatal("remote file store init failed", zap.Error(err))
	}
	notifier, err := buildNotifier(ctx, cfg)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	callTimeout := config.GetDuration(cfg.Remote.CallTimeoutMs)
	attachmentsFolder := cfg.Remote.AttachmentsFolder()

	// --- Submission pipeline ---
	uploader := ua.NewHandler(&ua.Config{
		Workers:     cfg.Uploads.Workers,
		Folder:      attachmentsFolder,
		ScratchDir:  cfg.Uploads.ScratchDir,
		CallTimeout: callTimeout,
	}, files, obs, log)

	confirmCfg := &sc.Config{
		EmailEnabled:    cfg.Notifications.Email.Enabled,
		FromEmail:       cfg.Notifications.Email.FromEmail,
		CC:              cfg.Notifications.Email.CC,
		SubjectTemplate: cfg.Notifications.Email.SubjectTemplate,
		SNSEnabled:      cfg.Notifications.SNS.Enabled,
		TopicARN:        cfg.Notifications.SNS.TopicARN,
		RecipientField:  cfg.Intake.RecipientField,
		Timeout:         callTimeout,
	}
	if err := confirmCfg.Validate(); err != nil {
		zapLog.Fatal("invalid notification config", zap.Error(err))
	}
	confirmer := sc.NewHandler(confirmCfg, notifier, log)

	pipeline := ps.NewHandler(&ps.Config{
		Table:       cfg.Remote.TableName,
		IDColumn:    cfg.Remote.IDColumn,
		CallTimeout: callTimeout,
	}, ps.Dependencies{
		Journal:   store,
		Table:     table,
		Uploader:  uploader,
		Confirmer: confirmer,
		Recorder:  obs,
		Tracer:    obs.Tracer(),
		Logger:    log,
	})

	validator, err := validation.NewValidatorFromFile(cfg.Intake.SchemaPath)
	if err != nil {
		zapLog.Fatal("submission schema invalid", zap.Error(err))
	}
	intakeSvc := intake.NewService(&intake.Config{
		MaxAttachments:     cfg.Intake.MaxAttachments,
		MaxAttachmentBytes: cfg.Intake.MaxAttachmentBytes,
	}, store, pipeline, validator, log)

	// --- Periodic jobs ---
	var locker scheduler.Locker
	if cfg.Sync.DistributedLock {
		locker = scheduler.NewRedisLocker(in.redis.Client, "", config.GetDuration(cfg.Sync.LockTTLMs))
	}
	jobs := scheduler.New(locker, log)

	reconciler := rj.NewHandler(&rj.Config{
		Table:       cfg.Remote.TableName,
		IDColumn:    cfg.Remote.IDColumn,
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffUnit: config.GetDuration(cfg.Sync.BackoffUnitMs),
		CallTimeout: callTimeout,
	}, store, table, intakeSvc, log)

	sweeper := sa.NewHandler(&sa.Config{
		Folder:        attachmentsFolder,
		RetentionDays: cfg.Retention.Days,
		CallTimeout:   callTimeout,
	}, files, log)

	if err := jobs.Register(scheduler.Job{
		Name:         rj.TaskType,
		Interval:     config.GetDuration(cfg.Sync.IntervalMs),
		StartupDelay: config.GetDuration(cfg.Sync.StartupDelayMs),
		ManualOnly:   !cfg.Sync.Enabled,
		Run: func(ctx context.Context) error {
			_, err := reconciler.Execute(ctx)
			return err
		},
	}); err != nil {
		zapLog.Fatal("register sync job", zap.Error(err))
	}
	if err := jobs.Register(scheduler.Job{
		Name:         sa.TaskType,
		Interval:     config.GetDuration(cfg.Retention.IntervalMs),
		StartupDelay: config.GetDuration(cfg.Sync.StartupDelayMs),
		ManualOnly:   !cfg.Retention.Enabled,
		Run: func(ctx context.Context) error {
			_, err := sweeper.Execute(ctx)
			return err
		},
	}); err != nil {
		zapLog.Fatal("register retention job", zap.Error(err))
	}

	jobsCtx, stopJobs := context.WithCancel(ctx)
	jobs.Start(jobsCtx)

	// --- HTTP boundary ---
	var tokenInfo httpapi.TokenInspector
	if tokenManager != nil {
		tokenInfo = tokenManager
	}
	api := httpapi.NewServer(httpapi.Config{
		DebugToken: cfg.Server.DebugToken,
		SyncJob:    rj.TaskType,
		CleanupJob: sa.TaskType,
	}, httpapi.Dependencies{
		Intake:      intakeSvc,
		Jobs:        jobs,
		Performance: obs.Performance(),
		Tokens:      tokenInfo,
		Journal:     store,
		Logger:      log,
	})
	api.Handle("GET /ready", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.All(r.Context()); err != nil {
			http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	api.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	grace := config.GetDuration(cfg.Server.ShutdownGraceMs)
	zapLog.Info("Shutdown signal received, draining...", zap.Duration("grace", grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown", zap.Error(err))
	}
	if err := intakeSvc.Drain(shutdownCtx); err != nil {
		zapLog.Warn("pipelines did not drain in time", zap.Error(err))
	}
	stopJobs()
	jobs.Wait()

	if err := store.Close(); err != nil {
		zapLog.Error("journal close", zap.Error(err))
	}
	zapLog.Info("Intake server stopped gracefully")
}
