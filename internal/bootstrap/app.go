// Package bootstrap builds the application object graph: storage, providers,
// services, handlers, and the router. It is the only place that decides
// between Postgres-backed and in-memory repositories.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"docbrief-backend/internal/account"
	"docbrief-backend/internal/admission"
	"docbrief-backend/internal/artifacts"
	googleauth "docbrief-backend/internal/auth"
	"docbrief-backend/internal/images"
	imagesopenai "docbrief-backend/internal/images/openai"
	"docbrief-backend/internal/jobs"
	"docbrief-backend/internal/ledger"
	"docbrief-backend/internal/llm"
	llmopenai "docbrief-backend/internal/llm/openai"
	"docbrief-backend/internal/notify"
	"docbrief-backend/internal/progress"
	"docbrief-backend/internal/shared/config"
	"docbrief-backend/internal/shared/server"
	"docbrief-backend/internal/shared/storage/db"
	"docbrief-backend/internal/shared/storage/object"
	localstore "docbrief-backend/internal/shared/storage/object/local"
	s3store "docbrief-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	LedgerService  *ledger.Service
	Admission      *admission.Controller
	Progress       *progress.Publisher
	BriefService   *jobs.Service
	BriefHandler   *jobs.Handler
	AccountHandler *account.Handler
	GoogleAuth     *googleauth.GoogleService
	Notifier       notify.Sink
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			if !isDevLike(cfg.Env) {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			sqlDB.Close()
			sqlDB = nil
		}
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}
	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:         app.Config,
		BriefHandler:   app.BriefHandler,
		AccountHandler: app.AccountHandler,
		GoogleAuth:     app.GoogleAuth,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	if cfg.ObjectStoreType == "s3" {
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	}
	return localstore.New(cfg.LocalStoreDir), nil
}

func buildNotifier(ctx context.Context, cfg config.Config) notify.Sink {
	sinks := notify.MultiSink{notify.LogSink{}}
	if strings.TrimSpace(cfg.NotifyQueueURL) != "" {
		sqsSink, err := notify.NewSQSSink(ctx, cfg.NotifyQueueURL, cfg.AWSRegion)
		if err != nil {
			log.Printf("bootstrap: sqs notifier unavailable, using log only: %v", err)
		} else {
			sinks = append(sinks, sqsSink)
		}
	}
	return sinks
}

func buildServices(ctx context.Context, app *App) error {
	cfg := app.Config

	var briefRepo jobs.Repo
	var artifactRepo artifacts.Repo
	var ledgerSvc *ledger.Service
	if app.DB != nil {
		briefRepo = &jobs.PGRepo{DB: app.DB}
		artifactRepo = &artifacts.PGRepo{DB: app.DB}
		ledgerSvc = ledger.NewPostgresService(ledger.NewPGStore(app.DB))
	} else {
		briefRepo = jobs.NewMemoryRepo()
		artifactRepo = artifacts.NewMemoryRepo()
		ledgerSvc = ledger.NewService()
	}

	var durable progress.DurableStore
	if app.DB != nil {
		durable = &progress.PGStore{DB: app.DB}
	} else {
		durable = progress.NewMemoryStore()
	}
	publisher := progress.NewPublisher(durable)

	textClient := llm.Client(llm.PlaceholderClient{})
	imageClient := images.Client(images.PlaceholderClient{})
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		tc, err := llmopenai.NewClient(cfg.OpenAIAPIKey, cfg.TextModel)
		if err != nil {
			return err
		}
		textClient = tc
		ic, err := imagesopenai.NewClient(cfg.OpenAIAPIKey, cfg.ImageModel)
		if err != nil {
			return err
		}
		imageClient = ic
	}

	controller := admission.NewController(admission.DefaultSourceRule(), admission.DefaultIdentityRule(), ledgerSvc, nil)
	notifier := buildNotifier(ctx, cfg)

	briefSvc := jobs.NewService(briefRepo, artifactRepo, ledgerSvc, controller, publisher, app.Store, textClient, imageClient, notifier)
	if cfg.BriefCostCredits > 0 {
		briefSvc.CostCredits = cfg.BriefCostCredits
	}
	if cfg.ImageConcurrency > 0 {
		briefSvc.ImageConcurrency = cfg.ImageConcurrency
	}

	app.LedgerService = ledgerSvc
	app.Admission = controller
	app.Progress = publisher
	app.Notifier = notifier
	app.BriefService = briefSvc
	app.BriefHandler = jobs.NewHandler(briefSvc, progress.NewPollLimiter(0, nil))
	app.AccountHandler = account.NewHandler(ledgerSvc, cfg.CallbackSecret)
	app.GoogleAuth = googleauth.NewGoogleService(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
		cfg.UIRedirectURL,
		ledgerSvc,
		cfg.SignupGrantCredits,
	)
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	}
	return false
}
