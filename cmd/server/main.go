package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/api"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/authz"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/blob"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/card"
	appconfig "github.com/astrofood/Card-Fulfillment-Pipeline/internal/config"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/email"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/events"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/secrets"
	postgres "github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/telemetry"
)

func newLogger(cfg appconfig.Config) *log.Logger {
	prefix := ""
	if cfg.ServiceName != "" {
		prefix = fmt.Sprintf("[%s] ", cfg.ServiceName)
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(os.Stdout)
	log.SetFlags(logger.Flags())
	log.SetPrefix(prefix)
	return logger
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) {
	var cleanup func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cleanup = telemetry.InitTracer(cfg.ServiceName)
			return nil
		},
		OnStop: func(context.Context) error {
			if cleanup != nil {
				cleanup()
			}
			return nil
		},
	})
}

// newSQLDB provides the shared *sql.DB and closes it on stop. The app keeps
// running without a database; handlers report store errors per request.
func newSQLDB(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) (*sql.DB, error) {
	logger.Printf("Connecting to PostgreSQL database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	db, err := postgres.OpenDatabase(cfg.Database)
	if err != nil {
		logger.Printf("WARNING: failed to connect to database: %v", err)
		return nil, nil
	}
	logger.Printf("Database connection established successfully")
	if err := postgres.EnsureSchema(db, cfg.Tables); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newRepository(db *sql.DB, cfg appconfig.Config) *postgres.Repository {
	return postgres.NewRepository(db, cfg.Tables)
}

func newBlobStore(cfg appconfig.Config, logger *log.Logger) (*blob.Store, error) {
	store, err := blob.NewStore(blob.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("Blob storage ready (bucket=%s)", cfg.Blob.Bucket)
	return store, nil
}

// newKafkaProducer constructs a shared Kafka producer and binds its lifecycle to Fx.
func newKafkaProducer(cfg appconfig.Config, lc fx.Lifecycle) *events.Producer {
	prod := events.NewProducerWithBrokers(cfg.Kafka.Brokers)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return prod.Close()
		},
	})
	return prod
}

func newGenerator(cfg appconfig.Config) *recipe.Generator {
	return recipe.NewGenerator(cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.BaseURL, cfg.Generation.FallbackFile)
}

// pickSender uses SMTP when configured, else the logging no-op sender.
// Fulfillment never depends on the email provider being present.
func pickSender(cfg appconfig.Config) email.Sender {
	if cfg.Email.Host != "" {
		return email.NewSMTPSender()
	}
	return email.LogSender{}
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner,
	repo *postgres.Repository, blobs *blob.Store, prod *events.Producer, gen *recipe.Generator, sender email.Sender) {

	mux := http.NewServeMux()

	api.RegisterIntentRoutes(mux, repo, api.CheckoutOptions{
		CheckoutURL: cfg.Checkout.CheckoutURL,
		AppBaseURL:  cfg.Checkout.AppBaseURL,
	})
	api.RegisterRecipeRoutes(mux, repo, gen)
	api.RegisterPurchaseRoutes(mux, repo, authz.NewFromEnv())
	api.RegisterWebhookRoutes(mux, &api.WebhookHandler{
		Secret:   cfg.Webhook.Secret,
		Store:    repo,
		Renderer: card.NewRenderer(),
		Blobs:    blobs,
		Sender:   sender,
		Events:   prod,
		Topic:    cfg.Kafka.PurchasesTopic,
		URLTTL:   time.Duration(cfg.Blob.URLTTLSecs) * time.Second,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: withCORS(mux),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Printf("Storefront API listening on %s", cfg.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("API server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simple permissive CORS for local testing
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Signature, X-Event-Name")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	_ = godotenv.Load()

	if err := secrets.BootstrapFromOpenBao(context.Background()); err != nil {
		log.Printf("WARNING: OpenBao bootstrap failed: %v", err)
	}

	app := fx.New(
		fx.Provide(
			appconfig.Load,
			newLogger,
			newSQLDB,
			newRepository,
			newBlobStore,
			newKafkaProducer,
			newGenerator,
			pickSender,
		),
		fx.Invoke(
			func(logger *log.Logger, cfg appconfig.Config) {
				logger.Printf("Starting %s...", cfg.ServiceName)
				if cfg.Webhook.Secret == "" {
					logger.Printf("WARNING: LEMONSQUEEZY_WEBHOOK_SECRET not set; webhook will refuse requests")
				}
			},
			setupTelemetry,
			registerWebServer,
		),
	)

	app.Run()
}
