package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	postgres "github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Database    postgres.DatabaseConfig
	Tables      postgres.TableConfig
	Checkout    CheckoutConfig
	Webhook     WebhookConfig
	Generation  GenerationConfig
	Blob        BlobConfig
	Email       EmailConfig
	Kafka       KafkaConfig
}

type HTTPConfig struct {
	Addr string
}

// CheckoutConfig points at the hosted payment page and at our own return path.
type CheckoutConfig struct {
	CheckoutURL string
	AppBaseURL  string
}

type WebhookConfig struct {
	// Secret verifies webhook bodies (hex HMAC-SHA256). The webhook endpoint
	// refuses to process without it; every other credential degrades gracefully.
	Secret string
}

type GenerationConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	FallbackFile string
}

type BlobConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	URLTTLSecs int
}

type EmailConfig struct {
	Host string
	Port string
	From string
}

type KafkaConfig struct {
	Brokers        []string
	PurchasesTopic string
	ReceiptGroup   string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "card-fulfillment-pipeline"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":3000"),
		},
		Checkout: CheckoutConfig{
			CheckoutURL: getEnv("CHECKOUT_URL", "https://checkout.lemonsqueezy.com/buy/astrofood-card"),
			AppBaseURL:  getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("LEMONSQUEEZY_WEBHOOK_SECRET"),
		},
		Generation: GenerationConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			Model:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			FallbackFile: getEnv("CHEFAI_FALLBACK_FILE", "chefai-fallback.json"),
		},
		Email: EmailConfig{
			Host: os.Getenv("SMTP_HOST"),
			Port: getEnv("SMTP_PORT", "1025"),
			From: getEnv("SMTP_FROM", "no-reply@astrofood.app"),
		},
		Kafka: KafkaConfig{
			Brokers:        splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PurchasesTopic: getEnv("KAFKA_PURCHASES_TOPIC", "purchases.v1"),
			ReceiptGroup:   getEnv("KAFKA_RECEIPT_GROUP_ID", "receipt-workers"),
		},
		Tables: postgres.TableConfig{
			Intents:   getEnv("INTENT_TABLE", "purchase_intents"),
			Purchases: getEnv("PURCHASES_TABLE", "purchases"),
			Recipes:   getEnv("RECIPES_TABLE", "recipes"),
		},
	}

	portStr := getEnv("CARD_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse CARD_DB_PORT: %w", err)
	}
	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("CARD_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("CARD_DB_NAME", "astrofood"),
		User:     getEnv("CARD_DB_USER", "astrofoodadmin"),
		Password: getEnv("CARD_DB_PASSWORD", ""),
	}

	ttlStr := getEnv("SIGNED_URL_TTL_SECONDS", "259200")
	ttl, err := strconv.Atoi(ttlStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse SIGNED_URL_TTL_SECONDS: %w", err)
	}
	cfg.Blob = BlobConfig{
		Endpoint:   getEnv("S3_ENDPOINT", "localhost:9000"),
		AccessKey:  os.Getenv("S3_ACCESS_KEY"),
		SecretKey:  os.Getenv("S3_SECRET_KEY"),
		Bucket:     getEnv("S3_BUCKET", "purchases"),
		UseSSL:     getEnv("S3_USE_SSL", "false") == "true",
		URLTTLSecs: ttl,
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
