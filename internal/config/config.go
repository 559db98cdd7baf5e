package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the settings shared by the spos binaries. Each binary binds
// these as flag defaults, so flags override the environment.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	LogLevel    string
	LogFormat   string

	TaxRate   string
	StoreName string
	Cashier   string

	CatalogSource string // seed|file|kafka
	CatalogDir    string
	CatalogPoll   time.Duration

	QueueBackend string // memory|pebble|badger
	QueueDir     string
	OutboxDir    string
	OutboxSink   string // file|kafka|both

	KafkaBootstrap string
	OutboxTopic    string
	SalesTopic     string
	CatalogTopic   string
	TransactionID  string

	HTTPAddr         string
	RelayInterval    time.Duration
	RelayMaxAttempts int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServiceName: getenv("SPOS_SERVICE", "spos"),
		Environment: getenv("SPOS_ENV", "development"),
		Version:     getenv("SPOS_VERSION", "0.1.0"),
		LogLevel:    getenv("SPOS_LOG_LEVEL", "info"),
		LogFormat:   getenv("SPOS_LOG_FORMAT", "json"),

		TaxRate:   getenv("SPOS_TAX_RATE", "0.07"),
		StoreName: getenv("SPOS_STORE_NAME", "Sunmart"),
		Cashier:   getenv("SPOS_CASHIER", "Klara Cashier"),

		CatalogSource: strings.ToLower(getenv("SPOS_CATALOG_SOURCE", "seed")),
		CatalogDir:    getenv("SPOS_CATALOG_DIR", "./catalog"),
		CatalogPoll:   getenvDuration("SPOS_CATALOG_POLL", 30*time.Second),

		QueueBackend: strings.ToLower(getenv("SPOS_QUEUE_BACKEND", "memory")),
		QueueDir:     getenv("SPOS_QUEUE_DIR", "./queue"),
		OutboxDir:    getenv("SPOS_OUTBOX_DIR", "./outbox"),
		OutboxSink:   strings.ToLower(getenv("SPOS_OUTBOX_SINK", "file")),

		KafkaBootstrap: getenv("SPOS_KAFKA_BOOTSTRAP", "localhost:19092"),
		OutboxTopic:    getenv("SPOS_OUTBOX_TOPIC", "spos.outbox"),
		SalesTopic:     getenv("SPOS_SALES_TOPIC", "spos.sales"),
		CatalogTopic:   getenv("SPOS_CATALOG_TOPIC", "spos.catalog-manifest"),
		TransactionID:  getenv("SPOS_TX_ID", "spos-relay-1"),

		HTTPAddr:         getenv("SPOS_HTTP_ADDR", ":9090"),
		RelayInterval:    getenvDuration("SPOS_RELAY_INTERVAL", 5*time.Second),
		RelayMaxAttempts: getenvInt("SPOS_RELAY_MAX_ATTEMPTS", 5),
	}
}

// Brokers splits the comma-separated bootstrap list.
func (c Config) Brokers() []string {
	var out []string
	for _, a := range strings.Split(c.KafkaBootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Rate parses TaxRate as a fraction.
func (c Config) Rate() (decimal.Decimal, error) {
	r, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("tax rate %q: %w", c.TaxRate, err)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("tax rate %s out of range [0,1)", r)
	}
	return r, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if !oneOf(c.CatalogSource, "seed", "file", "kafka") {
		return fmt.Errorf("catalog source %q: want seed|file|kafka", c.CatalogSource)
	}
	if !oneOf(c.QueueBackend, "memory", "pebble", "badger") {
		return fmt.Errorf("queue backend %q: want memory|pebble|badger", c.QueueBackend)
	}
	if !oneOf(c.OutboxSink, "file", "kafka", "both") {
		return fmt.Errorf("outbox sink %q: want file|kafka|both", c.OutboxSink)
	}
	if _, err := c.Rate(); err != nil {
		return err
	}
	if c.RelayMaxAttempts <= 0 {
		return fmt.Errorf("relay max attempts must be positive, got %d", c.RelayMaxAttempts)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
