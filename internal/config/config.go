package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"internal/storage/migrations"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"booking-events"`

	DuffelBaseURL   string `env:"DUFFEL_BASE_URL" envDefault:"https://api.duffel.com"`
	DuffelToken     string `env:"DUFFEL_TOKEN"`
	StripeSecretKey string `env:"STRIPE_SECRET_KEY"`

	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	MaxJobRetries      int           `env:"MAX_JOB_RETRIES" envDefault:"5"`
	SchedulerTick      time.Duration `env:"SCHEDULER_TICK" envDefault:"1m"`
	MonitorInterval    time.Duration `env:"MONITOR_INTERVAL" envDefault:"10m"`
	StaleAttemptAfter  time.Duration `env:"STALE_ATTEMPT_AFTER" envDefault:"15m"`

	ProviderMaxAttempts int `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"3"`
	PricingCandidates   int `env:"PRICING_CANDIDATES" envDefault:"3"`
	ErrorMessageLimit   int `env:"ERROR_MESSAGE_LIMIT" envDefault:"500"`
}

// Production reports whether the process runs outside local development.
func (c Config) Production() bool {
	return c.AppEnv != "dev" && c.AppEnv != "test"
}

func Load() Config {
	c, err := env.ParseAs[Config]()
	if err != nil {
		log.Fatal(err)
	}
	return c
}

// Parse reads configuration from an explicit environment map.
func Parse(environ map[string]string) (Config, error) {
	var c Config
	err := env.ParseWithOptions(&c, env.Options{Environment: environ})
	return c, err
}
