package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/utils"
)

type Config struct {
	Env         string      `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel    string      `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP        HTTP        `yaml:"http"`
	Metrics     Metrics     `yaml:"metrics"`
	Postgres    PG          `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	Catalog     Catalog     `yaml:"catalog"`
	Reservation Reservation `yaml:"reservation"`
	Retry       Retry       `yaml:"retry"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9102"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"stockflow-engine"`
}

type Catalog struct {
	BaseURL string        `yaml:"base_url" env:"CATALOG_URL" env-default:"http://localhost:8081"`
	Timeout time.Duration `yaml:"timeout" env-default:"2s"`
}

type Reservation struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" env:"RESERVATION_TTL" env-default:"15m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"30s"`
	SweepBatch    int           `yaml:"sweep_batch" env-default:"100"`
}

type Retry struct {
	Attempts int           `yaml:"attempts" env-default:"5"`
	Backoff  time.Duration `yaml:"backoff" env-default:"20ms"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
