package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/repository"
	"SignalGate/internal/services/risk"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"5s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Logging struct {
		Level           string        `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format          string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output          string        `yaml:"output" default:"stdout"`
		CollectorTopic  string        `yaml:"collector_topic"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
		CollectCount    int           `yaml:"collect_count" default:"100"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Kafka struct {
		Brokers []string `yaml:"brokers" validate:"required,min=1,dive,required"`
		Topics  struct {
			Signals    string `yaml:"signals" default:"strategy-signals" validate:"required"`
			Portfolio  string `yaml:"portfolio" default:"portfolio-feedback" validate:"required"`
			Intents    string `yaml:"intents" default:"order-intents" validate:"required"`
			RiskEvents string `yaml:"risk_events" default:"risk-events"`
		} `yaml:"topics"`
		Producer struct {
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchSize    int           `yaml:"batch_size" default:"1"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"signalgate"`
			OffsetReset string        `yaml:"offset_reset" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"4" validate:"gt=0"`
			BufferSize  int           `yaml:"buffer_size" default:"64"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			SlowHandler time.Duration `yaml:"slow_handler" default:"250ms"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled      bool   `yaml:"enabled"`
		Host         string `yaml:"host" default:"localhost"`
		Port         int    `yaml:"port" default:"6379"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size" default:"10"`
		IntentStream string `yaml:"intent_stream" default:"signalgate:intents"`
		RiskStream   string `yaml:"risk_stream" default:"signalgate:risk"`
		StreamMaxLen int64  `yaml:"stream_max_len" default:"100000"`
	} `yaml:"redis"`

	Publisher struct {
		// Backend is the primary sink. With redis.enabled and a kafka backend,
		// Redis mirrors every intent.
		Backend string                     `yaml:"backend" default:"kafka" validate:"oneof=kafka redis"`
		Timeout time.Duration              `yaml:"timeout" default:"5s"`
		Breaker repository.BreakerSettings `yaml:"breaker"`
	} `yaml:"publisher"`

	Brain struct {
		ID               string        `yaml:"id" default:"signalgate-1" validate:"required"`
		SweepInterval    time.Duration `yaml:"sweep_interval" default:"5m"`
		DefaultMaxAge    time.Duration `yaml:"default_max_age" default:"2h"`
		HistoryCap       int           `yaml:"history_cap" default:"1000" validate:"gt=0"`
		SignalsPerSecond float64       `yaml:"signals_per_second" default:"20"`
		SignalBurst      int           `yaml:"signal_burst" default:"40"`
	} `yaml:"brain"`

	Risk risk.ManagerConfig `yaml:"risk"`

	Strategies Strategies `yaml:"strategies"`
}

type Strategies struct {
	Single         []SingleStrategy         `yaml:"single" validate:"dive"`
	MultiTimeframe []MultiTimeframeStrategy `yaml:"multi_timeframe" validate:"dive"`
}

type SingleStrategy struct {
	Name       string         `yaml:"name" validate:"required"`
	Timeframe  string         `yaml:"timeframe" validate:"required,timeframe"`
	Symbol     string         `yaml:"symbol" validate:"required"`
	Parameters map[string]any `yaml:"parameters"`
}

// MultiTimeframeStrategy uses pointer bools so an omitted flag can default to
// true without overriding an explicit false.
type MultiTimeframeStrategy struct {
	Name                   string         `yaml:"name" validate:"required"`
	Symbol                 string         `yaml:"symbol" validate:"required"`
	Primary                string         `yaml:"primary" validate:"required,timeframe"`
	Confirmations          []string       `yaml:"confirmations" validate:"dive,timeframe"`
	Filters                []string       `yaml:"filters" validate:"dive,timeframe"`
	RequireConfirmation    *bool          `yaml:"require_confirmation"`
	RequireFilterAgreement *bool          `yaml:"require_filter_agreement"`
	Parameters             map[string]any `yaml:"parameters"`
}

// RequiresConfirmation defaults to true.
func (s MultiTimeframeStrategy) RequiresConfirmation() bool {
	return s.RequireConfirmation == nil || *s.RequireConfirmation
}

// RequiresFilterAgreement defaults to false.
func (s MultiTimeframeStrategy) RequiresFilterAgreement() bool {
	return s.RequireFilterAgreement != nil && *s.RequireFilterAgreement
}

// Load reads path, fills defaults, applies environment overrides and
// validates. A .env file next to the process is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, os.Getenv)
}

// Parse builds a Config from YAML bytes; getenv supplies overrides.
func Parse(b []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SIGNALGATE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_GROUP_ID"); v != "" {
		c.Kafka.Consumer.GroupID = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_PORT: %w", err)
		}
		c.Redis.Port = port
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("PUBLISHER_BACKEND"); v != "" {
		c.Publisher.Backend = v
	}
	if v := getenv("BRAIN_ID"); v != "" {
		c.Brain.ID = v
	}
	return nil
}

func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := models.RegisterTimeframeValidation(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Publisher.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("publisher.backend redis requires redis.enabled")
	}
	return nil
}

// Address is the ops HTTP listen address.
func (c *Config) Address() string { return fmt.Sprintf(":%d", c.Server.Port) }

func (c *Config) IsProduction() bool { return c.Environment == "production" }
