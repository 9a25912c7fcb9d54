package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/logger"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

const component = "config"

// Environment keys that override file values.
const (
	EnvDataFile = "ENGINE_DATA_FILE"
	EnvModelDir = "ENGINE_MODEL_DIR"
	EnvLogLevel = "ENGINE_LOG_LEVEL"
	EnvStoreDSN = "ENGINE_STORE_DSN"

	EnvTelegramToken  = "ENGINE_TELEGRAM_TOKEN"
	EnvTelegramChatID = "ENGINE_TELEGRAM_CHAT_ID"
)

// Config is the complete engine configuration.
type Config struct {
	Data     DataConfig       `yaml:"data"`
	Backtest backtest.Config  `yaml:"backtest"`
	Risk     risk.Limits      `yaml:"risk"`
	Sizer    sizing.Budget    `yaml:"sizer"`
	VaR      VaRConfig        `yaml:"var"`
	Model    ModelConfig      `yaml:"model"`
	Features FeatureConfig    `yaml:"features"`
	Store    StoreConfig      `yaml:"store"`
	Log      logger.Config    `yaml:"log"`
	Metrics  MetricsConfig    `yaml:"metrics"`
	Report   reporting.Config `yaml:"report"`

	Notify notifications.Config `yaml:"notify"`
}

// DataConfig locates market data.
type DataConfig struct {
	File     string `yaml:"file"`
	Symbol   string `yaml:"symbol" default:"BTCUSDT" validate:"required"`
	Category string `yaml:"category" default:"spot" validate:"oneof=spot linear inverse"`
	Interval string `yaml:"interval" default:"60"` // bybit kline interval: 1 3 5 15 30 60 120 240 360 720 D W M

	// download throttling
	RequestsPerSecond float64        `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	Retry             safety.Backoff `yaml:"retry"`
}

// VaRConfig configures the VaR calculator.
type VaRConfig struct {
	Method      string  `yaml:"method" default:"historical" validate:"oneof=historical parametric monte_carlo"`
	Confidence  float64 `yaml:"confidence" default:"0.95" validate:"gt=0,lt=1"`
	Horizon     int     `yaml:"horizon" default:"1" validate:"gte=1"`
	Simulations int     `yaml:"simulations" default:"10000" validate:"gte=1"`
	Seed        uint64  `yaml:"seed" default:"42"`
}

// ModelConfig holds boosting parameters and training options.
type ModelConfig struct {
	Params      model.Params `yaml:"params"`
	TopFeatures int          `yaml:"top_features" default:"5" validate:"gte=0"`
	TrainRatio  float64      `yaml:"train_ratio" default:"0.8" validate:"gt=0,lt=1"`
	Folds       int          `yaml:"folds" validate:"gte=0"` // rolling validation folds, 0 disables
}

// FeatureConfig controls feature engineering.
type FeatureConfig struct {
	Fill      string  `yaml:"fill" default:"forward" validate:"oneof=forward legacy drop"`
	Horizon   int     `yaml:"horizon" default:"1" validate:"gte=1"`
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
}

// StoreConfig locates persisted models and run history.
type StoreConfig struct {
	ModelDir     string        `yaml:"model_dir" default:"models" validate:"required"`
	MaxVersions  int           `yaml:"max_versions" default:"5" validate:"gte=1"`
	LockTimeout  time.Duration `yaml:"lock_timeout" default:"30s"`
	StaleLockAge time.Duration `yaml:"stale_lock_age" default:"5m"`
	RunDSN       string        `yaml:"run_dsn" default:"runs.db"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads a YAML configuration file. An empty path yields the defaults.
// Values from envFile (when it exists) and the process environment override
// the file.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, engineerrors.NewInvalidParameter(component, "Load", "env file %s: %v", envFile, err)
			}
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engineerrors.NewStorageError(component, "Load", fmt.Errorf("read %q: %w", path, err))
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals over cfg so keys absent from the file keep their defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return engineerrors.NewInvalidParameter(component, "Load", "parse YAML: %v", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv(EnvTelegramChatID); v != "" {
		cfg.Notify.TelegramChatID = v
	}
	if v := os.Getenv(EnvDataFile); v != "" {
		cfg.Data.File = v
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		cfg.Store.ModelDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		cfg.Store.RunDSN = v
	}
}

// Validate runs the struct tag rules, then each section's own checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return engineerrors.NewInvalidParameter(component, "Validate", "%s", strings.Join(msgs, "; "))
		}
		return engineerrors.NewInvalidParameter(component, "Validate", "%v", err)
	}
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if _, err := c.Features.FillPolicy(); err != nil {
		return engineerrors.NewInvalidParameter(component, "Validate", "%v", err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s %q failed validation: %s", field, fe.Value(), fe.Tag())
		}
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return engineerrors.NewStorageError(component, "Save", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return engineerrors.NewStorageError(component, "Save", err)
	}
	return nil
}
