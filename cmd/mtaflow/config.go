package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/rendis/mtaflow/internal/driver"
	"github.com/rendis/mtaflow/pkg/schema"
)

// envPrefix namespaces every environment override, e.g. MTAFLOW_DB_PATH.
const envPrefix = "mtaflow"

// Config holds the mtaflow CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath    string `json:"db_path" envconfig:"DB_PATH" validate:"required"`
	LogLevel  string `json:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`

	CloudURL          string `json:"cloud_url" envconfig:"CLOUD_URL" validate:"omitempty,url"`
	CloudToken        string `json:"cloud_token,omitempty" envconfig:"CLOUD_TOKEN"`
	RequestsPerSecond int    `json:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" validate:"gte=0"`
	RequestTimeout    string `json:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"duration"`

	// TaskTimeout is the default appsTaskExecutionTimeout.
	TaskTimeout  string             `json:"task_timeout" envconfig:"TASK_TIMEOUT" validate:"duration"`
	TickSchedule string             `json:"tick_schedule" envconfig:"TICK_SCHEDULE" validate:"schedule"`
	PoolSize     int                `json:"pool_size" envconfig:"POOL_SIZE" validate:"gte=1"`
	Retry        schema.RetryPolicy `json:"retry" envconfig:"RETRY"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(mtaflowDir(), "mtaflow.db"),
		LogLevel:       "info",
		LogFormat:      "text",
		RequestTimeout: "30s",
		TaskTimeout:    "12h",
		TickSchedule:   "@every 2s",
		PoolSize:       4,
		Retry: schema.RetryPolicy{
			Max:      3,
			Backoff:  "exponential",
			Delay:    "5s",
			MaxDelay: "5m",
		},
	}
}

func mtaflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mtaflow"
	}
	return filepath.Join(home, ".mtaflow")
}

func settingsPath() string {
	return filepath.Join(mtaflowDir(), "settings.json")
}

// loadConfig layers defaults, the settings file at path (skipped when
// missing) and MTAFLOW_* environment variables, then validates the result.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d > 0
		})
		_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
			_, err := driver.ParseSchedule(fl.Field().String())
			return err == nil
		})
		validateInst = v
	})
	return validateInst
}

func validateConfig(cfg Config) error {
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// taskTimeout and requestTimeout are only called on validated configs.
func (c Config) taskTimeout() time.Duration {
	d, _ := time.ParseDuration(c.TaskTimeout)
	return d
}

func (c Config) requestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}
