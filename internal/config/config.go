package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Fleet    *fleetConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"jobfleet"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"JOBFLEET_ADDRESS" default:":3443"`
	BaseUrl         string `envconfig:"JOBFLEET_BASE_URL" default:"https://localhost:3443"`
	RegistryBaseUrl string `envconfig:"JOBFLEET_REGISTRY_BASE_URL" default:"http://localhost:8090"`
	LogLevel        string `envconfig:"JOBFLEET_LOG_LEVEL" default:"info"`
}

// fleetConfig carries the worker fleet poller tuning knobs. Every knob is
// required to be positive; a zero poll interval or retry budget is always
// a misconfiguration, never a feature.
type fleetConfig struct {
	PollInterval            int `envconfig:"JOBFLEET_POLL_INTERVAL_MS" default:"30000" validate:"gt=0"`
	MaxConcurrentSchedulers int `envconfig:"JOBFLEET_MAX_CONCURRENT_SCHEDULERS" default:"50" validate:"gt=0"`
	RetryMaxRetries         int `envconfig:"JOBFLEET_RETRY_MAX_RETRIES" default:"5" validate:"gt=0"`
	RetryBaseDelay          int `envconfig:"JOBFLEET_RETRY_BASE_DELAY_MS" default:"1000" validate:"gt=0"`
	RetryMaxDelay           int `envconfig:"JOBFLEET_RETRY_MAX_DELAY_MS" default:"30000" validate:"gt=0"`
	RetryResetAfter         int `envconfig:"JOBFLEET_RETRY_RESET_AFTER_MS" default:"600000" validate:"gt=0"`
	StartupTimeout          int `envconfig:"JOBFLEET_STARTUP_TIMEOUT_MS" default:"60000" validate:"gt=0"`
	RetentionDays           int `envconfig:"JOBFLEET_RETENTION_DAYS" default:"30" validate:"gt=0"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
		if err := validator.New().Struct(singleConfig.Fleet); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration suitable for tests: an in-memory
// sqlite database and the fleet defaults.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{Type: "sqlite", Name: ":memory:"},
		Service:  &svcConfig{Address: ":3443", LogLevel: "info"},
		Fleet: &fleetConfig{
			PollInterval:            30000,
			MaxConcurrentSchedulers: 50,
			RetryMaxRetries:         5,
			RetryBaseDelay:          1000,
			RetryMaxDelay:           30000,
			RetryResetAfter:         600000,
			StartupTimeout:          60000,
			RetentionDays:           30,
		},
	}
}
