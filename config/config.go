// Package config loads the application credentials and transport settings
// used to open a pusher connection.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaultYAML []byte

var validate = validator.New()

type Config struct {
	AppKey           string        `mapstructure:"app_key"            validate:"required"`
	Cluster          string        `mapstructure:"cluster"`
	Host             string        `mapstructure:"host"               validate:"omitempty,hostname_port"`
	Secure           bool          `mapstructure:"secure"`
	ActivityTimeout  time.Duration `mapstructure:"activity_timeout"   validate:"gte=0"`
	ClientEventRate  float64       `mapstructure:"client_event_rate"  validate:"gt=0"`
	ClientEventBurst int           `mapstructure:"client_event_burst" validate:"gte=1"`
	Logging          LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"       validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format"      validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"    validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age"     validate:"gte=0"`
}

func init() {
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		if cfg.Host == "" && cfg.Cluster == "" {
			sl.ReportError(cfg.Host, "Host", "host", "host_or_cluster", "")
		}
	}, Config{})
}

// Load merges the embedded defaults, the optional file at path and PUSHER_*
// environment variables, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PUSHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the embedded defaults. AppKey is empty, so the result does
// not validate until one is supplied.
func Default() Config {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Endpoint returns host:port of the websocket endpoint, derived from the
// cluster when Host is empty.
func (c Config) Endpoint() string {
	if c.Host != "" {
		return c.Host
	}
	return "ws-" + c.Cluster + ".pusher.com"
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fieldErrorMessage(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "host_or_cluster":
		return "either host or cluster must be set"
	case "hostname_port":
		return field + " must be host:port"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
