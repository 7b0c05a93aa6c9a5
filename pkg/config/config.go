// Package config loads allocator settings from a YAML file and POOLALLOC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/poolalloc/internal/logger"
	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pkg/metrics"
	"github.com/joshuapare/poolalloc/pool"
)

const envPrefix = "POOLALLOC"

// ErrInvalid indicates a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid")

// validate is a singleton validator instance
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML keys.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := logger.ParseLevel(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// formatValidationError turns validator errors into one ErrInvalid error.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Config is the full allocator configuration.
type Config struct {
	Name           string `yaml:"name" envconfig:"name"`
	LockedRawAlloc bool   `yaml:"locked_raw_alloc" envconfig:"locked_raw_alloc"`

	Host    HostConfig    `yaml:"host" envconfig:"host"`
	Device  DeviceConfig  `yaml:"device" envconfig:"device"`
	Log     LogConfig     `yaml:"log" envconfig:"log"`
	Metrics MetricsConfig `yaml:"metrics" envconfig:"metrics"`
}

// HostConfig configures the host backend.
type HostConfig struct {
	// Capacity caps host bytes held by the pool. Zero means unlimited.
	Capacity int64 `yaml:"capacity" envconfig:"capacity" validate:"gte=0"`
}

// DeviceConfig configures the device backend.
type DeviceConfig struct {
	Capacity int64         `yaml:"capacity" envconfig:"capacity" validate:"gte=0"`
	Latency  time.Duration `yaml:"latency" envconfig:"latency" validate:"gte=0s"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"enabled"`
	Level   string `yaml:"level" envconfig:"level" validate:"loglevel"`
	Format  string `yaml:"format" envconfig:"format" validate:"omitempty,oneof=text json"`
	Dir     string `yaml:"dir" envconfig:"dir"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"enabled"`
	Addr    string `yaml:"addr" envconfig:"addr" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Name: "poolctl",
		Log: LogConfig{
			Level:  "info",
			Format: logger.FormatText,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	conf := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return conf, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &conf); err != nil {
			return conf, fmt.Errorf("config: couldn't unmarshal %s: %w", path, err)
		}
	}
	if err := envconfig.Process(envPrefix, &conf); err != nil {
		return conf, fmt.Errorf("config: failed to process env vars: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// Validate rejects negative capacities or latency, unknown log settings and
// an enabled metrics endpoint without an address.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoggerOptions converts the log section for logger.Init.
func (c *Config) LoggerOptions() (logger.Options, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.Options{}, err
	}
	return logger.Options{
		Enabled: c.Log.Enabled,
		Level:   level,
		Format:  c.Log.Format,
		LogDir:  c.Log.Dir,
	}, nil
}

// Backends builds the raw allocators for both memory spaces.
func (c *Config) Backends() (host, device memspace.Backend, err error) {
	host = memspace.NewHost()
	if c.Host.Capacity > 0 {
		host = memspace.NewLimited(host, c.Host.Capacity)
	}
	dev, err := memspace.NewDevice(memspace.DeviceOptions{
		Capacity: c.Device.Capacity,
		Latency:  c.Device.Latency,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("config: device: %w", err)
	}
	return host, dev, nil
}

// AllocatorOptions turns the configuration into pool options. It uses the
// current logger.L and, when metrics are enabled, metrics.DefaultRegistry.
func (c *Config) AllocatorOptions() ([]pool.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	host, dev, err := c.Backends()
	if err != nil {
		return nil, err
	}
	opts := []pool.Option{
		pool.WithName(c.Name),
		pool.WithLockedRawAlloc(c.LockedRawAlloc),
		pool.WithBackend(pool.Host, host),
		pool.WithBackend(pool.Device, dev),
		pool.WithLogger(logger.L),
	}
	if c.Metrics.Enabled {
		opts = append(opts, pool.WithMetrics(metrics.DefaultRegistry()))
	}
	return opts, nil
}
