// Package config resolves server and client settings from defaults, an
// optional YAML file, OFFLINE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/observability"
	"github.com/signalsfoundry/offline-maps/internal/sdk/sim"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName names the data directory and the default tracing service.
	AppName = "offline-maps"
	// EnvPrefix prefixes every environment override, e.g. OFFLINE_GRPC_ADDR.
	EnvPrefix = "OFFLINE"
)

// Config is the resolved configuration.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	Log         logging.Config
	Storage     Storage
	Sim         sim.Config
	Tracing     observability.TracingConfig
}

// Storage selects where the simulated SDK keeps its blobs. URL wins over Dir
// when both are set.
type Storage struct {
	URL string
	Dir string
}

// BucketURL returns the gocloud.dev URL for the configured storage.
func (s Storage) BucketURL() string {
	if s.URL != "" {
		return s.URL
	}
	return "file://" + filepath.ToSlash(s.Dir) + "?create_dir=true"
}

// New returns a viper instance carrying every default and env binding.
func New() *viper.Viper {
	v := viper.New()
	def := sim.DefaultConfig()

	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.url", "")
	v.SetDefault("storage.dir", filepath.Join(xdg.DataHome, AppName))
	v.SetDefault("sim.step", def.Step)
	v.SetDefault("sim.batch_size", def.BatchSize)
	v.SetDefault("sim.max_tiles", def.MaxTiles)
	v.SetDefault("sim.tile_size", def.TileSize)
	v.SetDefault("sim.disk_quota", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", AppName)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the known flags in flags to their keys, so --grpc-addr
// overrides grpc_addr and --log-level overrides log.level. Unknown flags are
// left alone.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := flagKey(f.Name)
		if key == "" {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

var flagKeys = map[string]string{
	"grpc-addr":            "grpc_addr",
	"metrics-addr":         "metrics_addr",
	"log-level":            "log.level",
	"log-format":           "log.format",
	"storage-url":          "storage.url",
	"storage-dir":          "storage.dir",
	"sim-step":             "sim.step",
	"sim-batch-size":       "sim.batch_size",
	"sim-max-tiles":        "sim.max_tiles",
	"sim-disk-quota":       "sim.disk_quota",
	"tracing":              "tracing.enabled",
	"tracing-exporter":     "tracing.exporter",
	"tracing-endpoint":     "tracing.endpoint",
	"tracing-sample-ratio": "tracing.sample_ratio",
}

func flagKey(name string) string { return flagKeys[name] }

// Load reads the optional YAML file at path into v and resolves Config.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	quota, err := parseSize(v.GetString("sim.disk_quota"))
	if err != nil {
		return Config{}, fmt.Errorf("sim.disk_quota: %w", err)
	}

	cfg := Config{
		GRPCAddr:    v.GetString("grpc_addr"),
		MetricsAddr: v.GetString("metrics_addr"),
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: Storage{
			URL: v.GetString("storage.url"),
			Dir: v.GetString("storage.dir"),
		},
		Sim: sim.Config{
			Step:      v.GetDuration("sim.step"),
			BatchSize: v.GetInt("sim.batch_size"),
			MaxTiles:  v.GetInt("sim.max_tiles"),
			TileSize:  v.GetInt("sim.tile_size"),
			DiskQuota: quota,
		},
		Tracing: observability.TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			ServiceName: v.GetString("tracing.service_name"),
			Exporter:    v.GetString("tracing.exporter"),
			Endpoint:    v.GetString("tracing.endpoint"),
			SampleRatio: v.GetFloat64("tracing.sample_ratio"),
		},
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr must not be empty"))
	}
	if c.Storage.URL == "" && c.Storage.Dir == "" {
		errs = append(errs, errors.New("one of storage.url or storage.dir is required"))
	}
	if c.Sim.Step < 0 {
		errs = append(errs, fmt.Errorf("sim.step must not be negative, got %s", c.Sim.Step))
	}
	if c.Sim.BatchSize < 0 || c.Sim.MaxTiles < 0 || c.Sim.TileSize < 0 {
		errs = append(errs, errors.New("sim sizes must not be negative"))
	}
	return errors.Join(errs...)
}

// parseSize accepts "", "0" or a human size such as "512MiB" or "2 GB".
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return humanize.ParseBytes(s)
}
