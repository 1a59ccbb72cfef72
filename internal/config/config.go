// Package config resolves server settings from defaults, a .env file,
// SLIDESYNC_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SLIDESYNC"

const (
	TransportKey       = "transport"
	HTTPAddrKey        = "http_addr"
	MetricsAddrKey     = "metrics_addr"
	CORSAllowKey       = "cors_allow"
	RoomIdleTimeoutKey = "room_idle_timeout"
	CleanupIntervalKey = "cleanup_interval"
	ArchiveDBKey       = "archive_db"
	ShutdownTimeoutKey = "shutdown_timeout"
)

const (
	TransportHertz = "hertz"
	TransportEcho  = "echo"
)

type Config struct {
	Transport       string
	HTTPAddr        string
	MetricsAddr     string
	CORSOrigins     []string
	RoomIdleTimeout time.Duration
	CleanupInterval time.Duration
	ArchiveDB       string
	ShutdownTimeout time.Duration
}

// New returns a viper instance with defaults and environment lookup set up.
// Values from a .env file in the working directory are exported first; a
// missing file is not an error.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault(TransportKey, TransportHertz)
	v.SetDefault(HTTPAddrKey, ":8080")
	v.SetDefault(MetricsAddrKey, ":9090")
	v.SetDefault(CORSAllowKey, "")
	v.SetDefault(RoomIdleTimeoutKey, 30*time.Minute)
	v.SetDefault(CleanupIntervalKey, time.Minute)
	v.SetDefault(ArchiveDBKey, "")
	v.SetDefault(ShutdownTimeoutKey, 10*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Transport:       strings.ToLower(strings.TrimSpace(v.GetString(TransportKey))),
		HTTPAddr:        v.GetString(HTTPAddrKey),
		MetricsAddr:     v.GetString(MetricsAddrKey),
		CORSOrigins:     splitList(v.GetString(CORSAllowKey)),
		RoomIdleTimeout: v.GetDuration(RoomIdleTimeoutKey),
		CleanupInterval: v.GetDuration(CleanupIntervalKey),
		ArchiveDB:       v.GetString(ArchiveDBKey),
		ShutdownTimeout: v.GetDuration(ShutdownTimeoutKey),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportHertz, TransportEcho:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportHertz, TransportEcho)
	}
	if c.HTTPAddr == "" {
		return errors.New("http_addr must not be empty")
	}
	if c.RoomIdleTimeout <= 0 {
		return errors.New("room_idle_timeout must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup_interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
