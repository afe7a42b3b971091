package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/prodfacts/internal/db"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Database  db.Config
	Server    ServerConfig
	Ingestion IngestionConfig
	Monitor   MonitorConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// IngestionConfig carries the export format parameters.
type IngestionConfig struct {
	Encoding       string
	Separator      string
	AnchorLabel    string
	NoiseMarker    string
	MaxUploadBytes int64
}

// MonitorConfig controls the integrity and staleness monitor.
type MonitorConfig struct {
	StuckThreshold time.Duration
	Interval       time.Duration
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string
	Pretty bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Ingestion: IngestionConfig{
			Encoding:       "iso-8859-1",
			Separator:      "|",
			AnchorLabel:    "Posting Date",
			NoiseMarker:    "Qty in UnE",
			MaxUploadBytes: 64 << 20,
		},
		Monitor: MonitorConfig{
			StuckThreshold: 30 * time.Minute,
			Interval:       time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads config.yaml from configPath (optional) and applies
// PRODFACTS_* environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("PRODFACTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.maxconns",
		"server.addr", "server.allowedorigins",
		"ingestion.encoding", "ingestion.separator", "ingestion.anchorlabel",
		"ingestion.noisemarker", "ingestion.maxuploadbytes",
		"monitor.stuckthreshold", "monitor.interval",
		"log.level", "log.pretty",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.maxconns") {
		cfg.Database.MaxConns = v.GetInt32("database.maxconns")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowedorigins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowedorigins")
	}

	if v.IsSet("ingestion.encoding") {
		cfg.Ingestion.Encoding = v.GetString("ingestion.encoding")
	}
	if v.IsSet("ingestion.separator") {
		cfg.Ingestion.Separator = v.GetString("ingestion.separator")
	}
	if v.IsSet("ingestion.anchorlabel") {
		cfg.Ingestion.AnchorLabel = v.GetString("ingestion.anchorlabel")
	}
	if v.IsSet("ingestion.noisemarker") {
		cfg.Ingestion.NoiseMarker = v.GetString("ingestion.noisemarker")
	}
	if v.IsSet("ingestion.maxuploadbytes") {
		cfg.Ingestion.MaxUploadBytes = v.GetInt64("ingestion.maxuploadbytes")
	}

	if v.IsSet("monitor.stuckthreshold") {
		cfg.Monitor.StuckThreshold = v.GetDuration("monitor.stuckthreshold")
	}
	if v.IsSet("monitor.interval") {
		cfg.Monitor.Interval = v.GetDuration("monitor.interval")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.pretty") {
		cfg.Log.Pretty = v.GetBool("log.pretty")
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Ingestion.Separator == "" {
		return errors.New("ingestion.separator must not be empty")
	}
	if strings.TrimSpace(c.Ingestion.AnchorLabel) == "" {
		return errors.New("ingestion.anchorLabel must not be empty")
	}
	if c.Ingestion.MaxUploadBytes <= 0 {
		return fmt.Errorf("ingestion.maxUploadBytes must be positive, got %d", c.Ingestion.MaxUploadBytes)
	}
	if c.Monitor.StuckThreshold <= 0 {
		return fmt.Errorf("monitor.stuckThreshold must be positive, got %s", c.Monitor.StuckThreshold)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port out of range: %d", c.Database.Port)
	}
	return nil
}
