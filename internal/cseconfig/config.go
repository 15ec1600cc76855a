// Package cseconfig is the CSE's "Configuration and ID service" (spec.md
// line 49): CSE-ID/release-version/serialization configuration loading, plus
// unique-ID allocation for newly registered entities. Loading follows the
// teacher's pkg/config layering - defaults, then an optional YAML file, then
// environment-variable overrides - generalized from a generic HTTP-service
// config to the CSE's own settings (identity, storage, cache, notification,
// scheduler intervals, remote-CSE endpoints).
package cseconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// IdentityConfig is spec.md line 227's "CSE configuration" bullet: "CSE-ID,
// CSE resource name, release versions supported, default content
// serialization, request-expiration and resource-expiration defaults,
// maximum request-history size, supported polling-channel timeout."
type IdentityConfig struct {
	CSEID                    string        `json:"cse_id" yaml:"cse_id" env:"CSE_ID"`
	CSERN                    string        `json:"cse_rn" yaml:"cse_rn" env:"CSE_RN"`
	SPID                     string        `json:"sp_id" yaml:"sp_id" env:"CSE_SP_ID"`
	CSEType                  string        `json:"cse_type" yaml:"cse_type" env:"CSE_TYPE"` // IN-CSE|MN-CSE|ASN-CSE
	ReleaseVersions          []string      `json:"release_versions" yaml:"release_versions"`
	DefaultSerialization     string        `json:"default_serialization" yaml:"default_serialization" env:"CSE_DEFAULT_SERIALIZATION"`
	RequestExpiration        time.Duration `json:"request_expiration" yaml:"request_expiration" env:"CSE_REQUEST_EXPIRATION"`
	ResourceExpiration        time.Duration `json:"resource_expiration" yaml:"resource_expiration" env:"CSE_RESOURCE_EXPIRATION"`
	MaxRequestHistory         int           `json:"max_request_history" yaml:"max_request_history" env:"CSE_MAX_REQUEST_HISTORY"`
	PollingChannelTimeout     time.Duration `json:"polling_channel_timeout" yaml:"polling_channel_timeout" env:"CSE_POLLING_CHANNEL_TIMEOUT"`
}

// ServerConfig controls the transport listeners (internal/transport/*).
type ServerConfig struct {
	HTTPHost          string `json:"http_host" yaml:"http_host" env:"SERVER_HTTP_HOST"`
	HTTPPort          int    `json:"http_port" yaml:"http_port" env:"SERVER_HTTP_PORT"`
	WSHost            string `json:"ws_host" yaml:"ws_host" env:"SERVER_WS_HOST"`
	WSPort            int    `json:"ws_port" yaml:"ws_port" env:"SERVER_WS_PORT"`
	MQTTBroker        string `json:"mqtt_broker" yaml:"mqtt_broker" env:"SERVER_MQTT_BROKER"`
	MQTTEnabled       bool   `json:"mqtt_enabled" yaml:"mqtt_enabled" env:"SERVER_MQTT_ENABLED"`
	EnableUpperTester bool   `json:"enable_upper_tester" yaml:"enable_upper_tester" env:"SERVER_ENABLE_UPPER_TESTER"`
}

// DatabaseConfig controls the primary resource store.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	MigrationsPath  string `json:"migrations_path" yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH"`
}

// ConnectionString builds a libpq key=value DSN from the host parameters,
// used when DSN is unset.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// CacheConfig controls the optional Redis-backed lookup cache
// (internal/store/cache).
type CacheConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"CACHE_ADDR"`
	Password string `json:"password" yaml:"password" env:"CACHE_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"CACHE_DB"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" env:"CACHE_TTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	ServiceName string `json:"service_name" yaml:"service_name" env:"METRICS_SERVICE_NAME"`
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// NotifyConfig controls outbound notification delivery.
type NotifyConfig struct {
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout" env:"NOTIFY_HTTP_TIMEOUT"`
}

// SchedulerConfig controls the background scheduler's task intervals
// (internal/scheduler).
type SchedulerConfig struct {
	ResourceExpirySweep time.Duration `json:"resource_expiry_sweep" yaml:"resource_expiry_sweep" env:"SCHEDULER_RESOURCE_EXPIRY_SWEEP"`
	ActionEvaluation    time.Duration `json:"action_evaluation" yaml:"action_evaluation" env:"SCHEDULER_ACTION_EVALUATION"`
	BatchFlushCheck     time.Duration `json:"batch_flush_check" yaml:"batch_flush_check" env:"SCHEDULER_BATCH_FLUSH_CHECK"`
	HostStatistics      time.Duration `json:"host_statistics" yaml:"host_statistics" env:"SCHEDULER_HOST_STATISTICS"`
}

// AnnounceConfig maps a remote CSE-ID to the base URL
// internal/announce.HTTPRemoteClient forwards announced-resource requests
// to, per spec.md §4.5.
type AnnounceConfig struct {
	RemoteEndpoints map[string]string `json:"remote_endpoints" yaml:"remote_endpoints"`
	HTTPTimeout     time.Duration     `json:"http_timeout" yaml:"http_timeout" env:"ANNOUNCE_HTTP_TIMEOUT"`
}

// CSEConfig is the complete configuration surface.
type CSEConfig struct {
	Identity  IdentityConfig  `json:"identity" yaml:"identity"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Announce  AnnounceConfig  `json:"announce" yaml:"announce"`
}

// New returns a CSEConfig populated with defaults, per spec.md's various
// §4.6 interval defaults and the common oneM2M release set.
func New() *CSEConfig {
	return &CSEConfig{
		Identity: IdentityConfig{
			CSEID:                 "/cse-onem2m",
			CSERN:                 "cse-onem2m",
			SPID:                  "/onem2m-sp",
			CSEType:               "IN-CSE",
			ReleaseVersions:       []string{"3", "4", "5"},
			DefaultSerialization:  "json",
			RequestExpiration:     30 * time.Second,
			ResourceExpiration:    24 * time.Hour,
			MaxRequestHistory:     1000,
			PollingChannelTimeout: 20 * time.Second,
		},
		Server: ServerConfig{
			HTTPHost: "0.0.0.0",
			HTTPPort: 8080,
			WSHost:   "0.0.0.0",
			WSPort:   8081,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
			MigrationsPath:  "migrations",
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			ServiceName: "cse",
			Enabled:     true,
		},
		Notify: NotifyConfig{
			HTTPTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ResourceExpirySweep: time.Minute,
			ActionEvaluation:    5 * time.Second,
			BatchFlushCheck:     10 * time.Second,
			HostStatistics:      15 * time.Second,
		},
		Announce: AnnounceConfig{
			HTTPTimeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// file (CONFIG_FILE or configs/cse.yaml), then environment-variable
// overrides, mirroring the teacher's pkg/config.Load layering.
func Load() (*CSEConfig, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/cse.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file, skipping the .env
// file and the envdecode layer; DATABASE_URL, when set, still overrides the
// DSN (used by tests and offline tooling).
func LoadFile(path string) (*CSEConfig, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *CSEConfig) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyDatabaseURLOverride aligns with cmd/cseserver: DATABASE_URL overrides
// any file/env DSN to reduce deployment setup friction.
func applyDatabaseURLOverride(cfg *CSEConfig) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
