// Package config provides configuration management for the document matching service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/docmatch-service/internal/matching"
	"github.com/helixir/docmatch-service/internal/normalize"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Special doctype cases. A request whose explicit match doctypes intersect
// one of these lists is answered with a doctype query.
const (
	SpecialThesis     = "thesis"
	SpecialErratum    = "erratum"
	SpecialBookReview = "bookreview"
)

// Config holds all configuration for the document matching service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Search contains the search backend client settings.
	Search SearchConfig `mapstructure:"search"`
	// Cache contains the Redis search result cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Kafka contains Kafka publisher and consumer settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Matching contains scoring parameters and doctype tables.
	Matching MatchingConfig `mapstructure:"matching"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// SearchConfig holds search backend settings.
type SearchConfig struct {
	// URL is the bigquery endpoint of the search backend.
	URL string `mapstructure:"url"`
	// Token is the bearer token (loaded from DOCMATCH_SEARCH_API_TOKEN env var).
	Token string `mapstructure:"-"`
	// Rows is the number of candidates requested per query.
	Rows int `mapstructure:"rows"`
	// Timeout is the timeout for a single search call.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig holds Redis cache settings for search results.
type CacheConfig struct {
	// Enabled turns the search result cache on.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis address.
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (loaded from DOCMATCH_CACHE_PASSWORD env var).
	Password string `mapstructure:"-"`
	// DB is the Redis database index.
	DB int `mapstructure:"db"`
	// TTL is how long a search result stays cached.
	TTL time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds Kafka settings for match events and batch requests.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing and consuming is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// MatchTopic receives match saved and removed events.
	MatchTopic string `mapstructure:"match_topic"`
	// RequestTopic carries batch match requests consumed by the worker.
	RequestTopic string `mapstructure:"request_topic"`
	// GroupID is the consumer group of the worker.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// EntityOverride maps a named character entity to a code point. Overrides
// are applied on top of the built-in entity table.
type EntityOverride struct {
	Name      string `mapstructure:"name"`
	Codepoint int    `mapstructure:"codepoint"`
}

// MatchingConfig holds scoring parameters and the doctype tables.
type MatchingConfig struct {
	// RefereedScore is the confidence factor for refereed candidates.
	RefereedScore float64 `mapstructure:"refereed_score"`
	// NotRefereedScore is the confidence factor for other candidates.
	NotRefereedScore float64 `mapstructure:"not_refereed_score"`
	// ConfidenceDigits is the number of decimal places kept in a confidence.
	ConfidenceDigits int `mapstructure:"confidence_digits"`
	// DOIBoost is added to the confidence when DOIs intersect.
	DOIBoost float64 `mapstructure:"doi_boost"`
	// FirstAuthorThreshold is the similarity below which the first author is missing.
	FirstAuthorThreshold float64 `mapstructure:"first_author_threshold"`
	// MatchDoctype maps a source doctype to the doctypes it may match.
	MatchDoctype map[string][]string `mapstructure:"match_doctype"`
	// SpecialDoctypes maps thesis, erratum and bookreview to their doctypes.
	SpecialDoctypes map[string][]string `mapstructure:"special_doctypes"`
	// EprintPatterns classifies bibstems as eprints.
	EprintPatterns []matching.EprintPattern `mapstructure:"eprint_patterns"`
	// UnicodeEntities extends the named entity table used for author names.
	UnicodeEntities []EntityOverride `mapstructure:"unicode_entities"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// ResolverConfig returns the scoring parameters for the match resolver.
func (c *MatchingConfig) ResolverConfig() matching.Config {
	return matching.Config{
		RefereedScore:        c.RefereedScore,
		NotRefereedScore:     c.NotRefereedScore,
		DOIBoost:             c.DOIBoost,
		ConfidenceDigits:     c.ConfidenceDigits,
		FirstAuthorThreshold: c.FirstAuthorThreshold,
	}
}

// Entities returns the entity table with overrides applied, or nil when
// there are none so the normalizer uses its built-in table.
func (c *MatchingConfig) Entities() map[string]int {
	if len(c.UnicodeEntities) == 0 {
		return nil
	}
	entities := normalize.DefaultEntities()
	for _, e := range c.UnicodeEntities {
		entities[e.Name] = e.Codepoint
	}
	return entities
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("DOCMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docmatch-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Search.Token = os.Getenv("DOCMATCH_SEARCH_API_TOKEN")
	cfg.Cache.Password = os.Getenv("DOCMATCH_CACHE_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docmatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "docmatch_service")
	// Default to "require" for production security. Use DOCMATCH_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "docmatch")

	// Search defaults. The token is loaded from the environment (see loadSecrets).
	v.SetDefault("search.url", "https://api.adsabs.harvard.edu/v1/search/bigquery")
	v.SetDefault("search.rows", 10)
	v.SetDefault("search.timeout", "60s")
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("search.burst", 5)
	v.SetDefault("search.max_retries", 3)
	v.SetDefault("search.retry_delay", "1s")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "10m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.match_topic", "events.docmatch.matches")
	v.SetDefault("kafka.request_topic", "docmatch.requests")
	v.SetDefault("kafka.group_id", "docmatch-worker")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Matching defaults
	v.SetDefault("matching.refereed_score", matching.DefaultRefereedScore)
	v.SetDefault("matching.not_refereed_score", matching.DefaultNotRefereedScore)
	v.SetDefault("matching.confidence_digits", matching.DefaultConfidenceDigits)
	v.SetDefault("matching.doi_boost", matching.DefaultDOIBoost)
	v.SetDefault("matching.first_author_threshold", matching.DefaultFirstAuthorThreshold)
	v.SetDefault("matching.match_doctype", DefaultMatchDoctypes())
	v.SetDefault("matching.special_doctypes", DefaultSpecialDoctypes())
	v.SetDefault("matching.eprint_patterns", patternDefaults(matching.DefaultEprintPatterns()))
}

// DefaultMatchDoctypes maps each source doctype to the doctypes it may match.
// Eprints match published doctypes and everything else matches eprints.
func DefaultMatchDoctypes() map[string][]string {
	published := []string{"article", "inproceedings", "inbook", "book", "techreport", "phdthesis", "mastersthesis", "erratum", "bookreview"}
	m := map[string][]string{
		"eprint": published,
	}
	for _, d := range published {
		m[d] = []string{"eprint"}
	}
	return m
}

// DefaultSpecialDoctypes lists the doctypes of each special case.
func DefaultSpecialDoctypes() map[string][]string {
	return map[string][]string{
		SpecialThesis:     {"phdthesis", "mastersthesis"},
		SpecialErratum:    {"erratum"},
		SpecialBookReview: {"bookreview"},
	}
}

func patternDefaults(patterns []matching.EprintPattern) []map[string]any {
	out := make([]map[string]any, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, map[string]any{"name": p.Name, "pattern": p.Pattern})
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate search config
	if c.Search.URL == "" {
		return fmt.Errorf("search url is required")
	}
	if c.Search.Rows <= 0 {
		return fmt.Errorf("search rows must be positive")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache addr is required when the cache is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return c.Matching.validate()
}

func (c *MatchingConfig) validate() error {
	if c.NotRefereedScore <= 0 || c.NotRefereedScore > c.RefereedScore {
		return fmt.Errorf("not_refereed_score (%g) must be in (0, refereed_score (%g)]", c.NotRefereedScore, c.RefereedScore)
	}
	if c.ConfidenceDigits < 1 || c.ConfidenceDigits > 12 {
		return fmt.Errorf("confidence_digits must be between 1 and 12, got %d", c.ConfidenceDigits)
	}
	if c.DOIBoost < 0 || c.DOIBoost > 1 {
		return fmt.Errorf("doi_boost must be between 0 and 1")
	}
	if c.FirstAuthorThreshold < 0 || c.FirstAuthorThreshold > 1 {
		return fmt.Errorf("first_author_threshold must be between 0 and 1")
	}
	if len(c.MatchDoctype) == 0 {
		return fmt.Errorf("match_doctype table is empty")
	}
	for _, p := range c.EprintPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("invalid eprint pattern %q: %w", p.Name, err)
		}
	}
	return nil
}
