// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Dataset, Relate, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Relate   RelateConfig   `yaml:"relate"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	Topics        KafkaTopics   `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	EntryIngest     string `yaml:"entryIngest"`
	RelateComplete  string `yaml:"relateComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// DatasetConfig tells the relator where the catalog corpus comes from.
// Source is "file" (a YAML dataset at Path) or "postgres" (the entries
// table). NonFreeLicenses lists the license identifiers classified as
// non-free when deriving an entry's license class.
type DatasetConfig struct {
	Source          string   `yaml:"source"`
	Path            string   `yaml:"path"`
	NonFreeLicenses []string `yaml:"nonFreeLicenses"`
}

// RelateConfig controls the relation engine: scoring factors, ranking
// thresholds, parallelism, and the service plumbing around runs.
type RelateConfig struct {
	MinScore          float64       `yaml:"minScore"`
	RelatedCountLimit int           `yaml:"relatedCountLimit"`
	Tiebreakers       []string      `yaml:"tiebreakers"`
	Debug             bool          `yaml:"debug"`
	Workers           int           `yaml:"workers"`
	RebuildDebounce   time.Duration `yaml:"rebuildDebounce"`
	SnapshotDir       string        `yaml:"snapshotDir"`
	Phrases           PhrasesConfig `yaml:"phrases"`
	Factors           FactorsConfig `yaml:"factors"`
}

// PhrasesConfig controls description phrase extraction.
type PhrasesConfig struct {
	MinPhraseLength int      `yaml:"minPhraseLength"`
	StopPhrases     []string `yaml:"stopPhrases"`
}

// FactorsConfig toggles and weights the individual scoring factors.
type FactorsConfig struct {
	Description  DescriptionFactorConfig `yaml:"description"`
	Categories   OverlapFactorConfig     `yaml:"categories"`
	Alternatives OverlapFactorConfig     `yaml:"alternatives"`
	Forks        ForksFactorConfig       `yaml:"forks"`
	Platforms    OverlapFactorConfig     `yaml:"platforms"`
	Licenses     LicensesFactorConfig    `yaml:"licenses"`
	Popularity   PopularityFactorConfig  `yaml:"popularity"`
	Dependency   DependencyFactorConfig  `yaml:"dependency"`
}

// DescriptionFactorConfig caps the phrase-overlap similarity score.
type DescriptionFactorConfig struct {
	Enabled  bool    `yaml:"enabled"`
	MaxScore float64 `yaml:"maxScore"`
}

// OverlapFactorConfig awards points per shared set member.
type OverlapFactorConfig struct {
	Enabled        bool    `yaml:"enabled"`
	PointsPerMatch float64 `yaml:"pointsPerMatch"`
}

// ForksFactorConfig awards a flat score when two entries share a fork parent.
type ForksFactorConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SameParentScore float64 `yaml:"sameParentScore"`
}

// LicensesFactorConfig awards a flat score for a matching license class.
type LicensesFactorConfig struct {
	Enabled        bool    `yaml:"enabled"`
	SameClassScore float64 `yaml:"sameClassScore"`
}

// PopularityFactorConfig awards a flat score for a matching popularity tier.
type PopularityFactorConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SameTierScore float64 `yaml:"sameTierScore"`
}

// DependencyFactorConfig awards a flat score for a matching
// third-party-dependency flag.
type DependencyFactorConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SameStatusScore float64 `yaml:"sameStatusScore"`
}

// IngestConfig controls the catalog ingestion service.
type IngestConfig struct {
	MaxBatchSize    int `yaml:"maxBatchSize"`
	RateLimitPerMin int `yaml:"rateLimitPerMin"`
	RateLimitBurst  int `yaml:"rateLimitBurst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values, validated for internal consistency.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor deterministically.
func (c *Config) Validate() error {
	if c.Relate.MinScore < 0 {
		return fmt.Errorf("relate.minScore must be >= 0, got %v", c.Relate.MinScore)
	}
	if c.Relate.RelatedCountLimit <= 0 {
		return fmt.Errorf("relate.relatedCountLimit must be > 0, got %d", c.Relate.RelatedCountLimit)
	}
	if c.Relate.Workers < 0 {
		return fmt.Errorf("relate.workers must be >= 0, got %d", c.Relate.Workers)
	}
	for _, tb := range c.Relate.Tiebreakers {
		switch tb {
		case "popularity", "name", "id":
		default:
			return fmt.Errorf("unknown tiebreaker %q (want popularity, name, or id)", tb)
		}
	}
	switch c.Dataset.Source {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown dataset.source %q (want file or postgres)", c.Dataset.Source)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development. Factor weights match the published catalog build.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "selfhostedcatalog",
			User:            "selfhostedcatalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "selfhostedcatalog-group",
			BatchSize:     100,
			BatchTimeout:  10 * time.Millisecond,
			Topics: KafkaTopics{
				EntryIngest:     "catalog-entry-ingest",
				RelateComplete:  "relate.complete",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Dataset: DatasetConfig{
			Source: "file",
			Path:   "data/catalog.yml",
			NonFreeLicenses: []string{
				"BUSL-1.1",
				"CC-BY-NC-4.0",
				"CC-BY-NC-SA-3.0",
				"Commons-Clause",
				"Elastic-1.0",
				"Elastic-2.0",
				"SSPL-1.0",
				"Proprietary",
			},
		},
		Relate: RelateConfig{
			MinScore:          10,
			RelatedCountLimit: 9,
			Tiebreakers:       []string{"popularity", "name"},
			Debug:             false,
			Workers:           0,
			RebuildDebounce:   5 * time.Second,
			SnapshotDir:       "data/snapshots",
			Phrases: PhrasesConfig{
				MinPhraseLength: 10,
				StopPhrases: []string{
					"self-hosted",
					"self hosted",
					"open source",
					"free and open source",
					"open-source",
					"web-based",
					"web based",
					"web interface",
					"web application",
					"easy to use",
					"simple and lightweight",
					"lightweight",
					"a tool for",
					"written in go",
					"written in php",
					"written in python",
					"alternative to",
				},
			},
			Factors: FactorsConfig{
				Description:  DescriptionFactorConfig{Enabled: true, MaxScore: 25},
				Categories:   OverlapFactorConfig{Enabled: true, PointsPerMatch: 4},
				Alternatives: OverlapFactorConfig{Enabled: true, PointsPerMatch: 6},
				Forks:        ForksFactorConfig{Enabled: true, SameParentScore: 8},
				Platforms:    OverlapFactorConfig{Enabled: true, PointsPerMatch: 2},
				Licenses:     LicensesFactorConfig{Enabled: true, SameClassScore: 2},
				Popularity:   PopularityFactorConfig{Enabled: true, SameTierScore: 2},
				Dependency:   DependencyFactorConfig{Enabled: true, SameStatusScore: 1},
			},
		},
		Ingest: IngestConfig{
			MaxBatchSize:    500,
			RateLimitPerMin: 120,
			RateLimitBurst:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ASH_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ASH_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ASH_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ASH_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ASH_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ASH_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ASH_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("ASH_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ASH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ASH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ASH_DATASET_SOURCE"); v != "" {
		cfg.Dataset.Source = v
	}
	if v := os.Getenv("ASH_DATASET_PATH"); v != "" {
		cfg.Dataset.Path = v
	}
	if v := os.Getenv("ASH_RELATE_MIN_SCORE"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Relate.MinScore = score
		}
	}
	if v := os.Getenv("ASH_RELATE_COUNT_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Relate.RelatedCountLimit = limit
		}
	}
	if v := os.Getenv("ASH_RELATE_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Relate.Debug = debug
		}
	}
	if v := os.Getenv("ASH_RELATE_SNAPSHOT_DIR"); v != "" {
		cfg.Relate.SnapshotDir = v
	}
	if v := os.Getenv("ASH_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ASH_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ASH_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
