package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for contexta-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// AI endpoints for enrichment and embeddings
	AI AIConfig `yaml:"ai"`

	// Outbound HTTP fetching
	Fetch FetchConfig `yaml:"fetch"`

	// Source discovery
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Change detection thresholds
	Detector DetectorConfig `yaml:"detector"`

	// Context ingestion pipeline
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Source lifecycle scoring
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Scheduled jobs
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Batch worker pool
	Workers WorkersConfig `yaml:"workers"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"contexta"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"contexta_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// AIConfig holds enrichment and embedding endpoint configuration.
// EnrichmentBackend selects which chat backend fills missing fields;
// embeddings always go through the OpenAI-compatible endpoint because
// the Anthropic API does not serve embeddings.
type AIConfig struct {
	EnrichmentBackend string `yaml:"enrichment_backend" env:"AI_ENRICHMENT_BACKEND" env-default:"openai"` // "openai" or "anthropic"

	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	OpenAIModel   string `yaml:"openai_model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	OpenAIAPIKey  string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML

	AnthropicModel  string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-3-5-haiku-latest"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	EmbeddingModel     string `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingDimension int    `yaml:"embedding_dimension" env:"AI_EMBEDDING_DIMENSION" env-default:"1536"`

	EnrichmentTimeoutSeconds int `yaml:"enrichment_timeout_seconds" env:"AI_ENRICHMENT_TIMEOUT_SECONDS" env-default:"30"`
}

// FetchConfig holds outbound HTTP fetch settings.
type FetchConfig struct {
	UserAgent           string `yaml:"user_agent" env:"FETCH_USER_AGENT" env-default:"contexta-engine/1.0"`
	TimeoutSeconds      int    `yaml:"timeout_seconds" env:"FETCH_TIMEOUT_SECONDS" env-default:"15"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes" env:"FETCH_MAX_BODY_BYTES" env-default:"5242880"`
	RobotsCacheTTLHours int    `yaml:"robots_cache_ttl_hours" env:"FETCH_ROBOTS_CACHE_TTL_HOURS" env-default:"24"`
}

// DiscoveryConfig holds source discovery settings.
type DiscoveryConfig struct {
	// TenantID is the tenant new trial sources are created for.
	// Discovery is skipped when unset.
	TenantID string `yaml:"tenant_id" env:"DISCOVERY_TENANT_ID" env-default:""`

	// SampleRate is the fraction of seed headlines actually hunted (0-1),
	// bounding LLM and search spend per run.
	SampleRate float64 `yaml:"sample_rate" env:"DISCOVERY_SAMPLE_RATE" env-default:"0.10"`

	TrialDays        int `yaml:"trial_days" env:"DISCOVERY_TRIAL_DAYS" env-default:"30"`
	MinArticleBlocks int `yaml:"min_article_blocks" env:"DISCOVERY_MIN_ARTICLE_BLOCKS" env-default:"3"`

	// DownstreamDomainsStr is a comma-separated list of known downstream
	// media domains whose stories trigger origin hunting.
	DownstreamDomainsStr string `yaml:"downstream_domains" env:"DISCOVERY_DOWNSTREAM_DOMAINS" env-default:""`

	// DownstreamDomains is the parsed list (built-in defaults plus DownstreamDomainsStr).
	DownstreamDomains []string `yaml:"-"`

	SeedFeedURL     string `yaml:"seed_feed_url" env:"SEED_FEED_URL" env-default:""`
	SeedFeedAPIKey  string `yaml:"-" env:"SEED_FEED_API_KEY"` // Secret - not in YAML
	SeedGeo         string `yaml:"seed_geo" env:"SEED_GEO" env-default:""`
	SeedTopic       string `yaml:"seed_topic" env:"SEED_TOPIC" env-default:""`
	SeedWindowHours int    `yaml:"seed_window_hours" env:"SEED_WINDOW_HOURS" env-default:"24"`
}

// DetectorConfig holds multi-tier change detection thresholds.
type DetectorConfig struct {
	// TrivialThreshold is the simhash similarity at or above which a change
	// is classified as cosmetic and skipped.
	TrivialThreshold float64 `yaml:"trivial_threshold" env:"DETECTOR_TRIVIAL_THRESHOLD" env-default:"0.90"`

	// GrayBandFloor is the simhash similarity above which the verdict is
	// considered inconclusive and the embedding tier is consulted.
	GrayBandFloor float64 `yaml:"gray_band_floor" env:"DETECTOR_GRAY_BAND_FLOOR" env-default:"0.75"`

	// DuplicateCosine is the embedding cosine similarity at or above which
	// content is treated as unchanged.
	DuplicateCosine float64 `yaml:"duplicate_cosine" env:"DETECTOR_DUPLICATE_COSINE" env-default:"0.98"`

	// MinorUpdateCosine separates minor_update from major_update.
	MinorUpdateCosine float64 `yaml:"minor_update_cosine" env:"DETECTOR_MINOR_UPDATE_COSINE" env-default:"0.90"`
}

// IngestionConfig holds context ingestion pipeline settings.
type IngestionConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold" env:"INGESTION_DUPLICATE_THRESHOLD" env-default:"0.98"`
	QualityMinimum     float64 `yaml:"quality_minimum" env:"INGESTION_QUALITY_MINIMUM" env-default:"0.4"`

	// DedupCandidateLimit bounds how many recent tenant embeddings are
	// scored during the nearest-neighbour check.
	DedupCandidateLimit int `yaml:"dedup_candidate_limit" env:"INGESTION_DEDUP_CANDIDATE_LIMIT" env-default:"500"`

	// FeedTitleSimilarity is the title similarity at or above which a feed
	// item within the trailing window is considered a recent duplicate.
	FeedTitleSimilarity float64 `yaml:"feed_title_similarity" env:"INGESTION_FEED_TITLE_SIMILARITY" env-default:"0.9"`
	FeedWindowHours     int     `yaml:"feed_window_hours" env:"INGESTION_FEED_WINDOW_HOURS" env-default:"24"`
}

// LifecycleConfig holds relevance scoring and transition thresholds.
type LifecycleConfig struct {
	UsageSaturation      int     `yaml:"usage_saturation" env:"LIFECYCLE_USAGE_SATURATION" env-default:"10"`
	PromotionThreshold   float64 `yaml:"promotion_threshold" env:"LIFECYCLE_PROMOTION_THRESHOLD" env-default:"0.5"`
	InactiveCooldownDays int     `yaml:"inactive_cooldown_days" env:"LIFECYCLE_INACTIVE_COOLDOWN_DAYS" env-default:"60"`
	ArchiveFloor         float64 `yaml:"archive_floor" env:"LIFECYCLE_ARCHIVE_FLOOR" env-default:"0.3"`
	ArchiveWindowDays    int     `yaml:"archive_window_days" env:"LIFECYCLE_ARCHIVE_WINDOW_DAYS" env-default:"90"`
}

// SchedulerConfig holds cron specs for the periodic jobs.
type SchedulerConfig struct {
	DiscoverySpec string `yaml:"discovery_spec" env:"SCHEDULER_DISCOVERY_SPEC" env-default:"0 6 * * *"`
	IngestionSpec string `yaml:"ingestion_spec" env:"SCHEDULER_INGESTION_SPEC" env-default:"0 * * * *"`
	LifecycleSpec string `yaml:"lifecycle_spec" env:"SCHEDULER_LIFECYCLE_SPEC" env-default:"30 2 * * *"`
}

// WorkersConfig bounds per-batch concurrency.
type WorkersConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"WORKERS_MAX_CONCURRENT" env-default:"4"`
}

// defaultDownstreamDomains are aggregator/media domains whose stories are
// assumed to originate elsewhere.
var defaultDownstreamDomains = []string{
	"news.google.com",
	"news.yahoo.com",
	"msn.com",
	"flipboard.com",
	"apple.news",
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// A missing config.yaml is fine: env vars and defaults carry the config.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Discovery.DownstreamDomains = parseDownstreamDomains(cfg.Discovery.DownstreamDomainsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AI.EnrichmentBackend != "openai" && c.AI.EnrichmentBackend != "anthropic" {
		return fmt.Errorf("unknown enrichment backend %q", c.AI.EnrichmentBackend)
	}
	if c.AI.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.AI.EmbeddingDimension)
	}
	if c.Discovery.SampleRate < 0 || c.Discovery.SampleRate > 1 {
		return fmt.Errorf("discovery sample rate must be in [0,1], got %f", c.Discovery.SampleRate)
	}
	if c.Detector.GrayBandFloor > c.Detector.TrivialThreshold {
		return fmt.Errorf("detector gray band floor %f exceeds trivial threshold %f",
			c.Detector.GrayBandFloor, c.Detector.TrivialThreshold)
	}
	return nil
}

// parseDownstreamDomains merges the built-in downstream media list with the
// comma-separated configured extras.
func parseDownstreamDomains(value string) []string {
	domains := make([]string, 0, len(defaultDownstreamDomains))
	domains = append(domains, defaultDownstreamDomains...)

	for _, d := range strings.Split(value, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
