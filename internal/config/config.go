// Package config assembles the service configuration from the environment.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/community"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/qdrant"
)

const (
	VectorMemory   = "memory"
	VectorPgvector = "pgvector"
	VectorQdrant   = "qdrant"

	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"

	DefaultDimensions = 1536
)

type LogConfig struct {
	Debug  bool
	Format string
}

type VectorConfig struct {
	Backend string
	Dim     int
	Table   string
	Qdrant  qdrant.Config
}

type QueueConfig struct {
	User     string
	Password string
	Host     string
	Port     string
}

// Enabled reports whether a broker is configured.
func (q QueueConfig) Enabled() bool {
	return q.Host != ""
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Archive   bool
}

type AuthConfig struct {
	URL            string
	MasterAPIKey   string
	MasterUserID   int32
	MasterUserRole string
}

type AIConfig struct {
	Adapter   string
	Model     string
	URL       string
	Key       string
	Dim       int
	Parallel  int64
	MaxTokens int
}

// Enabled reports whether an embedding model is configured.
func (a AIConfig) Enabled() bool {
	return a.Model != ""
}

type Config struct {
	Port string
	Log  LogConfig

	DatabaseURL string
	// FixturePath loads entities from a JSON file instead of Postgres when
	// DatabaseURL is empty.
	FixturePath string
	// SnapshotRefresh reloads the persisted state on this interval so a
	// server picks up runs finished by the worker. Zero disables it.
	SnapshotRefresh time.Duration

	Vector VectorConfig
	Engine engine.Config
	Queue  QueueConfig
	S3     S3Config
	Auth   AuthConfig
	AI     AIConfig
}

// Load reads the configuration. Unset variables fall back to the engine
// defaults; malformed numbers are logged and ignored.
func Load() Config {
	eng := engine.DefaultConfig()

	eng.Scorer = similarity.Scorer{
		EmbeddingWeight: util.GetEnvFloat("SIMILARITY_EMBEDDING_WEIGHT", eng.Scorer.EmbeddingWeight),
		RevenueWeight:   util.GetEnvFloat("SIMILARITY_REVENUE_WEIGHT", eng.Scorer.RevenueWeight),
	}

	eng.Community.Algorithm = community.Algorithm(strings.ToLower(
		util.GetEnvString("COMMUNITY_ALGORITHM", string(eng.Community.Algorithm))))
	eng.Community.EdgeThreshold = util.GetEnvFloat("COMMUNITY_EDGE_THRESHOLD", eng.Community.EdgeThreshold)
	eng.Community.Resolution = util.GetEnvFloat("COMMUNITY_RESOLUTION", eng.Community.Resolution)
	eng.Community.MaxEdgesPerNode = util.GetEnvInt("COMMUNITY_MAX_EDGES_PER_NODE", eng.Community.MaxEdgesPerNode)
	eng.Community.MaxLevels = util.GetEnvInt("COMMUNITY_MAX_LEVELS", 32)
	eng.Community.StableLabels = util.GetEnvBool("COMMUNITY_STABLE_LABELS", eng.Community.StableLabels)

	eng.Anomaly.CommonFraction = util.GetEnvFloat("ANOMALY_COMMON_FRACTION", eng.Anomaly.CommonFraction)
	eng.Anomaly.RareFraction = util.GetEnvFloat("ANOMALY_RARE_FRACTION", eng.Anomaly.RareFraction)
	eng.Anomaly.MinPeers = util.GetEnvInt("ANOMALY_MIN_PEERS", eng.Anomaly.MinPeers)
	eng.Anomaly.UseConfidenceIntervals = util.GetEnvBool("ANOMALY_CONFIDENCE_INTERVALS", eng.Anomaly.UseConfidenceIntervals)
	eng.Anomaly.ConfidenceLevel = util.GetEnvFloat("ANOMALY_CONFIDENCE_LEVEL", eng.Anomaly.ConfidenceLevel)
	eng.Anomaly.MaxTags = util.GetEnvInt("ANOMALY_MAX_TAGS", eng.Anomaly.MaxTags)

	eng.CacheSize = util.GetEnvInt("RESULT_CACHE_SIZE", eng.CacheSize)
	eng.LockTTL = util.GetEnvDuration("BATCH_LOCK_TTL", eng.LockTTL)
	eng.MaxResultsCap = util.GetEnvInt("MAX_RESULTS_CAP", eng.MaxResultsCap)
	eng.IndexBatchSize = util.GetEnvInt("INDEX_BATCH_SIZE", eng.IndexBatchSize)

	eng.Embed.MaxTokens = util.GetEnvInt("AI_EMBED_MAX_TOKENS", eng.Embed.MaxTokens)
	eng.Embed.BatchSize = util.GetEnvInt("AI_EMBED_BATCH_SIZE", eng.Embed.BatchSize)
	parallel := util.GetEnvInt("AI_PARALLEL_REQ", 4)
	eng.Embed.Parallel = parallel

	dim := util.GetEnvInt("VECTOR_DIM", DefaultDimensions)
	databaseURL := util.GetEnv("DATABASE_URL")
	backend := VectorMemory
	if databaseURL != "" {
		backend = VectorPgvector
	}
	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 32)

	return Config{
		Port: util.GetEnvString("PORT", "8080"),
		Log: LogConfig{
			Debug:  util.GetEnvBool("DEBUG", false),
			Format: util.GetEnvString("LOG_FORMAT", "text"),
		},
		DatabaseURL: databaseURL,
		FixturePath: util.GetEnv("ENTITY_FIXTURE"),

		SnapshotRefresh: util.GetEnvDuration("SNAPSHOT_REFRESH_INTERVAL", 0),
		Vector: VectorConfig{
			Backend: strings.ToLower(util.GetEnvString("VECTOR_BACKEND", backend)),
			Dim:     dim,
			Table:   util.GetEnv("VECTOR_TABLE"),
			Qdrant: qdrant.Config{
				Host:   util.GetEnvString("QDRANT_HOST", "localhost"),
				Port:   util.GetEnvInt("QDRANT_PORT", 6334),
				APIKey: util.GetEnv("QDRANT_API_KEY"),
				UseTLS: util.GetEnvBool("QDRANT_TLS", false),
				Prefix: util.GetEnv("QDRANT_PREFIX"),
				Dim:    dim,
			},
		},
		Engine: eng,
		Queue: QueueConfig{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3Config{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
			Archive:   util.GetEnvBool("REPORT_ARCHIVE", false),
		},
		Auth: AuthConfig{
			URL:            util.GetEnv("AUTH_URL"),
			MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
			MasterUserID:   int32(masterUserID),
			MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
		},
		AI: AIConfig{
			Adapter:   strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
			Model:     util.GetEnv("AI_EMBED_MODEL"),
			URL:       util.GetEnv("AI_EMBED_URL"),
			Key:       util.GetEnv("AI_EMBED_KEY"),
			Dim:       util.GetEnvInt("AI_EMBED_DIM", dim),
			Parallel:  int64(parallel),
			MaxTokens: eng.Embed.MaxTokens,
		},
	}
}

// Validate wraps every violation in common.ErrInvalidConfiguration.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	switch c.Vector.Backend {
	case VectorMemory, VectorQdrant:
	case VectorPgvector:
		if c.DatabaseURL == "" {
			return common.InvalidConfig("VECTOR_BACKEND=pgvector needs DATABASE_URL")
		}
	default:
		return common.InvalidConfig("unknown vector backend %q", c.Vector.Backend)
	}
	if c.Vector.Dim <= 0 {
		return common.InvalidConfig("VECTOR_DIM must be positive, got %d", c.Vector.Dim)
	}
	if c.DatabaseURL == "" && c.FixturePath == "" {
		return common.InvalidConfig("either DATABASE_URL or ENTITY_FIXTURE must be set")
	}
	if c.S3.Archive && c.S3.Bucket == "" {
		return common.InvalidConfig("REPORT_ARCHIVE needs AWS_BUCKET")
	}
	if c.AI.Enabled() {
		switch c.AI.Adapter {
		case AdapterOpenAI, AdapterOllama:
		default:
			return common.InvalidConfig("unknown AI adapter %q", c.AI.Adapter)
		}
		if c.AI.Dim != c.Vector.Dim {
			return common.InvalidConfig("AI_EMBED_DIM %d does not match VECTOR_DIM %d", c.AI.Dim, c.Vector.Dim)
		}
	}
	if c.Engine.LockTTL < time.Second {
		return common.InvalidConfig("BATCH_LOCK_TTL must be at least 1s, got %v", c.Engine.LockTTL)
	}
	if c.SnapshotRefresh < 0 {
		return common.InvalidConfig("SNAPSHOT_REFRESH_INTERVAL must not be negative, got %v", c.SnapshotRefresh)
	}
	return nil
}
