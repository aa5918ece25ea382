// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig

	Pool      PoolConfig
	Optimizer OptimizerConfig
	Perf      PerfConfig
	Graph     GraphConfig
	Follow    FollowConfig
}

// RedisConfig dials the optional RedisQueryMirror (spec §4.2's non-core
// cache decorator). Addr empty means the mirror is disabled.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// PoolConfig sizes C3, the connection pool.
type PoolConfig struct {
	MinConns            int
	MaxConns            int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	AcquireTimeout      time.Duration
	ConnectTimeout      time.Duration
	IdleReapInterval    time.Duration
	HealthCheckInterval time.Duration
}

// OptimizerConfig tunes C4, the pool optimizer's loop cadences. Its
// health-score and sizing thresholds are spec §4.4 literals, not
// configured here (see poolopt.Config).
type OptimizerConfig struct {
	HealthCheckInterval time.Duration
	OptimizeInterval    time.Duration
}

// PerfConfig tunes C1, the performance monitor's alert thresholds.
type PerfConfig struct {
	SlowQuery             time.Duration
	VerySlowQuery         time.Duration
	MaxConnectionWaitTime time.Duration
	MaxFailedQueriesPct   float64
	MaxPoolUtilizationPct float64
	SamplingRate          float64
}

// GraphConfig tunes C7, the social graph engine's recommendation weights.
type GraphConfig struct {
	MaxRecommendations int
	CacheTTL           time.Duration
	MutualFriendWeight float64
	InterestWeight     float64
	TrendingWeight     float64
	RecencyDecayFactor float64
	DefaultMaxHops     int
}

// FollowConfig tunes C9, the follow service's per-action rate limits.
type FollowConfig struct {
	FollowLimit    int
	FollowWindow   time.Duration
	UnfollowLimit  int
	UnfollowWindow time.Duration
	BlockLimit     int
	BlockWindow    time.Duration
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Environment     string
}

type DatabaseConfig struct {
	URL          string
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func New() *Config {
	// Récupérer DATABASE_URL depuis l'environnement
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		// Construire l'URL si pas définie
		host := getEnv("DATABASE_HOST", "localhost")
		port := getEnv("DATABASE_PORT", "5432")
		username := getEnv("DATABASE_USER", "postgres")
		password := getEnv("DATABASE_PASSWORD", "")
		database := getEnv("DATABASE_NAME", "veza_dev")
		sslmode := "disable"

		databaseURL = "postgres://" + username + ":" + password + "@" + host + ":" + port + "/" + database + "?sslmode=" + sslmode
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			URL:          databaseURL,
			Host:         getEnv("DATABASE_HOST", "localhost"),
			Port:         getEnv("DATABASE_PORT", "5432"),
			Username:     getEnv("DATABASE_USER", "postgres"),
			Password:     getEnv("DATABASE_PASSWORD", ""),
			Database:     getEnv("DATABASE_NAME", "veza_dev"),
			SSLMode:      "disable",
			MaxOpenConns: getIntEnv("DATABASE_MAX_OPEN_CONNS", 100), // Optimisé pour haute charge
			MaxIdleConns: getIntEnv("DATABASE_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getDurationEnv("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
		},
		Pool: PoolConfig{
			MinConns:            getIntEnv("POOL_MIN_CONNS", 2),
			MaxConns:            getIntEnv("POOL_MAX_CONNS", 20),
			ConnMaxLifetime:     getDurationEnv("POOL_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime:     getDurationEnv("POOL_CONN_MAX_IDLE_TIME", 5*time.Minute),
			AcquireTimeout:      getDurationEnv("POOL_ACQUIRE_TIMEOUT", 5*time.Second),
			ConnectTimeout:      getDurationEnv("POOL_CONNECT_TIMEOUT", 10*time.Second),
			IdleReapInterval:    getDurationEnv("POOL_IDLE_REAP_INTERVAL", time.Minute),
			HealthCheckInterval: getDurationEnv("POOL_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Optimizer: OptimizerConfig{
			HealthCheckInterval: getDurationEnv("OPTIMIZER_HEALTH_CHECK_INTERVAL", 30*time.Second),
			OptimizeInterval:    getDurationEnv("OPTIMIZER_OPTIMIZE_INTERVAL", 5*time.Minute),
		},
		Perf: PerfConfig{
			SlowQuery:             getDurationEnv("PERF_SLOW_QUERY", 100*time.Millisecond),
			VerySlowQuery:         getDurationEnv("PERF_VERY_SLOW_QUERY", time.Second),
			MaxConnectionWaitTime: getDurationEnv("PERF_MAX_CONNECTION_WAIT_TIME", 5*time.Second),
			MaxFailedQueriesPct:   getFloatEnv("PERF_MAX_FAILED_QUERIES_PCT", 5),
			MaxPoolUtilizationPct: getFloatEnv("PERF_MAX_POOL_UTILIZATION_PCT", 80),
			SamplingRate:          getFloatEnv("PERF_SAMPLING_RATE", 1.0),
		},
		Graph: GraphConfig{
			MaxRecommendations: getIntEnv("GRAPH_MAX_RECOMMENDATIONS", 20),
			CacheTTL:           getDurationEnv("GRAPH_CACHE_TTL", 10*time.Minute),
			MutualFriendWeight: getFloatEnv("GRAPH_MUTUAL_FRIEND_WEIGHT", 1.0),
			InterestWeight:     getFloatEnv("GRAPH_INTEREST_WEIGHT", 1.0),
			TrendingWeight:     getFloatEnv("GRAPH_TRENDING_WEIGHT", 0.1),
			RecencyDecayFactor: getFloatEnv("GRAPH_RECENCY_DECAY_FACTOR", 0.5),
			DefaultMaxHops:     getIntEnv("GRAPH_DEFAULT_MAX_HOPS", 6),
		},
		Follow: FollowConfig{
			FollowLimit:    getIntEnv("FOLLOW_LIMIT_PER_MIN", 50),
			FollowWindow:   getDurationEnv("FOLLOW_LIMIT_WINDOW", time.Minute),
			UnfollowLimit:  getIntEnv("UNFOLLOW_LIMIT_PER_MIN", 100),
			UnfollowWindow: getDurationEnv("UNFOLLOW_LIMIT_WINDOW", time.Minute),
			BlockLimit:     getIntEnv("BLOCK_LIMIT_PER_MIN", 20),
			BlockWindow:    getDurationEnv("BLOCK_LIMIT_WINDOW", time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

