package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure backends
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection thresholds
	Detectors DetectorConfig `json:"detectors"`

	// Extra lifecycle guards supplied as CEL expressions
	Guards []GuardConfig `json:"guards,omitempty"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectorConfig holds the tunable thresholds of the risk signal detectors.
type DetectorConfig struct {
	// LookbackWindow is the trailing window detectors inspect.
	LookbackWindow time.Duration `json:"lookbackWindow"`

	// RunTimeout bounds a single detector run; an overrun is treated as
	// "skipped", never as a hard error for the caller.
	RunTimeout time.Duration `json:"runTimeout"`

	// MaxConcurrent bounds parallel detector runs.
	MaxConcurrent int `json:"maxConcurrent"`

	// Velocity thresholds. ActiveStates is the set of transaction states
	// that count toward velocity.
	VelocityMaxCount  int                `json:"velocityMaxCount"`
	VelocityMaxAmount float64            `json:"velocityMaxAmount"`
	ActiveStates      []TransactionState `json:"activeStates"`

	// Structuring band, inclusive on both ends, and the minimum number of
	// in-band transactions that triggers an alert.
	StructuringFloor   float64 `json:"structuringFloor"`
	StructuringCeiling float64 `json:"structuringCeiling"`
	StructuringMinHits int     `json:"structuringMinHits"`

	// Duplicate-identity weights
	DocumentMatchWeight  float64 `json:"documentMatchWeight"`
	ContactMatchWeight   float64 `json:"contactMatchWeight"` // email or phone
	CountryMismatchWeight float64 `json:"countryMismatchWeight"`
}

// GuardConfig attaches a CEL predicate to a lifecycle edge.
// From "*" means a wildcard guard on every edge into To.
type GuardConfig struct {
	Entity     string `json:"entity"` // "transaction", "subject", "case"
	From       string `json:"from"`
	To         string `json:"to"`
	Name       string `json:"name"`
	Expression string `json:"expression"` // must evaluate to bool
	Reason     string `json:"reason"`     // surfaced when the guard rejects
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierEmbedded runs on SQLite + channels + local LRU.
	TierEmbedded Tier = "embedded"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the embedded tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierEmbedded,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detectors: DefaultDetectorConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DefaultDetectorConfig returns the stock detection thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		LookbackWindow:    24 * time.Hour,
		RunTimeout:        10 * time.Second,
		MaxConcurrent:     8,
		VelocityMaxCount:  3,
		VelocityMaxAmount: 5000,
		ActiveStates: []TransactionState{
			TxPending, TxUnderReview, TxApproved, TxReadyForPickup, TxCompleted,
		},
		StructuringFloor:      4500,
		StructuringCeiling:    5000,
		StructuringMinHits:    2,
		DocumentMatchWeight:   30,
		ContactMatchWeight:    10,
		CountryMismatchWeight: 15,
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
