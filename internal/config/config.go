package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config enumerates every recognized option with its default. All values come
// from the environment; unparseable values fall back to the default.
type Config struct {
	HTTPAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AcquireWaitTimeout  time.Duration
	AcquirePollInterval time.Duration
	EvictThreshold      int
	MaxPerKind          int
	PoolResources       map[string][]string
	PoolSpares          map[string][]string

	ConfirmPollInterval time.Duration
	ConfirmMaxWait      time.Duration

	TaskQueueSize  int
	TaskWorkers    int
	LaunchInterval time.Duration
	TaskMaxRetries int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	ActionEndpoint  string
	ActionTimeout   time.Duration
	ConfirmEndpoint string
	ConfirmTimeout  time.Duration

	RedisAddr          string
	LeaseTTL           time.Duration
	PostgresDSN        string
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:     envOrDefault("ORCHESTRATOR_HTTP_ADDR", ":8080"),
		ReadTimeout:  durationOrDefault("ORCHESTRATOR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: durationOrDefault("ORCHESTRATOR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  durationOrDefault("ORCHESTRATOR_IDLE_TIMEOUT", 60*time.Second),

		AcquireWaitTimeout:  durationOrDefault("ORCHESTRATOR_ACQUIRE_WAIT_TIMEOUT", 10*time.Second),
		AcquirePollInterval: durationOrDefault("ORCHESTRATOR_ACQUIRE_POLL_INTERVAL", 100*time.Millisecond),
		EvictThreshold:      intOrDefault("ORCHESTRATOR_EVICT_THRESHOLD", 3),
		MaxPerKind:          intOrDefault("ORCHESTRATOR_POOL_MAX_PER_KIND", 64),
		PoolResources:       resourceListOrEmpty("ORCHESTRATOR_POOL_RESOURCES"),
		PoolSpares:          resourceListOrEmpty("ORCHESTRATOR_POOL_SPARES"),

		ConfirmPollInterval: durationOrDefault("ORCHESTRATOR_CONFIRM_POLL_INTERVAL", 250*time.Millisecond),
		ConfirmMaxWait:      durationOrDefault("ORCHESTRATOR_CONFIRM_MAX_WAIT", 30*time.Second),

		TaskQueueSize:  intOrDefault("ORCHESTRATOR_TASK_QUEUE_SIZE", 256),
		TaskWorkers:    intOrDefault("ORCHESTRATOR_TASK_WORKERS", 4),
		LaunchInterval: durationOrDefault("ORCHESTRATOR_LAUNCH_INTERVAL", 0),
		TaskMaxRetries: intOrDefault("ORCHESTRATOR_TASK_MAX_RETRIES", 2),
		RetryBaseDelay: durationOrDefault("ORCHESTRATOR_RETRY_BASE_DELAY", 1*time.Second),
		RetryMaxDelay:  durationOrDefault("ORCHESTRATOR_RETRY_MAX_DELAY", 20*time.Second),

		ActionEndpoint:  envOrDefault("ORCHESTRATOR_ACTION_ENDPOINT", ""),
		ActionTimeout:   durationOrDefault("ORCHESTRATOR_ACTION_TIMEOUT", 30*time.Second),
		ConfirmEndpoint: envOrDefault("ORCHESTRATOR_CONFIRM_ENDPOINT", ""),
		ConfirmTimeout:  durationOrDefault("ORCHESTRATOR_CONFIRM_TIMEOUT", 10*time.Second),

		RedisAddr:          envOrDefault("REDIS_ADDR", ""),
		LeaseTTL:           durationOrDefault("ORCHESTRATOR_LEASE_TTL", 90*time.Second),
		PostgresDSN:        envOrDefault("POSTGRES_DSN", ""),
		IdempotencyTTL:     durationOrDefault("ORCHESTRATOR_IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyLockTTL: durationOrDefault("ORCHESTRATOR_IDEMPOTENCY_LOCK_TTL", 30*time.Second),
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func resourceListOrEmpty(key string) map[string][]string {
	return ParseResourceList(os.Getenv(key))
}

// ParseResourceList reads "kind=addr1|addr2;kind2=addr3" into per-kind
// address lists. Malformed segments are skipped.
func ParseResourceList(raw string) map[string][]string {
	parsed := make(map[string][]string)
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kind, addresses, ok := strings.Cut(segment, "=")
		kind = strings.TrimSpace(kind)
		if !ok || kind == "" {
			continue
		}
		for _, address := range strings.Split(addresses, "|") {
			address = strings.TrimSpace(address)
			if address == "" {
				continue
			}
			parsed[kind] = append(parsed[kind], address)
		}
	}
	return parsed
}
