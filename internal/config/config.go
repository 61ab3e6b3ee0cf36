package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	CORSOrigins []string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/qrgate.db"

	// Backends
	StoreBackend string // "sqlite" | "memory"
	DedupBackend string // "sqlite" | "redis" | "memory"
	RedisURL     string

	// Key material. Every signing key is derived from this secret.
	MasterSecret string

	// Tokens
	IdentityTokenTTL time.Duration
	ClockSkew        time.Duration
	DeviceTrustTTL   time.Duration

	// Registration
	VerificationTimeout     time.Duration
	PollInterval            time.Duration
	DevAutoVerify           bool
	InboundSMSNumber        string
	SMSWebhookSecret        string
	RegistrationLimit       int
	RegistrationLimitWindow time.Duration

	// Scan validation
	DedupWindow        time.Duration
	GeofenceToleranceM float64
	Timezone           string
	CatalogPath        string

	// Background sweep
	SweepInterval    time.Duration
	AttemptRetention time.Duration

	// Anomaly spike detection
	AnomalySpikeFactor float64
	AnomalyMinCount    int

	// Downstream events
	KafkaBrokers     []string
	KafkaTopicPrefix string

	// Logging
	LogLevel  string
	LogFormat string
}

// FromEnv reads QRGATE_* variables. A .env file in the working directory is
// loaded first when present; real environment variables take precedence.
func FromEnv() Config {
	_ = godotenv.Load()

	env := strings.ToLower(getenvDefault("QRGATE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	devAutoVerify := getenvBool("QRGATE_DEV_AUTO_VERIFY", env == "dev")
	if env == "prod" {
		devAutoVerify = false
	}

	defaultFormat := "console"
	if env == "prod" {
		defaultFormat = "json"
	}

	return Config{
		HTTPAddr:    getenvDefault("QRGATE_HTTP_ADDR", ":8080"),
		CORSOrigins: splitCSV(os.Getenv("QRGATE_CORS_ORIGINS")),

		Env:    env,
		DBPath: getenvDefault("QRGATE_DB_PATH", "./data/qrgate.db"),

		StoreBackend: strings.ToLower(getenvDefault("QRGATE_STORE", "sqlite")),
		DedupBackend: strings.ToLower(getenvDefault("QRGATE_DEDUP_BACKEND", "sqlite")),
		RedisURL:     os.Getenv("QRGATE_REDIS_URL"),

		MasterSecret: os.Getenv("QRGATE_MASTER_SECRET"),

		IdentityTokenTTL: getenvDuration("QRGATE_IDENTITY_TTL", 60*time.Second),
		ClockSkew:        getenvDuration("QRGATE_CLOCK_SKEW", 5*time.Second),
		DeviceTrustTTL:   getenvDuration("QRGATE_DEVICE_TRUST_TTL", 180*24*time.Hour),

		VerificationTimeout:     getenvDuration("QRGATE_VERIFICATION_TIMEOUT", 60*time.Second),
		PollInterval:            getenvDuration("QRGATE_POLL_INTERVAL", 2*time.Second),
		DevAutoVerify:           devAutoVerify,
		InboundSMSNumber:        os.Getenv("QRGATE_INBOUND_SMS_NUMBER"),
		SMSWebhookSecret:        os.Getenv("QRGATE_SMS_WEBHOOK_SECRET"),
		RegistrationLimit:       getenvInt("QRGATE_REGISTRATION_LIMIT", 5),
		RegistrationLimitWindow: getenvDuration("QRGATE_REGISTRATION_LIMIT_WINDOW", 10*time.Minute),

		DedupWindow:        getenvDuration("QRGATE_DEDUP_WINDOW", 300*time.Second),
		GeofenceToleranceM: getenvFloat("QRGATE_GEOFENCE_TOLERANCE_M", 0),
		Timezone:           getenvDefault("QRGATE_TIMEZONE", "UTC"),
		CatalogPath:        os.Getenv("QRGATE_CATALOG_PATH"),

		SweepInterval:    getenvDuration("QRGATE_SWEEP_INTERVAL", time.Minute),
		AttemptRetention: getenvDuration("QRGATE_ATTEMPT_RETENTION", 24*time.Hour),

		AnomalySpikeFactor: getenvFloat("QRGATE_ANOMALY_SPIKE_FACTOR", 2.0),
		AnomalyMinCount:    getenvInt("QRGATE_ANOMALY_MIN_COUNT", 10),

		KafkaBrokers:     splitCSV(os.Getenv("QRGATE_KAFKA_BROKERS")),
		KafkaTopicPrefix: getenvDefault("QRGATE_KAFKA_TOPIC_PREFIX", "qrgate."),

		LogLevel:  getenvDefault("QRGATE_LOG_LEVEL", "info"),
		LogFormat: getenvDefault("QRGATE_LOG_FORMAT", defaultFormat),
	}
}

// Validate rejects settings that are unsafe or inconsistent.
func (c Config) Validate() error {
	var errs []error

	if c.Env == "prod" {
		if len(c.MasterSecret) < 32 {
			errs = append(errs, errors.New("QRGATE_MASTER_SECRET must be at least 32 bytes in prod"))
		}
		if c.DevAutoVerify {
			errs = append(errs, errors.New("dev auto-verify cannot be enabled in prod"))
		}
		if c.SMSWebhookSecret == "" {
			errs = append(errs, errors.New("QRGATE_SMS_WEBHOOK_SECRET is required in prod"))
		}
	}

	switch c.StoreBackend {
	case "sqlite", "memory":
	default:
		errs = append(errs, errors.New("QRGATE_STORE must be sqlite or memory"))
	}

	switch c.DedupBackend {
	case "sqlite", "memory":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("QRGATE_REDIS_URL is required for the redis dedup backend"))
		}
	default:
		errs = append(errs, errors.New("QRGATE_DEDUP_BACKEND must be sqlite, redis or memory"))
	}
	if c.DedupBackend == "sqlite" && c.StoreBackend != "sqlite" {
		errs = append(errs, errors.New("the sqlite dedup backend requires QRGATE_STORE=sqlite"))
	}

	if c.IdentityTokenTTL <= 0 || c.DeviceTrustTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.PollInterval <= 0 || c.VerificationTimeout < c.PollInterval {
		errs = append(errs, errors.New("verification timeout must cover at least one poll interval"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, errors.New("QRGATE_TIMEZONE is not a known location"))
	}

	return errors.Join(errs...)
}

// MaxPolls is the client-side attempt ceiling matching the server timeout.
func (c Config) MaxPolls() int {
	if c.PollInterval <= 0 {
		return 0
	}
	return int(c.VerificationTimeout / c.PollInterval)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

// getenvDuration accepts Go durations ("90s", "4320h") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return def
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
