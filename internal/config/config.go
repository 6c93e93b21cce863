package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/ttacon/libphonenumber"

	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// Provider names accepted in telephony.provider.
const (
	ProviderSignalWire = "signalwire"
	ProviderTwilio     = "twilio"
	ProviderMock       = "mock"
)

// Result store drivers accepted in store.driver.
const (
	DriverNone     = ""
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Telephony    TelephonyConfig    `mapstructure:"telephony"`
	IVR          IVRConfig          `mapstructure:"ivr"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Input        InputConfig        `mapstructure:"input"`
	Output       OutputConfig       `mapstructure:"output"`
	Store        StoreConfig        `mapstructure:"store"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	SQLite       SQLiteConfig       `mapstructure:"sqlite"`
	Scylla       ScyllaConfig       `mapstructure:"scylla"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Retry        RetryConfig        `mapstructure:"retry"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type TelephonyConfig struct {
	Provider string `mapstructure:"provider"`

	// SignalWire LaML credentials.
	ProjectID string `mapstructure:"project_id"`
	APIToken  string `mapstructure:"api_token"`
	SpaceURL  string `mapstructure:"space_url"`

	// Twilio credentials.
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`

	FromNumber    string `mapstructure:"from_number"`
	ToNumber      string `mapstructure:"to_number"`
	DefaultRegion string `mapstructure:"default_region"`

	CallbackBaseURL string `mapstructure:"callback_base_url"`
	WebhookPath     string `mapstructure:"webhook_path"`
	StatusPath      string `mapstructure:"status_path"`

	RingTimeout       time.Duration `mapstructure:"ring_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	HangupOnTimeout   bool          `mapstructure:"hangup_on_timeout"`

	// MockScript is the utterance the mock provider "hears" after navigation.
	MockScript string `mapstructure:"mock_script"`
}

type IVRConfig struct {
	PauseAfterPickup    time.Duration `mapstructure:"pause_after_pickup"`
	MenuKey             string        `mapstructure:"menu_key"`
	PauseAfterMenuKey   time.Duration `mapstructure:"pause_after_menu_key"`
	PauseBetweenSecrets time.Duration `mapstructure:"pause_between_secrets"`
	PauseBeforeListen   time.Duration `mapstructure:"pause_before_listen"`
	ListenTimeout       time.Duration `mapstructure:"listen_timeout"`
	SpeechTimeout       time.Duration `mapstructure:"speech_timeout"`
	Prompt              string        `mapstructure:"prompt"`
}

type OrchestratorConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	BatchName   string        `mapstructure:"batch_name"`
}

type ExtractionConfig struct {
	Keywords  []string `mapstructure:"keywords"`
	Separator string   `mapstructure:"separator"`
}

type InputConfig struct {
	CardsFile string `mapstructure:"cards_file"`
}

type OutputConfig struct {
	ResultsFile string `mapstructure:"results_file"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Transcripts bool   `mapstructure:"transcripts"`
	Publish     bool   `mapstructure:"publish"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	ResultTopic string   `mapstructure:"result_topic"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	// GlobalLimit caps calls in flight across every process sharing the redis instance.
	GlobalLimit int           `mapstructure:"global_limit"`
	SlotTTL     time.Duration `mapstructure:"slot_ttl"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// Load reads .env, the optional YAML file at path and BALANCE_* environment variables, in that order
// of increasing precedence. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("BALANCE")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ivr-balance-checker")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("telephony.provider", ProviderSignalWire)
	v.SetDefault("telephony.project_id", "")
	v.SetDefault("telephony.api_token", "")
	v.SetDefault("telephony.space_url", "")
	v.SetDefault("telephony.account_sid", "")
	v.SetDefault("telephony.auth_token", "")
	v.SetDefault("telephony.from_number", "")
	v.SetDefault("telephony.to_number", "")
	v.SetDefault("telephony.default_region", "US")
	v.SetDefault("telephony.callback_base_url", "")
	v.SetDefault("telephony.webhook_path", "/voice")
	v.SetDefault("telephony.status_path", "/status")
	v.SetDefault("telephony.ring_timeout", 30*time.Second)
	v.SetDefault("telephony.request_timeout", 30*time.Second)
	v.SetDefault("telephony.requests_per_second", 1.0)
	v.SetDefault("telephony.burst", 1)
	v.SetDefault("telephony.hangup_on_timeout", true)
	v.SetDefault("telephony.mock_script", "Your current balance is $523.10")

	v.SetDefault("ivr.pause_after_pickup", 6*time.Second)
	v.SetDefault("ivr.menu_key", "9")
	v.SetDefault("ivr.pause_after_menu_key", 3*time.Second)
	v.SetDefault("ivr.pause_between_secrets", 5*time.Second)
	v.SetDefault("ivr.pause_before_listen", 1*time.Second)
	v.SetDefault("ivr.listen_timeout", 45*time.Second)
	v.SetDefault("ivr.speech_timeout", 5*time.Second)
	v.SetDefault("ivr.prompt", "Please wait while we retrieve your balance information.")

	v.SetDefault("orchestrator.concurrency", 1)
	v.SetDefault("orchestrator.call_timeout", 60*time.Second)
	v.SetDefault("orchestrator.batch_name", "default")

	v.SetDefault("extraction.keywords", []string{})
	v.SetDefault("extraction.separator", " | ")

	v.SetDefault("input.cards_file", "cards.txt")
	v.SetDefault("output.results_file", "results.csv")

	v.SetDefault("store.driver", DriverNone)
	v.SetDefault("store.transcripts", false)
	v.SetDefault("store.publish", false)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "balances")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("postgres.max_conn_idle_time", 10*time.Minute)

	v.SetDefault("sqlite.path", "balances.db")

	v.SetDefault("scylla.hosts", []string{"localhost"})
	v.SetDefault("scylla.port", 9042)
	v.SetDefault("scylla.keyspace", "balances")
	v.SetDefault("scylla.consistency", "local_quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)
	v.SetDefault("scylla.disable_init_schema", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "ivr-balance-checker")
	v.SetDefault("kafka.result_topic", "balance.results")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.global_limit", 0)
	v.SetDefault("redis.slot_ttl", 5*time.Minute)

	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "ivr-balance-checker")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.shutdown_timeout", 5*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.jitter", 0.2)
}

// Validate checks the configuration and normalises phone numbers to E.164.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Orchestrator.Concurrency < 1 {
		fail("orchestrator.concurrency must be at least 1, got %d", c.Orchestrator.Concurrency)
	}
	if c.Orchestrator.CallTimeout <= 0 {
		fail("orchestrator.call_timeout must be positive")
	}

	for name, d := range map[string]time.Duration{
		"ivr.pause_after_pickup":    c.IVR.PauseAfterPickup,
		"ivr.pause_after_menu_key":  c.IVR.PauseAfterMenuKey,
		"ivr.pause_between_secrets": c.IVR.PauseBetweenSecrets,
		"ivr.pause_before_listen":   c.IVR.PauseBeforeListen,
		"ivr.listen_timeout":        c.IVR.ListenTimeout,
		"ivr.speech_timeout":        c.IVR.SpeechTimeout,
	} {
		if d < 0 || d%time.Second != 0 {
			fail("%s must be a non-negative whole number of seconds, got %s", name, d)
		}
	}
	if c.IVR.ListenTimeout <= 0 {
		fail("ivr.listen_timeout must be positive")
	}
	if !isDTMF(c.IVR.MenuKey) {
		fail("ivr.menu_key %q contains non-DTMF characters", c.IVR.MenuKey)
	}

	switch c.Telephony.Provider {
	case ProviderMock:
	case ProviderSignalWire:
		if c.Telephony.ProjectID == "" || c.Telephony.APIToken == "" || c.Telephony.SpaceURL == "" {
			fail("telephony: signalwire requires project_id, api_token and space_url")
		}
	case ProviderTwilio:
		if c.Telephony.AccountSID == "" || c.Telephony.AuthToken == "" {
			fail("telephony: twilio requires account_sid and auth_token")
		}
	default:
		fail("telephony.provider %q is not one of signalwire, twilio, mock", c.Telephony.Provider)
	}

	if c.Telephony.Provider != ProviderMock {
		if c.Telephony.CallbackBaseURL == "" {
			fail("telephony.callback_base_url is required")
		}
		if c.Telephony.FromNumber == "" || c.Telephony.ToNumber == "" {
			fail("telephony.from_number and telephony.to_number are required")
		}
	}

	for _, field := range []*string{&c.Telephony.FromNumber, &c.Telephony.ToNumber} {
		if *field == "" {
			continue
		}
		normalized, err := NormalizeNumber(*field, c.Telephony.DefaultRegion)
		if err != nil {
			fail("telephony: %v", err)
			continue
		}
		*field = normalized
	}

	if c.Telephony.RequestsPerSecond < 0 {
		fail("telephony.requests_per_second must not be negative")
	}

	switch c.Store.Driver {
	case DriverNone, DriverPostgres, DriverSQLite:
	default:
		fail("store.driver %q is not one of postgres, sqlite", c.Store.Driver)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", apperrors.ErrValidation, errors.Join(errs...))
}

// NormalizeNumber parses a phone number and formats it as E.164.
func NormalizeNumber(raw, region string) (string, error) {
	number, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("parse number %q: %w", raw, err)
	}
	return libphonenumber.Format(number, libphonenumber.E164), nil
}

// WebhookURL is the absolute URL the provider posts call events to.
func (t TelephonyConfig) WebhookURL() string {
	return joinURL(t.CallbackBaseURL, t.WebhookPath)
}

// StatusCallbackURL is the absolute URL the provider posts status changes to.
func (t TelephonyConfig) StatusCallbackURL() string {
	return joinURL(t.CallbackBaseURL, t.StatusPath)
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func isDTMF(keys string) bool {
	for _, r := range keys {
		if !strings.ContainsRune("0123456789*#wW", r) {
			return false
		}
	}
	return true
}
