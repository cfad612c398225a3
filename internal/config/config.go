package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-resilience/internal/harness"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/telemetry"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageBadger = "badger"
	StorageValkey = "valkey"
	StorageMemory = "memory"
)

var validate = validator.New()

// Config captures every setting of the resilience engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Harness   HarnessConfig   `yaml:"harness"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Storage   StorageConfig   `yaml:"storage"`
	Targets   TargetsConfig   `yaml:"targets"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Rules     RulesConfig     `yaml:"rules"`
	Run       RunConfig       `yaml:"run"`
}

// ServerConfig controls the gRPC, REST and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// HarnessConfig mirrors harness.Config in YAML form.
type HarnessConfig struct {
	FailureRate           float64       `yaml:"failureRate" validate:"gte=0,lte=1"`
	MaxConcurrentFailures int           `yaml:"maxConcurrentFailures" validate:"gte=1"`
	Journal               bool          `yaml:"journal"`
	Backpressure          string        `yaml:"backpressure" validate:"oneof=block defer"`
	AcquireTimeout        time.Duration `yaml:"acquireTimeout" validate:"gte=0"`
	MaxDeferrals          int           `yaml:"maxDeferrals" validate:"gte=0"`
	Workers               int           `yaml:"workers" validate:"gte=1"`
	FaultDuration         time.Duration `yaml:"faultDuration" validate:"gte=0"`
	RecoveryTimeout       time.Duration `yaml:"recoveryTimeout" validate:"gt=0"`
	PollInterval          time.Duration `yaml:"pollInterval" validate:"gt=0"`
	RecoveryTolerance     float64       `yaml:"recoveryTolerance" validate:"gte=0"`
	ErrorRateTolerance    float64       `yaml:"errorRateTolerance" validate:"gte=0,lte=1"`
	CascadeThreshold      float64       `yaml:"cascadeThreshold" validate:"gte=1"`
	ObservePeers          bool          `yaml:"observePeers"`
}

// TelemetryConfig tunes the collector.
type TelemetryConfig struct {
	LoadDuration time.Duration `yaml:"loadDuration" validate:"gte=0"`
	MaxSeries    int           `yaml:"maxSeries" validate:"gte=0"`
}

// AnomalyConfig tunes the detector.
type AnomalyConfig struct {
	Method    string  `yaml:"method" validate:"oneof=zscore mad"`
	Threshold float64 `yaml:"threshold" validate:"gt=0"`
}

// ScoringConfig tunes weak spot detection.
type ScoringConfig struct {
	WeakSpotRate float64 `yaml:"weakSpotRate" validate:"gte=0,lte=1"`
}

// AlertingConfig configures the alert evaluator.
type AlertingConfig struct {
	CriticalThreshold int    `yaml:"criticalThreshold" validate:"gte=0,lte=100"`
	Condition         string `yaml:"condition"`
}

// StorageConfig selects where records and the journal live.
type StorageConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=file badger valkey memory"`
	Dir     string       `yaml:"dir"`
	Badger  BadgerConfig `yaml:"badger"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// BadgerConfig configures the embedded database used by the badger backend and the journal.
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"inMemory"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// ValkeyConfig configures the valkey backend.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries" validate:"gte=0"`
	TLS          bool          `yaml:"tls"`
}

// TargetsConfig lists the components under test.
type TargetsConfig struct {
	Simulated []target.SimulatedConfig `yaml:"simulated"`
	HTTP      []HTTPTargetConfig       `yaml:"http" validate:"dive"`
}

// HTTPTargetConfig configures a remote component.
type HTTPTargetConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	BaseURL      string        `yaml:"baseURL" validate:"required,url"`
	InvokePath   string        `yaml:"invokePath"`
	FaultPath    string        `yaml:"faultPath"`
	Timeout      time.Duration `yaml:"timeout"`
	Window       int           `yaml:"window" validate:"gte=0"`
	Dependencies []string      `yaml:"dependencies"`
}

// RecoveryConfig locates the recovery path catalog.
type RecoveryConfig struct {
	CatalogPath string `yaml:"catalogPath"`
	// Watch reloads the catalog when the file changes.
	Watch bool `yaml:"watch"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// RunConfig holds defaults for a run.
type RunConfig struct {
	ChaosLevel   int           `yaml:"chaosLevel" validate:"gte=1,lte=5"`
	Duration     time.Duration `yaml:"duration" validate:"gte=0"`
	Seed         uint64        `yaml:"seed"`
	ReportDir    string        `yaml:"reportDir"`
	FailureTypes []string      `yaml:"failureTypes"`
	// Interval triggers periodic runs while serving; zero disables them.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESILIENCE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{})
	for _, name := range c.TargetNames() {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("invalid config: duplicate target %q", name)
		}
		seen[name] = struct{}{}
	}
	if c.Storage.Backend == StorageValkey && c.Storage.Valkey.Addr == "" {
		return errors.New("invalid config: storage.valkey.addr is required for the valkey backend")
	}
	if c.Harness.Journal && c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
		return errors.New("invalid config: harness.journal requires storage.badger.path or inMemory")
	}
	return nil
}

// TargetNames lists configured simulated then HTTP target names.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets.Simulated)+len(c.Targets.HTTP))
	for _, s := range c.Targets.Simulated {
		names = append(names, s.Name)
	}
	for _, h := range c.Targets.HTTP {
		names = append(names, h.Name)
	}
	return names
}

// HarnessSettings converts the YAML section into harness.Config.
func (c *Config) HarnessSettings() harness.Config {
	h := c.Harness
	return harness.Config{
		FailureRate:           h.FailureRate,
		MaxConcurrentFailures: h.MaxConcurrentFailures,
		Journal:               h.Journal,
		Backpressure:          h.Backpressure,
		AcquireTimeout:        h.AcquireTimeout,
		MaxDeferrals:          h.MaxDeferrals,
		Workers:               h.Workers,
		TestsPerSecond:        0,
		FaultDuration:         h.FaultDuration,
		RecoveryTimeout:       h.RecoveryTimeout,
		PollInterval:          h.PollInterval,
		RecoveryTolerance:     h.RecoveryTolerance,
		ErrorRateTolerance:    h.ErrorRateTolerance,
		CascadeThreshold:      h.CascadeThreshold,
		ObservePeers:          h.ObservePeers,
	}
}

// TelemetrySettings converts the YAML section into telemetry.Config.
func (c *Config) TelemetrySettings() telemetry.Config {
	return telemetry.Config{LoadDuration: c.Telemetry.LoadDuration, MaxSeries: c.Telemetry.MaxSeries}
}

// ValkeySettings converts the YAML section into store.ValkeyConfig.
func (c *Config) ValkeySettings() store.ValkeyConfig {
	v := c.Storage.Valkey
	return store.ValkeyConfig{
		Addr:         v.Addr,
		Username:     v.Username,
		Password:     v.Password,
		DB:           v.DB,
		KeyPrefix:    v.KeyPrefix,
		DialTimeout:  v.DialTimeout,
		ReadTimeout:  v.ReadTimeout,
		WriteTimeout: v.WriteTimeout,
		MaxRetries:   v.MaxRetries,
		TLS:          v.TLS,
	}
}

// HTTPSettings converts one HTTP target entry into target.HTTPConfig.
func (h HTTPTargetConfig) HTTPSettings() target.HTTPConfig {
	return target.HTTPConfig{
		Name:         h.Name,
		BaseURL:      h.BaseURL,
		InvokePath:   h.InvokePath,
		FaultPath:    h.FaultPath,
		Timeout:      h.Timeout,
		Window:       h.Window,
		Dependencies: h.Dependencies,
	}
}

func defaultConfig() Config {
	hd := harness.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Harness: HarnessConfig{
			FailureRate:           hd.FailureRate,
			MaxConcurrentFailures: hd.MaxConcurrentFailures,
			Backpressure:          hd.Backpressure,
			AcquireTimeout:        hd.AcquireTimeout,
			MaxDeferrals:          hd.MaxDeferrals,
			Workers:               hd.Workers,
			FaultDuration:         hd.FaultDuration,
			RecoveryTimeout:       hd.RecoveryTimeout,
			PollInterval:          hd.PollInterval,
			RecoveryTolerance:     hd.RecoveryTolerance,
			ErrorRateTolerance:    hd.ErrorRateTolerance,
			CascadeThreshold:      hd.CascadeThreshold,
			ObservePeers:          hd.ObservePeers,
		},
		Telemetry: TelemetryConfig{MaxSeries: 10000},
		Anomaly:   AnomalyConfig{Method: "zscore", Threshold: 2},
		Scoring:   ScoringConfig{WeakSpotRate: 0.8},
		Alerting:  AlertingConfig{CriticalThreshold: 70},
		Storage: StorageConfig{
			Backend: StorageFile,
			Dir:     "data",
			Badger:  BadgerConfig{Path: "data/badger"},
			Valkey: ValkeyConfig{
				KeyPrefix:    "resilience:",
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		Recovery: RecoveryConfig{CatalogPath: "configs/recovery/paths.yaml"},
		Rules:    RulesConfig{Path: "configs/rules/default.yaml"},
		Run:      RunConfig{ChaosLevel: 3, ReportDir: "reports", Seed: 1},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESILIENCE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RESILIENCE_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("RESILIENCE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("RESILIENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RESILIENCE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("RESILIENCE_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Harness.FailureRate = f
		}
	}
	if v := os.Getenv("RESILIENCE_MAX_CONCURRENT_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Harness.MaxConcurrentFailures = n
		}
	}
	if v := os.Getenv("RESILIENCE_BACKPRESSURE"); v != "" {
		cfg.Harness.Backpressure = strings.ToLower(v)
	}
	if v := os.Getenv("RESILIENCE_JOURNAL"); v != "" {
		cfg.Harness.Journal = truthy(v)
	}
	if v := os.Getenv("RESILIENCE_RECOVERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Harness.RecoveryTimeout = d
		}
	}
	if v := os.Getenv("RESILIENCE_ANOMALY_METHOD"); v != "" {
		cfg.Anomaly.Method = strings.ToLower(v)
	}
	if v := os.Getenv("RESILIENCE_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.Threshold = f
		}
	}
	if v := os.Getenv("RESILIENCE_ALERT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Alerting.CriticalThreshold = n
		}
	}
	if v := os.Getenv("RESILIENCE_ALERT_CONDITION"); v != "" {
		cfg.Alerting.Condition = v
	}
	if v := os.Getenv("RESILIENCE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RESILIENCE_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("RESILIENCE_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("RESILIENCE_VALKEY_ADDR"); v != "" {
		cfg.Storage.Valkey.Addr = v
	}
	if v := os.Getenv("RESILIENCE_VALKEY_USERNAME"); v != "" {
		cfg.Storage.Valkey.Username = v
	}
	if v := os.Getenv("RESILIENCE_VALKEY_PASSWORD"); v != "" {
		cfg.Storage.Valkey.Password = v
	}
	if v := os.Getenv("RESILIENCE_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Valkey.DB = db
		}
	}
	if v := os.Getenv("RESILIENCE_VALKEY_TLS"); truthy(v) {
		cfg.Storage.Valkey.TLS = true
	}
	if v := os.Getenv("RESILIENCE_RECOVERY_CATALOG"); v != "" {
		cfg.Recovery.CatalogPath = v
	}
	if v := os.Getenv("RESILIENCE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("RESILIENCE_CHAOS_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.ChaosLevel = n
		}
	}
	if v := os.Getenv("RESILIENCE_RUN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Duration = d
		}
	}
	if v := os.Getenv("RESILIENCE_RUN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Interval = d
		}
	}
	if v := os.Getenv("RESILIENCE_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Run.Seed = n
		}
	}
	if v := os.Getenv("RESILIENCE_REPORT_DIR"); v != "" {
		cfg.Run.ReportDir = v
	}
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
