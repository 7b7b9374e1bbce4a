package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/parser"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Logging    LoggingConfig      `yaml:"logging"`
	Metrics    *MetricsConfig     `yaml:"metrics,omitempty"`
	Health     *HealthConfig      `yaml:"health,omitempty"`
	Tracing    *TracingConfig     `yaml:"tracing,omitempty"`
	Follower   FollowerConfig     `yaml:"follower"`
	Sinks      SinksConfig        `yaml:"sinks"`
	LogConfigs []LogMonitorConfig `yaml:"log_configs"`
	CmdConfigs []CmdMonitorConfig `yaml:"cmd_configs"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check endpoint configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// FollowerConfig tunes how log files are followed
type FollowerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	DisableFSNotify bool          `yaml:"disable_fsnotify,omitempty"`
}

// SinksConfig holds connection settings shared by all targets of a kind
type SinksConfig struct {
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	S3            S3Config            `yaml:"s3"`
	Retry         RetryConfig         `yaml:"retry"`
}

// ElasticsearchConfig holds Elasticsearch connection settings
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	APIKey    string   `yaml:"api_key,omitempty"`
	CloudID   string   `yaml:"cloud_id,omitempty"`
}

// KafkaConfig holds Kafka producer settings
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers,omitempty"`
	ClientID     string   `yaml:"client_id,omitempty"`
	RequiredAcks int16    `yaml:"required_acks,omitempty"`
	Compression  string   `yaml:"compression,omitempty"`
	Version      string   `yaml:"version,omitempty"`
	// Timeout bounds broker dials, reads, writes and the wait for acks
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// S3Config holds S3 client settings
type S3Config struct {
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// RetryConfig holds sink retry settings. MaxRetries of zero disables retries.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries,omitempty"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
}

// LogMonitorConfig describes one log file glob and the events extracted from it
type LogMonitorConfig struct {
	Path   string           `yaml:"path"`
	Events []LogEventConfig `yaml:"events"`
}

// LogEventConfig is a named rule and the targets its events are sent to
type LogEventConfig struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind,omitempty"`
	Regexes []string       `yaml:"regexes"`
	Targets []types.Target `yaml:"targets"`

	rule *parser.Rule
}

// Rule returns the compiled rule. It is nil until Validate succeeds.
func (e *LogEventConfig) Rule() *parser.Rule {
	return e.rule
}

// CmdMonitorConfig groups command events
type CmdMonitorConfig struct {
	Events []CmdEventConfig `yaml:"events"`
}

// CmdEventConfig describes one command and how often it runs
type CmdEventConfig struct {
	Name    string         `yaml:"name"`
	Command string         `yaml:"command"`
	Targets []types.Target `yaml:"targets"`
	Repeat  *float64       `yaml:"repeat,omitempty"` // seconds
	Chdir   *string        `yaml:"chdir,omitempty"`
}

// maxRepeatSeconds is the largest repeat that fits in a time.Duration
const maxRepeatSeconds = float64(math.MaxInt64) / float64(time.Second)

// RepeatInterval returns the repeat interval, or zero when the command runs once
func (e *CmdEventConfig) RepeatInterval() time.Duration {
	if e.Repeat == nil {
		return 0
	}
	return time.Duration(*e.Repeat * float64(time.Second))
}

// Default values
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
	DefaultHealthAddress  = ":8080"
	DefaultHealthTimeout  = 5 * time.Second
	DefaultKafkaClientID  = "livemon"
	DefaultKafkaTimeout   = 10 * time.Second
	DefaultS3Region       = "us-east-1"
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Load loads configuration from a YAML file with environment variable expansion
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document. Unknown keys at any
// level are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: config is empty", types.ErrConfiguration)
		}
		return nil, fmt.Errorf("%w: failed to parse config: %v", types.ErrConfiguration, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references. Bare $ is left alone so that regex
// anchors survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Follower.PollInterval == 0 {
		c.Follower.PollInterval = DefaultPollInterval
	}

	if c.Metrics != nil {
		if c.Metrics.Address == "" {
			c.Metrics.Address = DefaultMetricsAddress
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = DefaultMetricsPath
		}
	}
	if c.Health != nil {
		if c.Health.Address == "" {
			c.Health.Address = DefaultHealthAddress
		}
		if c.Health.Timeout == 0 {
			c.Health.Timeout = DefaultHealthTimeout
		}
	}

	es := &c.Sinks.Elasticsearch
	if len(es.Addresses) == 0 && es.CloudID == "" {
		if host := os.Getenv("ES_HOST"); host != "" {
			es.Addresses = []string{host}
		}
	}
	if es.Username == "" {
		es.Username = os.Getenv("ES_USERNAME")
	}
	if es.Password == "" {
		es.Password = os.Getenv("ES_PASSWORD")
	}

	if c.Sinks.Kafka.ClientID == "" {
		c.Sinks.Kafka.ClientID = DefaultKafkaClientID
	}
	if c.Sinks.Kafka.RequiredAcks == 0 {
		c.Sinks.Kafka.RequiredAcks = 1
	}
	if c.Sinks.Kafka.Timeout == 0 {
		c.Sinks.Kafka.Timeout = DefaultKafkaTimeout
	}
	if c.Sinks.S3.Region == "" {
		c.Sinks.S3.Region = DefaultS3Region
	}
	if c.Sinks.Retry.InitialBackoff == 0 {
		c.Sinks.Retry.InitialBackoff = DefaultInitialBackoff
	}
	if c.Sinks.Retry.MaxBackoff == 0 {
		c.Sinks.Retry.MaxBackoff = DefaultMaxBackoff
	}
}

// Validate validates the configuration. Every returned error wraps
// types.ErrConfiguration. Log event rules are compiled as a side effect.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return configErr("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return configErr("invalid log format: %s", c.Logging.Format)
	}

	if c.Follower.PollInterval < 0 {
		return configErr("follower poll_interval must be positive")
	}
	if c.Sinks.Retry.MaxRetries < 0 {
		return configErr("sinks retry max_retries must not be negative")
	}

	if c.LogConfigs == nil {
		return configErr("log_configs is required")
	}
	if c.CmdConfigs == nil {
		return configErr("cmd_configs is required")
	}

	for i := range c.LogConfigs {
		if err := c.LogConfigs[i].validate(); err != nil {
			return fmt.Errorf("log_configs[%d]: %w", i, err)
		}
	}

	for i := range c.CmdConfigs {
		if err := c.CmdConfigs[i].validate(); err != nil {
			return fmt.Errorf("cmd_configs[%d]: %w", i, err)
		}
	}

	return nil
}

func (c *LogMonitorConfig) validate() error {
	if c.Path == "" {
		return configErr("path is required")
	}
	if c.Events == nil {
		return configErr("events is required")
	}

	for i := range c.Events {
		if err := c.Events[i].validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}

func (e *LogEventConfig) validate() error {
	if e.Name == "" {
		return configErr("name is required")
	}
	if e.Targets == nil {
		return configErr("event %q: targets is required", e.Name)
	}
	if err := validateTargets(e.Targets); err != nil {
		return fmt.Errorf("event %q: %w", e.Name, err)
	}

	rule, err := parser.NewRule(e.Name, parser.RuleKind(e.Kind), e.Regexes)
	if err != nil {
		return err
	}
	e.rule = rule
	return nil
}

func (c *CmdMonitorConfig) validate() error {
	if c.Events == nil {
		return configErr("events is required")
	}

	for i := range c.Events {
		if err := c.Events[i].validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}

func (e *CmdEventConfig) validate() error {
	if e.Name == "" {
		return configErr("name is required")
	}
	if e.Command == "" {
		return configErr("event %q: command is required", e.Name)
	}
	if e.Targets == nil {
		return configErr("event %q: targets is required", e.Name)
	}
	if err := validateTargets(e.Targets); err != nil {
		return fmt.Errorf("event %q: %w", e.Name, err)
	}

	if e.Repeat != nil {
		if !(*e.Repeat > 0) {
			return configErr("event %q: repeat must be a positive non-zero value", e.Name)
		}
		if math.IsInf(*e.Repeat, 0) || *e.Repeat >= maxRepeatSeconds || e.RepeatInterval() < time.Nanosecond {
			return configErr("event %q: repeat %v is out of range", e.Name, *e.Repeat)
		}
	}

	if e.Chdir != nil {
		info, err := os.Stat(*e.Chdir)
		if err != nil {
			if os.IsNotExist(err) {
				return configErr("event %q: chdir path does not exist: %s", e.Name, *e.Chdir)
			}
			return configErr("event %q: chdir: %v", e.Name, err)
		}
		if !info.IsDir() {
			return configErr("event %q: chdir path is not a directory: %s", e.Name, *e.Chdir)
		}
	}

	return nil
}

// requiredParams lists the target config keys each sink kind needs
var requiredParams = map[types.TargetKind][]string{
	types.TargetElasticsearch: {"index"},
	types.TargetKafka:         {"topic"},
	types.TargetS3:            {"bucket"},
	types.TargetStdout:        nil,
}

func validateTargets(targets []types.Target) error {
	for i, t := range targets {
		if !t.Type.Valid() {
			return configErr("targets[%d]: unknown target type %q", i, t.Type)
		}

		for _, key := range requiredParams[t.Type] {
			if t.Param(key) == "" {
				return configErr("targets[%d]: %s target requires config key %q", i, t.Type, key)
			}
		}

		if t.Type == types.TargetS3 {
			switch t.Param("compression") {
			case "", "none", "gzip", "snappy":
			default:
				return configErr("targets[%d]: unsupported compression %q", i, t.Param("compression"))
			}
		}
	}
	return nil
}

// DefaultConfig returns a configuration with no monitors and default settings
func DefaultConfig() *Config {
	cfg := &Config{
		LogConfigs: []LogMonitorConfig{},
		CmdConfigs: []CmdMonitorConfig{},
	}
	cfg.applyDefaults()
	return cfg
}

// TargetKinds returns the distinct target kinds referenced by the configuration
func (c *Config) TargetKinds() []types.TargetKind {
	seen := make(map[types.TargetKind]bool)
	var kinds []types.TargetKind

	add := func(targets []types.Target) {
		for _, t := range targets {
			if !seen[t.Type] {
				seen[t.Type] = true
				kinds = append(kinds, t.Type)
			}
		}
	}

	for _, lc := range c.LogConfigs {
		for _, e := range lc.Events {
			add(e.Targets)
		}
	}
	for _, cc := range c.CmdConfigs {
		for _, e := range cc.Events {
			add(e.Targets)
		}
	}
	return kinds
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrConfiguration, fmt.Sprintf(format, args...))
}
