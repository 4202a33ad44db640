package config

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultScrapeInterval       = 10 * time.Second
	DefaultContainerConcurrency = 5
	DefaultCommandBatchSize     = 10
	DefaultCommandSubject       = "app_cmd"
)

var (
	ErrMissingHostIdentifier   = errors.New("host identifier is required")
	ErrMissingCommunicationKey = errors.New("communication key is required")
)

type DatabaseTarget struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Connection string `yaml:"connection"`
}

type Config struct {
	HostName              string   `yaml:"host_name"`
	HostIdentifier        string   `yaml:"host_identifier"`
	HostIPs               []string `yaml:"host_ips"`
	CommunicationKey      string   `yaml:"communication_key"`
	ScrapeIntervalSeconds int      `yaml:"scrape_interval_seconds"`

	BrokerURL            string        `yaml:"broker_url"`
	BrokerClientName     string        `yaml:"broker_client_name"`
	BrokerUser           string        `yaml:"broker_user"`
	BrokerPassword       string        `yaml:"broker_password"`
	BrokerConnectTimeout time.Duration `yaml:"broker_connect_timeout"`
	BrokerReconnectWait  time.Duration `yaml:"broker_reconnect_wait"`
	BrokerMaxReconnects  int           `yaml:"broker_max_reconnects"`
	EnsureStreams        bool          `yaml:"ensure_streams"`
	JetStreamPublish     bool          `yaml:"jetstream_publish"`
	MetricsStream        string        `yaml:"metrics_stream"`
	CommandStream        string        `yaml:"command_stream"`
	TLSEnabled           bool          `yaml:"tls_enabled"`
	TLSSkipVerify        bool          `yaml:"tls_skip_verify"`
	TLSCAPath            string        `yaml:"tls_ca_path"`
	TLSCertPath          string        `yaml:"tls_cert_path"`
	TLSKeyPath           string        `yaml:"tls_key_path"`

	Databases            []DatabaseTarget  `yaml:"databases"`
	DatabaseProbeTimeout time.Duration     `yaml:"database_probe_timeout"`
	QueryOverrides       map[string]string `yaml:"query_overrides"`

	ContainersEnabled     bool          `yaml:"containers_enabled"`
	DockerHost            string        `yaml:"docker_host"`
	ContainerConcurrency  int           `yaml:"container_concurrency"`
	ContainerStatsTimeout time.Duration `yaml:"container_stats_timeout"`

	CommandsEnabled  bool          `yaml:"commands_enabled"`
	CommandSubject   string        `yaml:"command_subject"`
	CommandBatchSize int           `yaml:"command_batch_size"`
	CommandFetchWait time.Duration `yaml:"command_fetch_wait"`
	AllowedActions   []string      `yaml:"allowed_actions"`
	AllowedUnits     []string      `yaml:"allowed_units"`
	BackupDir        string        `yaml:"backup_dir"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`

	ProbeListenAddr       string        `yaml:"probe_listen_addr"`
	LogLevel              string        `yaml:"log_level"`
	LogJSON               bool          `yaml:"log_json"`
	LogFile               string        `yaml:"log_file"`
	LogMaxSizeMB          int           `yaml:"log_max_size_mb"`
	LogMaxBackups         int           `yaml:"log_max_backups"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	CollectorErrorBackoff time.Duration `yaml:"collector_error_backoff"`
}

func Defaults() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		HostName:              hostname,
		BrokerURL:             "nats://127.0.0.1:4222",
		BrokerClientName:      "hostwatch-agent",
		BrokerConnectTimeout:  5 * time.Second,
		BrokerReconnectWait:   2 * time.Second,
		BrokerMaxReconnects:   -1,
		MetricsStream:         "HOSTWATCH_METRICS",
		CommandStream:         "HOSTWATCH_COMMANDS",
		DatabaseProbeTimeout:  10 * time.Second,
		ContainersEnabled:     true,
		ContainerConcurrency:  DefaultContainerConcurrency,
		ContainerStatsTimeout: 15 * time.Second,
		CommandsEnabled:       true,
		CommandSubject:        DefaultCommandSubject,
		CommandBatchSize:      DefaultCommandBatchSize,
		CommandFetchWait:      time.Second,
		BackupDir:             "/var/backups/hostwatch",
		ActionTimeout:         5 * time.Minute,
		ProbeListenAddr:       "127.0.0.1:9464",
		LogLevel:              "info",
		LogJSON:               true,
		LogMaxSizeMB:          50,
		LogMaxBackups:         5,
		ShutdownTimeout:       20 * time.Second,
		CollectorErrorBackoff: time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and HOSTWATCH_* environment overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HostName = env("HOSTWATCH_HOST_NAME", c.HostName)
	c.HostIdentifier = env("HOSTWATCH_HOST_IDENTIFIER", c.HostIdentifier)
	c.HostIPs = envList("HOSTWATCH_HOST_IPS", c.HostIPs)
	c.CommunicationKey = env("HOSTWATCH_COMMUNICATION_KEY", c.CommunicationKey)
	c.ScrapeIntervalSeconds = envInt("HOSTWATCH_SCRAPE_INTERVAL_SECONDS", c.ScrapeIntervalSeconds)

	c.BrokerURL = env("HOSTWATCH_BROKER_URL", c.BrokerURL)
	c.BrokerClientName = env("HOSTWATCH_BROKER_CLIENT_NAME", c.BrokerClientName)
	c.BrokerUser = env("HOSTWATCH_BROKER_USER", c.BrokerUser)
	c.BrokerPassword = env("HOSTWATCH_BROKER_PASSWORD", c.BrokerPassword)
	c.BrokerConnectTimeout = envDuration("HOSTWATCH_BROKER_CONNECT_TIMEOUT", c.BrokerConnectTimeout)
	c.BrokerReconnectWait = envDuration("HOSTWATCH_BROKER_RECONNECT_WAIT", c.BrokerReconnectWait)
	c.BrokerMaxReconnects = envInt("HOSTWATCH_BROKER_MAX_RECONNECTS", c.BrokerMaxReconnects)
	c.EnsureStreams = envBool("HOSTWATCH_ENSURE_STREAMS", c.EnsureStreams)
	c.JetStreamPublish = envBool("HOSTWATCH_JETSTREAM_PUBLISH", c.JetStreamPublish)
	c.TLSEnabled = envBool("HOSTWATCH_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("HOSTWATCH_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("HOSTWATCH_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("HOSTWATCH_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("HOSTWATCH_TLS_KEY_PATH", c.TLSKeyPath)

	c.DatabaseProbeTimeout = envDuration("HOSTWATCH_DATABASE_PROBE_TIMEOUT", c.DatabaseProbeTimeout)
	c.ContainersEnabled = envBool("HOSTWATCH_CONTAINERS_ENABLED", c.ContainersEnabled)
	c.DockerHost = env("HOSTWATCH_DOCKER_HOST", c.DockerHost)
	c.ContainerConcurrency = envInt("HOSTWATCH_CONTAINER_CONCURRENCY", c.ContainerConcurrency)
	c.ContainerStatsTimeout = envDuration("HOSTWATCH_CONTAINER_STATS_TIMEOUT", c.ContainerStatsTimeout)

	c.CommandsEnabled = envBool("HOSTWATCH_COMMANDS_ENABLED", c.CommandsEnabled)
	c.CommandSubject = env("HOSTWATCH_COMMAND_SUBJECT", c.CommandSubject)
	c.CommandBatchSize = envInt("HOSTWATCH_COMMAND_BATCH_SIZE", c.CommandBatchSize)
	c.CommandFetchWait = envDuration("HOSTWATCH_COMMAND_FETCH_WAIT", c.CommandFetchWait)
	c.AllowedActions = envList("HOSTWATCH_ALLOWED_ACTIONS", c.AllowedActions)
	c.AllowedUnits = envList("HOSTWATCH_ALLOWED_UNITS", c.AllowedUnits)
	c.BackupDir = env("HOSTWATCH_BACKUP_DIR", c.BackupDir)
	c.ActionTimeout = envDuration("HOSTWATCH_ACTION_TIMEOUT", c.ActionTimeout)

	c.ProbeListenAddr = env("HOSTWATCH_PROBE_ADDR", c.ProbeListenAddr)
	c.LogLevel = env("HOSTWATCH_LOG_LEVEL", c.LogLevel)
	c.LogJSON = envBool("HOSTWATCH_LOG_JSON", c.LogJSON)
	c.LogFile = env("HOSTWATCH_LOG_FILE", c.LogFile)
	c.ShutdownTimeout = envDuration("HOSTWATCH_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.CollectorErrorBackoff = envDuration("HOSTWATCH_COLLECTOR_ERROR_BACKOFF", c.CollectorErrorBackoff)
}

func (c *Config) normalize() {
	c.HostName = strings.TrimSpace(c.HostName)
	c.HostIdentifier = strings.TrimSpace(c.HostIdentifier)
	c.CommunicationKey = strings.TrimSpace(c.CommunicationKey)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.ScrapeIntervalSeconds <= 0 {
		c.ScrapeIntervalSeconds = int(DefaultScrapeInterval / time.Second)
	}
	if c.ContainerConcurrency <= 0 {
		c.ContainerConcurrency = DefaultContainerConcurrency
	}
	if c.CommandBatchSize <= 0 {
		c.CommandBatchSize = DefaultCommandBatchSize
	}
	if strings.TrimSpace(c.CommandSubject) == "" {
		c.CommandSubject = DefaultCommandSubject
	}
	for i := range c.Databases {
		d := &c.Databases[i]
		d.Type = strings.ToLower(strings.TrimSpace(d.Type))
		if strings.TrimSpace(d.Name) == "" {
			d.Name = fmt.Sprintf("%s-%d", d.Type, i)
		}
	}
}

func (c Config) Validate() error {
	if c.HostIdentifier == "" {
		return ErrMissingHostIdentifier
	}
	if c.CommunicationKey == "" {
		return ErrMissingCommunicationKey
	}
	if strings.TrimSpace(c.BrokerURL) == "" {
		return errors.New("HOSTWATCH_BROKER_URL is required")
	}
	if c.ScrapeIntervalSeconds <= 0 {
		return errors.New("scrape interval must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("HOSTWATCH_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.CommandFetchWait <= 0 {
		return errors.New("HOSTWATCH_COMMAND_FETCH_WAIT must be > 0")
	}
	if c.DatabaseProbeTimeout <= 0 {
		return errors.New("HOSTWATCH_DATABASE_PROBE_TIMEOUT must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Databases))
	for i, d := range c.Databases {
		if d.Type == "" {
			return fmt.Errorf("databases[%d]: type is required", i)
		}
		if strings.TrimSpace(d.Connection) == "" {
			return fmt.Errorf("databases[%d] (%s): connection is required", i, d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("databases[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

func (c Config) ScrapeInterval() time.Duration {
	if c.ScrapeIntervalSeconds <= 0 {
		return DefaultScrapeInterval
	}
	return time.Duration(c.ScrapeIntervalSeconds) * time.Second
}

// ConsumerDurable is the durable consumer name shared by every agent holding
// the same communication key. The key itself never appears on the broker.
func (c Config) ConsumerDurable() string {
	sum := sha256.Sum256([]byte(c.CommunicationKey))
	return "hostwatch_" + hex.EncodeToString(sum[:8])
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
