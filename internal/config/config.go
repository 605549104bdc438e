package config

import (
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/fusion"
	"hybrid_monitor/internal/host"
	"hybrid_monitor/internal/notify"
	"hybrid_monitor/internal/relay"
)

type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Models    ModelsConfig    `mapstructure:"models"`
	Output    OutputConfig    `mapstructure:"output"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Host      HostConfig      `mapstructure:"host"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Conntrack ConntrackConfig `mapstructure:"conntrack"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type SourceConfig struct {
	EveLog       string        `mapstructure:"eve_log"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReopenDelay  time.Duration `mapstructure:"reopen_delay"`
}

type ModelsConfig struct {
	Dir     string `mapstructure:"dir"`
	Network string `mapstructure:"network"`
	Host    string `mapstructure:"host"`
}

type OutputConfig struct {
	LogDir     string `mapstructure:"log_dir"`
	VerdictLog string `mapstructure:"verdict_log"`
}

type RelayConfig struct {
	LocalNetwork     string  `mapstructure:"local_network"`
	TimeThreshold    float64 `mapstructure:"time_threshold"`
	ByteThresholdPct float64 `mapstructure:"byte_threshold_pct"`
	Retention        float64 `mapstructure:"retention"`
}

type HostConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RiskyCommands []string      `mapstructure:"risky_commands"`
	RiskyWeight   float64       `mapstructure:"risky_weight"`
	TrustedPorts  []uint32      `mapstructure:"trusted_ports"`
}

type FusionConfig struct {
	NetworkWeight       float64 `mapstructure:"network_weight"`
	HostWeight          float64 `mapstructure:"host_weight"`
	SteppingStoneWeight float64 `mapstructure:"stepping_stone_weight"`
	SteppingSignal      float64 `mapstructure:"stepping_signal"`
	Threshold           float64 `mapstructure:"threshold"`
}

type AlertConfig struct {
	Threshold       float64 `mapstructure:"threshold"`
	CooldownSeconds int     `mapstructure:"cooldown_seconds"`
	MaxKeys         int     `mapstructure:"max_keys"`
}

type NotifyConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	Slack         SlackConfig   `mapstructure:"slack"`
	NATS          NATSConfig    `mapstructure:"nats"`
	Redis         RedisConfig   `mapstructure:"redis"`
	Archive       ArchiveConfig `mapstructure:"archive"`
}

type WebhookConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type SlackConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
}

type ArchiveConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type ConntrackConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	QueueDepth int  `mapstructure:"queue_depth"`
}

type MetricsConfig struct {
	Bind string `mapstructure:"bind"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides: HYBRID_<SECTION>_<KEY> for every key, plus the variable names
// the deployment scripts already export.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("HYBRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, "HYBRID_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var legacyEnv = map[string]string{
	"source.eve_log":         "SURICATA_EVE_LOG",
	"models.dir":             "MODEL_DIR",
	"output.log_dir":         "LOG_DIR",
	"alert.threshold":        "ALERT_THRESHOLD",
	"alert.cooldown_seconds": "ALERT_COOLDOWN_SECONDS",
	"notify.webhook.url":     "WEBHOOK_URL",
	"notify.webhook.token":   "WEBHOOK_AUTH_TOKEN",
	"notify.slack.url":       "SLACK_WEBHOOK_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.eve_log", "/var/log/suricata/eve.json")
	v.SetDefault("source.poll_interval", "100ms")
	v.SetDefault("source.reopen_delay", "2s")

	v.SetDefault("models.dir", "models")
	v.SetDefault("models.network", "")
	v.SetDefault("models.host", "")

	v.SetDefault("output.log_dir", "logs")
	v.SetDefault("output.verdict_log", "")

	rd := relay.DefaultConfig()
	v.SetDefault("relay.local_network", rd.LocalNetwork)
	v.SetDefault("relay.time_threshold", rd.TimeThreshold)
	v.SetDefault("relay.byte_threshold_pct", rd.ByteThresholdPct)
	v.SetDefault("relay.retention", rd.Retention)

	v.SetDefault("host.enabled", true)
	v.SetDefault("host.poll_interval", "10s")
	v.SetDefault("host.risky_commands", []string{})
	v.SetDefault("host.risky_weight", 0.2)
	v.SetDefault("host.trusted_ports", []uint32{80, 443, 53, 22})

	fw := fusion.DefaultWeights()
	v.SetDefault("fusion.network_weight", fw.Network)
	v.SetDefault("fusion.host_weight", fw.Host)
	v.SetDefault("fusion.stepping_stone_weight", fw.SteppingStone)
	v.SetDefault("fusion.stepping_signal", fw.SteppingSignal)
	v.SetDefault("fusion.threshold", fw.Threshold)

	v.SetDefault("alert.threshold", 0.75)
	v.SetDefault("alert.cooldown_seconds", 300)
	v.SetDefault("alert.max_keys", 10000)

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.rate_per_second", 1.0)
	v.SetDefault("notify.burst", 10)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.token", "")
	v.SetDefault("notify.slack.url", "")
	v.SetDefault("notify.nats.url", "")
	v.SetDefault("notify.nats.subject", "hybrid.alerts")
	v.SetDefault("notify.redis.url", "")
	v.SetDefault("notify.redis.stream", "hybrid:alerts")
	v.SetDefault("notify.redis.max_len", 10000)
	v.SetDefault("notify.archive.dir", "")
	v.SetDefault("notify.archive.max_bytes", 50*1024*1024)

	v.SetDefault("conntrack.enabled", false)
	v.SetDefault("conntrack.queue_depth", 2000)

	v.SetDefault("metrics.bind", "127.0.0.1:9109")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// applyDefaults fills values derived from other keys.
func (c *Config) applyDefaults() {
	if c.Models.Network == "" {
		c.Models.Network = filepath.Join(c.Models.Dir, "network.yaml")
	}
	if c.Models.Host == "" {
		c.Models.Host = filepath.Join(c.Models.Dir, "host.yaml")
	}
	if c.Output.VerdictLog == "" {
		c.Output.VerdictLog = filepath.Join(c.Output.LogDir, "hybrid.log")
	}
}

func (c *Config) validate() error {
	if c.Source.EveLog == "" {
		return errors.New("source.eve_log is required")
	}
	if _, err := netip.ParsePrefix(c.Relay.LocalNetwork); err != nil {
		return fmt.Errorf("relay.local_network: %w", err)
	}
	if c.Relay.TimeThreshold <= 0 || c.Relay.ByteThresholdPct <= 0 || c.Relay.Retention <= 0 {
		return errors.New("relay thresholds and retention must be positive")
	}
	if c.Alert.Threshold <= 0 {
		return errors.New("alert.threshold must be positive")
	}
	if c.Alert.CooldownSeconds < 0 {
		return errors.New("alert.cooldown_seconds must not be negative")
	}
	return c.Weights().Validate()
}

func (c *Config) Weights() fusion.Weights {
	return fusion.Weights{
		Network:        c.Fusion.NetworkWeight,
		Host:           c.Fusion.HostWeight,
		SteppingStone:  c.Fusion.SteppingStoneWeight,
		SteppingSignal: c.Fusion.SteppingSignal,
		Threshold:      c.Fusion.Threshold,
	}
}

func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		LocalNetwork:     c.Relay.LocalNetwork,
		TimeThreshold:    c.Relay.TimeThreshold,
		ByteThresholdPct: c.Relay.ByteThresholdPct,
		Retention:        c.Relay.Retention,
	}
}

func (c *Config) AlertConfig() alert.Config {
	return alert.Config{
		Threshold: c.Alert.Threshold,
		Cooldown:  time.Duration(c.Alert.CooldownSeconds) * time.Second,
		MaxKeys:   c.Alert.MaxKeys,
	}
}

// HostConfig uses the built-in rule set unless risky commands are configured,
// in which case those replace it.
func (c *Config) HostConfig() host.Config {
	hc := host.DefaultConfig()
	if len(c.Host.RiskyCommands) > 0 {
		hc.Rules = host.SubstringRules(c.Host.RiskyCommands, c.Host.RiskyWeight)
	}
	if len(c.Host.TrustedPorts) > 0 {
		hc.TrustedPorts = c.Host.TrustedPorts
	}
	return hc
}

func (c *Config) DispatcherConfig() notify.DispatcherConfig {
	return notify.DispatcherConfig{
		QueueSize:     c.Notify.QueueSize,
		SendTimeout:   c.Notify.Timeout,
		RatePerSecond: c.Notify.RatePerSecond,
		Burst:         c.Notify.Burst,
	}
}
