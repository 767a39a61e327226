package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Conscience ConscienceConfig `json:"conscience" yaml:"conscience"`
	Deferral   DeferralConfig   `json:"deferral" yaml:"deferral"`
	Evaluator  EvaluatorConfig  `json:"evaluator" yaml:"evaluator"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	MCP        MCPConfig        `json:"mcp" yaml:"mcp"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

type EngineConfig struct {
	Workers                int      `json:"workers" yaml:"workers"`
	DMARetryLimit          int      `json:"dma_retry_limit" yaml:"dma_retry_limit"`
	DMATimeout             Duration `json:"dma_timeout" yaml:"dma_timeout"`
	CycleRetryLimit        int      `json:"cycle_retry_limit" yaml:"cycle_retry_limit"`
	PollInterval           Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxThoughtDepth        int      `json:"max_thought_depth" yaml:"max_thought_depth"`
	FollowUpPriorityOffset int      `json:"follow_up_priority_offset" yaml:"follow_up_priority_offset"`
	GuidancePriorityBump   int      `json:"guidance_priority_bump" yaml:"guidance_priority_bump"`
	ShutdownTimeout        Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// StaleAfter is how long a thought may sit in PROCESSING before it is requeued.
	StaleAfter             Duration `json:"stale_after" yaml:"stale_after"`
}

type ConscienceConfig struct {
	EntropyThreshold      float64 `json:"entropy_threshold" yaml:"entropy_threshold"`
	CoherenceThreshold    float64 `json:"coherence_threshold" yaml:"coherence_threshold"`
	EntropyReductionRatio float64 `json:"entropy_reduction_ratio" yaml:"entropy_reduction_ratio"`
}

type DeferralConfig struct {
	// Channel receives deferral reports, as "platform:channel".
	Channel string `json:"channel" yaml:"channel"`
	Tone    string `json:"tone" yaml:"tone"`
}

type EvaluatorConfig struct {
	URL     string   `json:"url" yaml:"url"`
	APIKey  string   `json:"api_key" yaml:"api_key"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
	REST    RESTGatewayConfig    `json:"rest" yaml:"rest"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type RESTGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers" yaml:"servers"`
}

type MCPServerConfig struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description" yaml:"description"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// Duration reads "30s"-style strings or integer nanoseconds.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration: %s", b)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(data []byte) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarRe.FindSubmatch(match)
		if v := os.Getenv(string(parts[1])); v != "" {
			return []byte(v)
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file, substitutes environment variable
// references and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := expandEnv(data)

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, &cfg)
	default:
		err = json.Unmarshal(resolved, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	setInt(&c.Server.Port, 8080)
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	e := &c.Engine
	setInt(&e.Workers, 4)
	setInt(&e.DMARetryLimit, 3)
	setDur(&e.DMATimeout, 30*time.Second)
	setInt(&e.CycleRetryLimit, 2)
	setDur(&e.PollInterval, 500*time.Millisecond)
	setInt(&e.MaxThoughtDepth, 7)
	setInt(&e.FollowUpPriorityOffset, 1)
	setInt(&e.GuidancePriorityBump, 5)
	setDur(&e.ShutdownTimeout, 15*time.Second)
	setDur(&e.StaleAfter, 5*time.Minute)

	setFloat(&c.Conscience.EntropyThreshold, 0.40)
	setFloat(&c.Conscience.CoherenceThreshold, 0.60)
	setFloat(&c.Conscience.EntropyReductionRatio, 10.0)

	if c.Deferral.Tone == "" {
		c.Deferral.Tone = "neutral"
	}
	setDur(&c.Evaluator.Timeout, 60*time.Second)
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func setDur(v *Duration, def time.Duration) {
	if v.Duration <= 0 {
		v.Duration = def
	}
}

// Validate reports settings the engine cannot start with.
func (c *Config) Validate() error {
	if c.Evaluator.URL == "" {
		return fmt.Errorf("evaluator.url is required")
	}
	if c.Deferral.Channel != "" && !strings.Contains(c.Deferral.Channel, ":") {
		return fmt.Errorf("deferral.channel %q must be platform:channel", c.Deferral.Channel)
	}
	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.AppToken == "") {
		return fmt.Errorf("gateway.slack requires bot_token and app_token")
	}
	if c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken == "" {
		return fmt.Errorf("gateway.discord requires bot_token")
	}
	for i, s := range c.MCP.Servers {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("mcp.servers[%d] requires name and url", i)
		}
	}
	return nil
}
