// ABOUTME: Daemon configuration loaded from YAML with environment variable
// ABOUTME: expansion, duration parsing, defaults, and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete linger daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Persona   PersonaConfig   `yaml:"persona"`
	LLM       LLMConfig       `yaml:"llm"`
	Chat      ChatConfig      `yaml:"chat"`
	Willing   WillingConfig   `yaml:"willing"`
	FollowUp  FollowUpConfig  `yaml:"followup"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	OneBot    OneBotConfig    `yaml:"onebot"`
}

// ServerConfig holds the admin API listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration for the admin API.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel"` // Expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig holds chat history storage configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin API authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PersonaConfig points at the persona TOML file.
type PersonaConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig holds the OpenAI-compatible endpoint and the three model slots.
type LLMConfig struct {
	BaseURL   string      `yaml:"base_url"`
	APIKey    string      `yaml:"api_key"`
	Reasoning ModelConfig `yaml:"reasoning"`
	Normal    ModelConfig `yaml:"normal"`
	Minor     ModelConfig `yaml:"minor"`
}

// ModelConfig describes one model slot. Probability is the chance the slot
// is picked for a reply; reasoning and normal must not sum past 1, the
// remainder goes to minor.
type ModelConfig struct {
	Model       string  `yaml:"model"`
	Probability float64 `yaml:"probability"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ChatConfig holds who the bot may talk to and what it refuses to read.
type ChatConfig struct {
	EnableFriendChat bool     `yaml:"enable_friend_chat"`
	AllowedGroups    []string `yaml:"allowed_groups"`
	BanUserIDs       []string `yaml:"ban_user_ids"`
	BanWords         []string `yaml:"ban_words"`
	BanMsgsRegex     []string `yaml:"ban_msgs_regex"`
}

// WillingConfig tunes the reply-willingness model.
type WillingConfig struct {
	Baseline float64 `yaml:"baseline"`
	Max      float64 `yaml:"max"`

	DecayInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DecayIntervalRaw string `yaml:"decay_interval"`
}

// FollowUpConfig tunes the post-reply follow-up tracker.
type FollowUpConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxMessages int  `yaml:"max_messages"`
	// MaxRestarts caps window re-arming after a quiet verdict: negative
	// means unbounded, zero closes after the first evaluation.
	MaxRestarts int `yaml:"max_restarts"`

	Timeout      time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw      string `yaml:"timeout"`
	PollIntervalRaw string `yaml:"poll_interval"`
}

// MatrixConfig holds Matrix platform configuration.
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	E2EE        bool   `yaml:"e2ee"`
	RecoveryKey string `yaml:"recovery_key"`
	DataDir     string `yaml:"data_dir"`
}

// OneBotConfig holds OneBot v11 platform configuration.
type OneBotConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`
	SelfID      string `yaml:"self_id"`

	Reconnect time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ReconnectRaw string `yaml:"reconnect"`
}

// Default returns the configuration the daemon ships with. Load starts from
// it, so a config file only needs the keys it wants to change.
func Default() Config {
	return Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "linger.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			Reasoning: ModelConfig{Probability: 0.3, Temperature: 0.7},
			Normal:    ModelConfig{Probability: 0.7, Temperature: 0.7},
			Minor:     ModelConfig{Temperature: 0.7},
		},
		Chat: ChatConfig{EnableFriendChat: true},
		Willing: WillingConfig{
			Max:           3.0,
			DecayInterval: 5 * time.Second,
		},
		FollowUp: FollowUpConfig{
			Enabled:      true,
			Timeout:      60 * time.Second,
			MaxMessages:  5,
			PollInterval: time.Second,
			MaxRestarts:  -1,
		},
		OneBot: OneBotConfig{Reconnect: 5 * time.Second},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The admin API address is required unless Tailscale carries it
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !c.Matrix.Enabled && !c.OneBot.Enabled {
		return fmt.Errorf("no chat platform enabled (enable matrix or onebot)")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
	}

	if c.OneBot.Enabled && c.OneBot.URL == "" {
		return fmt.Errorf("onebot.url is required when onebot is enabled")
	}

	if c.LLM.Normal.Model == "" {
		return fmt.Errorf("llm.normal.model is required")
	}
	if sum := c.LLM.Reasoning.Probability + c.LLM.Normal.Probability; sum > 1 {
		return fmt.Errorf("llm model probabilities sum to %.2f, must not exceed 1", sum)
	}

	if c.FollowUp.MaxMessages < 0 {
		return fmt.Errorf("followup.max_messages must not be negative")
	}

	for _, raw := range c.Chat.BanMsgsRegex {
		if _, err := regexp.Compile(raw); err != nil {
			return fmt.Errorf("invalid chat.ban_msgs_regex %q: %w", raw, err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Willing.DecayIntervalRaw != "" {
		cfg.Willing.DecayInterval, err = time.ParseDuration(cfg.Willing.DecayIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing willing.decay_interval %q: %w", cfg.Willing.DecayIntervalRaw, err)
		}
	}

	if cfg.FollowUp.TimeoutRaw != "" {
		cfg.FollowUp.Timeout, err = time.ParseDuration(cfg.FollowUp.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing followup.timeout %q: %w", cfg.FollowUp.TimeoutRaw, err)
		}
	}

	if cfg.FollowUp.PollIntervalRaw != "" {
		cfg.FollowUp.PollInterval, err = time.ParseDuration(cfg.FollowUp.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing followup.poll_interval %q: %w", cfg.FollowUp.PollIntervalRaw, err)
		}
	}

	if cfg.OneBot.ReconnectRaw != "" {
		cfg.OneBot.Reconnect, err = time.ParseDuration(cfg.OneBot.ReconnectRaw)
		if err != nil {
			return fmt.Errorf("parsing onebot.reconnect %q: %w", cfg.OneBot.ReconnectRaw, err)
		}
	}

	return nil
}

// StarterFile is a commented configuration file written by the init command.
// It loads as-is except that no chat platform is enabled yet.
const StarterFile = `# linger configuration
# Values support ${VAR} environment variable expansion.

server:
  http_addr: ":8080"

database:
  path: "linger.db"

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json

persona:
  # Personality file, written by 'linger init' next to this config.
  path: "persona.toml"

auth:
  # Secret for admin API bearer tokens. Empty leaves the API open.
  jwt_secret: "${LINGER_JWT_SECRET}"

llm:
  base_url: "https://api.openai.com/v1"
  api_key: "${LINGER_LLM_API_KEY}"
  # Reply model slots. Probabilities are the chance each slot answers;
  # whatever is left over goes to minor.
  normal:
    model: "gpt-4o"
    probability: 0.7
    temperature: 0.7
  reasoning:
    model: "o1-mini"
    probability: 0.3
  minor:
    # Cheap model for side calls such as follow-up evaluation.
    model: "gpt-4o-mini"

chat:
  enable_friend_chat: true
  # Group ids the bot may talk in. Empty allows every group.
  allowed_groups: []
  ban_user_ids: []
  ban_words: []
  ban_msgs_regex: []

willing:
  baseline: 0.0
  max: 3.0
  decay_interval: "5s"

followup:
  enabled: true
  timeout: "60s"
  max_messages: 5
  poll_interval: "1s"
  # -1 re-arms quiet windows forever, 0 closes after one evaluation.
  max_restarts: -1

matrix:
  enabled: false
  homeserver: "https://matrix.example.org"
  user_id: "@linger:example.org"
  access_token: "${LINGER_MATRIX_TOKEN}"
  e2ee: false
  recovery_key: ""
  data_dir: "data"

onebot:
  enabled: false
  url: "ws://127.0.0.1:3001"
  access_token: "${LINGER_ONEBOT_TOKEN}"
  self_id: ""
  reconnect: "5s"

tailscale:
  enabled: false
  hostname: "linger"
  auth_key: "${TS_AUTHKEY}"
  ephemeral: false
  https: false
  funnel: false
`
