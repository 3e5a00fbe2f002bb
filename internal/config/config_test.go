// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

persona:
  path: "./persona.toml"

auth:
  jwt_secret: "test-secret"

llm:
  base_url: "http://localhost:8000/v1"
  api_key: "sk-test"
  normal:
    model: "big-model"
    probability: 0.6
    temperature: 0.9
    max_tokens: 512
  reasoning:
    model: "think-model"
    probability: 0.2
  minor:
    model: "small-model"

chat:
  enable_friend_chat: false
  allowed_groups:
    - "42"
    - "99"
  ban_user_ids:
    - "666"
  ban_words:
    - "spam"
  ban_msgs_regex:
    - "^!cmd"

willing:
  baseline: 0.5
  max: 4.0
  decay_interval: "10s"

followup:
  enabled: true
  timeout: "90s"
  max_messages: 8
  poll_interval: "500ms"
  max_restarts: 2

matrix:
  enabled: true
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  access_token: "mx-token"
  e2ee: true
  data_dir: "/tmp/linger-data"

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
  access_token: "ob-token"
  self_id: "10000"
  reconnect: "2s"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	if cfg.Persona.Path != "./persona.toml" {
		t.Errorf("Persona.Path = %q, want %q", cfg.Persona.Path, "./persona.toml")
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}

	// Verify llm config
	if cfg.LLM.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("LLM.BaseURL = %q, want %q", cfg.LLM.BaseURL, "http://localhost:8000/v1")
	}
	if cfg.LLM.Normal.Model != "big-model" {
		t.Errorf("LLM.Normal.Model = %q, want %q", cfg.LLM.Normal.Model, "big-model")
	}
	if cfg.LLM.Normal.Probability != 0.6 {
		t.Errorf("LLM.Normal.Probability = %v, want 0.6", cfg.LLM.Normal.Probability)
	}
	if cfg.LLM.Normal.Temperature != 0.9 {
		t.Errorf("LLM.Normal.Temperature = %v, want 0.9", cfg.LLM.Normal.Temperature)
	}
	if cfg.LLM.Normal.MaxTokens != 512 {
		t.Errorf("LLM.Normal.MaxTokens = %d, want 512", cfg.LLM.Normal.MaxTokens)
	}
	if cfg.LLM.Reasoning.Model != "think-model" {
		t.Errorf("LLM.Reasoning.Model = %q, want %q", cfg.LLM.Reasoning.Model, "think-model")
	}
	// Temperature not given for the reasoning slot keeps the default
	if cfg.LLM.Reasoning.Temperature != 0.7 {
		t.Errorf("LLM.Reasoning.Temperature = %v, want default 0.7", cfg.LLM.Reasoning.Temperature)
	}
	if cfg.LLM.Minor.Model != "small-model" {
		t.Errorf("LLM.Minor.Model = %q, want %q", cfg.LLM.Minor.Model, "small-model")
	}

	// Verify chat config
	if cfg.Chat.EnableFriendChat {
		t.Error("Chat.EnableFriendChat = true, want false")
	}
	if len(cfg.Chat.AllowedGroups) != 2 {
		t.Errorf("Chat.AllowedGroups len = %d, want 2", len(cfg.Chat.AllowedGroups))
	}
	if len(cfg.Chat.BanUserIDs) != 1 {
		t.Errorf("Chat.BanUserIDs len = %d, want 1", len(cfg.Chat.BanUserIDs))
	}
	if len(cfg.Chat.BanWords) != 1 {
		t.Errorf("Chat.BanWords len = %d, want 1", len(cfg.Chat.BanWords))
	}
	if len(cfg.Chat.BanMsgsRegex) != 1 {
		t.Errorf("Chat.BanMsgsRegex len = %d, want 1", len(cfg.Chat.BanMsgsRegex))
	}

	// Verify willing config with duration parsing
	if cfg.Willing.Baseline != 0.5 {
		t.Errorf("Willing.Baseline = %v, want 0.5", cfg.Willing.Baseline)
	}
	if cfg.Willing.Max != 4.0 {
		t.Errorf("Willing.Max = %v, want 4.0", cfg.Willing.Max)
	}
	if cfg.Willing.DecayInterval != 10*time.Second {
		t.Errorf("Willing.DecayInterval = %v, want %v", cfg.Willing.DecayInterval, 10*time.Second)
	}

	// Verify followup config
	if !cfg.FollowUp.Enabled {
		t.Error("FollowUp.Enabled = false, want true")
	}
	if cfg.FollowUp.Timeout != 90*time.Second {
		t.Errorf("FollowUp.Timeout = %v, want %v", cfg.FollowUp.Timeout, 90*time.Second)
	}
	if cfg.FollowUp.MaxMessages != 8 {
		t.Errorf("FollowUp.MaxMessages = %d, want 8", cfg.FollowUp.MaxMessages)
	}
	if cfg.FollowUp.PollInterval != 500*time.Millisecond {
		t.Errorf("FollowUp.PollInterval = %v, want %v", cfg.FollowUp.PollInterval, 500*time.Millisecond)
	}
	if cfg.FollowUp.MaxRestarts != 2 {
		t.Errorf("FollowUp.MaxRestarts = %d, want 2", cfg.FollowUp.MaxRestarts)
	}

	// Verify matrix config
	if !cfg.Matrix.Enabled {
		t.Error("Matrix.Enabled = false, want true")
	}
	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("Matrix.Homeserver = %q, want %q", cfg.Matrix.Homeserver, "https://matrix.example.org")
	}
	if cfg.Matrix.UserID != "@bot:example.org" {
		t.Errorf("Matrix.UserID = %q, want %q", cfg.Matrix.UserID, "@bot:example.org")
	}
	if !cfg.Matrix.E2EE {
		t.Error("Matrix.E2EE = false, want true")
	}
	if cfg.Matrix.DataDir != "/tmp/linger-data" {
		t.Errorf("Matrix.DataDir = %q, want %q", cfg.Matrix.DataDir, "/tmp/linger-data")
	}

	// Verify onebot config
	if !cfg.OneBot.Enabled {
		t.Error("OneBot.Enabled = false, want true")
	}
	if cfg.OneBot.URL != "ws://127.0.0.1:3001" {
		t.Errorf("OneBot.URL = %q, want %q", cfg.OneBot.URL, "ws://127.0.0.1:3001")
	}
	if cfg.OneBot.SelfID != "10000" {
		t.Errorf("OneBot.SelfID = %q, want %q", cfg.OneBot.SelfID, "10000")
	}
	if cfg.OneBot.Reconnect != 2*time.Second {
		t.Errorf("OneBot.Reconnect = %v, want %v", cfg.OneBot.Reconnect, 2*time.Second)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Only the keys without usable defaults
	configContent := `
database:
  path: "./test.db"

llm:
  normal:
    model: "big-model"

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, "text")
	}
	if cfg.LLM.Normal.Probability != 0.7 {
		t.Errorf("LLM.Normal.Probability = %v, want default 0.7", cfg.LLM.Normal.Probability)
	}
	if cfg.LLM.Reasoning.Probability != 0.3 {
		t.Errorf("LLM.Reasoning.Probability = %v, want default 0.3", cfg.LLM.Reasoning.Probability)
	}
	if !cfg.Chat.EnableFriendChat {
		t.Error("Chat.EnableFriendChat = false, want default true")
	}
	if cfg.Willing.Baseline != 0 {
		t.Errorf("Willing.Baseline = %v, want default 0", cfg.Willing.Baseline)
	}
	if cfg.Willing.Max != 3.0 {
		t.Errorf("Willing.Max = %v, want default 3.0", cfg.Willing.Max)
	}
	if cfg.Willing.DecayInterval != 5*time.Second {
		t.Errorf("Willing.DecayInterval = %v, want default %v", cfg.Willing.DecayInterval, 5*time.Second)
	}
	if !cfg.FollowUp.Enabled {
		t.Error("FollowUp.Enabled = false, want default true")
	}
	if cfg.FollowUp.Timeout != 60*time.Second {
		t.Errorf("FollowUp.Timeout = %v, want default %v", cfg.FollowUp.Timeout, 60*time.Second)
	}
	if cfg.FollowUp.MaxMessages != 5 {
		t.Errorf("FollowUp.MaxMessages = %d, want default 5", cfg.FollowUp.MaxMessages)
	}
	if cfg.FollowUp.PollInterval != time.Second {
		t.Errorf("FollowUp.PollInterval = %v, want default %v", cfg.FollowUp.PollInterval, time.Second)
	}
	if cfg.FollowUp.MaxRestarts != -1 {
		t.Errorf("FollowUp.MaxRestarts = %d, want default -1", cfg.FollowUp.MaxRestarts)
	}
	if cfg.OneBot.Reconnect != 5*time.Second {
		t.Errorf("OneBot.Reconnect = %v, want default %v", cfg.OneBot.Reconnect, 5*time.Second)
	}
}

func TestLoad_ExplicitOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Zero values present in the file must win over non-zero defaults
	configContent := `
database:
  path: "./test.db"

llm:
  normal:
    model: "big-model"

chat:
  enable_friend_chat: false

followup:
  enabled: false
  max_restarts: 0

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Chat.EnableFriendChat {
		t.Error("Chat.EnableFriendChat = true, want explicit false")
	}
	if cfg.FollowUp.Enabled {
		t.Error("FollowUp.Enabled = true, want explicit false")
	}
	if cfg.FollowUp.MaxRestarts != 0 {
		t.Errorf("FollowUp.MaxRestarts = %d, want explicit 0", cfg.FollowUp.MaxRestarts)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	// Set environment variables for testing
	t.Setenv("TEST_LINGER_JWT", "jwt-from-env")
	t.Setenv("TEST_LINGER_LLM_KEY", "sk-from-env")
	t.Setenv("TEST_LINGER_MATRIX_TOKEN", "matrix-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

auth:
  jwt_secret: "${TEST_LINGER_JWT}"

llm:
  api_key: "${TEST_LINGER_LLM_KEY}"
  normal:
    model: "big-model"

matrix:
  enabled: true
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  access_token: "${TEST_LINGER_MATRIX_TOKEN}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify env var expansion
	if cfg.Auth.JWTSecret != "jwt-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "jwt-from-env")
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-from-env")
	}
	if cfg.Matrix.AccessToken != "matrix-from-env" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "matrix-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"

llm:
  normal:
    model: "big-model"

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string for unset env var", cfg.Auth.JWTSecret)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

llm:
  normal:
    model: "big-model"

willing:
  decay_interval: "1m30s"

followup:
  timeout: "2m"
  poll_interval: "250ms"

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
  reconnect: "10s"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify complex duration parsing
	expectedDecay := 1*time.Minute + 30*time.Second
	if cfg.Willing.DecayInterval != expectedDecay {
		t.Errorf("Willing.DecayInterval = %v, want %v", cfg.Willing.DecayInterval, expectedDecay)
	}

	if cfg.FollowUp.Timeout != 2*time.Minute {
		t.Errorf("FollowUp.Timeout = %v, want %v", cfg.FollowUp.Timeout, 2*time.Minute)
	}

	if cfg.FollowUp.PollInterval != 250*time.Millisecond {
		t.Errorf("FollowUp.PollInterval = %v, want %v", cfg.FollowUp.PollInterval, 250*time.Millisecond)
	}

	if cfg.OneBot.Reconnect != 10*time.Second {
		t.Errorf("OneBot.Reconnect = %v, want %v", cfg.OneBot.Reconnect, 10*time.Second)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Invalid YAML content
	configContent := `
server:
  http_addr "missing colon"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

llm:
  normal:
    model: "big-model"

willing:
  decay_interval: "invalid-duration"

onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "willing.decay_interval") {
		t.Errorf("Load() error = %q, want mention of willing.decay_interval", err.Error())
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
database:
  path: ""
llm:
  normal:
    model: "big-model"
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "no platform enabled",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
`,
			wantErrSubstr: "no chat platform enabled",
		},
		{
			name: "matrix missing homeserver",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
matrix:
  enabled: true
  user_id: "@bot:example.org"
  access_token: "mx-token"
`,
			wantErrSubstr: "matrix.homeserver is required",
		},
		{
			name: "matrix missing access token",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
matrix:
  enabled: true
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
`,
			wantErrSubstr: "matrix.access_token is required",
		},
		{
			name: "onebot missing url",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
onebot:
  enabled: true
`,
			wantErrSubstr: "onebot.url is required",
		},
		{
			name: "missing normal model",
			configContent: `
database:
  path: "./test.db"
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "llm.normal.model is required",
		},
		{
			name: "probabilities exceed one",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
    probability: 0.8
  reasoning:
    model: "think-model"
    probability: 0.5
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "probabilities",
		},
		{
			name: "negative max_messages",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
followup:
  max_messages: -1
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "followup.max_messages",
		},
		{
			name: "invalid ban regex",
			configContent: `
database:
  path: "./test.db"
llm:
  normal:
    model: "big-model"
chat:
  ban_msgs_regex:
    - "(["
onebot:
  enabled: true
  url: "ws://127.0.0.1:3001"
`,
			wantErrSubstr: "chat.ban_msgs_regex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			err := os.WriteFile(configPath, []byte(tt.configContent), 0644)
			if err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			_, err = Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Database.Path = "./test.db"
		cfg.LLM.Normal.Model = "big-model"
		cfg.OneBot.Enabled = true
		cfg.OneBot.URL = "ws://127.0.0.1:3001"
		return cfg
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name: "tailscale enabled allows empty server address",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "linger"}
			},
			wantErr: false,
		},
		{
			name: "tailscale enabled requires hostname",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: true}
			},
			wantErr:       true,
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale disabled requires server address",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: false, Hostname: "linger"}
			},
			wantErr:       true,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "tailscale with all options set",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{
					Enabled:   true,
					Hostname:  "linger",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
					HTTPS:     true,
					Funnel:    true,
				}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
					return
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestStarterFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte(StarterFile), 0600)
	if err != nil {
		t.Fatalf("failed to write starter config: %v", err)
	}

	// The starter file parses and validates cleanly except that the user
	// still has to pick a platform.
	_, err = Load(configPath)
	if err == nil {
		t.Fatal("Load() on the starter file expected a platform error, got nil")
	}
	if !strings.Contains(err.Error(), "no chat platform enabled") {
		t.Errorf("Load() error = %q, want the no-platform validation failure", err.Error())
	}
}
