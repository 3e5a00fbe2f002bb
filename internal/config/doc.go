// Package config handles configuration loading for the linger daemon.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing keys keep the defaults from Default(), so a config
// file only needs the values it wants to change.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LINGER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/linger/config.yaml
//  3. ~/.config/linger/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LINGER_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	willing:
//	  decay_interval: "5s"
//	followup:
//	  timeout: "60s"
//	  poll_interval: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Admin API:
//
//	server:
//	  http_addr: ":8080"
//
// Chat history storage:
//
//	database:
//	  path: "linger.db"
//
// Model slots:
//
//	llm:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${LINGER_LLM_API_KEY}"
//	  normal:
//	    model: "gpt-4o"
//	    probability: 0.7
//
// Chat platforms:
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.example.org"
//	onebot:
//	  enabled: true
//	  url: "ws://127.0.0.1:3001"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "linger"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// # Validation
//
// Load() validates:
//
//   - Admin listen address (unless tailscale carries it)
//   - Database path presence
//   - At least one enabled chat platform and its credentials
//   - Model slot presence and probability bounds
//   - Ban regex syntax and duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/linger/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
