// Package config handles configuration loading for inbox-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	failover:
//	  dial_timeout: "10s"
//	  retry_delay: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:3000"   # API and WebSocket clients
//
// Email database:
//
//	database:
//	  path: "/var/lib/inbox-gateway/emails.db"
//
// Local backend:
//
//	backend:
//	  api_key: "${ANTHROPIC_API_KEY}"
//	  model: "claude-sonnet-4-5"
//	  max_tokens: 4096
//
// Failover backend:
//
//	failover:
//	  enabled: true
//	  url: "ws://127.0.0.1:3001/ws"
//	  dial_timeout: "10s"
//	  retry_delay: "5s"
//
// Inbox snapshots:
//
//	inbox:
//	  limit: 30
//	  snapshot_interval: "5s"
//
// Session lifecycle:
//
//	sessions:
//	  reclamation_grace: "60s"
//
// User profile:
//
//	profile:
//	  path: "./profile.md"
//	  debounce: "500ms"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/inbox-gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
