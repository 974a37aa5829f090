// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Fields a file leaves empty are filled from Defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// A missing file is not an error for LoadOrDefault. Files ending in .toml are
// parsed as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  user_id: "${USER}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  request_timeout: "10m"
//	chat:
//	  dedupe_ttl: "3s"
//
// # Configuration Sections
//
// Remote execution service:
//
//	server:
//	  base_url: "http://localhost:7777"
//	  user_id: "harper"
//
// Dispatch behaviour:
//
//	chat:
//	  default_target:
//	    kind: "agent"      # agent, team or workflow
//	    id: "ChatAgent"
//	  dedupe_size: 1024
//
// Local session archive (SQLite):
//
//	archive:
//	  enabled: true
//	  path: "~/.local/share/coven/chat.db"
//
// Logging:
//
//	logging:
//	  level: "info"        # debug, info, warn, error
//	  format: "text"       # text or json
package config
