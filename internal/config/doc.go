// Package config handles configuration loading for scribe-gateway.
//
// Configuration is loaded from YAML with ${VAR_NAME} environment
// variable expansion, then validated. Sections:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  stream_path: "/api/stream"
//	database:
//	  path: "/var/lib/scribe/scribe.db"
//	auth:
//	  token: "${SCRIBE_TOKEN}"   # empty = no auth
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// The config file path comes from the SCRIBE_CONFIG environment
// variable, falling back to XDG locations (see cmd/scribe-gateway).
package config
