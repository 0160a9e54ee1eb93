// Package config loads the gateway configuration file.
//
// The file is YAML unless its name ends in .toml. ${VAR} references are
// replaced with environment values before parsing, so secrets can stay out
// of the file:
//
//	server:
//	  http_addr: ":8080"
//	  cors_origins: ["http://localhost:3000"]
//	  stream_timeout: "5m"
//	database:
//	  driver: sqlite        # or sqlite3 (cgo), bolt
//	  path: ~/.local/share/sourcing/sessions.db
//	llm:
//	  api_key: ${OPENAI_API_KEY}
//	  model: gpt-4o-mini
//	  tool_budget: 6
//	search:
//	  dsn: ${CATALOG_DSN}   # empty disables catalog tools
//	progress:
//	  ttl: "1h"
//	  sweep_interval: "10m"
//	auth:
//	  jwt_secret: ${SOURCING_JWT_SECRET}
//	logging:
//	  level: info
//	  format: text
//	metrics:
//	  enabled: true
//	tracing:
//	  endpoint: localhost:4317
//
// Durations are Go duration strings. Missing values get defaults, then
// Validate reports the first invalid field.
package config
