// Package config provides configuration management for the authorization service.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. Every section has sensible
// defaults, so an empty file (or no file at all) yields a runnable
// single-node configuration backed by SQLite.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("authz.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("authz.yaml")
//
// References of the form ${VAR} inside the file are expanded from the
// environment before parsing. Unknown keys are rejected.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention AUTHZ_SECTION_FIELD.
// For example:
//
//   - AUTHZ_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - AUTHZ_LIMITS_REDIS_ADDRESS overrides limits.redis.address
//   - AUTHZ_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A .env file can be loaded into the process environment first with
// LoadEnvFile.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Singleton Pattern
//
// For application-wide configuration access, use the singleton pattern:
//
//	if err := config.Initialize("authz.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := config.GetConfig()
//	fmt.Println(cfg.Server.ListenAddress)
//
// For testing, prefer dependency injection with explicit Config instances
// rather than the global singleton.
//
// # Validation
//
// Validation errors include field paths:
//
//	configuration validation failed with 2 errors:
//	  - limits.redis.address: address is required for the redis backend
//	  - engine.limit_scopes[1]: unknown scope "weekly" (valid: daily, monthly, perTransaction)
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	  admin_token: "${AUTHZ_ADMIN_TOKEN}"
//
//	engine:
//	  conflict_strategy: "strictest"
//	  limit_scopes: ["daily", "perTransaction"]
//	  derived_fields:
//	    - name: amountUSD
//	      expression: "amount * fxRate"
//
//	rules:
//	  backend: "git"
//	  git:
//	    repository: "https://github.com/example/payment-rules.git"
//	    branch: "main"
//	    path: "bundles/production.yaml"
//
//	limits:
//	  backend: "redis"
//	  redis:
//	    address: "localhost:6379"
//
//	audit:
//	  backend: "sqlite"
//	  retention:
//	    days: 365
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
