// Package config provides configuration management for healsink pipelines.
//
// A single Config structure is organized into sections:
//   - Store: dialect, connection parameters, charset and pool sizing
//   - Tables: the table registry (prefix plus logical entries)
//   - Write: execution strategy, worker count, remediation ceiling
//   - Reliability: connection retry window, database creation, health checks
//   - Observability: logging, metrics and tracing
//
// # Loading
//
//	cfg, err := config.Load("healsink.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Load goes through viper so that HEALSINK_* environment variables (for
// example HEALSINK_STORE_PASSWORD) override file values. Parse decodes raw
// YAML bytes directly. Both substitute ${VAR_NAME} references first:
//
//	store:
//	  dialect: mysql
//	  host: ${DB_HOST}
//	  password: ${DB_PASSWORD}
//	  database: crawl
//	tables:
//	  prefix: spider_
//	  entries:
//	    - suffix: orders
//	      notes: customer orders
//	      code: OPS-12
//
// Missing environment variables are substituted with empty strings.
package config
