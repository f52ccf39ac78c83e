// Package config loads runtime configuration for the farm client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "data_dir": "lactokeeper-data",
//	  "operation_timeout": "15s",
//	  "status_debounce": "2s",
//	  "sweep_base": "5s",
//	  "sweep_max": "5m",
//	  "kinds": ["animals", "weighings", "lots", "events"],
//	  "audit_kind": "audit",
//	  "bridge_addr": "127.0.0.1:8081",
//	  "log_file": "lactokeeper-data/client.log",
//	  "log_level": "info"
//	}
package config
