// Package config handles loading and validating sensecraft-core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SENSECRAFT_* environment variables
//   - Validation of required fields and known entry kinds
//   - Default value handling
//
// Device credentials (cloud passwords, MQTT passwords) normally live in
// config entries, not in this file. The JWT secret and InfluxDB token should
// be set via environment variables.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Ingress.Port)
package config
