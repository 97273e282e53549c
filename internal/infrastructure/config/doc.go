// Package config handles loading and validating the miio bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MIIO_BRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - Device tokens are never part of this file; they live in the devices file
//     and the database, both of which should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/graylogic/miio-bridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID)
package config
