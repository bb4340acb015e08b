// Package config handles loading and validating the NGBS Icon bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with NGBS_* environment variables
//   - Validation of required fields (all problems reported at once)
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID)
package config
