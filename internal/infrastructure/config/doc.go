// Package config handles loading and validating SmartAuth configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SMARTAUTH_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker, SMTP and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - registration.root_bootstrap_always must stay false outside development
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.QueueTopic)
package config
