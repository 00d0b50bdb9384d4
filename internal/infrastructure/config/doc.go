// Package config handles loading and validating fleetsim configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FLEETSIM_* environment variables
//   - Validation of required fields
//
// Every external service is optional. With no file at all, Default runs the
// simulator with an in-memory journal and the HTTP API only.
//
// Usage:
//
//	cfg, err := config.Load("configs/fleetsim.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
