// Package logging provides structured logging for fleetsim.
//
// It wraps log/slog so every component logs with the same default
// fields (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("simulator ready", "nodes", 3)
//	svc.SetLogger(logger.With("component", "simulator"))
//
// *Logger satisfies the small Logger interfaces declared by the fleet,
// simulator, mqtt and api packages.
package logging
