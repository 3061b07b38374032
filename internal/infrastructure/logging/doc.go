// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for log shippers
//   - Development: colored console output
//
// Every component receives a child logger from Logger.Component so log
// lines carry a "component" field (gateway, sandbox, registry, http).
//
// Example Usage:
//
//	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	defer logger.Close()
//	log := logger.Component("sandbox")
//	log.Info("Execution finished", zap.String("status", "success"))
package logging
