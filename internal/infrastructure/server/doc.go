// Package server assembles the codesync backend.
//
// This package wires every component behind one HTTP listener:
//   - Session registry and broadcast router
//   - Execution sandbox with its backends and language profiles
//   - Websocket gateway on /ws
//   - Execute, languages, session and health routes
//   - Prometheus metrics on /metrics
//   - Runtime log level on /log/level, when LOG_LEVEL_ROUTE is set or in development
//
// Server Lifecycle:
//  1. Validate configuration
//  2. Build metrics, tracer, registry and router
//  3. Load language profiles and register sandbox backends
//  4. Setup gin routes and middleware
//  5. Serve until Shutdown
//  6. Close websocket connections, drain HTTP, release the sandbox
//
// Backends:
//   - script and process are always available
//   - container needs a Docker client; required when SANDBOX_BACKEND=container
//   - remote is registered when SANDBOX_REMOTE_URL is set
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
