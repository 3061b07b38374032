// Package main is the entry point for the codesync backend.
//
// codesync hosts collaborative editing sessions over websockets and runs
// submitted programs in an execution sandbox.
//
// Architecture:
//
//	Editor (browser) → /ws gateway → session registry → broadcast router
//	                 → POST /execute → sandbox → container | process | script | remote
//
// Commands:
//   - serve: run the HTTP and websocket server
//   - run: execute a source file on a server
//   - languages: list the server's language profiles
//   - session: show the members of a session
//   - health: show server health
//   - version: print the build version
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode, containers for every language
//	codesync serve --port 5000
//
//	# Development mode (colored logs, debug level, local toolchains)
//	codesync serve --dev --log-level debug --backend process
//
//	# Run a file against a local server
//	codesync run main.py --stdin input.txt
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
