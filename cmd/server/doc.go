// Package main is the scriptflow server.
//
// It serves one JavaScript script to any number of browser sessions. Each
// session reruns the script top to bottom on every interaction and streams
// the resulting UI deltas over a WebSocket.
//
// Configuration:
//   - .env file (optional)
//   - TOML file from -config or CONFIG_FILE
//   - Environment variables (SCRIPTFLOW_SERVER_PORT or PORT)
//   - CLI flags (override everything)
//
// Usage:
//
//	./server -script app.js -port 8000
//	CONFIG_FILE=scriptflow.toml ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
