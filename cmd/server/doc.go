// Package main is the entry point for the nodebox host server.
//
// The server runs sandboxed node guests against an in-memory filesystem and
// relays their stdio to clients over WebSocket.
//
// Architecture:
//
//	Client (WebSocket) → Host supervisor → Guest (goja, own goroutine)
//	                                     → VFS (snapshot + HTTP fallback)
//
// The server provides:
//   - WebSocket guest sessions (/ws)
//   - REST API for guests and host-side files
//   - Snapshot persistence of the VFS
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve node_modules from a static origin
//	./server -port 8000 -remote https://files.example.com
//
//	# Bootstrap mode with development logging
//	./server -mode bootstrap -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
