// Package httpserver wraps net/http with env-driven configuration,
// graceful shutdown on context cancellation or OS signal, and probe
// handlers for liveness and readiness.
package httpserver
