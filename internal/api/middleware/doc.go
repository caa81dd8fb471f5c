// Package middleware provides the HTTP middleware shared by every route:
// CORS via gin-contrib/cors and per-client token bucket rate limiting.
package middleware
