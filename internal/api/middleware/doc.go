// Package middleware holds the gin middleware shared by the REST and stream
// routes: CORS and per-client rate limiting.
package middleware
