// Package server hosts the Keepsake REST API from a single HTTP server.
//
// The server builds a consistent middleware chain of auth, rate limiting,
// metrics, audit, CORS, security headers, and logging so handlers all share
// common protections and instrumentation.
package server
