// Package server hosts the catalog API and the HLS stream output from a
// single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// security headers, CORS, audit, metrics, rate limiting, and auth so
// handlers all share common protections and instrumentation.
package server
