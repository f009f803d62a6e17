// Package observability builds the service logger and Prometheus metrics.
package observability
