/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an HTTP client for outgoing requests of the daemon (e.g. calls of the scraper service)
// with logging, Prometheus metrics, request id propagation and User-Agent round trippers.
package httpclient
