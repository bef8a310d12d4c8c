/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package monitoring collects the service load: error rate and response time of the latest requests,
// CPU and memory usage read from procfs. The adaptive rate limiting algorithm uses it as a load source.
package monitoring
