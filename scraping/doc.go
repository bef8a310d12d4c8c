/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package scraping triggers runs of the external job scraper.
// A run for a source holds the distributed lock "scraping_task:<source>" for its whole duration,
// so there is at most one run per source across all processes sharing the key-value store.
package scraping
