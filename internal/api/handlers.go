/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package api contains the operational HTTP endpoints of the ratekitd daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/monitoring"
	"github.com/acronis/go-ratekit/ratelimit"
	"github.com/acronis/go-ratekit/restapi"
	"github.com/acronis/go-ratekit/scraping"
)

// ErrorDomain is used in error responses of the API.
const ErrorDomain = "RateKit"

// Endpoint paths.
const (
	PathRateLimitStats = "/api/v1/internal/rate-limit/stats"
	PathMonitoring     = "/api/v1/internal/monitoring"
	PathScrape         = "/api/v1/jobs/scrape"
	PathScrapeStatus   = "/api/v1/jobs/scrape/status"
)

// Query parameters.
const (
	QueryParamSourceID = "source_id"
	QueryParamForce    = "force"
)

// ErrMessageScrapeInProgress is returned with 409 when a run for the source holds the lock.
const ErrMessageScrapeInProgress = "A scraping task is already in progress. Use ?force=true to override."

var sourceIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// StatsProvider returns the rate limiting configuration and backend.
type StatsProvider interface {
	Stats() ratelimit.Stats
}

// SnapshotProvider returns the live monitoring snapshot.
type SnapshotProvider interface {
	Snapshot() monitoring.Snapshot
}

// ScrapeManager starts scraping runs and reports their lock state.
type ScrapeManager interface {
	Trigger(ctx context.Context, sourceID string, force bool) (scraping.Task, error)
	Status(ctx context.Context, sourceID string) scraping.Status
}

// Opts represents dependencies of the API. Endpoints of nil dependencies are not registered.
type Opts struct {
	Stats      StatsProvider
	Monitoring SnapshotProvider
	Scraping   ScrapeManager
}

// ScrapeResponse is a body of the accepted scrape request.
type ScrapeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type handler struct {
	opts   Opts
	logger log.FieldLogger
}

// NewRoutes returns a function that registers the API endpoints on the router.
func NewRoutes(opts Opts, logger log.FieldLogger) func(router chi.Router) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	h := &handler{opts: opts, logger: logger}
	return func(router chi.Router) {
		if opts.Stats != nil {
			router.Get(PathRateLimitStats, h.getRateLimitStats)
		}
		if opts.Monitoring != nil {
			router.Get(PathMonitoring, h.getMonitoringSnapshot)
		}
		if opts.Scraping != nil {
			router.Post(PathScrape, h.triggerScrape)
			router.Get(PathScrapeStatus, h.getScrapeStatus)
		}
	}
}

func (h *handler) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func (h *handler) getRateLimitStats(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, h.opts.Stats.Stats(), h.requestLogger(r))
}

func (h *handler) getMonitoringSnapshot(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, h.opts.Monitoring.Snapshot(), h.requestLogger(r))
}

func (h *handler) triggerScrape(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	sourceID, ok := h.parseSourceID(rw, r, logger)
	if !ok {
		return
	}
	force := false
	if forceStr := r.URL.Query().Get(QueryParamForce); forceStr != "" {
		var err error
		if force, err = strconv.ParseBool(forceStr); err != nil {
			restapi.RespondBadRequestError(rw, ErrorDomain, "force should be a boolean.", logger)
			return
		}
	}

	task, err := h.opts.Scraping.Trigger(r.Context(), sourceID, force)
	if err != nil {
		switch {
		case errors.Is(err, scraping.ErrInProgress):
			apiErr := restapi.NewError(ErrorDomain, restapi.ErrCodeConflict, ErrMessageScrapeInProgress)
			restapi.RespondError(rw, http.StatusConflict, apiErr, logger)
		case errors.Is(err, scraping.ErrClosed):
			apiErr := restapi.NewErrorFromHTTPCode(ErrorDomain, http.StatusServiceUnavailable, "Service is shutting down.")
			restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, logger)
		default:
			logger.Error("failed to trigger scraping", log.String("source_id", sourceID), log.Error(err))
			restapi.RespondInternalError(rw, ErrorDomain, logger)
		}
		return
	}

	restapi.RespondCodeAndJSON(rw, http.StatusAccepted, ScrapeResponse{
		Status:  "success",
		Message: fmt.Sprintf("Scraping job has been queued for source %s", task.SourceID),
		TaskID:  task.ID,
	}, logger)
}

func (h *handler) getScrapeStatus(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	sourceID, ok := h.parseSourceID(rw, r, logger)
	if !ok {
		return
	}
	restapi.RespondJSON(rw, h.opts.Scraping.Status(r.Context(), sourceID), logger)
}

// parseSourceID returns an empty string (all sources) if the parameter is absent.
func (h *handler) parseSourceID(rw http.ResponseWriter, r *http.Request, logger log.FieldLogger) (string, bool) {
	sourceID := r.URL.Query().Get(QueryParamSourceID)
	if sourceID != "" && !sourceIDRegexp.MatchString(sourceID) {
		restapi.RespondBadRequestError(rw, ErrorDomain,
			"source_id should contain only letters, digits, underscores or dashes (up to 64 characters).", logger)
		return "", false
	}
	return sourceID, true
}
