/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/restapi"
)

// HTTPRunnerScrapePath is the path of the scraper service endpoint that runs scraping.
const HTTPRunnerScrapePath = "/api/v1/scrape"

// HTTPRunner asks the external scraper service to scrape a source and waits for the result.
// 4xx responses (except 429) are returned as permanent errors and are not retried.
type HTTPRunner struct {
	client   *http.Client
	endpoint string
	logger   log.FieldLogger
}

var _ Runner = (*HTTPRunner)(nil)

type scrapeRequest struct {
	SourceID string `json:"source_id"`
}

type scrapeResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	JobsFound json.Number `json:"jobs_found,omitempty"`
}

// NewHTTPRunner creates a new HTTPRunner. http.DefaultClient is used if client is nil,
// the run timeout is applied through the context.
func NewHTTPRunner(baseURL string, client *http.Client, logger log.FieldLogger) (*HTTPRunner, error) {
	endpoint, err := url.JoinPath(baseURL, HTTPRunnerScrapePath)
	if err != nil {
		return nil, fmt.Errorf("build scraper endpoint: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &HTTPRunner{client: client, endpoint: endpoint, logger: logger}, nil
}

// Run implements Runner.
func (r *HTTPRunner) Run(ctx context.Context, sourceID string) error {
	req, err := restapi.NewJSONRequest(ctx, http.MethodPost, r.endpoint, scrapeRequest{SourceID: sourceID})
	if err != nil {
		return Permanent(fmt.Errorf("create scrape request: %w", err))
	}

	var resp scrapeResponse
	if err = restapi.DoRequestAndUnmarshalJSON(r.client, req, &resp, r.logger); err != nil {
		var clientErr *restapi.ClientError
		if !errors.As(err, &clientErr) {
			return err
		}
		if apiErr := clientErr.APIError(); apiErr != nil {
			r.logger.Warn("scraper service rejected scraping",
				log.String("source_id", sourceID),
				log.Int("status", clientErr.StatusCode),
				log.String("error_domain", apiErr.Domain),
				log.String("error_code", apiErr.Code),
			)
		}
		if !clientErr.Retryable() {
			return Permanent(err)
		}
		return err
	}

	r.logger.Info("scraper service finished scraping",
		log.String("source_id", sourceID),
		log.String("status", resp.Status),
		log.String("jobs_found", resp.JobsFound.String()),
	)
	return nil
}

// NewLoggingRunner returns a Runner that only logs the runs.
// It's used when no scraper service is configured.
func NewLoggingRunner(logger log.FieldLogger) Runner {
	return RunnerFunc(func(_ context.Context, sourceID string) error {
		logger.Warn("scraper service is not configured, scraping is skipped", log.String("source_id", sourceID))
		return nil
	})
}
