// Package phenex is the HTTP client for the Phenex execution backend. It
// implements cohort persistence, study execution streaming, assistant
// suggestion streaming and codelist management against the backend's REST
// API, with a circuit breaker and client-side rate limiting.
package phenex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/phenex-cohort-server/internal/domain"
)

// Config holds the backend connection settings.
type Config struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit float64       `json:"rate_limit"`
}

// Client talks to the Phenex backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewClient creates a Phenex backend client.
func NewClient(config Config, log *logrus.Logger) *Client {
	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Inf
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Phenex",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
		log:     log,
	}
}

// GetCohort fetches a cohort owned by the caller.
func (c *Client) GetCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	var record domain.CohortRecord
	if err := c.doJSON(ctx, http.MethodGet, "/cohorts/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, fmt.Errorf("fetching cohort %s: %w", id, err)
	}
	return &record, nil
}

// GetPublicCohort fetches a shared cohort by id.
func (c *Client) GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	var record domain.CohortRecord
	if err := c.doJSON(ctx, http.MethodGet, "/cohorts/public/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, fmt.Errorf("fetching public cohort %s: %w", id, err)
	}
	return &record, nil
}

// SaveCohort upserts a cohort record.
func (c *Client) SaveCohort(ctx context.Context, record *domain.CohortRecord) error {
	if err := c.doJSON(ctx, http.MethodPut, "/cohorts/"+url.PathEscape(record.ID), record, nil); err != nil {
		return fmt.Errorf("saving cohort %s: %w", record.ID, err)
	}
	return nil
}

// DeleteCohort removes a cohort.
func (c *Client) DeleteCohort(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/cohorts/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting cohort %s: %w", id, err)
	}
	return nil
}

// AcceptChanges commits the provisional cohort produced by the assistant.
func (c *Client) AcceptChanges(ctx context.Context, cohortID string) error {
	path := "/cohorts/" + url.PathEscape(cohortID) + "/accept"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("accepting changes for cohort %s: %w", cohortID, err)
	}
	return nil
}

// RejectChanges discards the provisional cohort and restores the saved one.
func (c *Client) RejectChanges(ctx context.Context, cohortID string) error {
	path := "/cohorts/" + url.PathEscape(cohortID) + "/reject"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("rejecting changes for cohort %s: %w", cohortID, err)
	}
	return nil
}

// ListCodelists returns the codelists uploaded for a cohort.
func (c *Client) ListCodelists(ctx context.Context, cohortID string) ([]domain.Codelist, error) {
	var codelists []domain.Codelist
	path := "/cohorts/" + url.PathEscape(cohortID) + "/codelists"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &codelists); err != nil {
		return nil, fmt.Errorf("listing codelists for cohort %s: %w", cohortID, err)
	}
	return codelists, nil
}

// UploadCodelist registers a codelist file's parsed contents and returns the
// stored codelist with its file id assigned.
func (c *Client) UploadCodelist(ctx context.Context, cohortID string, codelist *domain.Codelist) (*domain.Codelist, error) {
	var stored domain.Codelist
	path := "/cohorts/" + url.PathEscape(cohortID) + "/codelists"
	if err := c.doJSON(ctx, http.MethodPost, path, codelist, &stored); err != nil {
		return nil, fmt.Errorf("uploading codelist for cohort %s: %w", cohortID, err)
	}
	return &stored, nil
}

// doJSON performs a rate-limited, breaker-guarded JSON round trip. A 404
// maps to domain.ErrNotFound so callers can branch on it with errors.Is.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req, body != nil)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}

		if out == nil {
			return nil, nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return data, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return fmt.Errorf("phenex backend unavailable (circuit breaker open)")
		}
		return err
	}

	if out == nil {
		return nil
	}
	data := result.([]byte)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
