package phenex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/sse"
)

// ExecuteStudy posts the prepared cohort to the backend and decodes the SSE
// execution stream, invoking onEvent per message until the stream ends.
func (c *Client) ExecuteStudy(ctx context.Context, record *domain.CohortRecord, onEvent func(domain.ExecutionEvent) error) error {
	path := "/cohorts/" + url.PathEscape(record.ID) + "/execute"
	body, err := c.openStream(ctx, path, record)
	if err != nil {
		return fmt.Errorf("starting execution for cohort %s: %w", record.ID, err)
	}
	defer body.Close()

	return sse.DecodeStream(body, func(ev sse.Event) error {
		var execEvent domain.ExecutionEvent
		if err := ev.Decode(&execEvent); err != nil {
			return fmt.Errorf("decoding execution event: %w", err)
		}
		return onEvent(execEvent)
	})
}

// suggestRequest is the body of a suggest_changes call.
type suggestRequest struct {
	CohortID string            `json:"cohort_id"`
	History  []domain.ChatTurn `json:"history"`
}

// SuggestChanges streams the assistant response for the given conversation.
func (c *Client) SuggestChanges(ctx context.Context, cohortID string, history []domain.ChatTurn, onEvent func(domain.ChatEvent) error) error {
	path := "/cohorts/" + url.PathEscape(cohortID) + "/suggest"
	body, err := c.openStream(ctx, path, suggestRequest{CohortID: cohortID, History: history})
	if err != nil {
		return fmt.Errorf("starting suggestion stream for cohort %s: %w", cohortID, err)
	}
	defer body.Close()

	return sse.DecodeStream(body, func(ev sse.Event) error {
		var chatEvent domain.ChatEvent
		if err := ev.Decode(&chatEvent); err != nil {
			return fmt.Errorf("decoding chat event: %w", err)
		}
		return onEvent(chatEvent)
	})
}

// openStream performs the rate-limited POST that opens an SSE response.
// Streams run for minutes, so the shared client timeout does not apply; the
// caller's context bounds the stream lifetime instead.
func (c *Client) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, true)
	req.Header.Set("Accept", "text/event-stream")

	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	c.log.WithFields(logrus.Fields{
		"path": path,
	}).Debug("Stream opened")
	return resp.Body, nil
}
