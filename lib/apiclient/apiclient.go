// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package apiclient talks to the repository management API and the
// public metadata endpoint. It covers exactly three interactions:
// fetching versioned metadata documents, submitting an action payload
// (accepted as an asynchronous task), and polling a task to its
// terminal state.
//
// Nothing here retries silently except the bounded metadata fetch
// retry; every other failure is surfaced to the operator verbatim.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rootsmith-project/rootsmith/lib/clock"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
)

// Management API action paths.
const (
	PathMetadata       = "/api/v1/metadata/"
	PathDelegations    = "/api/v1/delegations/"
	PathPublishTargets = "/api/v1/targets/publish/"
	PathTask           = "/api/v1/task/"
)

// Task states reported by the management API. Received and started
// are transient; the rest are terminal.
const (
	TaskStateSuccess = "SUCCESS"
	TaskStateFailure = "FAILURE"
	TaskStateErrored = "ERRORED"
)

// FetchError reports a metadata fetch failure: either an HTTP
// non-success status or an exhausted transport retry.
type FetchError struct {
	// URL is the document that could not be fetched.
	URL string
	// Status is the HTTP status code, or zero for transport errors.
	Status int
	// Err is the underlying transport error, nil for status failures.
	Err error
	// Initial marks the mandatory 1.root.json fetch.
	Initial bool
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("problem fetching latest metadata from %s: %v", e.URL, e.Err)
	}
	if e.Initial {
		return fmt.Sprintf("cannot fetch initial root from %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("cannot fetch metadata from %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds the parameters for creating a Client.
type Config struct {
	// ServerURL is the management API base URL. May be empty when
	// the client is only used for metadata fetches (dry runs).
	ServerURL string

	// AccessToken, when set, is sent as a bearer token on management
	// API requests.
	AccessToken string

	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives request-level messages. If nil, a no-op logger.
	Logger *slog.Logger

	// Clock drives the task poll loop. If nil, the real clock.
	Clock clock.Clock

	// FetchTimeout bounds each metadata fetch request. Default 300s.
	FetchTimeout time.Duration

	// FetchAttempts bounds transport retries per metadata document.
	// Default 3.
	FetchAttempts int

	// PollInterval is the delay between task status polls. Default 2s.
	PollInterval time.Duration

	// PollDeadline bounds the total task poll duration. Default 5m.
	PollDeadline time.Duration
}

// Client is a synchronous management API client.
type Client struct {
	serverURL     string
	accessToken   string
	httpClient    *http.Client
	logger        *slog.Logger
	clock         clock.Clock
	fetchTimeout  time.Duration
	fetchAttempts int
	pollInterval  time.Duration
	pollDeadline  time.Duration
}

// New validates the configuration and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL != "" {
		if _, err := url.Parse(cfg.ServerURL); err != nil {
			return nil, fmt.Errorf("apiclient: invalid server URL %q: %w", cfg.ServerURL, err)
		}
	}

	client := &Client{
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		accessToken:   cfg.AccessToken,
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		fetchTimeout:  cfg.FetchTimeout,
		fetchAttempts: cfg.FetchAttempts,
		pollInterval:  cfg.PollInterval,
		pollDeadline:  cfg.PollDeadline,
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.fetchTimeout <= 0 {
		client.fetchTimeout = 300 * time.Second
	}
	if client.fetchAttempts <= 0 {
		client.fetchAttempts = 3
	}
	if client.pollInterval <= 0 {
		client.pollInterval = 2 * time.Second
	}
	if client.pollDeadline <= 0 {
		client.pollDeadline = 5 * time.Minute
	}
	return client, nil
}

// fetchDocument GETs one metadata document with the configured
// timeout, retrying transport errors up to the attempt bound.
// A non-2xx response is returned as a FetchError immediately; the
// server answered, retrying will not change its mind.
func (c *Client) fetchDocument(ctx context.Context, documentURL string) ([]byte, *FetchError) {
	var lastTransportError error

	for attempt := 1; attempt <= c.fetchAttempts; attempt++ {
		requestCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, documentURL, nil)
		if err != nil {
			cancel()
			return nil, &FetchError{URL: documentURL, Err: err}
		}

		response, err := c.httpClient.Do(request)
		if err != nil {
			cancel()
			lastTransportError = err
			c.logger.Warn("metadata fetch attempt failed",
				"url", documentURL, "attempt", attempt, "error", err)
			continue
		}

		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		cancel()
		if err != nil {
			lastTransportError = err
			continue
		}

		if response.StatusCode != http.StatusOK {
			return nil, &FetchError{URL: documentURL, Status: response.StatusCode}
		}
		return body, nil
	}

	return nil, &FetchError{URL: documentURL, Err: lastTransportError}
}

// FetchRoot retrieves the latest root metadata from a public metadata
// endpoint. It starts at {url}/1.root.json and walks successive
// versions until one answers 404, returning the highest version that
// parsed. The initial document is mandatory; a later version ends the
// walk only when absent, any other failure aborts it.
func (c *Client) FetchRoot(ctx context.Context, metadataURL string) (*rootmeta.Metadata, error) {
	base := strings.TrimRight(metadataURL, "/")

	body, fetchErr := c.fetchDocument(ctx, fmt.Sprintf("%s/1.root.json", base))
	if fetchErr != nil {
		fetchErr.Initial = true
		return nil, fetchErr
	}
	latest, err := rootmeta.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parsing 1.root.json: %w", err)
	}

	for version := latest.Signed.Version + 1; ; version++ {
		body, fetchErr := c.fetchDocument(ctx, fmt.Sprintf("%s/%d.root.json", base, version))
		if fetchErr != nil {
			if fetchErr.Status == http.StatusNotFound {
				// End of the version chain.
				break
			}
			return nil, fetchErr
		}
		next, err := rootmeta.Parse(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: parsing %d.root.json: %w", version, err)
		}
		latest = next
	}

	c.logger.Info("fetched root metadata", "url", base, "version", latest.Signed.Version)
	return latest, nil
}

// FetchTargets retrieves the hash-bin targets metadata document
// ({url}/1.bin.json) that carries the succinct delegation parameters.
func (c *Client) FetchTargets(ctx context.Context, metadataURL string) ([]byte, error) {
	base := strings.TrimRight(metadataURL, "/")
	body, fetchErr := c.fetchDocument(ctx, fmt.Sprintf("%s/1.bin.json", base))
	if fetchErr != nil {
		if fetchErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("metadata targets not found at %s", base)
		}
		return nil, fetchErr
	}
	return body, nil
}

// taskResponse is the management API's task envelope, shared by the
// submission and status endpoints.
type taskResponse struct {
	Data struct {
		TaskID  string          `json:"task_id"`
		State   string          `json:"state"`
		Details json.RawMessage `json:"details"`
	} `json:"data"`
	Message string `json:"message"`
}

// SendPayload POSTs a JSON payload to a management API action path.
// The API signals acceptance with 202 and a task id; any other status
// is a fatal error carrying the response body.
func (c *Client) SendPayload(ctx context.Context, actionPath string, payload any) (string, error) {
	if c.serverURL == "" {
		return "", fmt.Errorf("apiclient: no server URL configured")
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("apiclient: encoding payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+actionPath, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("apiclient: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("apiclient: POST %s: %w", actionPath, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("apiclient: reading response from %s: %w", actionPath, err)
	}

	if response.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("apiclient: POST %s returned %d: %s", actionPath, response.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed taskResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("apiclient: parsing task response: %w", err)
	}
	if parsed.Data.TaskID == "" {
		return "", fmt.Errorf("apiclient: accepted response carries no task id: %s", strings.TrimSpace(string(body)))
	}

	c.logger.Info("payload accepted", "action", actionPath, "task_id", parsed.Data.TaskID)
	return parsed.Data.TaskID, nil
}

// WaitForTask polls the task status endpoint until the task reaches a
// terminal state or the poll deadline expires. A failed task and an
// expired deadline are both errors; the loop never spins forever.
func (c *Client) WaitForTask(ctx context.Context, taskID string) error {
	if c.serverURL == "" {
		return fmt.Errorf("apiclient: no server URL configured")
	}

	deadline := c.clock.Now().Add(c.pollDeadline)
	for {
		state, details, err := c.taskState(ctx, taskID)
		if err != nil {
			return err
		}

		switch state {
		case TaskStateSuccess:
			return nil
		case TaskStateFailure, TaskStateErrored:
			return fmt.Errorf("apiclient: task %s failed with state %s: %s", taskID, state, details)
		}

		if !c.clock.Now().Add(c.pollInterval).Before(deadline) {
			return fmt.Errorf("apiclient: task %s did not reach a terminal state within %s (last state %s)",
				taskID, c.pollDeadline, state)
		}
		c.clock.Sleep(c.pollInterval)
	}
}

func (c *Client) taskState(ctx context.Context, taskID string) (string, string, error) {
	statusURL := fmt.Sprintf("%s%s?task_id=%s", c.serverURL, PathTask, url.QueryEscape(taskID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("apiclient: creating task status request: %w", err)
	}
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", "", fmt.Errorf("apiclient: polling task %s: %w", taskID, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", "", fmt.Errorf("apiclient: reading task status: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("apiclient: task status returned %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed taskResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("apiclient: parsing task status: %w", err)
	}
	return parsed.Data.State, string(parsed.Data.Details), nil
}
