// Package steps provides the built-in StepExecutor adapters: remote HTTP
// services, LLM completions, and in-process calculations. The executor core
// only sees their declared kinds.
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/executor"
)

// HTTPExecutor POSTs a step's resolved input as JSON to a configured
// endpoint and returns the decoded response body as the step output. One
// instance serves one step kind. Retries and timeouts belong to the step's
// error policy, so the underlying client does neither.
type HTTPExecutor struct {
	kind    string
	url     string
	client  *resty.Client
	headers map[string]string
	logger  core.Logger
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithHTTPHeader adds a header to every request.
func WithHTTPHeader(key, value string) HTTPOption {
	return func(e *HTTPExecutor) { e.headers[key] = value }
}

// WithHTTPTimeout caps a single request. This is a transport-level safety
// net under the step's own timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) { e.client.SetTimeout(d) }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger core.Logger) HTTPOption {
	return func(e *HTTPExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewHTTPExecutor creates an adapter serving the given kind against url.
func NewHTTPExecutor(kind, url string, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		kind:    kind,
		url:     url,
		client:  resty.New().SetRetryCount(0).SetTimeout(2 * time.Minute),
		headers: make(map[string]string),
		logger:  &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPExecutor) Kind() string { return e.kind }

func (e *HTTPExecutor) Execute(ctx context.Context, step *executor.Step, input map[string]interface{}) (interface{}, error) {
	body := map[string]interface{}{}
	errBody := map[string]interface{}{}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeaders(e.headers).
		SetBody(input).
		SetResult(&body).
		SetError(&errBody).
		Post(e.url)
	if err != nil {
		return nil, fmt.Errorf("step %q http call: %w", step.Name, err)
	}

	if resp.IsError() {
		e.logger.Warn("Step endpoint returned an error status", map[string]interface{}{
			"step":   step.Name,
			"kind":   e.kind,
			"url":    e.url,
			"status": resp.Status(),
		})
		// The status line keeps the error classifiable: 5xx phrases read
		// as transient, 4xx as permanent.
		return nil, fmt.Errorf("step %q http call: %s", step.Name, resp.Status())
	}

	e.logger.Debug("Step endpoint call completed", map[string]interface{}{
		"step":    step.Name,
		"kind":    e.kind,
		"status":  resp.StatusCode(),
		"time_ms": resp.Time().Milliseconds(),
	})
	return body, nil
}
