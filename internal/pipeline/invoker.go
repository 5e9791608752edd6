// Package pipeline implements the hybrid sequential recovery chain over the
// remote processing functions.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chathub_backend/platform/apperr"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// StageInvoker performs one named remote stage call.
type StageInvoker interface {
	Invoke(ctx context.Context, name, trigger string) (json.RawMessage, error)
}

type invokeBody struct {
	Trigger   string `json:"trigger"`
	Timestamp string `json:"timestamp"`
}

// FunctionInvoker invokes stages as named remote calls against the
// processing-functions base URL. A transport failure or non-2xx answer is an
// invocation failure; stage-reported errors travel inside 2xx bodies.
type FunctionInvoker struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

// NewFunctionInvoker builds the invoker, or nil when functions are not configured.
func NewFunctionInvoker(cfg config.PipelineConfig, log *logger.Logger) *FunctionInvoker {
	if !cfg.IsPipelineEnabled() {
		return nil
	}

	return &FunctionInvoker{
		baseURL: strings.TrimRight(cfg.GetFunctionsBaseURL(), "/"),
		apiKey:  cfg.GetFunctionsAPIKey(),
		http:    &http.Client{Timeout: 120 * time.Second},
		log:     log,
	}
}

// Invoke posts the trigger envelope to the named function.
func (i *FunctionInvoker) Invoke(ctx context.Context, name, trigger string) (json.RawMessage, error) {
	if i == nil {
		return nil, apperr.Unavailable("processing functions not configured")
	}

	payload, err := json.Marshal(invokeBody{
		Trigger:   trigger,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal stage payload", err)
	}

	url := fmt.Sprintf("%s/%s", i.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build stage request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, fmt.Sprintf("invoke %s", name), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, fmt.Sprintf("read %s response", name), err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, apperr.Unavailable(fmt.Sprintf("%s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(body), nil
}
