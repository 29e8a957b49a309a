package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepguard/internal/apperr"
	"deepguard/internal/registry"
)

const (
	DefaultSyncBaseURL     = "https://api.thehive.ai"
	DefaultSyncCallTimeout = 5 * time.Second
)

// SyncClient calls task APIs that return the result in the submit response.
// A sync task never polls, so the returned job is already terminal.
type SyncClient struct {
	BaseURL     string
	CallTimeout time.Duration
	HTTP        *http.Client
	Logger      *zap.Logger
}

func NewSyncClient(baseURL string, callTimeout time.Duration, logger *zap.Logger) *SyncClient {
	if baseURL == "" {
		baseURL = DefaultSyncBaseURL
	}
	if callTimeout <= 0 {
		callTimeout = DefaultSyncCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CallTimeout: callTimeout,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Logger:      logger,
	}
}

// Run posts one task for desc.Version and maps the answer onto a Job. Any
// status other than succeeded yields a failed job.
func (c *SyncClient) Run(ctx context.Context, mediaURL string, desc registry.Descriptor, credential string) (Job, error) {
	const op = "prediction.sync"
	if strings.TrimSpace(credential) == "" {
		return Job{}, apperr.New(apperr.KindConfiguration, op, "sync task api key not configured")
	}

	payload := map[string]any{
		"url":    mediaURL,
		"models": map[string]any{desc.Version: map[string]any{}},
	}
	body, _ := json.Marshal(payload)

	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.BaseURL+"/api/v2/task/sync", bytes.NewReader(body))
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindProviderSubmit, op, "build request", err)
	}
	setHeadersWithScheme(req, "token", credential)

	c.Logger.Debug("running sync task", zap.String("model_id", desc.ID), zap.String("media_url", mediaURL))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindProviderSubmit, op, "task request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Job{}, apperr.New(apperr.KindProviderSubmit, op, fmt.Sprintf("provider returned %d: %s", resp.StatusCode, providerDetail(resp.Body)))
	}

	var decoded struct {
		ID     json.RawMessage `json:"id"`
		Status json.RawMessage `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Job{}, apperr.Wrap(apperr.KindProviderSubmit, op, "decode task response", err)
	}

	job := Job{ID: rawText(decoded.ID), Status: StatusFailed, Attempts: 1}
	status := rawText(decoded.Status)
	if parsed, ok := ParseStatus(status); ok && parsed == StatusSucceeded {
		job.Status = StatusSucceeded
		job.Output = decoded.Output
	} else {
		job.Error = rawText(decoded.Error)
		if job.Error == "" {
			job.Error = fmt.Sprintf("task finished with status %q", status)
		}
	}
	c.Logger.Debug("sync task finished", zap.String("task_id", job.ID), zap.String("status", string(job.Status)))
	return job, nil
}
