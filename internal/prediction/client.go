package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepguard/internal/apperr"
	"deepguard/internal/registry"
)

const (
	DefaultBaseURL     = "https://api.replicate.com"
	DefaultCallTimeout = 10 * time.Second
)

type Client struct {
	BaseURL     string
	CallTimeout time.Duration
	HTTP        *http.Client
	Logger      *zap.Logger
}

func NewClient(baseURL string, callTimeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CallTimeout: callTimeout,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Logger:      logger,
	}
}

// Submit starts a prediction and returns its id. No request is made when
// credential is empty.
func (c *Client) Submit(ctx context.Context, mediaURL string, desc registry.Descriptor, credential string) (string, error) {
	const op = "prediction.submit"
	if strings.TrimSpace(credential) == "" {
		return "", apperr.New(apperr.KindConfiguration, op, "provider api token not configured")
	}

	payload := map[string]any{
		"version": desc.Version,
		"input":   map[string]any{"image": mediaURL},
	}
	body, _ := json.Marshal(payload)

	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.BaseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindProviderSubmit, op, "build request", err)
	}
	setHeaders(req, credential)

	c.Logger.Debug("starting prediction", zap.String("model_id", desc.ID), zap.String("media_url", mediaURL))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProviderSubmit, op, "submit request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.New(apperr.KindProviderSubmit, op, fmt.Sprintf("provider returned %d: %s", resp.StatusCode, providerDetail(resp.Body)))
	}

	var decoded struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperr.Wrap(apperr.KindProviderSubmit, op, "decode submit response", err)
	}
	if decoded.ID == "" {
		return "", apperr.New(apperr.KindProviderSubmit, op, "submit response missing prediction id")
	}
	c.Logger.Debug("prediction started", zap.String("prediction_id", decoded.ID), zap.String("status", decoded.Status))
	return decoded.ID, nil
}

// AwaitTerminal polls the prediction until it succeeds or fails. The whole loop
// runs under a deadline of opts.Interval*opts.MaxAttempts; running out of it, or
// of attempts, yields a provider_timeout error and the job is returned as last seen.
func (c *Client) AwaitTerminal(ctx context.Context, jobID string, credential string, opts PollOptions) (Job, error) {
	const op = "prediction.await"
	job := Job{ID: jobID, Status: StatusStarting}
	if strings.TrimSpace(credential) == "" {
		return job, apperr.New(apperr.KindConfiguration, op, "provider api token not configured")
	}
	opts = opts.withDefaults()

	budgetCtx, cancel := context.WithTimeout(ctx, opts.Budget())
	defer cancel()

	timeout := func() error {
		return apperr.New(apperr.KindProviderTimeout, op, fmt.Sprintf("prediction %s not terminal after %d attempts", jobID, job.Attempts))
	}

	for job.Attempts < opts.MaxAttempts {
		job.Attempts++
		report, err := c.fetch(budgetCtx, jobID, credential)
		if err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			if budgetCtx.Err() != nil {
				return job, timeout()
			}
			return job, apperr.Wrap(apperr.KindProviderPoll, op, "poll request failed", err)
		}
		if job.advance(report.Status) {
			job.Output = report.Output
			job.Error = report.Error
		}
		if job.Status.Terminal() {
			c.Logger.Debug("prediction terminal",
				zap.String("prediction_id", jobID),
				zap.String("status", string(job.Status)),
				zap.Int("attempts", job.Attempts))
			return job, nil
		}
		if job.Attempts == opts.MaxAttempts {
			break
		}
		c.Logger.Debug("waiting for prediction",
			zap.String("prediction_id", jobID),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", opts.MaxAttempts))
		if err := sleep(budgetCtx, opts.Interval); err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			return job, timeout()
		}
	}
	return job, timeout()
}

// Predict submits and waits for a terminal status.
func (c *Client) Predict(ctx context.Context, mediaURL string, desc registry.Descriptor, credential string, opts PollOptions) (Job, error) {
	id, err := c.Submit(ctx, mediaURL, desc, credential)
	if err != nil {
		return Job{}, err
	}
	return c.AwaitTerminal(ctx, id, credential, opts)
}

type statusReport struct {
	Status Status
	Output json.RawMessage
	Error  string
}

func (c *Client) fetch(ctx context.Context, jobID string, credential string) (statusReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.BaseURL+"/v1/predictions/"+url.PathEscape(jobID), nil)
	if err != nil {
		return statusReport{}, err
	}
	setHeaders(req, credential)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return statusReport{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusReport{}, fmt.Errorf("provider returned %d: %s", resp.StatusCode, providerDetail(resp.Body))
	}

	var decoded struct {
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return statusReport{}, fmt.Errorf("decode poll response: %w", err)
	}
	status, ok := ParseStatus(decoded.Status)
	if !ok {
		return statusReport{}, fmt.Errorf("unrecognized prediction status %q", decoded.Status)
	}
	return statusReport{Status: status, Output: decoded.Output, Error: rawText(decoded.Error)}, nil
}

func setHeaders(req *http.Request, credential string) {
	setHeadersWithScheme(req, "Bearer", credential)
}

func setHeadersWithScheme(req *http.Request, scheme, credential string) {
	req.Header.Set("Authorization", scheme+" "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// providerDetail extracts the provider's error message, or a trimmed body.
func providerDetail(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var decoded struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err == nil {
		for _, msg := range []string{decoded.Detail, decoded.Message, decoded.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "no detail"
	}
	return text
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
