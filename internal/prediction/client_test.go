package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepguard/internal/apperr"
	"deepguard/internal/registry"
)

var testDescriptor = registry.Descriptor{ID: registry.FakeImageDetection, Version: "v-123"}

type fakeProvider struct {
	mu        sync.Mutex
	submits   atomic.Int64
	polls     atomic.Int64
	lastBody  map[string]any
	lastAuth  string
	submitFn  func(w http.ResponseWriter)
	reports   []string
	pollDelay time.Duration
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		if f.submitFn != nil {
			f.submitFn(w)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	})
	mux.HandleFunc("/v1/predictions/", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1))
		if f.pollDelay > 0 {
			select {
			case <-time.After(f.pollDelay):
			case <-r.Context().Done():
				return
			}
		}
		if len(f.reports) == 0 {
			http.Error(w, `{"detail":"no reports"}`, http.StatusInternalServerError)
			return
		}
		idx := n - 1
		if idx >= len(f.reports) {
			idx = len(f.reports) - 1
		}
		_, _ = w.Write([]byte(f.reports[idx]))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, nil)
}

func TestSubmitSendsVersionAndImage(t *testing.T) {
	f := &fakeProvider{}
	c := newTestClient(t, f)

	id, err := c.Submit(context.Background(), "https://example.com/a.jpg", testDescriptor, "tok")
	require.NoError(t, err)
	assert.Equal(t, "pred-1", id)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Bearer tok", f.lastAuth)
	assert.Equal(t, "v-123", f.lastBody["version"])
	input, ok := f.lastBody["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a.jpg", input["image"])
}

func TestSubmitWithoutCredentialMakesNoCall(t *testing.T) {
	f := &fakeProvider{}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), "https://example.com/a.jpg", testDescriptor, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.Zero(t, f.submits.Load())

	_, err = c.AwaitTerminal(context.Background(), "pred-1", "  ", PollOptions{})
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.Zero(t, f.polls.Load())
}

func TestSubmitNonSuccessStatus(t *testing.T) {
	f := &fakeProvider{submitFn: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"invalid version"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), "https://example.com/a.jpg", testDescriptor, "tok")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProviderSubmit))
	assert.Contains(t, err.Error(), "invalid version")
}

func TestSubmitMissingID(t *testing.T) {
	f := &fakeProvider{submitFn: func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), "https://example.com/a.jpg", testDescriptor, "tok")
	assert.True(t, apperr.IsKind(err, apperr.KindProviderSubmit))
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, time.Second, nil)

	_, err := c.Submit(context.Background(), "https://example.com/a.jpg", testDescriptor, "tok")
	assert.True(t, apperr.IsKind(err, apperr.KindProviderSubmit))
}

func TestAwaitTerminalSucceeded(t *testing.T) {
	f := &fakeProvider{reports: []string{
		`{"status":"starting"}`,
		`{"status":"processing"}`,
		`{"status":"succeeded","output":"0.2"}`,
	}}
	c := newTestClient(t, f)

	job, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 30})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.JSONEq(t, `"0.2"`, string(job.Output))
	assert.Equal(t, 3, job.Attempts)
	assert.EqualValues(t, 3, f.polls.Load())
}

func TestAwaitTerminalFailedIsNotAnError(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"failed","error":"CUDA out of memory"}`}}
	c := newTestClient(t, f)

	job, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "CUDA out of memory", job.Error)
}

func TestAwaitTerminalCanceledCountsAsFailed(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"canceled"}`}}
	c := newTestClient(t, f)

	job, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestAwaitTerminalTimesOutWithinBudget(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"processing"}`}}
	c := newTestClient(t, f)
	opts := PollOptions{Interval: 2 * time.Millisecond, MaxAttempts: 30}

	start := time.Now()
	job, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", opts)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProviderTimeout))
	assert.Equal(t, StatusProcessing, job.Status, "abandoned job keeps its last status")
	assert.LessOrEqual(t, f.polls.Load(), int64(30))
	assert.Less(t, elapsed, opts.Budget()+250*time.Millisecond)
}

func TestAwaitTerminalExhaustsAttempts(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"processing"}`}}
	c := newTestClient(t, f)

	_, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: 20 * time.Millisecond, MaxAttempts: 3})
	assert.True(t, apperr.IsKind(err, apperr.KindProviderTimeout))
	assert.LessOrEqual(t, f.polls.Load(), int64(3))
}

func TestAwaitTerminalPollErrorIsNotRetried(t *testing.T) {
	f := &fakeProvider{}
	c := newTestClient(t, f)

	_, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 30})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProviderPoll))
	assert.EqualValues(t, 1, f.polls.Load())
}

func TestAwaitTerminalUnknownStatusIsPollError(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"queued-somewhere"}`}}
	c := newTestClient(t, f)

	_, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 3})
	assert.True(t, apperr.IsKind(err, apperr.KindProviderPoll))
}

func TestAwaitTerminalPerCallTimeout(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"processing"}`}, pollDelay: 500 * time.Millisecond}
	c := newTestClient(t, f)
	c.CallTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Second, MaxAttempts: 30})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProviderPoll))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestAwaitTerminalCallerCancel(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"processing"}`}}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := c.AwaitTerminal(ctx, "pred-1", "tok", PollOptions{Interval: 10 * time.Millisecond, MaxAttempts: 1000})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackwardStatusIgnored(t *testing.T) {
	f := &fakeProvider{reports: []string{
		`{"status":"processing"}`,
		`{"status":"starting"}`,
		`{"status":"succeeded","output":"0.9"}`,
	}}
	c := newTestClient(t, f)

	job, err := c.AwaitTerminal(context.Background(), "pred-1", "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
}

func TestJobAdvanceIsMonotonic(t *testing.T) {
	job := Job{Status: StatusStarting}
	assert.True(t, job.advance(StatusProcessing))
	assert.False(t, job.advance(StatusStarting))
	assert.Equal(t, StatusProcessing, job.Status)
	assert.True(t, job.advance(StatusSucceeded))
	assert.False(t, job.advance(StatusFailed))
	assert.Equal(t, StatusSucceeded, job.Status)
}

func TestPredictEndToEnd(t *testing.T) {
	f := &fakeProvider{reports: []string{`{"status":"succeeded","output":"0.95"}`}}
	c := newTestClient(t, f)

	job, err := c.Predict(context.Background(), "https://example.com/a.jpg", testDescriptor, "tok", PollOptions{Interval: time.Millisecond, MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", job.ID)
	assert.Equal(t, StatusSucceeded, job.Status)
}

func TestProviderDetailFallsBackToBody(t *testing.T) {
	assert.Equal(t, "oops", providerDetail(strings.NewReader(" oops ")))
	assert.Equal(t, "no detail", providerDetail(strings.NewReader("")))
	assert.Equal(t, "bad", providerDetail(strings.NewReader(`{"detail":"bad"}`)))
}
