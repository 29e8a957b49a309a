package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepguard/internal/config"
	"deepguard/internal/registry"
)

func testConfig(providerURL string) config.Config {
	cfg := config.Default()
	cfg.Provider.BaseURL = providerURL
	cfg.Provider.APIToken = "r8_test"
	cfg.Provider.PollInterval = 5 * time.Millisecond
	cfg.Provider.MaxAttempts = 5
	cfg.Probe.URL = providerURL
	return cfg
}

func fakeProvider(output string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","status":"starting"}`))
	})
	mux.HandleFunc("/v1/predictions/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":` + output + `}`))
	})
	return httptest.NewServer(mux)
}

func TestDetectEndToEnd(t *testing.T) {
	provider := fakeProvider(`"0.9"`)
	defer provider.Close()
	mr := miniredis.RunT(t)

	cfg := testConfig(provider.URL)
	cfg.Redis.URL = "redis://" + mr.Addr()
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	handler, err := a.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"mediaUrl":"https://example.com/a.jpg"}`))
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body struct {
		Result struct {
			IsFake     bool    `json:"isFake"`
			Confidence float64 `json:"confidence"`
			Label      string  `json:"label"`
			ModelID    string  `json:"modelId"`
			IsFallback bool    `json:"isFallback"`
		} `json:"result"`
		Raw string `json:"raw"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Result.IsFake)
	assert.Equal(t, "fake", body.Result.Label)
	assert.Equal(t, registry.FakeImageDetection, body.Result.ModelID)
	assert.False(t, body.Result.IsFallback)
	assert.Equal(t, "0.9", body.Raw)

	counts, err := a.Stats.Get(context.Background(), registry.FakeImageDetection)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Genuine)
	assert.EqualValues(t, 1, a.Observer.GenuineCount(registry.FakeImageDetection))
}

func TestDetectFallbackIsCounted(t *testing.T) {
	provider := fakeProvider(`null`)
	defer provider.Close()

	a, err := New(context.Background(), testConfig(provider.URL), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	handler, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"mediaUrl":"https://example.com/a.jpg"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isFallback":true`)
	assert.EqualValues(t, 1, a.Observer.FallbackCount(registry.FakeImageDetection))
}

func TestDetectSyncTaskEndToEnd(t *testing.T) {
	var gotAuth string
	hive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"task-1","status":"succeeded","output":{"classes":[{"class":"ai_generated","score":0.8}]}}`))
	}))
	defer hive.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Provider.RegistryPath = "../../configs/models.hive.yaml"
	cfg.Hive.BaseURL = hive.URL
	cfg.Hive.APIKey = "hive-key"
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	handler, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	body := `{"mediaUrl":"https://example.com/a.jpg","modelId":"hive/ai_generated_detection"}`
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"modelId":"hive/ai_generated_detection"`)
	assert.Contains(t, rec.Body.String(), `"isFake":true`)
	assert.Equal(t, "token hive-key", gotAuth)
	assert.EqualValues(t, 1, a.Observer.GenuineCount(registry.HiveAIGenerated))
}

func TestMissingTokenIsConfigurationError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Provider.APIToken = ""
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	handler, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"mediaUrl":"https://example.com/a.jpg"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Redis.URL = "not a url"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig("http://127.0.0.1:1")
	cfg.HTTP.Addr = addr
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
