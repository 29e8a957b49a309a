// Package probe checks whether a backend answers within a short timeout.
// The answer is advisory; nothing in the detection path is gated on it.
package probe

import (
	"context"
	"net/http"
	"time"
)

const DefaultTimeout = 2 * time.Second

// Check issues one GET to url and reports whether it answered 2xx within timeout.
func Check(ctx context.Context, url string, timeout time.Duration) bool {
	return check(ctx, url, "", timeout)
}

func check(ctx context.Context, url, token string, timeout time.Duration) bool {
	if url == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Prober checks a fixed URL. Token, when set, is sent as a bearer credential
// so authenticated listing endpoints can serve as the liveness target.
type Prober struct {
	URL     string
	Token   string
	Timeout time.Duration
}

func (p Prober) Available(ctx context.Context) bool {
	return check(ctx, p.URL, p.Token, p.Timeout)
}
