package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter returns nil, nil when dsn is empty.
func NewSentryReporter(dsn, environment string) (*SentryReporter, error) {
	if dsn == "" {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) ReportFallback(ev Event) {
	if r == nil || r.hub == nil {
		return
	}
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("model_id", ev.ModelID)
		scope.SetTag("fallback_reason", ev.Reason)
		scope.SetTag("detection_id", ev.ID)
		if ev.PredictionID != "" {
			scope.SetTag("prediction_id", ev.PredictionID)
		}
	})
	if ev.Err != nil {
		hub.CaptureException(ev.Err)
		return
	}
	hub.CaptureMessage("detection fell back to synthetic verdict: " + ev.Reason)
}

func (r *SentryReporter) Flush(timeout time.Duration) {
	if r == nil || r.hub == nil {
		return
	}
	r.hub.Flush(timeout)
}
