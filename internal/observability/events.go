package observability

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeGenuine  Outcome = "genuine"
	OutcomeFallback Outcome = "fallback"
)

// Event describes one finished detection. It never carries the verdict itself.
type Event struct {
	ID           string
	ModelID      string
	PredictionID string
	Outcome      Outcome
	Reason       string
	Err          error
	Duration     time.Duration
	At           time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type fanout []Recorder

func (f fanout) Record(ctx context.Context, ev Event) {
	for _, r := range f {
		r.Record(ctx, ev)
	}
}

// Fanout records each event on every non-nil recorder, in order.
func Fanout(recorders ...Recorder) Recorder {
	var out fanout
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
