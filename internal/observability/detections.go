package observability

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Reporter forwards fallback events to an external error tracker.
type Reporter interface {
	ReportFallback(ev Event)
}

// DetectionObserver logs every detection outcome and keeps per-model fallback
// counts so repeated fallbacks stand out from genuine results.
type DetectionObserver struct {
	logger   *zap.Logger
	reporter Reporter

	mu             sync.Mutex
	fallbackCounts map[string]int64
	genuineCounts  map[string]int64
}

func NewDetectionObserver(logger *zap.Logger, reporter Reporter) *DetectionObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectionObserver{
		logger:         logger,
		reporter:       reporter,
		fallbackCounts: make(map[string]int64),
		genuineCounts:  make(map[string]int64),
	}
}

func (o *DetectionObserver) Record(_ context.Context, ev Event) {
	if o == nil {
		return
	}
	switch ev.Outcome {
	case OutcomeFallback:
		o.recordFallback(ev)
	default:
		o.recordGenuine(ev)
	}
}

func (o *DetectionObserver) recordGenuine(ev Event) {
	o.mu.Lock()
	o.genuineCounts[ev.ModelID]++
	o.mu.Unlock()

	o.logger.Info("detection completed",
		zap.String("detection_id", ev.ID),
		zap.String("model_id", ev.ModelID),
		zap.String("prediction_id", ev.PredictionID),
		zap.Duration("duration", ev.Duration))
}

func (o *DetectionObserver) recordFallback(ev Event) {
	o.mu.Lock()
	o.fallbackCounts[ev.ModelID]++
	count := o.fallbackCounts[ev.ModelID]
	o.mu.Unlock()

	o.logger.Warn("detection fell back to synthetic verdict",
		zap.String("detection_id", ev.ID),
		zap.String("model_id", ev.ModelID),
		zap.String("prediction_id", ev.PredictionID),
		zap.String("reason", ev.Reason),
		zap.Int64("count", count),
		zap.Duration("duration", ev.Duration),
		zap.Error(ev.Err))

	if count%10 == 0 {
		o.logger.Error("repeated detection fallbacks",
			zap.String("model_id", ev.ModelID),
			zap.String("reason", ev.Reason),
			zap.Int64("repeated_fallback_count", count))
	}
	if o.reporter != nil {
		o.reporter.ReportFallback(ev)
	}
}

func (o *DetectionObserver) FallbackCount(modelID string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallbackCounts[modelID]
}

func (o *DetectionObserver) GenuineCount(modelID string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.genuineCounts[modelID]
}
