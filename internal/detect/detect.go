// Package detect runs one detection end to end: it validates the request,
// resolves the provider, drives the prediction job and demotes every provider
// failure to a fallback verdict.
package detect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deepguard/internal/apperr"
	"deepguard/internal/fallback"
	"deepguard/internal/normalize"
	"deepguard/internal/observability"
	"deepguard/internal/prediction"
	"deepguard/internal/registry"
	"deepguard/internal/verdict"
)

const ReasonEmbeddedMedia = "embedded_media"

// Predictor drives a submit-then-poll prediction to a terminal job. On error
// the returned job still carries the prediction id when one was assigned.
type Predictor interface {
	Predict(ctx context.Context, mediaURL string, desc registry.Descriptor, credential string, opts prediction.PollOptions) (prediction.Job, error)
}

// SyncTasks runs providers that answer in a single call.
type SyncTasks interface {
	Run(ctx context.Context, mediaURL string, desc registry.Descriptor, credential string) (prediction.Job, error)
}

type Result struct {
	Verdict verdict.Verdict `json:"result"`
	Raw     json.RawMessage `json:"raw"`
	// FallbackReason is empty for genuine results.
	FallbackReason string `json:"-"`
}

type Deps struct {
	Registry   *registry.Registry
	Predictor  Predictor
	SyncTasks  SyncTasks
	Normalizer *normalize.Normalizer
	Fallback   *fallback.Generator
	Credential string
	// SyncCredential authenticates sync_task providers.
	SyncCredential string
	Poll           prediction.PollOptions
	Logger         *zap.Logger
	Recorder       observability.Recorder
}

type Service struct {
	registry       *registry.Registry
	predictor      Predictor
	syncTasks      SyncTasks
	normalizer     *normalize.Normalizer
	fallback       *fallback.Generator
	credential     string
	syncCredential string
	poll           prediction.PollOptions
	logger         *zap.Logger
	recorder       observability.Recorder
	now            func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		registry:       d.Registry,
		predictor:      d.Predictor,
		syncTasks:      d.SyncTasks,
		normalizer:     d.Normalizer,
		fallback:       d.Fallback,
		credential:     d.Credential,
		syncCredential: d.SyncCredential,
		poll:           d.Poll,
		logger:         d.Logger,
		recorder:       d.Recorder,
		now:            time.Now,
	}
	if s.registry == nil {
		s.registry = registry.Builtin()
	}
	if s.normalizer == nil {
		s.normalizer = normalize.New(verdict.DefaultThreshold)
	}
	if s.fallback == nil {
		s.fallback = fallback.New(s.registry.DefaultID(), s.normalizer.Threshold())
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.recorder == nil {
		s.recorder = observability.Fanout()
	}
	return s
}

func (s *Service) Registry() *registry.Registry { return s.registry }

// outcome is the result of one attempt: exactly one of ok or err is set.
type outcome struct {
	ok           *Result
	err          *apperr.Error
	predictionID string
}

func succeeded(v verdict.Verdict, raw json.RawMessage, predictionID string) outcome {
	return outcome{ok: &Result{Verdict: v, Raw: raw}, predictionID: predictionID}
}

func absorbed(err *apperr.Error, predictionID string) outcome {
	return outcome{err: err, predictionID: predictionID}
}

// Detect returns a verdict for mediaRef. Validation, unknown provider and
// missing credential errors are returned; every provider failure becomes a
// fallback result. The only other error is the caller's context error.
func (s *Service) Detect(ctx context.Context, mediaRef, providerID string) (Result, error) {
	started := s.now()

	media, kind, err := parseMedia(mediaRef)
	if err != nil {
		return Result{}, err
	}
	desc, err := s.registry.Resolve(providerID)
	if err != nil {
		return Result{}, err
	}
	credential, err := s.credentialFor(desc)
	if err != nil {
		return Result{}, err
	}

	if kind == mediaEmbedded {
		return s.demote(ctx, media, desc, ReasonEmbeddedMedia, nil, "", started), nil
	}

	out := s.attempt(ctx, media, desc, credential)
	if ctxErr := ctx.Err(); ctxErr != nil && out.ok == nil {
		return Result{}, ctxErr
	}
	if out.err != nil && apperr.Surfaced(out.err.Kind) {
		return Result{}, out.err
	}
	if out.err != nil {
		return s.demote(ctx, media, desc, string(out.err.Kind), out.err, out.predictionID, started), nil
	}

	s.logger.Debug("prediction normalized",
		zap.String("model_id", desc.ID),
		zap.String("prediction_id", out.predictionID),
	)
	s.recorder.Record(ctx, observability.Event{
		ID:           uuid.NewString(),
		ModelID:      desc.ID,
		PredictionID: out.predictionID,
		Outcome:      observability.OutcomeGenuine,
		Duration:     s.now().Sub(started),
		At:           s.now().UTC(),
	})
	return *out.ok, nil
}

func (s *Service) credentialFor(desc registry.Descriptor) (string, error) {
	const op = "detect.credential"
	if desc.Protocol == registry.ProtocolSyncTask {
		if s.syncTasks == nil {
			return "", apperr.New(apperr.KindConfiguration, op, "no sync task client configured for "+desc.ID)
		}
		if s.syncCredential == "" {
			return "", apperr.New(apperr.KindConfiguration, op, "sync task API key is not configured")
		}
		return s.syncCredential, nil
	}
	if s.credential == "" {
		return "", apperr.New(apperr.KindConfiguration, op, "provider API token is not configured")
	}
	return s.credential, nil
}

func (s *Service) attempt(ctx context.Context, media string, desc registry.Descriptor, credential string) outcome {
	const op = "detect.attempt"
	var (
		job prediction.Job
		err error
	)
	if desc.Protocol == registry.ProtocolSyncTask {
		job, err = s.syncTasks.Run(ctx, media, desc, credential)
	} else {
		job, err = s.predictor.Predict(ctx, media, desc, credential, s.poll)
	}
	if err != nil {
		return absorbed(apperr.Wrap(apperr.KindProviderPoll, op, "prediction failed", err), job.ID)
	}
	if job.Status == prediction.StatusFailed {
		msg := job.Error
		if msg == "" {
			msg = "prediction failed"
		}
		return absorbed(apperr.New(apperr.KindPredictionFailed, op, msg), job.ID)
	}

	v, err := s.normalizer.Normalize(job, desc, media)
	if err != nil {
		return absorbed(apperr.Wrap(apperr.KindMalformedOutput, op, "normalize failed", err), job.ID)
	}
	return succeeded(v, job.Output, job.ID)
}

func (s *Service) demote(ctx context.Context, media string, desc registry.Descriptor, reason string, cause error, predictionID string, started time.Time) Result {
	fb := s.fallback.Generate(media)
	ev := observability.Event{
		ID:           uuid.NewString(),
		ModelID:      desc.ID,
		PredictionID: predictionID,
		Outcome:      observability.OutcomeFallback,
		Reason:       reason,
		Err:          cause,
		Duration:     s.now().Sub(started),
		At:           s.now().UTC(),
	}
	s.recorder.Record(ctx, ev)
	return Result{Verdict: fb.Verdict, Raw: fb.Raw, FallbackReason: reason}
}
