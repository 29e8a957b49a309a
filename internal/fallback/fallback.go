// Package fallback produces synthetic verdicts for when real inference cannot
// complete. Every verdict it emits has IsFallback set.
package fallback

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"deepguard/internal/verdict"
)

const (
	MinConfidence = 0.2
	MaxConfidence = 0.9
)

type Result struct {
	Verdict verdict.Verdict
	Raw     json.RawMessage
}

type Generator struct {
	defaultID string
	threshold float64

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Generator)

// WithSeed makes the generated confidences reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rnd = rand.New(rand.NewSource(seed))
	}
}

func New(defaultID string, threshold float64, opts ...Option) *Generator {
	if !verdict.ValidThreshold(threshold) {
		threshold = verdict.DefaultThreshold
	}
	g := &Generator{
		defaultID: defaultID,
		threshold: threshold,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate samples a confidence uniformly from [MinConfidence, MaxConfidence)
// and labels it with the same threshold rule as real results.
func (g *Generator) Generate(mediaURL string) Result {
	g.mu.Lock()
	r := g.rnd.Float64()
	g.mu.Unlock()

	confidence := MinConfidence + r*(MaxConfidence-MinConfidence)
	v := verdict.FromConfidence(confidence, g.threshold, mediaURL, g.defaultID)
	v.IsFallback = true

	raw, _ := json.Marshal(strconv.FormatFloat(confidence, 'f', -1, 64))
	return Result{Verdict: v, Raw: raw}
}
