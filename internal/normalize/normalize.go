// Package normalize turns raw prediction output into canonical verdicts.
//
// Decoders are looked up by provider id in a table fixed at construction time.
// Providers without a decoder get a passthrough verdict that carries no score.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"deepguard/internal/apperr"
	"deepguard/internal/prediction"
	"deepguard/internal/registry"
	"deepguard/internal/verdict"
)

const op = "normalize"

// Decoder converts one provider's output into a verdict.
type Decoder func(output json.RawMessage, threshold float64, mediaURL, modelID string) (verdict.Verdict, error)

// Entry binds a decoder to a provider id. A zero Threshold means the
// normalizer's threshold; a provider with its own calibration sets it.
type Entry struct {
	ProviderID string
	Decode     Decoder
	Threshold  float64
}

// HiveThreshold is the ai_generated score above which Hive results are fake.
const HiveThreshold = 0.7

type Normalizer struct {
	threshold float64
	entries   map[string]Entry
}

// New builds the decoder table. A threshold outside
// [verdict.MinThreshold, verdict.MaxThreshold) is replaced by the default.
func New(threshold float64, extra ...Entry) *Normalizer {
	if !verdict.ValidThreshold(threshold) {
		threshold = verdict.DefaultThreshold
	}
	n := &Normalizer{
		threshold: threshold,
		entries:   make(map[string]Entry),
	}
	builtin := []Entry{
		{ProviderID: registry.FakeImageDetection, Decode: DecodeProbability},
		{ProviderID: registry.DeepfakeDetection, Decode: DecodeKeyword},
		{ProviderID: registry.HiveAIGenerated, Decode: DecodeClassScore, Threshold: HiveThreshold},
	}
	for _, e := range append(builtin, extra...) {
		if e.ProviderID != "" && e.Decode != nil {
			n.entries[e.ProviderID] = e
		}
	}
	return n
}

func (n *Normalizer) Threshold() float64 { return n.threshold }

func (n *Normalizer) Normalize(job prediction.Job, desc registry.Descriptor, mediaURL string) (verdict.Verdict, error) {
	entry, ok := n.entries[desc.ID]
	if !ok {
		return verdict.Passthrough(mediaURL, desc.ID), nil
	}
	if !job.HasOutput() {
		return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, fmt.Sprintf("prediction %s has no output", job.ID))
	}
	threshold := n.threshold
	if entry.Threshold > 0 {
		threshold = entry.Threshold
	}
	return entry.Decode(job.Output, threshold, mediaURL, desc.ID)
}

// DecodeProbability reads a fake-probability given as a decimal string or a bare number.
func DecodeProbability(output json.RawMessage, threshold float64, mediaURL, modelID string) (verdict.Verdict, error) {
	var text string
	if err := json.Unmarshal(output, &text); err != nil {
		var num json.Number
		dec := json.NewDecoder(bytes.NewReader(output))
		dec.UseNumber()
		if err := dec.Decode(&num); err != nil {
			return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, "probability output is neither string nor number")
		}
		text = num.String()
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return verdict.Verdict{}, apperr.Wrap(apperr.KindMalformedOutput, op, fmt.Sprintf("non-numeric probability %q", text), err)
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, fmt.Sprintf("probability %v outside [0,1]", value))
	}
	return verdict.FromConfidence(value, threshold, mediaURL, modelID), nil
}

const (
	keywordFakeConfidence = 0.85
	keywordRealConfidence = 0.15
)

// DecodeKeyword maps free-text output onto a coarse score: any mention of
// "fake" scores 0.85, anything else 0.15.
func DecodeKeyword(output json.RawMessage, threshold float64, mediaURL, modelID string) (verdict.Verdict, error) {
	var text string
	if err := json.Unmarshal(output, &text); err != nil {
		var parts []string
		if err := json.Unmarshal(output, &parts); err != nil {
			return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, "text output is neither string nor list of strings")
		}
		text = strings.Join(parts, " ")
	}
	confidence := keywordRealConfidence
	if strings.Contains(strings.ToLower(text), "fake") {
		confidence = keywordFakeConfidence
	}
	return verdict.FromConfidence(confidence, threshold, mediaURL, modelID), nil
}

// DecodeClassScore reads the "ai_generated" class score from a classifier
// output of the form {"classes":[{"class":..., "score":...}]}.
func DecodeClassScore(output json.RawMessage, threshold float64, mediaURL, modelID string) (verdict.Verdict, error) {
	var decoded struct {
		Classes []struct {
			Class string   `json:"class"`
			Score *float64 `json:"score"`
		} `json:"classes"`
	}
	if err := json.Unmarshal(output, &decoded); err != nil {
		return verdict.Verdict{}, apperr.Wrap(apperr.KindMalformedOutput, op, "class output is not an object with classes", err)
	}
	for _, c := range decoded.Classes {
		if c.Class != "ai_generated" {
			continue
		}
		if c.Score == nil || math.IsNaN(*c.Score) || *c.Score < 0 || *c.Score > 1 {
			return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, "ai_generated score missing or outside [0,1]")
		}
		return verdict.FromConfidence(*c.Score, threshold, mediaURL, modelID), nil
	}
	return verdict.Verdict{}, apperr.New(apperr.KindMalformedOutput, op, "no ai_generated class in output")
}
