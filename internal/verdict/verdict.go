// Package verdict holds the provider-agnostic detection result.
package verdict

const (
	LabelFake = "fake"
	LabelReal = "real"

	// DefaultThreshold sits above 0.5 to suppress false positives.
	DefaultThreshold = 0.75

	// A usable threshold keeps the coarse keyword scores 0.15 and 0.85 on
	// opposite sides: MinThreshold <= t < MaxThreshold.
	MinThreshold = 0.15
	MaxThreshold = 0.85
)

func ValidThreshold(t float64) bool {
	return t >= MinThreshold && t < MaxThreshold
}

// Verdict is the canonical detection result. A passthrough verdict from an
// unrecognized provider leaves IsFake, Confidence and Label unset.
type Verdict struct {
	IsFake     *bool    `json:"isFake,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Label      string   `json:"label,omitempty"`
	MediaURL   string   `json:"mediaUrl"`
	ModelID    string   `json:"modelId"`
	IsFallback bool     `json:"isFallback"`
}

// FromConfidence builds a determined verdict; the label is always
// confidence > threshold ? fake : real.
func FromConfidence(confidence, threshold float64, mediaURL, modelID string) Verdict {
	label := Label(confidence, threshold)
	isFake := label == LabelFake
	return Verdict{
		IsFake:     &isFake,
		Confidence: &confidence,
		Label:      label,
		MediaURL:   mediaURL,
		ModelID:    modelID,
	}
}

func Passthrough(mediaURL, modelID string) Verdict {
	return Verdict{MediaURL: mediaURL, ModelID: modelID}
}

func Label(confidence, threshold float64) string {
	if confidence > threshold {
		return LabelFake
	}
	return LabelReal
}

// Determined reports whether the verdict carries a confidence score.
func (v Verdict) Determined() bool {
	return v.Confidence != nil
}
