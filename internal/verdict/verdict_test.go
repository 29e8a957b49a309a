package verdict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelFollowsThreshold(t *testing.T) {
	for i := 0; i <= 100; i++ {
		c := float64(i) / 100
		v := FromConfidence(c, DefaultThreshold, "https://x/y.jpg", "m")
		require.NotNil(t, v.IsFake)
		assert.Equal(t, c > DefaultThreshold, v.Label == LabelFake, "confidence %v", c)
		assert.Equal(t, v.Label == LabelFake, *v.IsFake, "confidence %v", c)
	}
}

func TestThresholdItselfIsReal(t *testing.T) {
	assert.Equal(t, LabelReal, Label(0.75, 0.75))
	assert.Equal(t, LabelFake, Label(0.7500001, 0.75))
}

func TestPassthroughOmitsScore(t *testing.T) {
	v := Passthrough("https://x/y.jpg", "other/model")
	assert.False(t, v.Determined())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "confidence")
	assert.NotContains(t, decoded, "isFake")
	assert.NotContains(t, decoded, "label")
	assert.Equal(t, "other/model", decoded["modelId"])
}

func TestRealVerdictKeepsFalseIsFake(t *testing.T) {
	data, err := json.Marshal(FromConfidence(0.2, DefaultThreshold, "u", "m"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"isFake":false,"confidence":0.2,"label":"real","mediaUrl":"u","modelId":"m","isFallback":false}`, string(data))
}

func TestValidThreshold(t *testing.T) {
	for _, tt := range []struct {
		t    float64
		want bool
	}{
		{0, false},
		{0.1, false},
		{MinThreshold, true},
		{DefaultThreshold, true},
		{0.849, true},
		{MaxThreshold, false},
		{0.9, false},
	} {
		assert.Equal(t, tt.want, ValidThreshold(tt.t), "threshold %v", tt.t)
	}
}
