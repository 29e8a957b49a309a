package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDetectRequest(t *testing.T) {
	schema, err := compileDetectSchema()
	require.NoError(t, err)

	req, err := decodeDetectRequest(schema, []byte(`{"mediaUrl":"https://example.com/a.jpg","modelId":"bcmi/fake-image-detection","extra":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.jpg", req.MediaURL)
	assert.Equal(t, "bcmi/fake-image-detection", req.ModelID)

	req, err = decodeDetectRequest(schema, []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.MediaURL)
}

func TestDecodeDetectRequestErrors(t *testing.T) {
	schema, err := compileDetectSchema()
	require.NoError(t, err)

	cases := []struct {
		body string
		want string
	}{
		{`{"mediaUrl":`, "invalid json"},
		{`{"mediaUrl":7}`, "invalid request"},
		{`{"modelId":12345678901234567890}`, "invalid request"},
		{`[]`, "invalid request"},
		{`{"mediaUrl":"x"} trailing`, "invalid json"},
	}
	for _, tc := range cases {
		_, err := decodeDetectRequest(schema, []byte(tc.body))
		require.Error(t, err, tc.body)
		assert.Contains(t, err.Error(), tc.want, tc.body)
	}
}
