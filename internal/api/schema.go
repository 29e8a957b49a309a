package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/detect_request.json
var detectRequestSchema []byte

const detectRequestSchemaURL = "deepguard://schema/detect_request.json"

type detectRequest struct {
	MediaURL string `json:"mediaUrl"`
	ModelID  string `json:"modelId"`
}

func compileDetectSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(detectRequestSchemaURL, bytes.NewReader(detectRequestSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile(detectRequestSchemaURL)
}

// decodeDetectRequest validates body against the request schema before
// binding it.
func decodeDetectRequest(schema *jsonschema.Schema, body []byte) (detectRequest, error) {
	var req detectRequest
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return req, fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return req, fmt.Errorf("invalid request: %s", leafMessage(ve))
		}
		return req, fmt.Errorf("invalid request: %w", err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("invalid json: %w", err)
	}
	return req, nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
