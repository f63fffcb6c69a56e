package pipeline

import (
	"encoding/json"
	"fmt"
)

// Envelope is the backend success wrapper.
type Envelope[T any] struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Data       T      `json:"data"`
	Message    string `json:"message"`
}

// DecodeEnvelope decodes the response body as an Envelope carrying T.
func DecodeEnvelope[T any](response Response) (Envelope[T], error) {
	var envelope Envelope[T]
	if decodeErr := json.Unmarshal(response.Body, &envelope); decodeErr != nil {
		return Envelope[T]{}, fmt.Errorf("pipeline.decode_envelope: %w", decodeErr)
	}
	return envelope, nil
}
