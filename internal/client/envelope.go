package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Envelope is the {success, data, message} wrapper every board API response uses
type Envelope[T any] struct {
	Success bool    `json:"success"`
	Data    T       `json:"data"`
	Message *string `json:"message,omitempty"`
}

// decodeEnvelope reads resp into an Envelope and returns its data.
// Non-2xx statuses and success=false both become ErrAPI.
func decodeEnvelope[T any](resp *http.Response) (T, error) {
	var zero T

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var env Envelope[T]
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := ErrAPI{Status: resp.StatusCode}
		if decodeErr == nil && env.Message != nil {
			apiErr.Message = *env.Message
		}
		return zero, apiErr
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !env.Success {
		apiErr := ErrAPI{Status: resp.StatusCode}
		if env.Message != nil {
			apiErr.Message = *env.Message
		}
		return zero, apiErr
	}
	return env.Data, nil
}
