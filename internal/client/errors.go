package client

import "fmt"

// ErrNotFound is returned when the server answers 404 for an entity
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("entity not found: %s", e.ID)
}

// ErrAPI is a non-success response, either an HTTP error status or an
// envelope with success=false
type ErrAPI struct {
	Status  int
	Message string
}

func (e ErrAPI) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed with status %d: %s", e.Status, e.Message)
}

// ErrRateLimited is returned once 429 retries are exhausted
type ErrRateLimited struct {
	RetryAfter int // seconds, 0 if the server did not say
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
}
