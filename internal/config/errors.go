package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrMissingProjectID indicates that no project scope is configured
	ErrMissingProjectID = errors.New("projectId is required in configuration")

	// ErrInvalidPageSize indicates a page size outside 0..MaxPageSize
	ErrInvalidPageSize = errors.New("pageSize must be between 0 and 200")

	// ErrInvalidOrderBy indicates an unknown list ordering
	ErrInvalidOrderBy = errors.New("invalid orderBy")

	// ErrInvalidReconnect indicates negative or inverted reconnect delays
	ErrInvalidReconnect = errors.New("reconnectBaseMs must not exceed reconnectMaxMs")

	// ErrMissingJWTSubject indicates a JWT secret without a subject
	ErrMissingJWTSubject = errors.New("auth.subject is required when auth.secret is set")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")

	// ErrEndpointsNotInitialized indicates Endpoints was read before Init
	ErrEndpointsNotInitialized = errors.New("endpoints not initialized")
)
