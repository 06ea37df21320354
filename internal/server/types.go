// Package server provides the HTTP server for the media ingestion service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// ContentTypeNDJSON is the media type of the upload progress stream.
const ContentTypeNDJSON = "application/x-ndjson"

// ErrorResponse is the standard error response format for non-streaming endpoints.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
