package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed indicates a provider login was rejected.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTokenRejected indicates the provider refused a token the local
	// clock still considered valid (server-side revocation).
	ErrTokenRejected = errors.New("token rejected by provider")

	// ErrSeriesUnavailable indicates no integration can serve calendar
	// history for the requested plant.
	ErrSeriesUnavailable = errors.New("generation series not available for plant")

	// ErrPlantNotFound indicates the provider does not report the plant.
	ErrPlantNotFound = errors.New("plant not found")
)

// APIError represents an error response from a provider endpoint.
type APIError struct {
	Provider   Kind
	StatusCode int
	Endpoint   string
	// FailCode is the provider's in-band error code, when the platform
	// reports failures inside a 200 response.
	FailCode int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error (HTTP %d) at %s: %s", e.Provider, e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s API error (HTTP %d) at %s", e.Provider, e.StatusCode, e.Endpoint)
}

// IsAuthRejection returns true for the status codes that mean the token is
// no longer accepted.
func (e *APIError) IsAuthRejection() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsAuthError reports whether err represents an authentication problem,
// either a failed login or a rejected token.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthRejection()
	}
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrTokenRejected)
}
