package driver

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned before any network call when no credential is configured.
var ErrMissingAPIKey = errors.New("api key is required")

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body and must never include API keys.
type ProviderError struct {
	Provider   string
	StatusCode int
	// Code is the symbolic error code or type, when the provider sends one.
	Code        string
	Message     string
	RawResponse []byte
}

var (
	authCodes = map[string]bool{
		"invalid_api_key":        true,
		"invalid_authentication": true,
		"authentication_error":   true,
		"permission_denied":      true,
		"unauthorized":           true,
	}
	rateLimitCodes = map[string]bool{
		"rate_limit_exceeded": true,
		"rate_limit_error":    true,
		"too_many_requests":   true,
	}
)

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s request failed: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// IsAuth reports whether the provider rejected the credential.
func (e *ProviderError) IsAuth() bool {
	return e != nil && (e.StatusCode == 401 || e.StatusCode == 403 || authCodes[e.Code])
}

// IsRateLimited reports whether the provider throttled the request.
func (e *ProviderError) IsRateLimited() bool {
	return e != nil && (e.StatusCode == 429 || rateLimitCodes[e.Code])
}
