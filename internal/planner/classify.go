package planner

import (
	"errors"
	"strings"

	"github.com/studyforge/studyforge/internal/ailink/driver"
)

// Kind is the failure category of a generation attempt.
type Kind int

const (
	KindUnclassified Kind = iota
	KindUpstreamAuth
	KindUpstreamRateLimit
	KindUpstreamEmpty
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindUpstreamRateLimit:
		return "upstream_rate_limit"
	case KindUpstreamEmpty:
		return "upstream_empty"
	default:
		return "unclassified"
	}
}

// Classify maps a Generate error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}
	if errors.Is(err, ErrEmptyPlan) {
		return KindUpstreamEmpty
	}
	if errors.Is(err, driver.ErrMissingAPIKey) {
		return KindUpstreamAuth
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		switch {
		case perr.IsAuth():
			return KindUpstreamAuth
		case perr.IsRateLimited():
			return KindUpstreamRateLimit
		}
	}

	// Some gateways report these conditions only in the message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"):
		return KindUpstreamAuth
	case strings.Contains(msg, "rate limit"):
		return KindUpstreamRateLimit
	}
	return KindUnclassified
}
