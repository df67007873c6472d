// Package completion is the boundary to the external language-model service.
// Providers perform one HTTP call each; Guard wraps a Provider with the
// timeout, circuit breaker, deduplication and fallback replies the bot relies on.
package completion

import (
	"context"
	"errors"
)

// ErrMalformed is returned when the service answers with something that is
// not a usable completion.
var ErrMalformed = errors.New("malformed completion response")

// Request is one completion request.
type Request struct {
	Query  string
	System string
}

// Response is the service's answer. OK is false when the service replied but
// produced no usable text.
type Response struct {
	OK   bool
	Text string
}

// Provider is an external completion service.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
