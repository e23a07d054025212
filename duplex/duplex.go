// Package duplex composes two zerobuffer rings into a request/response
// channel. A channel named N is the pair of rings "N_request" (client
// writes, server reads) and "N_response" (server writes, client reads).
// Responses correlate to requests through the rings' own sequence numbers:
// the response frame for request k carries sequence k as long as every
// earlier request produced exactly one response. A skipped response shifts
// the sequence of every later one.
package duplex

import (
	"go.uber.org/zap"
)

const (
	requestSuffix  = "_request"
	responseSuffix = "_response"
)

type options struct {
	log *zap.Logger
}

func newOptions() *options {
	return &options{
		log: zap.NewNop(),
	}
}

// Option configures a Server or a Client.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}
