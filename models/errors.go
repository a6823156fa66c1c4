package models

import "errors"

var (
	ErrRateLimited       = errors.New("rate limited")                  // 429, retried with backoff
	ErrTransientUpstream = errors.New("transient upstream failure")    // retries exhausted
	ErrMalformedResponse = errors.New("malformed upstream response")   // not retried
	ErrUpstreamRejected  = errors.New("upstream rejected the request") // non-retryable status or vendor error
	ErrTransientStore    = errors.New("transient store failure")
	ErrFatalBootstrap    = errors.New("fatal bootstrap failure")
	ErrNotFound          = errors.New("not found")
)
