package main

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

// Shared client for all ConnectWise calls. Every remote call is
// synchronous; the timeout bounds how long one ticket step can stall.
var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ConfigureExternalHTTPClient applies the configured timeout and returns
// the value actually in effect. Zero or negative keeps the default.
func ConfigureExternalHTTPClient(seconds int) time.Duration {
	if seconds <= 0 {
		externalHTTPClient.Timeout = defaultExternalHTTPTimeout
		return defaultExternalHTTPTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	externalHTTPClient.Timeout = timeout
	return timeout
}
