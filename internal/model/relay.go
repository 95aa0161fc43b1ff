// Package model defines shared types for the relay.
package model

import (
	"encoding/json"
	"io"
	"net/http"
)

// UpstreamResponse is the raw reply of the workflow endpoint.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RelayResponse is what the relay reflects back to its caller: the upstream
// status and a JSON body (the upstream's JSON value, or its text as a string).
type RelayResponse struct {
	StatusCode int
	Body       json.RawMessage
}
