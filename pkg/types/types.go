// Package types holds the descriptor, response and result shapes shared by
// the replay engine and its callers.
package types

import (
	"fmt"
)

// Response is one observed HTTP response. It is not modified after the
// engine returns it.
type Response struct {
	URL     string          `json:"url"`
	Status  int             `json:"status"`
	Header  *ResponseHeader `json:"header"`
	Content string          `json:"content"`

	// Truncated is set when the body was cut at the engine's size limit.
	Truncated bool `json:"truncated,omitempty"`

	// Body is the decoded body before scrubbing. It is what gets saved to disk.
	Body []byte `json:"-"`
	// Request is the snapshot that produced this response.
	Request *Request `json:"-"`
}

type Hop struct {
	Request  Request   `json:"request"`
	Response *Response `json:"response"`
}

// History lists the hops of one redirect chain, oldest first.
type History []Hop

// Result is the wire form of one replay. Error is set instead of returning
// an error for transport failures.
type Result struct {
	SavePath string          `json:"savePath"`
	URL      string          `json:"url"`
	Status   int             `json:"status"`
	Header   *ResponseHeader `json:"header"`
	Content  string          `json:"content"`
	History  History         `json:"history"`
	Error    string          `json:"error,omitempty"`

	Truncated bool `json:"truncated,omitempty"`
}

// MalformedDescriptorError reports a descriptor that could not be decoded,
// usually after a placeholder substitution broke its JSON.
type MalformedDescriptorError struct {
	Reason string
	Err    error
}

func (e *MalformedDescriptorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed descriptor: %s: %v", e.Reason, e.Err)
	}
	return "malformed descriptor: " + e.Reason
}

func (e *MalformedDescriptorError) Unwrap() error {
	return e.Err
}
