package cloudstack

import (
	"fmt"
	"time"
)

// SigningError reports a request that could not be signed, typically
// because the credential is missing. It is returned before any network
// activity takes place.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return "cloudstack: signing failed: " + e.Reason
}

// TransportError reports a network-level failure or an unusable response
// after the retry budget, if any, was exhausted.
type TransportError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("cloudstack: %s: transport failure after %d attempts: %v", e.Command, e.Attempts, e.Err)
	}
	return fmt.Sprintf("cloudstack: %s: transport failure: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a logical failure returned by the server: either a
// non-2xx status with a CloudStack error body, or a 2xx response whose
// payload carries an errorcode. Response holds the unwrapped payload for
// inspection.
type APIError struct {
	Command     string
	StatusCode  int
	ErrorCode   int
	CSErrorCode int
	ErrorText   string
	Response    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudstack: %s: API error %d: %s (HTTP %d)",
		e.Command, e.ErrorCode, e.ErrorText, e.StatusCode)
}

// JobError reports an asynchronous job that reached the FAILURE state or
// finished with a non-zero result code. Result carries the server's
// jobresult payload, usually containing errorcode and errortext.
type JobError struct {
	JobID      string
	ResultCode int
	Result     any
}

func (e *JobError) Error() string {
	return fmt.Sprintf("cloudstack: job %s failed (result code %d): %v", e.JobID, e.ResultCode, e.Result)
}

// JobTimeoutError reports that a job was still pending when the configured
// job timeout elapsed. The server-side job keeps running; only the client
// stopped waiting.
type JobTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("cloudstack: timeout waiting for job %s after %s", e.JobID, e.Timeout)
}
