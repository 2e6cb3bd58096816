package cloudstack

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job states as reported by the jobstatus field. PENDING is the only
// non-terminal state.
const (
	JobPending = 0
	JobSuccess = 1
	JobFailure = 2
)

// Consecutive transient poll failures tolerated before the poller gives
// up. Terminal server answers are never retried this way.
const maxPollFailures = 10

// awaitJob polls the job-status query until the job leaves PENDING, the
// job timeout elapses, or ctx is cancelled. On success it returns the
// unwrapped jobresult payload.
func (c *Client) awaitJob(ctx context.Context, parent *call, jobID string) (any, error) {
	params, err := canonicalize(jobStatusCommand, Params{"jobid": jobID})
	if err != nil {
		return nil, err
	}
	cl := &call{
		command: jobStatusCommand,
		params:  params,
		headers: parent.headers,
		id:      parent.id,
	}

	var deadline time.Time
	if c.cfg.JobTimeout > 0 {
		deadline = time.Now().Add(c.cfg.JobTimeout)
	}

	timer := time.NewTimer(c.cfg.PollInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	failures := 0
	for {
		data, err := c.roundTrip(ctx, cl)
		switch {
		case err == nil:
			failures = 0
			status, _ := intValue(data["jobstatus"])
			if status != JobPending {
				resultCode, _ := intValue(data["jobresultcode"])
				if status != JobSuccess || resultCode != 0 {
					return nil, &JobError{JobID: jobID, ResultCode: resultCode, Result: data["jobresult"]}
				}
				result, ok := data["jobresult"]
				if !ok {
					return nil, fmt.Errorf("cloudstack: job %s finished without a result", jobID)
				}
				return result, nil
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			// Terminal server answers propagate; transient transport
			// trouble is tolerated for a while, like any long poll.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return nil, err
			}
			failures++
			if failures > maxPollFailures {
				return nil, err
			}
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, &JobTimeoutError{JobID: jobID, Timeout: c.cfg.JobTimeout}
		}

		timer.Reset(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, &JobTimeoutError{JobID: jobID, Timeout: c.cfg.JobTimeout}
		}
	}
}
