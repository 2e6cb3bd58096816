package cloudstack

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asyncJobServer answers deployVirtualMachine with a job ticket and
// replays the given job-status bodies in order, sticking to the last
// one once exhausted.
func asyncJobServer(t *testing.T, statuses []string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("command") {
		case "deployVirtualMachine":
			writeJSON(w, http.StatusOK, `{"deployvirtualmachineresponse": {"jobid": "job-1", "id": "vm-1"}}`)
		case "queryAsyncJobResult":
			require.Equal(t, "job-1", r.URL.Query().Get("jobid"))
			n := int(polls.Add(1))
			if n > len(statuses) {
				n = len(statuses)
			}
			writeJSON(w, http.StatusOK, statuses[n-1])
		default:
			t.Errorf("unexpected command %q", r.URL.Query().Get("command"))
		}
	}))
	return srv, &polls
}

const (
	jobPendingBody = `{"queryasyncjobresultresponse": {"jobstatus": 0}}`
	jobSuccessBody = `{"queryasyncjobresultresponse": {"jobstatus": 1, "jobresultcode": 0,
		"jobresult": {"virtualmachine": {"id": "vm-1", "state": "Running"}}}}`
)

func TestRequestResolvesAsyncJob(t *testing.T) {
	srv, polls := asyncJobServer(t, []string{jobPendingBody, jobPendingBody, jobSuccessBody})
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, PollInterval: 10 * time.Millisecond})

	start := time.Now()
	res, err := c.Request(context.Background(), "deployVirtualMachine", Params{"zoneid": "z-1"})
	require.NoError(t, err)

	vm, ok := res.Map()["virtualmachine"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vm-1", vm["id"])
	assert.Equal(t, "Running", vm["state"])

	assert.Equal(t, int32(3), polls.Load())
	// Two PENDING answers mean at least two poll pauses elapsed.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRequestJobTimeout(t *testing.T) {
	srv, _ := asyncJobServer(t, []string{jobPendingBody})
	defer srv.Close()

	c := newTestClient(t, Config{
		Endpoint:     srv.URL,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   50 * time.Millisecond,
	})

	start := time.Now()
	_, err := c.Request(context.Background(), "deployVirtualMachine", nil)

	var toErr *JobTimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, "job-1", toErr.JobID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestJobFailure(t *testing.T) {
	failed := `{"queryasyncjobresultresponse": {"jobstatus": 2, "jobresultcode": 530,
		"jobresult": {"errorcode": 530, "errortext": "insufficient capacity"}}}`
	srv, _ := asyncJobServer(t, []string{failed})
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, PollInterval: time.Millisecond})
	_, err := c.Request(context.Background(), "deployVirtualMachine", nil)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "job-1", jobErr.JobID)
	assert.Equal(t, 530, jobErr.ResultCode)
	require.NotNil(t, jobErr.Result)
}

// A SUCCESS status with a non-zero result code is still a failed job.
func TestRequestJobSuccessWithNonZeroResultCode(t *testing.T) {
	odd := `{"queryasyncjobresultresponse": {"jobstatus": 1, "jobresultcode": 471,
		"jobresult": {"errortext": "quota exceeded"}}}`
	srv, _ := asyncJobServer(t, []string{odd})
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, PollInterval: time.Millisecond})
	_, err := c.Request(context.Background(), "deployVirtualMachine", nil)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, 471, jobErr.ResultCode)
}

func TestRequestFetchResultDisabledReturnsTicket(t *testing.T) {
	srv, polls := asyncJobServer(t, []string{jobSuccessBody})
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL})
	res, err := c.Request(context.Background(), "deployVirtualMachine", nil, WithFetchResult(false))
	require.NoError(t, err)

	assert.Equal(t, "job-1", res.Map()["jobid"])
	assert.Equal(t, int32(0), polls.Load())
}

// Querying the job status directly returns the raw status document, even
// when the job is still pending.
func TestQueryAsyncJobResultIsNeverResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "queryAsyncJobResult", r.URL.Query().Get("command"))
		writeJSON(w, http.StatusOK,
			`{"queryasyncjobresultresponse": {"jobid": "job-1", "jobstatus": 0}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL})
	res, err := c.Request(context.Background(), "queryAsyncJobResult", Params{"jobid": "job-1"})
	require.NoError(t, err)
	assert.Equal(t, float64(0), res.Map()["jobstatus"])
}

func TestRequestAsyncCancelDuringPolling(t *testing.T) {
	srv, _ := asyncJobServer(t, []string{jobPendingBody})
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	ch := c.RequestAsync(ctx, "deployVirtualMachine", nil)
	time.AfterFunc(20*time.Millisecond, cancel)

	select {
	case out := <-ch:
		require.ErrorIs(t, out.Err, context.Canceled)
		assert.Nil(t, out.Result)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the poll pause")
	}
}

// One transient poll failure must not abort the wait.
func TestJobPollingToleratesTransientFailures(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("command") {
		case "deployVirtualMachine":
			writeJSON(w, http.StatusOK, `{"deployvirtualmachineresponse": {"jobid": "job-1"}}`)
		case "queryAsyncJobResult":
			if polls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, "upstream hiccup")
				return
			}
			writeJSON(w, http.StatusOK, jobSuccessBody)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, PollInterval: time.Millisecond})
	res, err := c.Request(context.Background(), "deployVirtualMachine", nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Map()["virtualmachine"])
	assert.Equal(t, int32(2), polls.Load())
}
