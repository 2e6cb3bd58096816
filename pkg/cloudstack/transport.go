package cloudstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// call is the per-invocation state threaded through the transport. It is
// stack-local to one logical invocation; concurrent calls never share it.
type call struct {
	command string
	params  map[string]string
	headers http.Header
	opcode  string
	id      string
}

// retryable reports whether a command may be reissued after a transient
// failure. Only list queries and the job-status query are idempotent
// enough to retry blindly.
func retryable(command string) bool {
	return strings.HasPrefix(command, "list") || strings.HasPrefix(command, "queryAsync")
}

// roundTrip signs the call's parameters once and executes the exchange,
// retrying transient failures within the configured budget for retryable
// commands. The signed request is never altered between attempts.
func (c *Client) roundTrip(ctx context.Context, cl *call) (map[string]any, error) {
	signed, err := c.signParams(cl.params)
	if err != nil {
		return nil, err
	}

	attempts := 0
	op := func() (map[string]any, error) {
		attempts++
		data, err := c.exchange(ctx, cl, signed, attempts)
		if err != nil && !retryable(cl.command) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryWait), uint64(c.cfg.Retry)),
		ctx,
	)
	data, err := backoff.RetryWithData(op, bo)
	if err != nil {
		var apiErr *APIError
		var trErr *TransportError
		if errors.As(err, &apiErr) || errors.As(err, &trErr) {
			return nil, err
		}
		return nil, &TransportError{Command: cl.command, Attempts: attempts, Err: err}
	}
	return data, nil
}

// exchange performs one HTTP request/response cycle and unwraps the
// response envelope. Server-reported application errors on a 2xx status
// are permanent; network errors and non-2xx statuses are left retryable.
func (c *Client) exchange(ctx context.Context, cl *call, signed map[string]string, attempt int) (map[string]any, error) {
	values := url.Values{}
	for k, v := range signed {
		values.Set(k, v)
	}

	var req *http.Request
	var err error
	if c.cfg.Method == "post" {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint,
			strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet,
			c.cfg.Endpoint+"?"+values.Encode(), nil)
	}
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	for k, vs := range cl.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range c.cfg.Headers {
		if len(vs) > 0 {
			req.Header.Set(k, vs[0])
		}
	}

	c.traceRequest(cl, values, req, attempt)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.traceResponse(cl, resp, body)

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") &&
		!strings.HasPrefix(contentType, "text/javascript") {
		err := &TransportError{
			Command: cl.command,
			Err: fmt.Errorf("expected a JSON response, got %q (HTTP %d); check that endpoint %q is correct",
				contentType, resp.StatusCode, c.cfg.Endpoint),
		}
		if resp.StatusCode/100 == 2 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		err := &TransportError{
			Command: cl.command,
			Err:     fmt.Errorf("malformed JSON response (HTTP %d): %w", resp.StatusCode, err),
		}
		if resp.StatusCode/100 == 2 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := unwrapEnvelope(cl, payload)
	if err != nil {
		return nil, backoff.Permanent(&TransportError{Command: cl.command, Err: err})
	}

	if resp.StatusCode/100 != 2 {
		return nil, newAPIError(cl.command, resp.StatusCode, data)
	}
	if _, ok := data["errorcode"]; ok {
		return nil, backoff.Permanent(newAPIError(cl.command, resp.StatusCode, data))
	}
	return data, nil
}

// unwrapEnvelope strips the single top-level response key. When the body
// carries several keys, the opcode override and then the lowercased
// command name select the one to unwrap.
func unwrapEnvelope(cl *call, payload map[string]any) (map[string]any, error) {
	var inner any
	switch {
	case len(payload) == 1:
		for _, v := range payload {
			inner = v
		}
	case cl.opcode != "" && payload[cl.opcode] != nil:
		inner = payload[cl.opcode]
	case payload[strings.ToLower(cl.command)+"response"] != nil:
		inner = payload[strings.ToLower(cl.command)+"response"]
	default:
		return nil, fmt.Errorf("no response key for command %q in payload", cl.command)
	}
	data, ok := inner.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response shape %T for command %q", inner, cl.command)
	}
	return data, nil
}

func newAPIError(command string, status int, data map[string]any) *APIError {
	apiErr := &APIError{
		Command:    command,
		StatusCode: status,
		Response:   data,
	}
	if v, ok := intValue(data["errorcode"]); ok {
		apiErr.ErrorCode = v
	}
	if v, ok := intValue(data["cserrorcode"]); ok {
		apiErr.CSErrorCode = v
	}
	if s, ok := data["errortext"].(string); ok {
		apiErr.ErrorText = s
	}
	return apiErr
}

func (c *Client) traceRequest(cl *call, values url.Values, req *http.Request, attempt int) {
	if !c.cfg.Trace {
		return
	}
	shown := values
	if !c.cfg.TraceSignature {
		shown = url.Values{}
		for k, vs := range values {
			shown[k] = vs
		}
		shown.Set("signature", "REDACTED")
	}
	if c.cfg.Method == "post" {
		c.log.Info("request", "id", cl.id, "attempt", attempt,
			"method", req.Method, "url", c.cfg.Endpoint, "body", shown.Encode())
	} else {
		c.log.Info("request", "id", cl.id, "attempt", attempt,
			"method", req.Method, "url", c.cfg.Endpoint+"?"+shown.Encode())
	}
}

func (c *Client) traceResponse(cl *call, resp *http.Response, body []byte) {
	if !c.cfg.Trace {
		return
	}
	c.log.Info("response", "id", cl.id, "status", resp.StatusCode, "body", string(body))
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
