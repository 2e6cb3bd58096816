package cloudstack

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPageSize     = 500
	defaultPollInterval = 2 * time.Second
	defaultExpiration   = 10 * time.Minute
	defaultRetryWait    = 500 * time.Millisecond

	// jobStatusCommand queries the state of an asynchronous job. Responses
	// to this command are never themselves resolved as jobs.
	jobStatusCommand = "queryAsyncJobResult"
)

// Config carries the connection settings of a Client. It is read once by
// New and never mutated afterwards; concurrent calls on the resulting
// Client share it read-only.
type Config struct {
	// Endpoint is the base URL of the API, e.g.
	// https://cloud.example.com/client/api.
	Endpoint string

	// Key and Secret form the credential pair used to sign requests. The
	// secret never appears in requests, logs or errors.
	Key    string
	Secret string

	// Timeout bounds each HTTP exchange. Defaults to 10s.
	Timeout time.Duration

	// Method is "get" (default) or "post". POST exists chiefly to bypass
	// URL length limits on large parameter sets.
	Method string

	// Verify is an optional CA bundle path overriding the system roots.
	Verify string

	// Cert is an optional client certificate path (PEM with certificate
	// and key).
	Cert string

	// Name is a display name for the configured endpoint, e.g. the
	// profile it was loaded from.
	Name string

	// Retry is how many times a failed exchange is reissued for list and
	// job-status commands. Zero disables retries.
	Retry int

	// JobTimeout bounds how long a call waits for an asynchronous job.
	// Zero means wait indefinitely.
	JobTimeout time.Duration

	// PollInterval is the pause between job-status queries. Defaults to 2s.
	PollInterval time.Duration

	// Expiration is the validity window of request signatures. A negative
	// value disables signature expiry; zero means the 10 minute default.
	Expiration time.Duration

	// Trace logs every request and response through Logger.
	Trace bool

	// TraceSignature includes the request signature in trace output
	// instead of redacting it.
	TraceSignature bool

	// DangerousNoTLSVerify disables TLS certificate verification. Never
	// enable this outside of testing against self-signed endpoints.
	DangerousNoTLSVerify bool

	// Headers are extra headers attached to every request. They take
	// precedence over per-call headers.
	Headers http.Header

	// Logger receives trace output. Defaults to stderr when Trace is set,
	// discarded otherwise.
	Logger hclog.Logger

	// HTTPClient overrides the HTTP client built from the settings above.
	HTTPClient *http.Client
}

// Validate checks the parts of the configuration that signing and TLS
// setup do not already cover.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.RequestURL),
		validation.Field(&c.Method, validation.In("get", "post")),
		validation.Field(&c.Retry, validation.Min(0)),
	)
}

// Client issues CloudStack API commands. It is safe for concurrent use:
// every call carries its own request state and only reads the shared
// configuration.
type Client struct {
	cfg  Config
	http *http.Client
	log  hclog.Logger

	// now and retryWait are fixed at construction; tests substitute them
	// for deterministic signatures and fast retries.
	now       func() time.Time
	retryWait time.Duration
	pageSize  int
}

// New builds a Client from cfg. The endpoint, key and secret are
// mandatory; a missing credential is reported as a *SigningError before
// any request is attempted.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Client{
		cfg:       *cfg,
		now:       time.Now,
		retryWait: defaultRetryWait,
		pageSize:  defaultPageSize,
	}

	if c.cfg.Key == "" || c.cfg.Secret == "" {
		return nil, &SigningError{Reason: "missing API key or secret"}
	}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = defaultTimeout
	}
	if c.cfg.Method == "" {
		c.cfg.Method = "get"
	}
	c.cfg.Method = strings.ToLower(c.cfg.Method)
	if c.cfg.PollInterval <= 0 {
		c.cfg.PollInterval = defaultPollInterval
	}
	if c.cfg.Expiration == 0 {
		c.cfg.Expiration = defaultExpiration
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.log = c.cfg.Logger
	if c.log == nil {
		if c.cfg.Trace {
			c.log = hclog.New(&hclog.LoggerOptions{Name: "cloudstack", Output: os.Stderr})
		} else {
			c.log = hclog.NewNullLogger()
		}
	}

	if c.cfg.HTTPClient != nil {
		c.http = c.cfg.HTTPClient
		return c, nil
	}

	tlsCfg := &tls.Config{}
	if c.cfg.Verify != "" {
		pem, err := os.ReadFile(c.cfg.Verify)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &SigningError{Reason: "no certificates found in CA bundle " + c.cfg.Verify}
		}
		tlsCfg.RootCAs = pool
	} else if c.cfg.DangerousNoTLSVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	if c.cfg.Cert != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.Cert, c.cfg.Cert)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	c.http = &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		},
	}
	return c, nil
}

// Name returns the display name of the client, falling back to the
// endpoint.
func (c *Client) Name() string {
	if c.cfg.Name != "" {
		return c.cfg.Name
	}
	return c.cfg.Endpoint
}

type callOptions struct {
	fetchList   bool
	fetchResult bool
	headers     http.Header
	opcodeName  string
}

// CallOption adjusts how a single invocation behaves.
type CallOption func(*callOptions)

// WithFetchList aggregates all pages of a list command into one result.
func WithFetchList() CallOption {
	return func(o *callOptions) { o.fetchList = true }
}

// WithFetchResult controls whether an asynchronous command waits for and
// unwraps the job result (the default) or returns the raw job ticket.
func WithFetchResult(fetch bool) CallOption {
	return func(o *callOptions) { o.fetchResult = fetch }
}

// WithHeaders attaches extra headers to the call's requests. Client-level
// headers win on conflict.
func WithHeaders(h http.Header) CallOption {
	return func(o *callOptions) { o.headers = h }
}

// WithOpcodeName overrides the response-envelope key used to unwrap the
// payload, for commands whose response key is not the lowercased command
// name.
func WithOpcodeName(name string) CallOption {
	return func(o *callOptions) { o.opcodeName = name }
}

// Result is the final value of one invocation: a mapping for most
// commands, a list when pages were aggregated.
type Result struct {
	value any
}

// Value returns the untyped result.
func (r *Result) Value() any { return r.value }

// Map returns the result as a mapping, or nil when it is not one.
func (r *Result) Map() map[string]any {
	m, _ := r.value.(map[string]any)
	return m
}

// List returns the result as a list, or nil when it is not one.
func (r *Result) List() []any {
	l, _ := r.value.([]any)
	return l
}

// Decode maps the result onto out, matching keys case-insensitively and
// converting scalar types loosely, following the API's JSON field names.
func (r *Result) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(r.value)
}

// AsyncResult delivers the outcome of a suspending call.
type AsyncResult struct {
	Result *Result
	Err    error
}

// Request invokes an API command and blocks until its final result is
// available, including job polling and page aggregation.
func (c *Client) Request(ctx context.Context, command string, params Params, opts ...CallOption) (*Result, error) {
	return c.invoke(ctx, command, params, newCallOptions(opts))
}

// RequestAsync invokes an API command without blocking the caller. The
// returned channel delivers exactly one AsyncResult and is then closed.
// Cancelling ctx aborts polling and retries promptly.
func (c *Client) RequestAsync(ctx context.Context, command string, params Params, opts ...CallOption) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		defer close(ch)
		res, err := c.invoke(ctx, command, params, newCallOptions(opts))
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

func newCallOptions(opts []CallOption) callOptions {
	o := callOptions{fetchResult: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// invoke is the transport-agnostic pipeline shared by both execution
// models: canonicalize, sign, exchange, then resolve jobs or aggregate
// pages as the response demands.
func (c *Client) invoke(ctx context.Context, command string, params Params, opts callOptions) (*Result, error) {
	base, err := canonicalize(command, params)
	if err != nil {
		return nil, err
	}

	cl := &call{
		command: command,
		headers: opts.headers,
		opcode:  opts.opcodeName,
		id:      uuid.NewString(),
	}

	callerPaged := hasPagingParams(base)
	if (opts.fetchList || callerPaged) && !hasParam(base, "pagesize") {
		base["pagesize"] = itoa(c.pageSize)
	}

	if opts.fetchList && !callerPaged {
		return c.fetchAllPages(ctx, cl, base)
	}

	cl.params = base
	data, err := c.roundTrip(ctx, cl)
	if err != nil {
		return nil, err
	}

	if opts.fetchResult && command != jobStatusCommand {
		if jobID, ok := data["jobid"]; ok {
			jr, err := c.awaitJob(ctx, cl, stringValue(jobID))
			if err != nil {
				return nil, err
			}
			return &Result{value: jr}, nil
		}
	}
	return &Result{value: data}, nil
}

func hasPagingParams(params map[string]string) bool {
	return hasParam(params, "page") || hasParam(params, "pagesize")
}

func hasParam(params map[string]string, name string) bool {
	for k := range params {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
