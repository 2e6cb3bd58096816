// Package cloudstack implements a client for the CloudStack query API.
//
// Every API command is invoked through a single entry point taking the
// command name and a generic argument mapping; the client canonicalizes and
// signs the request, executes it over HTTP GET or POST, transparently polls
// asynchronous jobs to completion, and can aggregate paginated list results
// into one response. A blocking call (Request) and a suspending call
// (RequestAsync) share the same pipeline and produce identical wire requests.
package cloudstack
