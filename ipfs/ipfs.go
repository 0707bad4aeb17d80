// Package ipfs provides the basic APIs to talk to an IPFS daemon over its
// HTTP RPC interface. Only the handful of commands the remote helper needs
// are wrapped: version, ls, cat, add, name/resolve, name/publish, pin/rm.
package ipfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Client is a thin wrapper around one daemon's RPC endpoint. All commands are
// POSTs with query-string arguments; responses are JSON except cat (raw bytes)
// and add (newline-delimited JSON).
type Client struct {
	base     string // e.g. http://127.0.0.1:5001/api/v0
	http     *http.Client
	user     string
	password string
}

// NewClient creates a client for the daemon RPC endpoint at base. Keep-alives
// are disabled and every request carries "Connection: close"; some daemon
// builds mishandle pipelined requests on a reused connection, so the wire
// behavior is kept HTTP/1.0-style connection-per-request.
func NewClient(base string, timeout time.Duration, user, password string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		user:     user,
		password: password,
	}
}

// APIBase composes the daemon base URL from its parts. The version prefix is
// URL-escaped segment by segment so "api/v0" keeps its slash.
func APIBase(rawurl string, port int, prefix string) string {
	segments := strings.Split(strings.Trim(prefix, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s:%d/%s", strings.TrimRight(rawurl, "/"), port, strings.Join(segments, "/"))
}

// apiError is the shape of the daemon's JSON error messages
type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// Error is a non-2xx response from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.Status, e.Message)
}

// IsTimeout reports whether an error from a client call was a request
// timeout rather than a daemon-side failure.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http.Client wraps deadline exceedance in a url.Error whose cause
	// stringifies differently across Go versions
	return err != nil && strings.Contains(err.Error(), "Client.Timeout exceeded")
}

// Request performs one RPC command against the daemon and returns the raw
// response body. Connection errors and 5xx responses get one retry after a
// short backoff; 4xx responses and timeouts are permanent. The daemon also
// answers 500 for paths that simply do not exist, so piling on more retries
// only slows down discovery.
func (c *Client) Request(command string, args url.Values) ([]byte, error) {
	endpoint := c.base + "/" + command
	if len(args) > 0 {
		endpoint += "?" + args.Encode()
	}

	op := func() ([]byte, error) {
		request, err := http.NewRequest("POST", endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		request.Close = true
		if c.user != "" && c.password != "" {
			request.SetBasicAuth(c.user, c.password)
		}

		response, err := c.http.Do(request)
		if err != nil {
			if IsTimeout(err) {
				return nil, backoff.Permanent(err)
			}
			// connection refused, DNS failure... worth one more try
			return nil, err
		}
		body, _ := io.ReadAll(response.Body)
		response.Body.Close()

		if response.StatusCode >= 400 {
			var daemonErr apiError
			json.Unmarshal(body, &daemonErr)
			if daemonErr.Message == "" {
				daemonErr.Message = strings.TrimSpace(string(body))
			}
			apiErr := &Error{Status: response.StatusCode, Message: daemonErr.Message}
			if response.StatusCode >= 500 {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}
		return body, nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	body, err := backoff.RetryWithData(op, policy)
	if err != nil {
		log.Debug().Err(err).Str("command", command).Msg("Daemon request failed.")
	}
	return body, err
}
