// Package serverapi is the HTTP client side of the calendar image server:
// a status endpoint carrying the server's current time and two raw bitplane
// endpoints. The server is an opaque peer on the same network; endpoints are
// unauthenticated by design.
package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"epdframe/internal/log"
	"epdframe/internal/panel"
)

const (
	statusPath    = "/status"
	blackWhiteRaw = "/calendar_bw.raw"
	redRaw        = "/calendar_red.raw"
	previewPath   = "/calendar.png"

	statusTimeout  = 10 * time.Second
	channelTimeout = 30 * time.Second
)

// NetworkUnavailableError reports a transport-level failure: the server
// could not be reached at all, as opposed to answering badly.
type NetworkUnavailableError struct {
	Err error
}

func (e *NetworkUnavailableError) Error() string {
	return fmt.Sprintf("serverapi: server unreachable: %v", e.Err)
}

func (e *NetworkUnavailableError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-success status from the peer.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("serverapi: unexpected HTTP status %d", e.Code)
}

// JSONParseError reports an unusable /status body.
type JSONParseError struct {
	Err error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("serverapi: bad status payload: %v", e.Err)
}

func (e *JSONParseError) Unwrap() error { return e.Err }

// ChannelBody is one in-flight raw bitplane download. Declared is the
// peer-reported content length, -1 when absent; it may be wrong and the
// stream decoder treats it as advisory.
type ChannelBody struct {
	Body     io.ReadCloser
	Declared int64
}

func (c *ChannelBody) Close() error { return c.Body.Close() }

// Client talks to the calendar image server. Status and channel requests use
// separate timeouts: the status payload is tiny, a channel body is 120KiB on
// a possibly slow link.
type Client struct {
	base          string
	statusClient  *http.Client
	channelClient *http.Client
}

// NewClient returns a Client for the given base URL (scheme://host[:port],
// no trailing slash required).
func NewClient(base string) *Client {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Client{
		base:          base,
		statusClient:  &http.Client{Timeout: statusTimeout},
		channelClient: &http.Client{Timeout: channelTimeout},
	}
}

// statusPayload is the /status response shape. The timestamp is an
// ISO-8601-like string, fractional seconds allowed, timezone optional.
type statusPayload struct {
	Timestamp string `json:"timestamp"`
}

// FetchServerTime fetches /status and returns the server's current time.
func (c *Client) FetchServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+statusPath, nil)
	if err != nil {
		return time.Time{}, err
	}

	resp, err := c.statusClient.Do(req)
	if err != nil {
		return time.Time{}, &NetworkUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, &HTTPStatusError{Code: resp.StatusCode}
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return time.Time{}, &JSONParseError{Err: err}
	}

	ts, err := parseTimestamp(payload.Timestamp)
	if err != nil {
		return time.Time{}, &JSONParseError{Err: err}
	}

	log.Debug("server time fetched", "timestamp", payload.Timestamp)
	return ts, nil
}

// OpenChannel starts a raw bitplane download for the given channel. The
// caller owns the returned body. Non-success statuses close the response and
// surface as *HTTPStatusError.
func (c *Client) OpenChannel(ctx context.Context, ch panel.Channel) (*ChannelBody, error) {
	path := blackWhiteRaw
	if ch == panel.ChannelRed {
		path = redRaw
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.channelClient.Do(req)
	if err != nil {
		return nil, &NetworkUnavailableError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &HTTPStatusError{Code: resp.StatusCode}
	}

	return &ChannelBody{Body: resp.Body, Declared: resp.ContentLength}, nil
}

// PreviewURL returns the human preview endpoint. The device never fetches
// it; it is logged so an operator can eyeball what was pushed to the panel.
func (c *Client) PreviewURL() string {
	return c.base + previewPath
}

// timestampLayouts are tried in order. Servers in the wild emit both zoned
// and naive timestamps, with or without fractional seconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
