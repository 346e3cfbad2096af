package whip

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/livekit/whip-client/pkg/errors"
)

const (
	maxRedirects   = 10
	requestTimeout = 15 * time.Second
)

// Response is what the signaling state machine gets back from a request:
// the status code, headers and body, with redirects already followed.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends the WHIP HTTP requests. Every request carries the Bearer
// token when one is configured and an If-Match precondition once the
// session's version token is known. Redirects are followed manually, capped
// at maxRedirects, resolving Location against the origin endpoint url.
type Transport struct {
	endpoint string
	token    string
	client   *http.Client

	// written by the state machine after the POST response, read on every
	// subsequent request, possibly from the teardown goroutine
	versionToken atomic.String

	// OnRedirect is invoked for every redirect hop that gets followed.
	OnRedirect func()
}

func NewTransport(endpoint string, token string) *Transport {
	return &Transport{
		endpoint: endpoint,
		token:    token,
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (t *Transport) SetVersionToken(token string) {
	t.versionToken.Store(token)
}

// Do performs one logical request. A non-nil error means the request never
// completed (network failure, redirect loop); HTTP error statuses are
// returned in the Response for the caller to interpret.
func (t *Transport) Do(ctx context.Context, method string, rawURL string, payload []byte, contentType string) (*Response, error) {
	reqURL := rawURL
	redirects := 0

	for {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if len(payload) > 0 && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}
		if token := t.versionToken.Load(); token != "" {
			req.Header.Set("If-Match", token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			redirects++
			if redirects > maxRedirects {
				return nil, errors.ErrTooManyRedirects
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, errors.ErrMissingLocation
			}
			reqURL, err = ResolveLocation(t.endpoint, location)
			if err != nil {
				return nil, err
			}
			logger.Infow("following redirect", "method", method, "url", reqURL)
			if t.OnRedirect != nil {
				t.OnRedirect()
			}
			continue
		}

		return &Response{
			Status: resp.StatusCode,
			Header: resp.Header,
			Body:   body,
		}, nil
	}
}

// ResolveLocation turns a Location header value into an absolute url.
// Absolute locations are used as is. An absolute path replaces the whole
// path of the base url, and a relative path replaces its last segment.
func ResolveLocation(base string, location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
