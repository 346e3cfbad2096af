package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoConfig      = errors.New("missing config")
	ErrNoEndpoint    = errors.New("missing WHIP endpoint url")
	ErrNoMediaSource = errors.New("at least one audio or video source is required")

	ErrNoResourceURL      = errors.New("no resource url")
	ErrRenegotiation      = errors.New("renegotiation not supported")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrMissingLocation    = errors.New("redirect response without a Location header")
	ErrSessionClosed      = errors.New("session closed")
	ErrMissingAnswer      = errors.New("missing SDP answer")
	ErrNotWaitingForOffer = errors.New("no offer expected in this state")
)

func New(err string) error {
	return errors.New(err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("could not parse config: %v", err)
}

func ErrInvalidSDPLine(line string) error {
	return fmt.Errorf("invalid SDP line: %q", line)
}

func ErrUnexpectedStatus(method string, status int) error {
	return fmt.Errorf("unexpected status code for %s: %d", method, status)
}

func ErrUnexpectedContentType(contentType string) error {
	return fmt.Errorf("unexpected content type: %q", contentType)
}

func ErrInvalidRelayURI(uri string) error {
	return fmt.Errorf("invalid STUN/TURN uri: %q", uri)
}
