package whip

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/livekit/protocol/logger"
)

// ICEServers is the relay configuration discovered from an endpoint's Link
// headers. STUN holds at most one reflexive server, TURN accumulates every
// advertised relay.
type ICEServers struct {
	STUN string
	TURN []string
}

// Discover probes the endpoint with an OPTIONS request and reads any
// advertised ICE servers from the Link response headers. Failures only
// produce warnings: the caller falls back to whatever was configured
// explicitly.
func Discover(ctx context.Context, t *Transport, endpoint string) ICEServers {
	var servers ICEServers

	resp, err := t.Do(ctx, http.MethodOptions, endpoint, nil, "")
	if err != nil {
		logger.Warnw("OPTIONS request failed, skipping STUN/TURN auto configuration", err)
		return servers
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusNoContent {
		logger.Warnw("unexpected OPTIONS response, skipping STUN/TURN auto configuration", nil, "status", resp.Status)
		return servers
	}

	links := resp.Header.Values("Link")
	if len(links) == 0 {
		logger.Warnw("no Link headers in OPTIONS response", nil)
		return servers
	}

	logger.Infow("auto configuration of STUN/TURN servers")
	for _, header := range links {
		for _, entry := range strings.Split(header, ",") {
			parseLinkEntry(strings.TrimSpace(entry), &servers)
		}
	}

	return servers
}

func parseLinkEntry(entry string, servers *ICEServers) {
	if entry == "" {
		return
	}
	logger.Debugw("processing Link entry", "link", entry)

	if !strings.Contains(entry, `rel="ice-server"`) {
		logger.Warnw("missing ice-server relation, skipping", nil, "link", entry)
		return
	}
	entry = strings.TrimPrefix(entry, "<")

	switch {
	case strings.HasPrefix(entry, "stun:"):
		if servers.STUN != "" {
			logger.Warnw("ignoring multiple STUN servers", nil, "link", entry)
			return
		}
		uri := entry
		if i := strings.IndexAny(uri, ">;"); i >= 0 {
			uri = uri[:i]
		}
		if !strings.HasPrefix(uri, "stun://") {
			uri = "stun://" + strings.TrimPrefix(uri, "stun:")
		}
		servers.STUN = uri
		logger.Infow("discovered STUN server", "uri", uri)

	case strings.HasPrefix(entry, "turn:"), strings.HasPrefix(entry, "turns:"):
		scheme := "turn"
		if strings.HasPrefix(entry, "turns:") {
			scheme = "turns"
		}

		var host, username, credential string
		for _, part := range strings.Split(entry, ";") {
			part = strings.ReplaceAll(strings.TrimSpace(part), ">", "")
			if strings.HasPrefix(part, scheme+":") {
				host = strings.TrimPrefix(part, scheme+"://")
				host = strings.TrimPrefix(host, scheme+":")
				continue
			}
			key, value, found := strings.Cut(part, "=")
			if !found {
				continue
			}
			value = strings.Trim(value, `"`)
			switch {
			case strings.EqualFold(key, "username"):
				username = value
			case strings.EqualFold(key, "credential"):
				credential = value
			}
		}

		uri := scheme + "://"
		if username != "" && credential != "" {
			// percent-escaped, they become the uri's userinfo
			uri += url.UserPassword(username, credential).String() + "@"
		}
		uri += host
		servers.TURN = append(servers.TURN, uri)
		logger.Infow("discovered TURN server", "uri", uri)

	default:
		logger.Warnw("unsupported protocol in Link header, skipping", nil, "link", entry)
	}
}
