package whip

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/livekit/whip-client/pkg/config"
	"github.com/livekit/whip-client/pkg/errors"
	"github.com/livekit/whip-client/pkg/media"
	"github.com/livekit/whip-client/pkg/sdp"
	"github.com/livekit/whip-client/pkg/stats"
)

const (
	sdpContentType      = "application/sdp"
	fragmentContentType = "application/trickle-ice-sdpfrag"

	// most candidates are discovered in a burst right after the offer, so
	// they get grouped into one PATCH every flushInterval instead of one
	// request per candidate
	flushInterval = 100 * time.Millisecond
)

// Client drives one WHIP session end to end: optional Link header
// discovery, the POST offer/answer exchange, trickled PATCH updates and the
// final DELETE. All engine events are handled on the single Run loop; only
// the candidate callback runs off it.
type Client struct {
	conf      *config.Config
	engine    media.Engine
	transport *Transport
	monitor   *stats.Monitor

	state atomic.Int32

	// written by the run loop after the offer is accepted, read by
	// Disconnect from whichever goroutine tears the session down
	resourceURL  atomic.String
	versionToken atomic.String

	iceDetails sdp.ICEDetails

	fragmentKind  string
	pendingOffer  string
	gatheringDone bool

	queue       *CandidateQueue
	flushTicker *time.Ticker
	flushC      <-chan time.Time

	disconnected core.Fuse
	done         core.Fuse
	stopCount    atomic.Int32
}

func NewClient(conf *config.Config, engine media.Engine, monitor *stats.Monitor) *Client {
	c := &Client{
		conf:         conf,
		engine:       engine,
		transport:    NewTransport(conf.Url, conf.Token),
		monitor:      monitor,
		queue:        NewCandidateQueue(),
		fragmentKind: "video",
	}
	if conf.AudioFile != "" {
		c.fragmentKind = "audio"
	}
	if monitor != nil {
		c.transport.OnRedirect = monitor.RedirectFollowed
	}
	return c
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) ResourceURL() string {
	return c.resourceURL.Load()
}

func (c *Client) VersionToken() string {
	return c.versionToken.Load()
}

// Run blocks until the session is torn down, by a signal, a fatal protocol
// error or the media running out.
func (c *Client) Run(ctx context.Context) error {
	c.setState(StateConnecting)

	c.configureRelayServers(ctx)
	c.setState(StateConnected)

	defer func() {
		c.stopFlushTimer()
		_ = c.engine.Close()
	}()

	c.engine.OnLocalCandidate(c.onLocalCandidate)
	if err := c.engine.Start(ctx); err != nil {
		c.setState(StateError)
		return err
	}
	c.setState(StatePublishing)

	for {
		select {
		case <-ctx.Done():
			c.Disconnect("context canceled")
			return nil
		case <-c.done.Watch():
			return nil
		case ev := <-c.engine.Events():
			c.handleEvent(ctx, ev)
		case <-c.flushC:
			c.flushCandidates(ctx)
		}
	}
}

// Disconnect tears the session down. Safe to call from any goroutine and
// any number of times, only the first call performs the DELETE.
func (c *Client) Disconnect(reason string) {
	c.disconnected.Once(func() {
		logger.Infow("disconnecting from server", "reason", reason)

		if resourceURL := c.resourceURL.Load(); resourceURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			resp, err := c.transport.Do(ctx, http.MethodDelete, resourceURL, nil, "")
			if err != nil {
				logger.Warnw("teardown request failed", err)
			} else if resp.Status != http.StatusOK {
				logger.Warnw("unexpected teardown response", nil, "status", resp.Status)
			}
		}

		c.done.Break()
	})
}

// HandleSignal processes one termination signal. The first triggers a
// graceful teardown, the next two are tolerated while it runs, and the
// caller should force-exit once it returns true.
func (c *Client) HandleSignal() bool {
	count := c.stopCount.Inc()
	switch {
	case count == 1:
		logger.Infow("stopping the WHIP client")
		go c.Disconnect("shutting down")
	case count < 4:
		logger.Warnw("teardown already in progress", nil, "signals", count)
	default:
		return true
	}
	return false
}

func (c *Client) setState(state State) {
	c.state.Store(int32(state))
	logger.Debugw("session state changed", "state", state.String())
	if c.monitor != nil {
		c.monitor.SessionStateChanged(int(state))
	}
}

func (c *Client) configureRelayServers(ctx context.Context) {
	stun := c.conf.StunServer
	turn := c.conf.TurnServers

	if c.conf.FollowLink {
		discovered := Discover(ctx, c.transport, c.conf.Url)
		if discovered.STUN != "" || len(discovered.TURN) > 0 {
			stun = discovered.STUN
			turn = discovered.TURN
		}
	}

	if stun != "" {
		c.engine.AddRelayServer(stun)
	}
	for _, uri := range turn {
		if !c.engine.AddRelayServer(uri) {
			logger.Warnw("error adding TURN server", nil, "uri", uri)
		}
	}
}

// onLocalCandidate may run on an engine goroutine. It only touches the
// thread-safe queue and the teardown guard.
func (c *Client) onLocalCandidate(mLineIndex int, candidate string) {
	if c.disconnected.IsBroken() {
		return
	}
	if c.State() < StateOfferPrepared {
		c.Disconnect("can't trickle, not in a PeerConnection")
		return
	}
	// everything is bundled on the first m-line's first component
	if mLineIndex != 0 {
		return
	}
	if sdp.CandidateComponent(candidate) != 1 {
		return
	}

	c.queue.Push(candidate)
	if c.monitor != nil {
		c.monitor.CandidateQueued()
	}
}

func (c *Client) handleEvent(ctx context.Context, ev media.Event) {
	switch ev.Kind {
	case media.EventNegotiationNeeded:
		if c.resourceURL.Load() != "" {
			logger.Warnw("renegotiation requested", errors.ErrRenegotiation)
			return
		}
		logger.Infow("creating offer")
		c.setState(StateOfferPrepared)
		c.engine.RequestOffer()

	case media.EventOfferReady:
		if ev.Err != nil {
			logger.Errorw("offer creation failed", ev.Err)
			c.setState(StateError)
			c.Disconnect("SDP error")
			return
		}
		if c.conf.NoTrickle && !c.gatheringDone {
			// hold the offer until all candidates can go into it
			c.pendingOffer = ev.SDP
			return
		}
		c.connect(ctx, ev.SDP)

	case media.EventGatheringComplete:
		logger.Infow("ICE gathering completed")
		c.queue.Push(sdp.EndOfCandidates)
		c.gatheringDone = true
		if c.conf.NoTrickle && c.pendingOffer != "" {
			offer := c.pendingOffer
			c.pendingOffer = ""
			c.connect(ctx, offer)
		}

	case media.EventConnectionState:
		logger.Infow("PeerConnection state changed", "state", ev.State)
		if ev.Failed {
			c.setState(StateConnectionError)
			c.Disconnect("PeerConnection failed")
		}

	case media.EventICEConnectionState:
		logger.Infow("ICE connection state changed", "state", ev.State)
		if ev.Failed {
			c.setState(StateConnectionError)
			c.Disconnect("ICE failed")
		}

	case media.EventDTLSState:
		logger.Infow("DTLS state changed", "state", ev.State)
		if ev.Closed {
			c.Disconnect("PeerConnection closed")
		} else if ev.Failed {
			c.setState(StateConnectionError)
			c.Disconnect("DTLS failed")
		}

	case media.EventEndOfStream:
		c.Disconnect("shutting down (EOS)")
	}
}

// connect POSTs the offer and processes the answer. Any failure here is
// fatal: the session cannot exist without a completed exchange.
func (c *Client) connect(ctx context.Context, offer string) {
	// some servers barf on sendrecv
	offer = sdp.RewriteSendOnly(offer)

	if c.conf.NoTrickle {
		offer = sdp.InjectCandidates(offer, c.queue.Drain())
	}

	details, err := sdp.ExtractICEDetails(offer)
	if err != nil {
		logger.Errorw("could not parse offer", err)
		c.setState(StateError)
		c.Disconnect("SDP error")
		return
	}
	c.iceDetails = details

	logger.Infow("sending SDP offer", "size", len(offer))
	resp, err := c.transport.Do(ctx, http.MethodPost, c.conf.Url, []byte(offer), sdpContentType)
	if err != nil {
		logger.Errorw("could not send offer", err)
		if c.monitor != nil {
			c.monitor.TransportError()
		}
		c.setState(StateAPIError)
		c.Disconnect("HTTP error")
		return
	}
	if resp.Status != http.StatusCreated {
		logger.Errorw("offer rejected", errors.ErrUnexpectedStatus(http.MethodPost, resp.Status))
		c.setState(StateAPIError)
		c.Disconnect("HTTP error")
		return
	}
	if contentType := resp.Header.Get("Content-Type"); !isSDPContentType(contentType) {
		logger.Errorw("offer response rejected", errors.ErrUnexpectedContentType(contentType))
		c.setState(StateAPIError)
		c.Disconnect("HTTP error")
		return
	}

	answer := string(resp.Body)
	if answer == "" {
		logger.Errorw("offer response rejected", errors.ErrMissingAnswer)
		c.setState(StateError)
		c.Disconnect("SDP error")
		return
	}
	if !strings.HasPrefix(answer, "v=0\r\n") {
		logger.Errorw("invalid SDP answer", nil)
		c.setState(StateError)
		c.Disconnect("SDP error")
		return
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		c.versionToken.Store(etag)
		c.transport.SetVersionToken(etag)
	} else {
		logger.Warnw("no ETag header, conditional updates will omit If-Match", nil)
	}

	if location := resp.Header.Get("Location"); location != "" {
		resourceURL, err := ResolveLocation(c.conf.Url, location)
		if err != nil {
			logger.Warnw("could not resolve resource url", err, "location", location)
		} else {
			c.resourceURL.Store(resourceURL)
			logger.Infow("resource url", "url", resourceURL)
		}
	}
	if c.resourceURL.Load() == "" {
		logger.Warnw("no resource url, trickling and teardown are unavailable", nil)
	}

	if !c.conf.NoTrickle && c.resourceURL.Load() != "" {
		c.armFlushTimer()
	}

	logger.Infow("received SDP answer", "size", len(answer))

	// servers that gather before answering put their candidates in the
	// answer, feed them to the engine as if they had been trickled
	for _, candidate := range sdp.FirstSectionCandidates(answer) {
		logger.Debugw("found candidate in answer", "candidate", candidate)
		if err := c.engine.AddICECandidate(0, candidate); err != nil {
			logger.Warnw("could not add remote candidate", err)
		}
	}

	if err := c.engine.SetRemoteDescription(answer); err != nil {
		logger.Errorw("could not apply answer", err)
		c.setState(StateError)
		c.Disconnect("SDP error")
		return
	}

	c.setState(StateStarted)
}

func (c *Client) armFlushTimer() {
	c.flushTicker = time.NewTicker(flushInterval)
	c.flushC = c.flushTicker.C
}

func (c *Client) stopFlushTimer() {
	if c.flushTicker != nil {
		c.flushTicker.Stop()
		c.flushTicker = nil
		c.flushC = nil
	}
}

// flushCandidates sends everything queued since the last flush as a single
// PATCH. Failures are logged only: trickling is best effort once the offer
// was accepted.
func (c *Client) flushCandidates(ctx context.Context) {
	if c.queue.Len() == 0 {
		return
	}
	batch := c.queue.Drain()

	fragment, last := BuildFragment(c.iceDetails, c.fragmentKind, batch)
	logger.Debugw("sending candidates", "count", len(batch))

	resp, err := c.transport.Do(ctx, http.MethodPatch, c.resourceURL.Load(), []byte(fragment), fragmentContentType)
	if err != nil {
		logger.Warnw("trickle request failed", err)
		if c.monitor != nil {
			c.monitor.TransportError()
		}
	} else if resp.Status != http.StatusOK && resp.Status != http.StatusNoContent {
		logger.Warnw("unexpected trickle response", nil, "status", resp.Status)
	} else if c.monitor != nil {
		c.monitor.PatchSent()
	}

	// nothing left to send after end-of-candidates
	if last {
		c.stopFlushTimer()
	}
}

func isSDPContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), sdpContentType)
}
