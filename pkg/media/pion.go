package media

import (
	"context"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/logger/pionlogger"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	pionsdp "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/livekit/whip-client/pkg/config"
	"github.com/livekit/whip-client/pkg/errors"
)

const (
	trackStreamID   = "whip-client"
	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

// PionEngine publishes file-backed audio (Ogg/Opus) and video (IVF/VP8)
// tracks over a sendonly pion PeerConnection.
type PionEngine struct {
	conf *config.Config

	events      chan Event
	onCandidate CandidateFunc

	iceServers []webrtc.ICEServer

	pc         *webrtc.PeerConnection
	audioTrack *webrtc.TrackLocalStaticSample
	videoTrack *webrtc.TrackLocalStaticSample

	streamOnce sync.Once
	dtlsOnce   sync.Once
	eosOnce    sync.Once
	closed     core.Fuse
}

func NewPionEngine(conf *config.Config) *PionEngine {
	return &PionEngine{
		conf:   conf,
		events: make(chan Event, 32),
	}
}

func (e *PionEngine) OnLocalCandidate(fn CandidateFunc) {
	e.onCandidate = fn
}

func (e *PionEngine) Events() <-chan Event {
	return e.events
}

func (e *PionEngine) AddRelayServer(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		logger.Warnw("unusable STUN/TURN server", errors.ErrInvalidRelayURI(uri))
		return false
	}
	switch u.Scheme {
	case "stun", "turn", "turns":
	default:
		logger.Warnw("unusable STUN/TURN server", errors.ErrInvalidRelayURI(uri))
		return false
	}

	iceURL := u.Scheme + ":" + u.Host
	if u.RawQuery != "" {
		iceURL += "?" + u.RawQuery
	}
	server := webrtc.ICEServer{URLs: []string{iceURL}}
	if u.User != nil {
		server.Username = u.User.Username()
		if credential, ok := u.User.Password(); ok {
			server.Credential = credential
		}
	}

	e.iceServers = append(e.iceServers, server)
	return true
}

func (e *PionEngine) Start(ctx context.Context) error {
	settings := webrtc.SettingEngine{
		LoggerFactory: pionlogger.NewLoggerFactory(logger.GetLogger()),
	}

	m, err := newMediaEngine()
	if err != nil {
		return err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pcConf := webrtc.Configuration{
		ICEServers: e.iceServers,
	}
	if e.conf.ForceRelay {
		pcConf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	e.pc, err = api.NewPeerConnection(pcConf)
	if err != nil {
		return err
	}

	e.pc.OnNegotiationNeeded(func() {
		e.emit(Event{Kind: EventNegotiationNeeded})
	})

	e.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn := e.onCandidate
		if fn == nil {
			return
		}
		init := candidate.ToJSON()
		idx := 0
		if init.SDPMLineIndex != nil {
			idx = int(*init.SDPMLineIndex)
		}
		fn(idx, init.Candidate)
	})

	e.pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		logger.Debugw("ICE gathering state changed", "state", state.String())
		if state == webrtc.ICEGatheringStateComplete {
			e.emit(Event{Kind: EventGatheringComplete})
		}
	})

	e.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.emit(Event{
			Kind:   EventConnectionState,
			State:  state.String(),
			Failed: state == webrtc.PeerConnectionStateFailed,
		})
	})

	e.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.emit(Event{
			Kind:   EventICEConnectionState,
			State:  state.String(),
			Failed: state == webrtc.ICEConnectionStateFailed,
		})
		if state == webrtc.ICEConnectionStateConnected {
			e.streamOnce.Do(e.startStreaming)
		}
	})

	if e.conf.AudioFile != "" {
		e.audioTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
			"audio", trackStreamID,
		)
		if err != nil {
			return err
		}
		if err = e.addSendonlyTrack(e.audioTrack); err != nil {
			return err
		}
	}
	if e.conf.VideoFile != "" {
		e.videoTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", trackStreamID,
		)
		if err != nil {
			return err
		}
		if err = e.addSendonlyTrack(e.videoTrack); err != nil {
			return err
		}
	}

	return nil
}

func (e *PionEngine) addSendonlyTrack(track webrtc.TrackLocal) error {
	transceiver, err := e.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return err
	}
	go e.drainRTCP(transceiver.Sender())
	return nil
}

func (e *PionEngine) RequestOffer() {
	go func() {
		offer, err := e.pc.CreateOffer(nil)
		if err != nil {
			e.emit(Event{Kind: EventOfferReady, Err: err})
			return
		}
		if err = e.pc.SetLocalDescription(offer); err != nil {
			e.emit(Event{Kind: EventOfferReady, Err: err})
			return
		}

		// the DTLS transport exists once the local description is applied
		e.dtlsOnce.Do(e.monitorDTLS)

		e.emit(Event{Kind: EventOfferReady, SDP: offer.SDP})
	}()
}

func (e *PionEngine) SetRemoteDescription(sdpText string) error {
	parsed := &pionsdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(sdpText)); err != nil {
		return err
	}
	if len(parsed.MediaDescriptions) == 0 {
		return errors.ErrMissingAnswer
	}

	return e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpText,
	})
}

func (e *PionEngine) AddICECandidate(mLineIndex int, candidate string) error {
	idx := uint16(mLineIndex)
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &idx,
	})
}

func (e *PionEngine) Close() error {
	var err error
	e.closed.Once(func() {
		if e.pc != nil {
			err = e.pc.Close()
		}
	})
	return err
}

func (e *PionEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.closed.Watch():
	}
}

func (e *PionEngine) monitorDTLS() {
	// bundling puts every track on the same transport, the first sender
	// is enough
	for _, sender := range e.pc.GetSenders() {
		transport := sender.Transport()
		if transport == nil {
			continue
		}
		transport.OnStateChange(func(state webrtc.DTLSTransportState) {
			e.emit(Event{
				Kind:   EventDTLSState,
				State:  state.String(),
				Failed: state == webrtc.DTLSTransportStateFailed,
				Closed: state == webrtc.DTLSTransportStateClosed,
			})
		})
		return
	}
	logger.Warnw("no DTLS transport to monitor", nil)
}

func (e *PionEngine) startStreaming() {
	if e.audioTrack != nil {
		go e.streamAudio()
	}
	if e.videoTrack != nil {
		go e.streamVideo()
	}
}

func (e *PionEngine) streamVideo() {
	for {
		err := e.playIVF()
		if err != nil {
			if !e.closed.IsBroken() {
				logger.Warnw("video source failed", err, "file", e.conf.VideoFile)
			}
			return
		}
		if !e.conf.LoopMedia || e.closed.IsBroken() {
			break
		}
	}
	e.endOfStream()
}

func (e *PionEngine) playIVF() error {
	f, err := os.Open(e.conf.VideoFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	frameDuration := time.Millisecond *
		time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = e.videoTrack.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}

		select {
		case <-ticker.C:
		case <-e.closed.Watch():
			return nil
		}
	}
}

func (e *PionEngine) streamAudio() {
	for {
		err := e.playOgg()
		if err != nil {
			if !e.closed.IsBroken() {
				logger.Warnw("audio source failed", err, "file", e.conf.AudioFile)
			}
			return
		}
		if !e.conf.LoopMedia || e.closed.IsBroken() {
			break
		}
	}
	e.endOfStream()
}

func (e *PionEngine) playOgg() error {
	f, err := os.Open(e.conf.AudioFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration(sampleCount) * time.Second / opusClockRate

		if err = e.audioTrack.WriteSample(pionmedia.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			return err
		}

		select {
		case <-ticker.C:
		case <-e.closed.Watch():
			return nil
		}
	}
}

func (e *PionEngine) endOfStream() {
	if e.closed.IsBroken() {
		return
	}
	e.eosOnce.Do(func() {
		e.emit(Event{Kind: EventEndOfStream})
	})
}

// drainRTCP keeps the interceptor feedback loop alive on a sendonly track.
func (e *PionEngine) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			if pli, ok := packet.(*rtcp.PictureLossIndication); ok {
				logger.Debugw("received PLI", "ssrc", pli.MediaSSRC)
			}
		}
	}
}

func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	videoRTCPFeedback := []webrtc.RTCPFeedback{{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"}}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	return m, nil
}
