package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/pkg/response"
)

// IVFMimeType is the container produced by the WebRTC source.
const IVFMimeType = "video/x-ivf"

const (
	vp8PayloadType = 96
	pliInterval    = 3 * time.Second
)

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

func parseICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}

// WebRTCSource accepts a screen-share track from the page as an SDP offer and offers it to the broker.
// Video is received as VP8 and written out as IVF; audio tracks are drained and dropped.
type WebRTCSource struct {
	broker *Broker
	cfg    webrtc.Configuration
	logger *zap.Logger
}

// NewWebRTCSource creates the WebRTC ingest with the given STUN/TURN URLs.
func NewWebRTCSource(broker *Broker, iceURLs []string, logger *zap.Logger) *WebRTCSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebRTCSource{
		broker: broker,
		cfg:    webrtc.Configuration{ICEServers: parseICEServers(iceURLs)},
		logger: logger.With(zap.String("component", "capture_webrtc")),
	}
}

func newVP8API() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        vp8PayloadType,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)), nil
}

// HandleOffer creates a receive-only peer connection for the offer and returns the answer
// once ICE gathering has finished, so no trickle signaling is needed.
func (s *WebRTCSource) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	api, err := newVP8API()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(s.cfg)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	p := &rtcPending{
		id:     id,
		pc:     pc,
		tracks: make(chan *webrtc.TrackRemote, 1),
		logger: s.logger.With(zap.String("conn_id", id)),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			go drain(track)
			return
		}
		select {
		case p.tracks <- track:
		default:
			p.logger.Warn("ignoring extra video track", zap.String("track_id", track.ID()))
			go drain(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("peer connection state", zap.String("state", state.String()))
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	s.broker.Offer(p)
	s.logger.Info("webrtc capture offered", zap.String("conn_id", id))
	return pc.LocalDescription(), nil
}

type offerRequest struct {
	Type string `json:"type"`
	SDP  string `json:"sdp" binding:"required"`
}

// OfferHandler handles POST /capture/webrtc/offer with {type, sdp} and answers the same shape.
func (s *WebRTCSource) OfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req offerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "sdp offer required")
			return
		}
		if req.Type != "" && req.Type != "offer" {
			response.BadRequest(c, "expected an sdp offer")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		answer, err := s.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP})
		if err != nil {
			s.logger.Warn("webrtc offer failed", zap.Error(err))
			response.BadRequest(c, "invalid sdp offer")
			return
		}
		response.OK(c, gin.H{"type": answer.Type.String(), "sdp": answer.SDP})
	}
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

type rtcPending struct {
	id     string
	pc     *webrtc.PeerConnection
	tracks chan *webrtc.TrackRemote
	logger *zap.Logger
}

func (p *rtcPending) Start(ctx context.Context, c Constraints) (Stream, error) {
	var track *webrtc.TrackRemote
	select {
	case track = <-p.tracks:
	case <-ctx.Done():
		_ = p.pc.Close()
		return nil, fmt.Errorf("%w: no video track: %v", ErrNoSource, ctx.Err())
	}
	if c.Audio {
		p.logger.Debug("audio requested but IVF output is video only")
	}

	s := &rtcStream{
		id:     p.id,
		pc:     p.pc,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		logger: p.logger,
	}
	chunker, err := newIVFChunker(c.Timeslice)
	if err != nil {
		_ = p.pc.Close()
		return nil, err
	}
	ssrc := uint32(track.SSRC())
	go s.requestKeyframes(ssrc)
	go s.pump(chunker, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	return s, nil
}

func (p *rtcPending) Abort() { _ = p.pc.Close() }

type rtcStream struct {
	id      string
	pc      *webrtc.PeerConnection
	events  chan Event
	done    chan struct{}
	closing sync.Once
	mu      sync.Mutex
	closed  bool
	logger  *zap.Logger
}

func (s *rtcStream) ID() string           { return s.id }
func (s *rtcStream) MimeType() string     { return IVFMimeType }
func (s *rtcStream) Events() <-chan Event { return s.events }

// pump reads RTP until the track ends and emits IVF bytes once per timeslice.
func (s *rtcStream) pump(ch *ivfChunker, read func() (*rtp.Packet, error)) {
	defer func() {
		close(s.events)
		close(s.done)
	}()
	for {
		pkt, err := read()
		if err != nil {
			if data := ch.flush(); len(data) > 0 {
				s.emit(EventChunk, data)
			}
			if !s.isClosed() {
				s.logger.Info("webrtc track ended", zap.Error(err))
				s.emit(EventEnded, nil)
			}
			return
		}
		if err := ch.write(pkt); err != nil {
			s.logger.Debug("dropping rtp packet", zap.Error(err))
			continue
		}
		if data := ch.due(time.Now()); len(data) > 0 {
			s.emit(EventChunk, data)
		}
	}
}

// requestKeyframes sends PLIs so the IVF output starts at a keyframe and recovers from loss.
func (s *rtcStream) requestKeyframes(ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func (s *rtcStream) emit(kind EventKind, data []byte) {
	s.events <- Event{Kind: kind, Data: data, At: time.Now()}
}

func (s *rtcStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears down the peer connection, which ends the track read, and waits for the final flush.
func (s *rtcStream) Close() error {
	var err error
	s.closing.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.pc.Close()
		<-s.done
	})
	return err
}

// ivfChunker buffers IVF output and hands it out in timeslice-sized pieces.
// The first piece carries the 32-byte IVF file header.
type ivfChunker struct {
	buf       bytes.Buffer
	w         *ivfwriter.IVFWriter
	timeslice time.Duration
	last      time.Time
}

func newIVFChunker(timeslice time.Duration) (*ivfChunker, error) {
	if timeslice <= 0 {
		timeslice = time.Second
	}
	c := &ivfChunker{timeslice: timeslice, last: time.Now()}
	w, err := ivfwriter.NewWith(&c.buf)
	if err != nil {
		return nil, fmt.Errorf("ivf writer: %w", err)
	}
	c.w = w
	return c, nil
}

func (c *ivfChunker) write(pkt *rtp.Packet) error {
	return c.w.WriteRTP(pkt)
}

// due returns buffered bytes when a timeslice has passed since the last hand-out.
func (c *ivfChunker) due(now time.Time) []byte {
	if now.Sub(c.last) < c.timeslice {
		return nil
	}
	c.last = now
	return c.flush()
}

func (c *ivfChunker) flush() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out
}
