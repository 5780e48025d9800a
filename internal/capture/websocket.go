package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxChunkSize = 32 << 20
	writeWait    = 10 * time.Second
	stopWait     = 10 * time.Second
	eventBuffer  = 64
)

// control is the JSON text frame exchanged with the capture page.
//
//	agent -> page: {"type":"start","timeslice":1000,"audio":true}, {"type":"stop"}
//	page -> agent: {"type":"started","mimeType":"video/webm"}, {"type":"error","name":"NotAllowedError"},
//	               {"type":"ended"}, {"type":"stopped"}
//
// Media chunks travel as binary frames between "started" and "ended"/"stopped".
type control struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message,omitempty"`
}

type startMessage struct {
	Type      string `json:"type"`
	Timeslice int64  `json:"timeslice"`
	Audio     bool   `json:"audio"`
}

// WebSocketSource accepts capture pages on a WebSocket and offers them to the broker.
type WebSocketSource struct {
	broker   *Broker
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketSource creates the WebSocket ingest. allowOrigin nil accepts any origin.
func NewWebSocketSource(broker *Broker, logger *zap.Logger, allowOrigin func(origin string) bool) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				return allowOrigin(r.Header.Get("Origin"))
			},
		},
		logger: logger.With(zap.String("component", "capture_ws")),
	}
}

// Handler upgrades the request and parks the connection until a session starts recording.
func (w *WebSocketSource) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			w.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxChunkSize)
		wc := &wsConn{id: uuid.New().String(), conn: conn}
		w.logger.Debug("capture page connected", zap.String("conn_id", wc.id), zap.String("remote", c.Request.RemoteAddr))
		w.broker.Offer(&wsPending{wc: wc, logger: w.logger.With(zap.String("conn_id", wc.id))})
	}
}

type wsConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

type wsPending struct {
	wc     *wsConn
	logger *zap.Logger
}

type handshakeResult struct {
	mimeType string
	err      error
}

func (p *wsPending) Start(ctx context.Context, c Constraints) (Stream, error) {
	msg := startMessage{Type: "start", Timeslice: c.Timeslice.Milliseconds(), Audio: c.Audio}
	if err := p.wc.writeJSON(msg); err != nil {
		_ = p.wc.conn.Close()
		return nil, fmt.Errorf("%w: capture page went away: %v", ErrNoSource, err)
	}

	reply := make(chan handshakeResult, 1)
	go func() { reply <- p.awaitStarted() }()

	select {
	case r := <-reply:
		if r.err != nil {
			_ = p.wc.conn.Close()
			return nil, r.err
		}
		s := &wsStream{
			wc:       p.wc,
			mimeType: r.mimeType,
			events:   make(chan Event, eventBuffer),
			done:     make(chan struct{}),
			logger:   p.logger,
		}
		go s.readPump()
		p.logger.Info("capture started", zap.String("mime_type", r.mimeType))
		return s, nil
	case <-ctx.Done():
		_ = p.wc.conn.Close()
		<-reply
		return nil, fmt.Errorf("%w: %v", ErrNoSource, ctx.Err())
	}
}

// awaitStarted reads until the page confirms or refuses the capture.
func (p *wsPending) awaitStarted() handshakeResult {
	for {
		mt, data, err := p.wc.conn.ReadMessage()
		if err != nil {
			return handshakeResult{err: fmt.Errorf("%w: %v", ErrNoSource, err)}
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg control
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "started":
			mime := msg.MimeType
			if mime == "" {
				mime = "video/webm"
			}
			return handshakeResult{mimeType: mime}
		case "error":
			return handshakeResult{err: browserError(msg.Name, msg.Message)}
		}
	}
}

// browserError maps a getDisplayMedia DOMException name to a capture error.
func browserError(name, message string) error {
	detail := name
	if message != "" {
		detail = name + ": " + message
	}
	switch name {
	case "NotAllowedError", "SecurityError", "AbortError":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	default:
		return fmt.Errorf("%w: %s", ErrNoSource, detail)
	}
}

func (p *wsPending) Abort() {
	_ = p.wc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "replaced"), time.Now().Add(time.Second))
	_ = p.wc.conn.Close()
}

type wsStream struct {
	wc       *wsConn
	mimeType string
	events   chan Event
	done     chan struct{}
	stopping atomic.Bool
	once     sync.Once
	logger   *zap.Logger
}

func (s *wsStream) ID() string           { return s.wc.id }
func (s *wsStream) MimeType() string     { return s.mimeType }
func (s *wsStream) Events() <-chan Event { return s.events }

func (s *wsStream) readPump() {
	defer func() {
		close(s.events)
		_ = s.wc.conn.Close()
		close(s.done)
	}()

	for {
		mt, data, err := s.wc.conn.ReadMessage()
		if err != nil {
			if !s.stopping.Load() {
				s.logger.Info("capture connection lost", zap.Error(err))
				s.emit(EventEnded, nil)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			s.emit(EventChunk, data)
		case websocket.TextMessage:
			var msg control
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "ended":
				s.emit(EventEnded, nil)
				return
			case "stopped":
				if !s.stopping.Load() {
					s.emit(EventEnded, nil)
				}
				return
			}
		}
	}
}

func (s *wsStream) emit(kind EventKind, data []byte) {
	s.events <- Event{Kind: kind, Data: data, At: time.Now()}
}

// Close asks the page to stop its recorder and waits for the final chunk.
func (s *wsStream) Close() error {
	s.once.Do(func() {
		s.stopping.Store(true)
		if err := s.wc.writeJSON(control{Type: "stop"}); err != nil {
			_ = s.wc.conn.Close()
		}
		select {
		case <-s.done:
		case <-time.After(stopWait):
			s.logger.Warn("capture page did not confirm stop")
			_ = s.wc.conn.Close()
			<-s.done
		}
	})
	return nil
}
