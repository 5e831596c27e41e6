// Package engine is the outbound WebSocket client for the external STT engine.
// Each session gets its own connection.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	resultBuffer          = 16
)

var (
	ErrConnectTimeout = fmt.Errorf("engine connect timeout: %w", context.DeadlineExceeded)
	ErrEngineClosed   = errors.New("engine connection lost")
	ErrEngineFormat   = errors.New("engine reply format")
	ErrStreamClosed   = errors.New("engine stream closed")
)

type Client struct {
	URL            string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Dialer         *websocket.Dialer
}

func NewClient(url string, connectTimeout time.Duration) *Client {
	return &Client{
		URL:            url,
		ConnectTimeout: connectTimeout,
		WriteTimeout:   defaultWriteTimeout,
		Dialer:         websocket.DefaultDialer,
	}
}

type controlMessage struct {
	Type      string           `json:"type"`
	MeetingID domain.MeetingID `json:"meetingId,omitempty"`
	Speaker   domain.SpeakerID `json:"speaker,omitempty"`
}

// Open dials the engine and sends the session-init message tagged with meeting and speaker.
func (c *Client) Open(ctx context.Context, meeting domain.MeetingID, speaker domain.SpeakerID) (core.EngineStream, error) {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := websocket.DefaultDialer
	if c.Dialer != nil {
		dialer = c.Dialer
	}
	d := *dialer
	d.HandshakeTimeout = timeout

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.With().
		Str("module", "engine").
		Str("meeting", string(meeting)).
		Str("speaker", string(speaker)).
		Logger()

	conn, _, err := d.DialContext(dctx, c.URL, nil)
	if err != nil {
		if isTimeout(dctx, err) {
			return nil, fmt.Errorf("%w after %s: %w", ErrConnectTimeout, timeout, err)
		}
		return nil, fmt.Errorf("dial engine %s: %w", c.URL, err)
	}

	s := &Stream{
		conn:         conn,
		logger:       logger,
		writeTimeout: c.WriteTimeout,
		results:      make(chan core.EngineResult, resultBuffer),
		done:         make(chan struct{}),
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if err := s.writeControl(controlMessage{Type: "start", MeetingID: meeting, Speaker: speaker}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session init: %w", err)
	}
	logger.Info().Str("url", c.URL).Msg("engine stream opened")

	go s.readLoop()
	return s, nil
}

// Stream is one engine connection. Writes are serialized; one goroutine reads.
type Stream struct {
	conn         *websocket.Conn
	logger       zerolog.Logger
	writeTimeout time.Duration

	writeMu  sync.Mutex
	results  chan core.EngineResult
	done     chan struct{}
	closing  atomic.Bool
	finished atomic.Bool
	once     sync.Once

	errMu sync.Mutex
	err   error
}

func (s *Stream) Results() <-chan core.EngineResult { return s.results }

func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Send forwards one audio frame verbatim.
func (s *Stream) Send(frame core.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closing.Load() {
		return ErrStreamClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: write audio: %v", ErrEngineClosed, err)
	}
	return nil
}

func (s *Stream) Finish() error {
	if s.finished.Swap(true) {
		return nil
	}
	return s.writeControl(controlMessage{Type: "end"})
}

func (s *Stream) Close(graceful bool) error {
	var err error
	s.once.Do(func() {
		if graceful {
			err = s.Finish()
		}
		s.closing.Store(true)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
		s.logger.Info().Bool("graceful", graceful).Msg("engine stream closed")
	})
	return err
}

func (s *Stream) writeControl(msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closing.Load() {
		return ErrStreamClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrEngineClosed, msg.Type, err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.results)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.closing.Load():
			case s.finished.Load() && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.logger.Info().Msg("engine closed after end of stream")
			default:
				s.logger.Error().Err(err).Msg("engine read error")
				s.setErr(fmt.Errorf("%w: %v", ErrEngineClosed, err))
			}
			return
		}
		if mt != websocket.TextMessage {
			s.logger.Debug().Int("bytes", len(data)).Msg("ignoring binary engine frame")
			continue
		}

		reply, err := ParseReply(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("raw", truncate(data, 200)).Msg("discarding engine reply")
			continue
		}
		if !reply.IsTranscript {
			s.logger.Info().Str("type", reply.Type).Str("message", reply.Message).Msg("engine status")
			continue
		}

		select {
		case s.results <- reply.Result:
		case <-s.done:
			return
		}
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
