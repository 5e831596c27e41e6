package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultPingInterval   = 25 * time.Second
	DefaultFinalWait      = 10 * time.Second

	writeWait = 5 * time.Second
	closeWait = 2 * time.Second
)

var (
	ErrGaveUp      = errors.New("capture: reconnect limit reached")
	// ErrSessionLost means the relay closed the session while the socket stayed up.
	ErrSessionLost = errors.New("capture: session closed by relay")
)

// Intent is what the user wants the client to be doing, independent of the socket.
type Intent int32

const (
	Active Intent = iota
	StoppingRequested
	Stopped
)

func (i Intent) String() string {
	switch i {
	case Active:
		return "active"
	case StoppingRequested:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("intent(%d)", int32(i))
	}
}

// shouldReconnect allows a reconnect only for abnormal closes while the user still wants to stream.
func shouldReconnect(code int, intent Intent) bool {
	return intent == Active && code != websocket.CloseNormalClosure
}

type Options struct {
	URL       string
	MeetingID string
	SpeakerID string
	Role      string

	ReconnectDelay time.Duration
	PingInterval   time.Duration
	// FinalWait bounds how long to wait for the final transcript after end.
	FinalWait      time.Duration
	// MaxReconnects of 0 means unlimited.
	MaxReconnects  int
	Dialer         *websocket.Dialer
}

type Client struct {
	opts         Options
	onTranscript func(protocol.Transcription)
	logger       zerolog.Logger

	intent     atomic.Int32
	reconnects atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewClient(opts Options, onTranscript func(protocol.Transcription)) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.FinalWait <= 0 {
		opts.FinalWait = DefaultFinalWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if onTranscript == nil {
		onTranscript = func(protocol.Transcription) {}
	}
	return &Client{
		opts:         opts,
		onTranscript: onTranscript,
		logger: log.With().
			Str("module", "capture.client").
			Str("meeting", opts.MeetingID).
			Str("speaker", opts.SpeakerID).
			Logger(),
	}
}

func (c *Client) Intent() Intent   { return Intent(c.intent.Load()) }
func (c *Client) Reconnects() int { return int(c.reconnects.Load()) }

// Stop sends end, closes normally and suppresses any further reconnect.
func (c *Client) Stop() {
	c.intent.CompareAndSwap(int32(Active), int32(StoppingRequested))
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run streams src until a final transcript arrives, the source is exhausted, Stop is called
// or ctx is cancelled. The source is not closed by Run.
func (c *Client) Run(ctx context.Context, src Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer c.intent.Store(int32(Stopped))

	if rate := src.SampleRate(); rate != TargetSampleRate {
		c.logger.Warn().
			Bool("degraded", true).
			Int("source_rate", rate).
			Int("target_rate", TargetSampleRate).
			Msg("sample rate mismatch: audio is sent WITHOUT resampling, transcription quality will suffer")
	}

	chunks := src.Chunks()
	for {
		out := c.attempt(ctx, chunks)
		if !shouldReconnect(out.code, c.Intent()) {
			c.logger.Info().Int("code", out.code).Str("intent", c.Intent().String()).Msg("stream finished")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		n := int(c.reconnects.Add(1))
		if c.opts.MaxReconnects > 0 && n > c.opts.MaxReconnects {
			return fmt.Errorf("%w: %w", ErrGaveUp, out.err)
		}
		c.logger.Warn().Err(out.err).Int("code", out.code).Int("attempt", n).Dur("delay", c.opts.ReconnectDelay).Msg("connection lost, reconnecting")

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

type outcome struct {
	code int
	err  error
}

func (c *Client) attempt(ctx context.Context, chunks <-chan []byte) outcome {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return outcome{code: websocket.CloseAbnormalClosure, err: err}
	}
	defer conn.Close()

	start, err := protocol.Encode(protocol.Start{MeetingID: c.opts.MeetingID, SpeakerID: c.opts.SpeakerID, Role: c.opts.Role})
	if err != nil {
		return outcome{code: websocket.CloseNormalClosure, err: err}
	}
	w := &wsWriter{conn: conn}
	if err := w.write(websocket.TextMessage, start); err != nil {
		return outcome{code: websocket.CloseAbnormalClosure, err: err}
	}
	c.logger.Info().Str("url", c.opts.URL).Msg("connected, start sent")
	return c.stream(ctx, conn, w, chunks)
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(mt int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(mt, data)
}

func (w *wsWriter) closeNormal(reason string) error {
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}

func (c *Client) stream(ctx context.Context, conn *websocket.Conn, w *wsWriter, chunks <-chan []byte) outcome {
	readDone := make(chan outcome, 1)
	go func() { readDone <- c.readLoop(conn, w) }()

	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()

	end, err := protocol.Encode(protocol.End{MeetingID: c.opts.MeetingID, SpeakerID: c.opts.SpeakerID})
	if err != nil {
		return outcome{code: websocket.CloseNormalClosure, err: err}
	}
	pingFrame, _ := protocol.Encode(protocol.Ping{})

	var finalWait <-chan time.Time
	for {
		select {
		case out := <-readDone:
			return out
		case <-ctx.Done():
			c.intent.CompareAndSwap(int32(Active), int32(StoppingRequested))
			_ = w.write(websocket.TextMessage, end)
			_ = w.closeNormal("stopped by user")
			return c.waitRead(conn, readDone)
		case <-ping.C:
			if err := w.write(websocket.TextMessage, pingFrame); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
			}
		case <-finalWait:
			c.logger.Warn().Dur("waited", c.opts.FinalWait).Msg("no final transcript, closing")
			_ = w.closeNormal("no final transcript")
			return c.waitRead(conn, readDone)
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				c.intent.CompareAndSwap(int32(Active), int32(StoppingRequested))
				if err := w.write(websocket.TextMessage, end); err != nil {
					c.logger.Warn().Err(err).Msg("send end failed")
				}
				finalWait = time.After(c.opts.FinalWait)
				c.logger.Info().Msg("source exhausted, end sent")
				continue
			}
			if err := w.write(websocket.BinaryMessage, chunk); err != nil {
				c.logger.Debug().Err(err).Int("bytes", len(chunk)).Msg("audio write failed")
			}
		}
	}
}

func (c *Client) waitRead(conn *websocket.Conn, readDone <-chan outcome) outcome {
	select {
	case out := <-readDone:
		return out
	case <-time.After(closeWait):
		_ = conn.Close()
		<-readDone
		return outcome{code: websocket.CloseNormalClosure}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, w *wsWriter) outcome {
	started := false
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return outcome{code: ce.Code, err: err}
			}
			return outcome{code: websocket.CloseAbnormalClosure, err: err}
		}
		if mt != websocket.TextMessage {
			continue
		}
		f, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("unreadable server frame")
			continue
		}
		switch m := f.(type) {
		case protocol.Transcription:
			c.onTranscript(m)
			if m.IsFinal && string(m.SpeakerID) == c.opts.SpeakerID {
				c.intent.Store(int32(Stopped))
				c.logger.Info().Uint64("seq", m.Seq).Msg("final transcript received")
				_ = w.closeNormal("final transcription")
			}
		case protocol.Error:
			c.logger.Warn().Str("message", m.Message).Bool("started", started).Msg("server error")
			if !started && c.Intent() == Active {
				return c.restart(w, fmt.Errorf("%w: %s", ErrSessionLost, m.Message))
			}
		case protocol.SessionStarted:
			started = true
			c.logger.Info().Msg("session started")
		case protocol.SessionClosed:
			c.logger.Info().Str("reason", m.Reason).Msg("session closed")
			if string(m.SpeakerID) != c.opts.SpeakerID {
				continue
			}
			started = false
			if c.Intent() == Active {
				return c.restart(w, fmt.Errorf("%w: %s", ErrSessionLost, m.Reason))
			}
		case protocol.Pong:
			c.logger.Debug().Msg("pong")
		}
	}
}

// restart ends a socket whose session is gone; the abnormal outcome sends Run
// through its reconnect path, which re-sends start.
func (c *Client) restart(w *wsWriter, err error) outcome {
	_ = w.closeNormal("restarting session")
	return outcome{code: websocket.CloseAbnormalClosure, err: err}
}
