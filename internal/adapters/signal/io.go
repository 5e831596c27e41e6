package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(id)
		ctl.Limiter.Forget(id)
	}()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.IsOpen() {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := ctl.Orch.OnAudio(id, data); err != nil {
				ctl.violation(id, c, err)
			}
		case websocket.TextMessage:
			ctl.handleSignal(ctx, id, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, id domain.ConnID, c *WsSignalConn, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		ctl.violation(id, c, err)
		return
	}

	switch m := f.(type) {
	case protocol.Start:
		ctl.handleStart(ctx, id, c, m)
	case protocol.End:
		ctl.handleEnd(id, c, m)
	case protocol.Connection:
		ctl.handleConnection(id, c, m)
	case protocol.Ping:
		ctl.handlePing(id, c)
	case protocol.Pong:
		ctl.Orch.Registry.MarkAlive(id)
	default:
		ctl.violation(id, c, fmt.Errorf("%w: %s is not a client frame", protocol.ErrUnknownFrame, f.Kind()))
	}
}

// violation answers with an error frame and closes the connection once it keeps misbehaving.
func (ctl *SignalWSController) violation(id domain.ConnID, c *WsSignalConn, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("protocol violation")
	ctl.sendJSON(c, protocol.Error{Message: err.Error()})
	if !errors.Is(err, protocol.ErrProtocol) {
		return
	}
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("too many protocol violations, closing")
		c.Close()
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, f protocol.Frame) {
	b, err := protocol.Encode(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON encode")
		return
	}
	_ = c.TrySend(b)
}
