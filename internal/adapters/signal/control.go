package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
)

func (ctl *SignalWSController) handleStart(ctx context.Context, id domain.ConnID, c *WsSignalConn, m protocol.Start) {
	ident, err := m.Identity()
	if err != nil {
		ctl.violation(id, c, protocol.Violation(err))
		return
	}
	if err := ctl.Orch.StartSession(ctx, id, ident); err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			ctl.violation(id, c, err)
			return
		}
		ctl.sendJSON(c, protocol.Error{Message: err.Error()})
	}
}

func (ctl *SignalWSController) handleEnd(id domain.ConnID, c *WsSignalConn, m protocol.End) {
	if err := ctl.Orch.EndSession(id, m); err != nil {
		ctl.violation(id, c, err)
	}
}

func (ctl *SignalWSController) handleConnection(id domain.ConnID, c *WsSignalConn, m protocol.Connection) {
	ident, err := m.Identity()
	if err != nil {
		ctl.violation(id, c, protocol.Violation(err))
		return
	}
	if err := ctl.Orch.Identify(id, ident); err != nil {
		ctl.violation(id, c, err)
		return
	}
	ctl.sendJSON(c, protocol.ConnectionAck{MeetingID: ident.Meeting, SpeakerID: ident.Speaker})
}

func (ctl *SignalWSController) handlePing(id domain.ConnID, c *WsSignalConn) {
	ctl.Orch.Registry.MarkAlive(id)
	ctl.sendJSON(c, protocol.Pong{})
}
