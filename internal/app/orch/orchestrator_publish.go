package orch

import (
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// publish fans one event out to every open connection of its meeting.
func (o *Orchestrator) publish(ev domain.TranscriptionEvent) {
	data, err := protocol.Encode(protocol.NewTranscription(ev))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode transcription")
		return
	}
	res := o.Registry.Broadcast(ev.Meeting, data)
	for _, id := range res.Dropped {
		o.onBackPressure(ev.Meeting, id)
	}
}

func (o *Orchestrator) onBackPressure(meeting domain.MeetingID, id domain.ConnID) {
	if o.Policy == nil {
		return
	}
	e, err := o.Registry.Get(id)
	if err != nil {
		return
	}
	switch o.Policy.OnBackPressure(meeting, e) {
	case app.KickConnection:
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("meeting", string(meeting)).Msg("slow connection kicked")
		e.Conn.Close()
		o.Disconnect(id)
	case app.DropFrame, app.NoAction:
	}
}
