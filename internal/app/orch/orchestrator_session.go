package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
)

// StartSession binds identity if needed and opens the engine stream.
// It blocks the calling connection for at most ConnectTimeout.
func (o *Orchestrator) StartSession(ctx context.Context, id domain.ConnID, ident domain.Identity) error {
	entry, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	switch {
	case !entry.Registered:
		if err := o.Registry.Register(id, ident); err != nil {
			return protocol.Violation(err)
		}
	case !entry.Identity.SameSpeaker(ident):
		return ErrIdentityMismatch
	default:
		ident = entry.Identity
	}

	o.mu.Lock()
	if cur := o.sessions[id]; cur != nil && cur.State() != session.StateClosed {
		o.mu.Unlock()
		return ErrSessionActive
	}
	sess := session.New(id, ident)
	o.sessions[id] = sess
	o.mu.Unlock()

	logger := log.With().
		Str("module", "orch").
		Str("conn", string(id)).
		Str("meeting", string(ident.Meeting)).
		Str("speaker", string(ident.Speaker)).
		Logger()

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := o.Engine.Open(openCtx, ident.Meeting, ident.Speaker)
	if err != nil {
		_, _, _ = sess.Fire(session.EventFail, "engine connect failed")
		logger.Error().Err(err).Msg("engine open failed, session closed")
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	if !sess.Attach(stream) {
		_ = stream.Close(false)
		return ErrConnectionGone
	}
	if _, _, err := sess.Fire(session.EventStart, ""); err != nil {
		_ = sess.CloseStream(false)
		return ErrConnectionGone
	}

	if !o.spawn(func() { o.pump(sess, stream) }) {
		o.teardown(sess, "relay shutting down")
		return ErrShuttingDown
	}
	o.send(id, protocol.SessionStarted{MeetingID: ident.Meeting, SpeakerID: ident.Speaker})
	logger.Info().Str("role", string(ident.Role)).Msg("session streaming")
	return nil
}

// OnAudio forwards one binary frame. Frames outside the streaming state are dropped.
func (o *Orchestrator) OnAudio(id domain.ConnID, frame core.Frame) error {
	sess, ok := o.Session(id)
	if !ok {
		return ErrAudioBeforeStart
	}
	if !session.AcceptsAudio(sess.State()) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("state", string(sess.State())).Int("bytes", len(frame)).Msg("dropping audio")
		return nil
	}
	if err := sess.Stream().Send(frame); err != nil {
		if session.AcceptsAudio(sess.State()) {
			o.fail(sess, "engine write failed", err)
		}
		return nil
	}
	sess.CountFrame(len(frame))
	return nil
}

// EndSession handles a client "end": send end-of-stream and drain remaining replies.
func (o *Orchestrator) EndSession(id domain.ConnID, f protocol.End) error {
	sess, ok := o.Session(id)
	if !ok {
		return ErrNoSession
	}
	if !f.Matches(sess.Identity()) {
		return ErrIdentityMismatch
	}
	if _, _, err := sess.Fire(session.EventEnd, ""); err != nil {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("state", string(sess.State())).Msg("end ignored")
		return nil
	}
	if err := sess.Stream().Finish(); err != nil {
		o.fail(sess, "engine end failed", err)
		return nil
	}
	if !o.spawn(func() { o.drainWatch(sess) }) {
		o.teardown(sess, "relay shutting down")
	}
	return nil
}

func (o *Orchestrator) drainWatch(sess *session.Session) {
	timeout := o.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sess.Done():
	case <-timer.C:
		o.finish(sess, session.EventDrained, "drain timeout")
	}
}

// pump reads engine replies for one session and publishes them in engine order.
func (o *Orchestrator) pump(sess *session.Session, stream core.EngineStream) {
	ident := sess.Identity()
	for res := range stream.Results() {
		if sess.State() == session.StateClosed {
			return
		}
		o.publish(domain.TranscriptionEvent{
			Meeting:   ident.Meeting,
			Speaker:   ident.Speaker,
			Role:      ident.Role,
			Text:      res.Text,
			Start:     res.Start,
			End:       res.End,
			Language:  res.Language,
			IsFinal:   res.IsFinal,
			Timestamp: time.Now().UTC(),
			Seq:       sess.NextSeq(),
		})
		if res.IsFinal {
			o.finish(sess, session.EventFinal, "final transcript")
			return
		}
	}
	if err := stream.Err(); err != nil {
		o.fail(sess, "engine connection lost", err)
		return
	}
	o.finish(sess, session.EventDrained, "engine closed")
}

// finish moves the session towards closed through draining.
// A final reply while streaming still sends end-of-stream before disconnecting.
func (o *Orchestrator) finish(sess *session.Session, ev session.Event, reason string) {
	_, next, err := sess.Fire(ev, reason)
	if err != nil {
		return
	}
	if next == session.StateDraining {
		_ = sess.CloseStream(true)
		if _, _, err := sess.Fire(session.EventDrained, reason); err != nil {
			return
		}
	} else {
		_ = sess.CloseStream(false)
	}
	o.closed(sess)
}

// fail closes the session on an engine error and tells the originating connection.
func (o *Orchestrator) fail(sess *session.Session, reason string, cause error) {
	prev, _, _ := sess.Fire(session.EventFail, reason)
	if prev == session.StateClosed {
		return
	}
	_ = sess.CloseStream(false)
	log.Error().Err(cause).Str("module", "orch").Str("conn", string(sess.Conn())).Str("from", string(prev)).Msg(reason)

	msg := reason
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = reason + ": timeout"
	}
	o.send(sess.Conn(), protocol.Error{Message: msg})
	o.closed(sess)
}

func (o *Orchestrator) teardown(sess *session.Session, reason string) {
	prev, _, _ := sess.Fire(session.EventFail, reason)
	if prev == session.StateClosed {
		return
	}
	_ = sess.CloseStream(false)
	stats := sess.Stats()
	log.Info().
		Str("module", "orch").
		Str("conn", string(sess.Conn())).
		Str("from", string(prev)).
		Uint64("events", stats.Events).
		Uint64("frames", stats.Frames).
		Msg("session torn down")
}

func (o *Orchestrator) closed(sess *session.Session) {
	ident := sess.Identity()
	stats := sess.Stats()
	log.Info().
		Str("module", "orch").
		Str("conn", string(sess.Conn())).
		Str("meeting", string(ident.Meeting)).
		Str("speaker", string(ident.Speaker)).
		Str("reason", sess.Reason()).
		Uint64("events", stats.Events).
		Uint64("frames", stats.Frames).
		Uint64("bytes", stats.Bytes).
		Dur("duration", time.Since(sess.Started())).
		Msg("session closed")
	o.send(sess.Conn(), protocol.SessionClosed{MeetingID: ident.Meeting, SpeakerID: ident.Speaker, Reason: sess.Reason()})
}
