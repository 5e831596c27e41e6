package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
)

// EngineResult is one parsed transcript reply from the STT engine.
type EngineResult struct {
	Text     string
	Start    *float64
	End      *float64
	Language string
	IsFinal  bool
}

// EngineStream is one outbound STT connection bound to a single session.
type EngineStream interface {
	Send(Frame) error
	// Results is closed when the engine connection stops being read.
	Results() <-chan EngineResult
	// Err reports why Results was closed; nil after a local Close.
	Err() error
	// Finish sends end-of-stream and keeps reading replies.
	Finish() error
	// Close sends end-of-stream first when graceful is true.
	Close(graceful bool) error
}

type Engine interface {
	Open(ctx context.Context, meeting domain.MeetingID, speaker domain.SpeakerID) (EngineStream, error)
}
