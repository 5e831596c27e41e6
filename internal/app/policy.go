package app

import "github.com/dkeye/Relay/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConnection
)

// Policy decides what happens to a connection whose send buffer is full during a broadcast.
type Policy interface {
	OnBackPressure(meeting domain.MeetingID, conn Entry) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.MeetingID, Entry) BackpressureAction {
	return KickConnection
}

// LenientPolicy only drops the frame; slow readers keep their connection.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.MeetingID, Entry) BackpressureAction {
	return DropFrame
}
