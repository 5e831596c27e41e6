package domain

import "time"

// TranscriptionEvent is one engine reply tagged with the session it belongs to.
// It is passed by value and never mutated after construction.
type TranscriptionEvent struct {
	Meeting   MeetingID
	Speaker   SpeakerID
	Role      Role
	Text      string
	Start     *float64
	End       *float64
	Language  string
	IsFinal   bool
	Timestamp time.Time
	Seq       uint64
}
