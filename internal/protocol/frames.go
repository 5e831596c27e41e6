// Package protocol is the client wire format: JSON control frames tagged by "type".
// Binary frames carry raw s16le PCM and never pass through this package.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

type Kind string

const (
	KindStart          Kind = "start"
	KindEnd            Kind = "end"
	KindConnection     Kind = "connection"
	KindConnectionAck  Kind = "connection_ack"
	KindPing           Kind = "ping"
	KindPong           Kind = "pong"
	KindError          Kind = "error"
	KindTranscription  Kind = "transcription"
	KindSessionStarted Kind = "session_started"
	KindSessionClosed  Kind = "session_closed"
)

// Frame is one decoded control frame. The concrete type is selected by Kind.
type Frame interface {
	Kind() Kind
}

// Start opens a session. Older clients send the speaker id as "speaker".
type Start struct {
	MeetingID string `json:"meetingId"`
	SpeakerID string `json:"speakerId"`
	Speaker   string `json:"speaker,omitempty"`
	Role      string `json:"role"`
}

func (Start) Kind() Kind { return KindStart }

func (s Start) Identity() (domain.Identity, error) {
	speaker := s.SpeakerID
	if speaker == "" {
		speaker = s.Speaker
	}
	return domain.NewIdentity(s.MeetingID, speaker, s.Role)
}

// End closes the current session. Identity fields are optional.
type End struct {
	MeetingID string `json:"meetingId,omitempty"`
	SpeakerID string `json:"speakerId,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

func (End) Kind() Kind { return KindEnd }

// Matches reports whether the identity fields present in the frame agree with ident.
func (e End) Matches(ident domain.Identity) bool {
	speaker := e.SpeakerID
	if speaker == "" {
		speaker = e.Speaker
	}
	if e.MeetingID != "" && domain.MeetingID(e.MeetingID) != ident.Meeting {
		return false
	}
	if speaker != "" && domain.SpeakerID(speaker) != ident.Speaker {
		return false
	}
	return true
}

// Connection declares identity without starting a session.
type Connection struct {
	MeetingID string `json:"meetingId"`
	SpeakerID string `json:"speakerId"`
	Role      string `json:"role"`
}

func (Connection) Kind() Kind { return KindConnection }

func (c Connection) Identity() (domain.Identity, error) {
	return domain.NewIdentity(c.MeetingID, c.SpeakerID, c.Role)
}

type ConnectionAck struct {
	MeetingID domain.MeetingID `json:"meetingId"`
	SpeakerID domain.SpeakerID `json:"speakerId"`
}

func (ConnectionAck) Kind() Kind { return KindConnectionAck }

type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

type Pong struct{}

func (Pong) Kind() Kind { return KindPong }

type Error struct {
	Message string `json:"message"`
}

func (Error) Kind() Kind { return KindError }

type Transcription struct {
	MeetingID domain.MeetingID `json:"meetingId"`
	SpeakerID domain.SpeakerID `json:"speakerId"`
	Role      domain.Role      `json:"role"`
	Text      string           `json:"text"`
	Start     *float64         `json:"start,omitempty"`
	End       *float64         `json:"end,omitempty"`
	Language  string           `json:"language,omitempty"`
	IsFinal   bool             `json:"isFinal"`
	Timestamp time.Time        `json:"timestamp"`
	Seq       uint64           `json:"seq"`
}

func (Transcription) Kind() Kind { return KindTranscription }

func NewTranscription(ev domain.TranscriptionEvent) Transcription {
	return Transcription{
		MeetingID: ev.Meeting,
		SpeakerID: ev.Speaker,
		Role:      ev.Role,
		Text:      ev.Text,
		Start:     ev.Start,
		End:       ev.End,
		Language:  ev.Language,
		IsFinal:   ev.IsFinal,
		Timestamp: ev.Timestamp,
		Seq:       ev.Seq,
	}
}

type SessionStarted struct {
	MeetingID domain.MeetingID `json:"meetingId"`
	SpeakerID domain.SpeakerID `json:"speakerId"`
}

func (SessionStarted) Kind() Kind { return KindSessionStarted }

type SessionClosed struct {
	MeetingID domain.MeetingID `json:"meetingId"`
	SpeakerID domain.SpeakerID `json:"speakerId"`
	Reason    string           `json:"reason,omitempty"`
}

func (SessionClosed) Kind() Kind { return KindSessionClosed }

// Encode marshals f with its "type" tag as the first field.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	tag, _ := json.Marshal(string(f.Kind()))
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses one text frame into its concrete Frame type.
func Decode(data []byte) (Frame, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case KindStart:
		var f Start
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		if _, err := f.Identity(); err != nil {
			return nil, fmt.Errorf("%w: start: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case KindEnd:
		return decodeAs[End](data)
	case KindConnection:
		var f Connection
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		if _, err := f.Identity(); err != nil {
			return nil, fmt.Errorf("%w: connection: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case KindConnectionAck:
		return decodeAs[ConnectionAck](data)
	case KindPing:
		return Ping{}, nil
	case KindPong:
		return Pong{}, nil
	case KindError:
		return decodeAs[Error](data)
	case KindTranscription:
		return decodeAs[Transcription](data)
	case KindSessionStarted:
		return decodeAs[SessionStarted](data)
	case KindSessionClosed:
		return decodeAs[SessionClosed](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func decodeAs[T Frame](data []byte) (Frame, error) {
	var f T
	if err := decodeInto(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}
