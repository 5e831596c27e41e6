package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecodeStart(t *testing.T) {
	f, err := Decode([]byte(`{"type":"start","meetingId":"m1","speakerId":"s1","role":"host"}`))
	require.NoError(t, err)
	start, ok := f.(Start)
	require.True(t, ok)

	ident, err := start.Identity()
	require.NoError(t, err)
	require.Equal(t, domain.Identity{Meeting: "m1", Speaker: "s1", Role: domain.RoleHost}, ident)
}

func TestDecodeStartLegacySpeakerField(t *testing.T) {
	f, err := Decode([]byte(`{"type":"start","meetingId":"m1","speaker":"alice"}`))
	require.NoError(t, err)
	ident, err := f.(Start).Identity()
	require.NoError(t, err)
	require.Equal(t, domain.SpeakerID("alice"), ident.Speaker)
	require.Equal(t, domain.RoleParticipant, ident.Role)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{name: "not json", data: `{nope`, want: ErrMalformedFrame},
		{name: "missing type", data: `{"meetingId":"m1"}`, want: ErrMalformedFrame},
		{name: "unknown type", data: `{"type":"offer"}`, want: ErrUnknownFrame},
		{name: "start without meeting", data: `{"type":"start","speakerId":"s1"}`, want: ErrMalformedFrame},
		{name: "start bad role", data: `{"type":"start","meetingId":"m1","speakerId":"s1","role":"root"}`, want: ErrMalformedFrame},
		{name: "connection without speaker", data: `{"type":"connection","meetingId":"m1"}`, want: ErrMalformedFrame},
		{name: "wrong field type", data: `{"type":"end","meetingId":5}`, want: ErrMalformedFrame},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.data))
			require.Nil(t, f)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestEncodeTagsType(t *testing.T) {
	data, err := Encode(Pong{})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(data))

	data, err = Encode(Error{Message: "audio before start"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","message":"audio before start"}`, string(data))
}

func TestTranscriptionRoundTrip(t *testing.T) {
	start := 1.5
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := domain.TranscriptionEvent{
		Meeting:   "m1",
		Speaker:   "s1",
		Role:      domain.RoleHost,
		Text:      "hello world",
		Start:     &start,
		IsFinal:   true,
		Timestamp: ts,
		Seq:       2,
	}
	data, err := Encode(NewTranscription(ev))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, "transcription", raw["type"])
	require.Equal(t, true, raw["isFinal"])
	require.NotContains(t, raw, "end")
	require.NotContains(t, raw, "language")

	f, err := Decode(data)
	require.NoError(t, err)
	got := f.(Transcription)
	require.Equal(t, "hello world", got.Text)
	require.Equal(t, 1.5, *got.Start)
	require.True(t, got.Timestamp.Equal(ts))
}

func TestEndMatches(t *testing.T) {
	ident := domain.Identity{Meeting: "m1", Speaker: "s1"}
	require.True(t, End{}.Matches(ident))
	require.True(t, End{MeetingID: "m1", SpeakerID: "s1"}.Matches(ident))
	require.True(t, End{Speaker: "s1"}.Matches(ident))
	require.False(t, End{MeetingID: "m2"}.Matches(ident))
	require.False(t, End{SpeakerID: "s9"}.Matches(ident))
}

func TestViolationWraps(t *testing.T) {
	require.Nil(t, Violation(nil))
	require.ErrorIs(t, Violation(domain.ErrMeetingEmpty), ErrProtocol)
	require.ErrorIs(t, Violation(domain.ErrMeetingEmpty), domain.ErrMeetingEmpty)
	require.Equal(t, ErrUnknownFrame, Violation(ErrUnknownFrame))
}
