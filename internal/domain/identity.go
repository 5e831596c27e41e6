// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxIDLen = 128

var (
	ErrMeetingEmpty = errors.New("meeting id empty")
	ErrSpeakerEmpty = errors.New("speaker id empty")
	ErrIDTooLong    = errors.New("id too long")
	ErrUnknownRole  = errors.New("unknown role")
)

type (
	ConnID    string
	MeetingID string
	SpeakerID string
)

// NewConnID is a tiny helper to avoid ad-hoc uuid calls in adapters.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// ParseRole maps a wire role to Role. An empty role means participant.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleParticipant:
		return RoleParticipant, nil
	case RoleHost:
		return RoleHost, nil
	default:
		return "", ErrUnknownRole
	}
}

// Identity is the (meeting, speaker, role) triple a connection declares once.
type Identity struct {
	Meeting MeetingID `json:"meetingId"`
	Speaker SpeakerID `json:"speakerId"`
	Role    Role      `json:"role"`
}

func NewIdentity(meeting, speaker, role string) (Identity, error) {
	meeting = strings.TrimSpace(meeting)
	speaker = strings.TrimSpace(speaker)
	if meeting == "" {
		return Identity{}, ErrMeetingEmpty
	}
	if speaker == "" {
		return Identity{}, ErrSpeakerEmpty
	}
	if len(meeting) > MaxIDLen || len(speaker) > MaxIDLen {
		return Identity{}, ErrIDTooLong
	}
	r, err := ParseRole(role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Meeting: MeetingID(meeting), Speaker: SpeakerID(speaker), Role: r}, nil
}

// SameSpeaker reports whether two identities name the same meeting and speaker.
func (i Identity) SameSpeaker(o Identity) bool {
	return i.Meeting == o.Meeting && i.Speaker == o.Speaker
}
