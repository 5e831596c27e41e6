package core

import (
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Skipped int
	Dropped []domain.ConnID
}

// ConnectionDTO is a read-only view for APIs (no transport fields).
type ConnectionDTO struct {
	ID       domain.ConnID    `json:"id"`
	Meeting  domain.MeetingID `json:"meetingId"`
	Speaker  domain.SpeakerID `json:"speakerId"`
	Role     domain.Role      `json:"role"`
	Alive    bool             `json:"alive"`
	LastPong time.Time        `json:"lastPong"`
}

type MeetingInfo struct {
	ID              domain.MeetingID `json:"id"`
	ConnectionCount int              `json:"connection_count"`
}
