package engine

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Relay/internal/core"
)

// Reply is one decoded engine message. Only transcription replies carry a Result.
type Reply struct {
	Type         string
	Message      string
	IsTranscript bool
	Result       core.EngineResult
}

type wireReply struct {
	Type         string   `json:"type"`
	Message      string   `json:"message"`
	Text         *string  `json:"text"`
	IsFinal      *bool    `json:"isFinal"`
	IsFinalSnake *bool    `json:"is_final"`
	Start        *float64 `json:"start"`
	End          *float64 `json:"end"`
	Language     string   `json:"language"`
}

// ParseReply decodes an engine text frame. Replies with no type and a text
// field are treated as transcriptions.
func ParseReply(data []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrEngineFormat, err)
	}

	switch w.Type {
	case "transcription", "":
	default:
		return Reply{Type: w.Type, Message: w.Message}, nil
	}
	if w.Text == nil {
		return Reply{}, fmt.Errorf("%w: transcription without text", ErrEngineFormat)
	}

	final := false
	switch {
	case w.IsFinal != nil:
		final = *w.IsFinal
	case w.IsFinalSnake != nil:
		final = *w.IsFinalSnake
	}
	return Reply{
		Type:         "transcription",
		IsTranscript: true,
		Result: core.EngineResult{
			Text:     *w.Text,
			Start:    w.Start,
			End:      w.End,
			Language: w.Language,
			IsFinal:  final,
		},
	}, nil
}
