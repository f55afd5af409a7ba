package api

import (
	"encoding/json"
	"time"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

// TurnRequest is the body of POST /sessions/{id}/turns. The path id wins
// over a session_id in the body.
type TurnRequest struct {
	Transcript string             `json:"transcript"`
	Intent     string             `json:"intent"`
	Entities   map[string]*string `json:"entities"`
	SessionID  string             `json:"session_id,omitempty"`
}

// UtteranceRequest carries either text or base64 audio for the voice pipeline.
type UtteranceRequest struct {
	Text   string `json:"text,omitempty"`
	Audio  []byte `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}

type HistoryResponse struct {
	SessionID string          `json:"session_id"`
	Turns     []dialogue.Turn `json:"turns"`
}

type AvailabilityResponse struct {
	DoctorID      string      `json:"doctor_id"`
	DoctorName    string      `json:"doctor_name"`
	Date          string      `json:"date"`
	Slots         []time.Time `json:"slots"`
	NextAvailable []time.Time `json:"next_available,omitempty"`
}

// StreamMessage is one inbound websocket frame.
type StreamMessage struct {
	Type    string          `json:"type"` // "audio", "text", "turn", "reset"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamReply is one outbound websocket frame.
type StreamReply struct {
	Type       string          `json:"type"` // "reply", "reset", "error"
	Transcript string          `json:"transcript,omitempty"`
	Text       string          `json:"text,omitempty"`
	Result     *booking.Result `json:"result,omitempty"`
	Audio      []byte          `json:"audio,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
