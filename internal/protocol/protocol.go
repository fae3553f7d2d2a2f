// Package protocol defines the webhook wire shapes exchanged with
// agents: batched event envelopes in, per-event response envelopes out.
package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types an agent may send.
const (
	EventRequestJob = "request_job"
	EventReportJob  = "report_job"
	EventHeartbeat  = "heartbeat"
	EventLog        = "log"
)

// Response message types.
const (
	MessageJobAssignment = "job_assignment"
	MessageText          = "text"
	MessageError         = "error"
	MessageAck           = "ack"
)

// Error codes carried by error messages.
const (
	CodeUnknownEvent    = "UNKNOWN_EVENT"
	CodeProcessingError = "PROCESSING_ERROR"
)

// Event is one inbound agent event. Timestamp is Unix-epoch
// milliseconds. Payload is opaque and event-type specific.
type Event struct {
	Type       string         `json:"type"`
	ReplyToken string         `json:"replyToken"`
	Timestamp  int64          `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}

// Time converts the millisecond timestamp to a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// MessageEnvelope is one webhook request body.
type MessageEnvelope struct {
	ClientCode string  `json:"client_code"`
	Events     []Event `json:"events"`
}

// ResponseMessage is one message within a response envelope. The Type
// field selects which of the optional fields are meaningful.
type ResponseMessage struct {
	Type     string         `json:"type"`
	JobID    int64          `json:"job_id,omitempty"`
	MediaURL string         `json:"media_url,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Text     string         `json:"text,omitempty"`
	Code     string         `json:"code,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// ResponseEnvelope answers one inbound event, echoing its reply token.
type ResponseEnvelope struct {
	ReplyToken string            `json:"replyToken"`
	Messages   []ResponseMessage `json:"messages"`
}

// NewJobAssignment builds a job_assignment message.
func NewJobAssignment(jobID int64, mediaURL string, payload map[string]any) ResponseMessage {
	return ResponseMessage{
		Type:     MessageJobAssignment,
		JobID:    jobID,
		MediaURL: mediaURL,
		Payload:  payload,
	}
}

// NewText builds a plain text message.
func NewText(text string) ResponseMessage {
	return ResponseMessage{Type: MessageText, Text: text}
}

// NewError builds an error message.
func NewError(code, message string) ResponseMessage {
	return ResponseMessage{Type: MessageError, Code: code, Message: message}
}

// NewAck builds an acknowledgement.
func NewAck() ResponseMessage {
	return ResponseMessage{Type: MessageAck}
}

// GenerateReplyToken returns a fresh correlation token of the form
// rt_ followed by 16 hex characters.
func GenerateReplyToken() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "rt_" + hex[:16]
}
