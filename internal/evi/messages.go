package evi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message type tags on the EVI chat socket.
const (
	TypeSessionSettings  = "session_settings"
	TypeAudioInput       = "audio_input"
	TypeAudioOutput      = "audio_output"
	TypeAssistantMessage = "assistant_message"
	TypeAssistantEnd     = "assistant_end"
	TypeUserMessage      = "user_message"
	TypeUserInterruption = "user_interruption"
	TypeChatMetadata     = "chat_metadata"
	TypeError            = "error"
)

// SessionSettings is sent once per connection, immediately after open.
type SessionSettings struct {
	Type    string        `json:"type"`
	Audio   AudioSettings `json:"audio"`
	Context *Context      `json:"context,omitempty"`
}

type AudioSettings struct {
	Channels         int         `json:"channels"`
	Encoding         string      `json:"encoding"`
	SampleRate       int         `json:"sample_rate"`
	SpeakerDetection bool        `json:"speaker_detection"`
	VAD              VADSettings `json:"vad"`
}

type VADSettings struct {
	Enabled bool `json:"enabled"`
}

// Context carries the accumulated conversation transcript so a fresh
// connection can continue where the last one stopped.
type Context struct {
	Text string `json:"text"`
}

// NewSessionSettings builds the negotiation frame for a 48kHz mono linear16
// stream. Remote VAD stays off: utterance boundaries are detected locally.
func NewSessionSettings(contextText string) *SessionSettings {
	s := &SessionSettings{
		Type: TypeSessionSettings,
		Audio: AudioSettings{
			Channels:         1,
			Encoding:         "linear16",
			SampleRate:       48000,
			SpeakerDetection: true,
			VAD:              VADSettings{Enabled: false},
		},
	}
	if contextText != "" {
		s.Context = &Context{Text: contextText}
	}
	return s
}

// AudioInput carries one chunk of captured audio, base64-encoded PCM.
type AudioInput struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func NewAudioInput(pcm []byte) *AudioInput {
	return &AudioInput{
		Type: TypeAudioInput,
		Data: base64.StdEncoding.EncodeToString(pcm),
	}
}

// ChatMessage is the transcript body of assistant_message and user_message
// frames. Content may be empty when recognition failed.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is the decoded form of one inbound frame. Only the fields relevant
// to the frame's type are populated.
type Message struct {
	Type string `json:"type"`

	// audio_output
	Data string `json:"data,omitempty"`

	// assistant_message / user_message carry a chat body object here,
	// error frames carry a plain string
	Raw json.RawMessage `json:"message,omitempty"`

	// chat_metadata
	ChatID      string `json:"chat_id,omitempty"`
	ChatGroupID string `json:"chat_group_id,omitempty"`

	// error
	Code string `json:"code,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// ChatBody decodes the message body of assistant_message and user_message
// frames. ok is false when the body is missing or not an object.
func (m *Message) ChatBody() (*ChatMessage, bool) {
	if len(m.Raw) == 0 {
		return nil, false
	}
	var body ChatMessage
	if err := json.Unmarshal(m.Raw, &body); err != nil {
		return nil, false
	}
	return &body, true
}

// ErrorDetail returns the human-readable text of an error frame.
func (m *Message) ErrorDetail() string {
	if len(m.Raw) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(m.Raw, &detail); err != nil {
		return string(m.Raw)
	}
	return detail
}

// ParseMessage decodes one inbound frame. Unparseable frames are the
// caller's problem to log and drop; they are never fatal.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse inbound frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("inbound frame has no type")
	}
	return &msg, nil
}

// AudioPayload decodes the base64 payload of an audio_output frame.
func (m *Message) AudioPayload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}

// ErrorKind classifies remote-reported error frames.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindAuth
	ErrorKindPayload
)

// ClassifyError buckets an error frame by its code and slug. Authentication
// failures are terminal for the session; payload failures point at the last
// frame we sent.
func ClassifyError(code, slug string) ErrorKind {
	s := strings.ToLower(code + " " + slug)
	switch {
	case strings.Contains(s, "auth") || strings.Contains(s, "api_key") || strings.Contains(s, "unauthorized"):
		return ErrorKindAuth
	case strings.Contains(s, "payload") || strings.Contains(s, "malformed"):
		return ErrorKindPayload
	default:
		return ErrorKindUnknown
	}
}
