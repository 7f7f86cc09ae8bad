// Package protocol defines the tagged JSON messages exchanged between the
// browser client and the voice relay. Audio travels as binary websocket
// frames, out-of-band from these messages.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server message tags.
const (
	ClientReady   = "client_ready"
	ClientEOU     = "eou"
	ClientMute    = "mute"
	ClientEndChat = "end_chat"
)

// Server -> client message tags.
const (
	ServerChatSession   = "chat_session"
	ServerHeartbeat     = "heartbeat"
	ServerTranscript    = "transcript"
	ServerAssistantText = "assistant_text_chunk"
	ServerTTSStart      = "tts_start"
	ServerTTSChunk      = "tts_chunk"
	ServerTTSEnd        = "tts_end"
	ServerSpeak         = "speak"
	ServerError         = "error"
)

// ClientMessage is the union of all tagged messages a client may send.
type ClientMessage struct {
	T       string `json:"t"`
	Persona string `json:"persona,omitempty"`
	Session string `json:"session,omitempty"`
	UA      string `json:"ua,omitempty"`
	On      bool   `json:"on,omitempty"`
}

var clientTags = map[string]bool{
	ClientReady:   true,
	ClientEOU:     true,
	ClientMute:    true,
	ClientEndChat: true,
}

// ParseClientMessage decodes and validates a client text frame. Unknown
// tags and malformed JSON are rejected so the session can treat a bad
// handshake as fatal.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed client message: %w", err)
	}
	if msg.T == "" {
		return nil, fmt.Errorf("client message missing tag")
	}
	if !clientTags[msg.T] {
		return nil, fmt.Errorf("unknown client message tag %q", msg.T)
	}
	return &msg, nil
}

// ChatSession confirms the logical conversation id for this connection.
type ChatSession struct {
	T             string `json:"t"`
	ChatSessionID string `json:"chatSessionId"`
}

func NewChatSession(chatSessionID string) ChatSession {
	return ChatSession{T: ServerChatSession, ChatSessionID: chatSessionID}
}

// Entitlements is the snapshot portion of a heartbeat.
type Entitlements struct {
	Plan               string `json:"plan"`
	DailySecondsLimit  int    `json:"dailySecondsLimit"`
	DailySecondsUsed   int    `json:"dailySecondsUsed"`
	ChatSecondsCap     int    `json:"chatSecondsCap"`
	ChatSecondsElapsed int    `json:"chatSecondsElapsed"`
}

// Heartbeat carries the metering state to the client every tick.
// Remaining values of -1 mean unlimited.
type Heartbeat struct {
	T                 string       `json:"t"`
	Now               time.Time    `json:"now"`
	ChatSessionID     string       `json:"chatSessionId"`
	Entitlements      Entitlements `json:"entitlements"`
	RemainingToday    int          `json:"remainingToday"`
	RemainingThisChat int          `json:"remainingThisChat"`
	Paywall           bool         `json:"paywall"`
	HardStop          bool         `json:"hardStop"`
}

// Transcript carries user speech back to the client. Interim transcripts
// are revisable; final ones are committed.
type Transcript struct {
	T       string `json:"t"`
	Text    string `json:"text"`
	Interim bool   `json:"interim,omitempty"`
}

func NewTranscript(text string, interim bool) Transcript {
	return Transcript{T: ServerTranscript, Text: text, Interim: interim}
}

// AssistantText streams the reply text as it is generated. Done marks the
// end of the reply for this turn.
type AssistantText struct {
	T    string `json:"t"`
	Text string `json:"text,omitempty"`
	Done bool   `json:"done,omitempty"`
}

func NewAssistantText(text string) AssistantText {
	return AssistantText{T: ServerAssistantText, Text: text}
}

func NewAssistantDone() AssistantText {
	return AssistantText{T: ServerAssistantText, Done: true}
}

// TTSStart / TTSChunk / TTSEnd frame the synthesized audio for one reply.
type TTSStart struct {
	T string `json:"t"`
}

func NewTTSStart() TTSStart { return TTSStart{T: ServerTTSStart} }

type TTSChunk struct {
	T   string `json:"t"`
	B64 string `json:"b64"`
}

func NewTTSChunk(b64 string) TTSChunk {
	return TTSChunk{T: ServerTTSChunk, B64: b64}
}

type TTSEnd struct {
	T string `json:"t"`
}

func NewTTSEnd() TTSEnd { return TTSEnd{T: ServerTTSEnd} }

// Speak is the coarse speaking indicator.
type Speak struct {
	T  string `json:"t"`
	On bool   `json:"on"`
}

func NewSpeak(on bool) Speak { return Speak{T: ServerSpeak, On: on} }

// Error reports a recoverable or fatal condition to the client.
type Error struct {
	T       string `json:"t"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{T: ServerError, Message: message}
}
