package stt

import (
	"context"
	"fmt"
)

// TranscriptResult represents a speech-to-text transcription result.
type TranscriptResult struct {
	Text        string  // The transcribed text
	Confidence  float64 // Confidence score (0-1)
	IsFinal     bool    // Whether this segment is committed (final) or revisable (interim)
	SpeechFinal bool    // Whether the provider's voice-activity detection saw the end of the utterance
}

// Client defines the interface for streaming speech-to-text providers.
//
// After Close returns, no further results or errors are emitted.
type Client interface {
	// StreamAudio sends audio data to the STT service.
	// Audio should be in the format expected by the provider.
	StreamAudio(ctx context.Context, audio []byte) error

	// Finalize forces the provider to flush a final result for any
	// buffered audio without terminating the stream. Used when the
	// client signals end-of-utterance explicitly.
	Finalize(ctx context.Context) error

	// Results returns a channel that receives transcription results.
	Results() <-chan TranscriptResult

	// Errors returns a channel that receives errors.
	Errors() <-chan error

	// Close closes the connection to the STT service.
	Close() error
}

// Provider names accepted by Dial.
const (
	ProviderDeepgram   = "deepgram"
	ProviderAssemblyAI = "assemblyai"
)

// Config holds provider-independent streaming options. Fields a provider
// does not support are ignored by that provider.
type Config struct {
	APIKey      string
	Language    string // e.g. "en"
	Model       string // provider model name, empty for the provider default
	SampleRate  int    // e.g. 16000
	Encoding    string // e.g. "linear16"
	Channels    int
	Punctuate   bool
	Endpointing int // silence threshold in ms for turn detection, 0 for default
}

// Dial opens a streaming connection to the named provider. The provider
// set is closed; an unknown name is a configuration error.
func Dial(ctx context.Context, provider string, cfg Config) (Client, error) {
	switch provider {
	case ProviderDeepgram:
		return NewDeepgramClient(ctx, cfg)
	case ProviderAssemblyAI:
		return NewAssemblyAIClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", provider)
	}
}
