package tts

import (
	"context"
	"fmt"
)

// Client defines the interface for text-to-speech providers.
//
// Streaming synthesis is stopped by cancelling the context passed to
// SynthesizeStream; the provider must stop emitting chunks and release
// the underlying stream without error.
type Client interface {
	// Synthesize converts text to speech and returns the full audio.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStream converts text to speech and streams audio chunks.
	// The channel is closed when synthesis completes or the context is
	// cancelled.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}

// Provider names accepted by New.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderCartesia   = "cartesia"
)

// Config holds provider-independent synthesis options.
type Config struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	SampleRate int // for raw PCM providers
}

// New constructs a client for the named provider. The provider set is
// closed; an unknown name is a configuration error.
func New(provider string, cfg Config) (Client, error) {
	switch provider {
	case ProviderElevenLabs:
		return NewElevenLabsClient(ElevenLabsConfig{
			APIKey:  cfg.APIKey,
			VoiceID: cfg.VoiceID,
			ModelID: cfg.ModelID,
		}), nil
	case ProviderCartesia:
		return NewCartesiaClient(CartesiaConfig{
			APIKey:     cfg.APIKey,
			VoiceID:    cfg.VoiceID,
			ModelID:    cfg.ModelID,
			SampleRate: cfg.SampleRate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", provider)
	}
}
