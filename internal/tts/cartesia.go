package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

var cartesiaWSURL = "wss://api.cartesia.ai/tts/websocket"

const cartesiaVersion = "2025-04-16"

// CartesiaClient implements the Client interface using Cartesia's
// websocket streaming API. A fresh websocket is opened per synthesis
// request; only one TTS stream is live per session at a time, so there
// is nothing to gain from multiplexing contexts on one connection.
type CartesiaClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	sampleRate int
}

// CartesiaConfig holds configuration for the Cartesia client.
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string // e.g., "sonic-3"
	SampleRate int    // raw PCM sample rate, e.g. 24000
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type cartesiaStreamingRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id"`
	Continue     bool                 `json:"continue"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewCartesiaClient creates a new Cartesia client.
func NewCartesiaClient(cfg CartesiaConfig) *CartesiaClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "sonic-3"
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	return &CartesiaClient{
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		modelID:    modelID,
		sampleRate: sampleRate,
	}
}

// Synthesize converts text to speech and returns the full audio.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ch, err := c.SynthesizeStream(ctx, text)
	if err != nil {
		return nil, err
	}
	var audio []byte
	for chunk := range ch {
		audio = append(audio, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio, nil
}

// SynthesizeStream converts text to speech and streams raw PCM chunks.
func (c *CartesiaClient) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	u, err := url.Parse(cartesiaWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	req := cartesiaStreamingRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice: cartesiaVoiceSpec{
			Mode: "id",
			ID:   c.voiceID,
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
		ContextID: fmt.Sprintf("ctx_%p", conn),
		Continue:  false,
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	ch := make(chan []byte, 100)
	readerDone := make(chan struct{})

	// Closing the connection on ctx cancellation unblocks ReadJSON so
	// the reader goroutine never leaks.
	go func() {
		select {
		case <-ctx.Done():
		case <-readerDone:
		}
		conn.Close()
	}()

	go func() {
		defer close(ch)
		defer close(readerDone)

		for {
			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			switch msg.Type {
			case "chunk":
				data, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case ch <- data:
				}

			case "done":
				return

			case "error":
				return
			}
		}
	}()

	return ch, nil
}
