package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var assemblyAIWSURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAIClient implements the Client interface using AssemblyAI's
// v3 streaming websocket API.
//
// AssemblyAI models turns rather than interim/final segment pairs: each
// Turn message carries the transcript so far, and end_of_turn marks the
// provider's own end-of-utterance detection. Turns in progress map to
// interim results, completed turns to final ones.
type AssemblyAIClient struct {
	conn      *websocket.Conn
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards writes to conn
	wg        sync.WaitGroup
}

type assemblyAIMessage struct {
	Type            string  `json:"type"`
	Transcript      string  `json:"transcript"`
	EndOfTurn       bool    `json:"end_of_turn"`
	TurnIsFormatted bool    `json:"turn_is_formatted"`
	Words           []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
	Error string `json:"error"`
}

// NewAssemblyAIClient opens a streaming connection to AssemblyAI.
func NewAssemblyAIClient(ctx context.Context, cfg Config) (*AssemblyAIClient, error) {
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	url := fmt.Sprintf("%s?sample_rate=%d&format_turns=%t", assemblyAIWSURL, sampleRate, cfg.Punctuate)
	if cfg.Endpointing > 0 {
		url += fmt.Sprintf("&min_end_of_turn_silence_when_confident=%d", cfg.Endpointing)
	}

	headers := http.Header{}
	headers.Set("Authorization", cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	client := &AssemblyAIClient{
		conn:    conn,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// StreamAudio sends audio data to AssemblyAI.
func (c *AssemblyAIClient) StreamAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client is closed")
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Finalize forces the current turn to end without closing the stream.
func (c *AssemblyAIClient) Finalize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client is closed")
	default:
	}

	return c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "ForceEndpoint"}`))
}

// Results returns the channel for receiving transcription results.
func (c *AssemblyAIClient) Results() <-chan TranscriptResult {
	return c.results
}

// Errors returns the channel for receiving errors.
func (c *AssemblyAIClient) Errors() <-chan error {
	return c.errors
}

// Close terminates the session and closes the connection. Safe to call
// more than once.
func (c *AssemblyAIClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "Terminate"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

func (c *AssemblyAIClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp assemblyAIMessage
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("assemblyai: failed to parse response: %v", err)
			continue
		}

		switch resp.Type {
		case "Turn":
			result := TranscriptResult{
				Text:        resp.Transcript,
				Confidence:  avgWordConfidence(resp),
				IsFinal:     resp.EndOfTurn,
				SpeechFinal: resp.EndOfTurn,
			}
			if result.Text == "" && !result.SpeechFinal {
				continue
			}
			select {
			case <-c.done:
				return
			case c.results <- result:
			}

		case "Termination":
			return

		case "Begin":
			// Session handshake, nothing to surface.

		default:
			if resp.Error != "" {
				select {
				case <-c.done:
					return
				case c.errors <- fmt.Errorf("assemblyai error: %s", resp.Error):
				default:
				}
			}
		}
	}
}

func avgWordConfidence(msg assemblyAIMessage) float64 {
	if len(msg.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range msg.Words {
		sum += w.Confidence
	}
	return sum / float64(len(msg.Words))
}
