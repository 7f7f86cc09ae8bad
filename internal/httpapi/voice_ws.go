package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avelkova/mira/internal/costs"
	"github.com/avelkova/mira/internal/entitlements"
	"github.com/avelkova/mira/internal/eventlog"
	"github.com/avelkova/mira/internal/guestbuf"
	"github.com/avelkova/mira/internal/llm"
	"github.com/avelkova/mira/internal/notifications"
	"github.com/avelkova/mira/internal/protocol"
	"github.com/avelkova/mira/internal/store"
	"github.com/avelkova/mira/internal/stt"
	"github.com/avelkova/mira/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// sttDialTimeout bounds the STT websocket handshake; a vendor that
	// cannot accept the stream in time fails the session up front instead
	// of leaving the user talking into a dead connection.
	sttDialTimeout = 10 * time.Second

	// replyTimeout bounds one LLM+TTS turn. A timeout abandons the turn,
	// not the session.
	replyTimeout = 60 * time.Second

	summarizeTimeout = 5 * time.Second
	persistTimeout   = 5 * time.Second
)

// personaPrompts maps the persona names a client may request to system
// prompts. Unknown names fall back to the default companion persona.
var personaPrompts = map[string]string{
	"mira": llm.CompanionSystemPrompt,
	"coach": `You are Mira in coach mode: an encouraging, practical voice
companion. Help the user think through goals and next steps. Keep replies
spoken-length - one to three sentences - and end most turns with a
question that moves them forward.`,
	"listener": `You are Mira in listener mode: a calm, patient voice
companion. Let the user do most of the talking. Reflect back what you
hear in one or two short sentences and only ask gentle, open questions.`,
}

// turnState is the per-connection turn-taking state.
type turnState int

const (
	stateIdle turnState = iota
	stateListening
	stateProcessing
	stateSpeaking
	stateClosed
)

func (s turnState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateListening:
		return "listening"
	case stateProcessing:
		return "processing"
	case stateSpeaking:
		return "speaking"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// isSentenceEnd checks if the text ends with a sentence-ending punctuation
func isSentenceEnd(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return false
	}
	lastChar := text[len(text)-1]
	return lastChar == '.' || lastChar == '!' || lastChar == '?'
}

// extractCompleteSentences extracts complete sentences from buffer,
// returns (complete sentences, remaining buffer)
func extractCompleteSentences(buffer string) (string, string) {
	// Find the last sentence boundary
	lastBoundary := -1
	for i := len(buffer) - 1; i >= 0; i-- {
		c := buffer[i]
		if c == '.' || c == '!' || c == '?' {
			lastBoundary = i
			break
		}
	}

	if lastBoundary == -1 {
		return "", buffer
	}

	return buffer[:lastBoundary+1], buffer[lastBoundary+1:]
}

// voiceSession manages a single client's voice conversation: audio in,
// transcripts and synthesized replies out, with a usage heartbeat on the
// side. One voiceSession owns one websocket.
type voiceSession struct {
	sessionID string
	identity  entitlements.Identity
	chatID    string

	conn   *websocket.Conn
	connMu sync.Mutex

	sttClient stt.Client
	llmClient llm.Client
	ttsClient tts.Client

	// sttDial opens the vendor stream; overridable in tests.
	sttDial func(ctx context.Context) (stt.Client, error)

	store    *store.Store
	eventLog *eventlog.Logger
	ledger   entitlements.Ledger
	guestBuf guestbuf.Store
	notifier *notifications.Discord
	logger   *log.Logger
	cfg      RouterConfig

	// Turn-taking state. muted drops inbound audio before it reaches STT;
	// frozen (paywall/hard stop) additionally refuses new turns while the
	// socket stays open for heartbeats.
	stateMu    sync.Mutex
	state      turnState
	muted      bool
	frozen     bool
	turnCancel context.CancelFunc

	// generation is bumped at every turn boundary and on freeze/teardown.
	// Goroutines working on an older generation drop their events instead
	// of mutating state they no longer own.
	generation atomic.Int64

	// pendingEOU is set when the client signals end-of-utterance; the next
	// final STT result then commits the turn even without vendor VAD.
	pendingEOU atomic.Bool

	messages []llm.Message
	msgSeq   int

	// Usage counters for the teardown cost estimate.
	audioBytes atomic.Int64
	metricsMu  sync.Mutex
	ttsChars   int
	llmInRunes int
	llmOutRunes int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (r *Router) handleVoiceWS(w http.ResponseWriter, req *http.Request) {
	// Check if we have required API keys
	if r.cfg.STTAPIKey == "" || r.cfg.OpenAIAPIKey == "" || r.cfg.TTSAPIKey == "" {
		r.logger.Printf("voice_ws: missing API keys")
		captureError(req, fmt.Errorf("voice relay not configured: missing API keys"), "voice_ws: configuration error")
		http.Error(w, "voice relay not configured", http.StatusServiceUnavailable)
		return
	}

	identity, err := r.identityFromRequest(req)
	if err != nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ttsClient, err := tts.New(r.cfg.TTSProvider, tts.Config{
		APIKey:     r.cfg.TTSAPIKey,
		VoiceID:    r.cfg.TTSVoiceID,
		ModelID:    r.cfg.TTSModelID,
		SampleRate: r.cfg.STTSampleRate,
	})
	if err != nil {
		r.logger.Printf("voice_ws: tts config: %v", err)
		http.Error(w, "voice relay not configured", http.StatusServiceUnavailable)
		return
	}

	if !r.registry.Add() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}
	defer r.registry.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("voice_ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())

	session := &voiceSession{
		sessionID: uuid.NewString(),
		identity:  identity,
		conn:      conn,
		llmClient: llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: r.cfg.OpenAIAPIKey,
			Model:  r.cfg.OpenAIModel,
		}),
		ttsClient: ttsClient,
		store:     r.store,
		eventLog:  r.eventLog,
		ledger:    r.ledger,
		guestBuf:  r.guestBuf,
		notifier:  r.notifier,
		logger:    r.logger,
		cfg:       r.cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	r.logger.Printf("voice_ws: connection established for %s (session %s)", identity.Key(), session.sessionID)

	session.run()
}

func (s *voiceSession) run() {
	defer s.teardown("socket closed")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("voice_ws: connection closed for session %s", s.sessionID)
			} else {
				s.logger.Printf("voice_ws: read error for session %s: %v", s.sessionID, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleAudio(data)

		case websocket.TextMessage:
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				// A client speaking a different protocol cannot be
				// recovered; fail the handshake.
				s.logger.Printf("voice_ws: bad client message for session %s: %v", s.sessionID, err)
				s.sendError("unrecognized message")
				return
			}

			switch msg.T {
			case protocol.ClientReady:
				if err := s.handleClientReady(msg); err != nil {
					s.logger.Printf("voice_ws: ready failed for session %s: %v", s.sessionID, err)
					s.sendError("could not start session")
					return
				}

			case protocol.ClientEOU:
				s.handleEOU()

			case protocol.ClientMute:
				s.setMuted(msg.On)

			case protocol.ClientEndChat:
				s.teardown("end_chat")
				return
			}
		}
	}
}

// handleClientReady establishes the conversation and the provider streams,
// then moves the session from idle to listening.
func (s *voiceSession) handleClientReady(msg *protocol.ClientMessage) error {
	s.stateMu.Lock()
	if s.state != stateIdle {
		s.stateMu.Unlock()
		s.logger.Printf("voice_ws: duplicate client_ready for session %s ignored", s.sessionID)
		return nil
	}
	s.stateMu.Unlock()

	if prompt, ok := personaPrompts[msg.Persona]; ok && msg.Persona != "" {
		if c, ok := s.llmClient.(interface{ SetSystemPrompt(string) }); ok {
			c.SetSystemPrompt(prompt)
		}
	}

	// Resume the requested conversation if it belongs to this identity,
	// otherwise start a fresh one.
	if msg.Session != "" {
		conv, err := s.store.GetConversation(s.ctx, msg.Session)
		if err == nil && conv.OwnerKind == s.identity.Kind && conv.OwnerID == s.identity.ID {
			s.chatID = conv.ID
			if history, err := s.store.ListMessages(s.ctx, conv.ID); err == nil {
				for _, m := range history {
					s.messages = append(s.messages, llm.Message{Role: m.Role, Content: m.Content})
				}
				s.msgSeq = len(history)
			}
		} else {
			s.logger.Printf("voice_ws: session %s requested foreign or missing conversation %s, starting fresh",
				s.sessionID, msg.Session)
		}
	}
	if s.chatID == "" {
		chatID, err := s.store.CreateConversation(s.ctx, s.identity.Kind, s.identity.ID)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		s.chatID = chatID
	}

	s.send(protocol.NewChatSession(s.chatID))

	// Open the STT stream within a hard bound; a vendor that cannot take
	// audio makes the whole session useless.
	dialCtx, cancel := context.WithTimeout(s.ctx, sttDialTimeout)
	defer cancel()
	sttClient, err := s.dialSTT(dialCtx)
	if err != nil {
		return fmt.Errorf("connect stt: %w", err)
	}

	s.stateMu.Lock()
	s.sttClient = sttClient
	s.state = stateListening
	s.stateMu.Unlock()

	s.eventLog.LogAsync(s.sessionID, eventlog.EventSessionStarted, map[string]any{
		"identity":        s.identity.Key(),
		"chat_session_id": s.chatID,
		"persona":         msg.Persona,
		"ua":              msg.UA,
	})

	go s.pumpTranscripts(sttClient)
	go s.runHeartbeat()

	s.logger.Printf("voice_ws: session %s listening (chat %s)", s.sessionID, s.chatID)
	return nil
}

// handleAudio forwards a binary frame to STT. Muted and frozen sessions
// drop audio here, so it never reaches the vendor and can never produce a
// transcript.
func (s *voiceSession) handleAudio(data []byte) {
	s.stateMu.Lock()
	sttClient := s.sttClient
	drop := s.muted || s.frozen || s.state == stateClosed || s.state == stateIdle || sttClient == nil
	s.stateMu.Unlock()

	if drop {
		return
	}

	s.audioBytes.Add(int64(len(data)))

	if err := sttClient.StreamAudio(s.ctx, data); err != nil {
		s.logger.Printf("voice_ws: stream audio for session %s: %v", s.sessionID, err)
	}
}

// handleEOU is the client's explicit end-of-utterance. It only matters
// while listening; in any other state the turn is already committed or
// there is nothing to commit. Vendor VAD and the client race here and the
// first to arrive wins.
func (s *voiceSession) handleEOU() {
	s.stateMu.Lock()
	sttClient := s.sttClient
	ok := s.state == stateListening && !s.frozen && sttClient != nil
	s.stateMu.Unlock()

	if !ok {
		return
	}

	s.pendingEOU.Store(true)
	if err := sttClient.Finalize(s.ctx); err != nil {
		s.logger.Printf("voice_ws: finalize for session %s: %v", s.sessionID, err)
	}
}

func (s *voiceSession) setMuted(on bool) {
	s.stateMu.Lock()
	changed := s.muted != on
	s.muted = on
	s.stateMu.Unlock()

	if !changed {
		return
	}
	event := eventlog.EventMuted
	if !on {
		event = eventlog.EventUnmuted
	}
	s.eventLog.LogAsync(s.sessionID, event, nil)
	s.logger.Printf("voice_ws: session %s muted=%v", s.sessionID, on)
}

// pumpTranscripts consumes STT results for the life of the session. It
// accumulates final segments into the current utterance and commits the
// turn when the vendor's VAD fires or the client's eou flush lands.
func (s *voiceSession) pumpTranscripts(sttClient stt.Client) {
	var utterance strings.Builder
	var confidence float64

	for {
		select {
		case <-s.ctx.Done():
			return

		case err, ok := <-sttClient.Errors():
			if !ok {
				return
			}
			s.logger.Printf("voice_ws: stt error for session %s: %v", s.sessionID, err)
			s.eventLog.LogAsync(s.sessionID, eventlog.EventProviderError, map[string]any{
				"provider": s.cfg.STTProvider,
				"error":    err.Error(),
			})
			s.notifier.NotifyProviderError(context.Background(), s.cfg.STTProvider, s.sessionID, err)
			s.sendError("speech recognition interrupted")

			// A mid-stream vendor error loses at most the current
			// utterance. Re-dial and keep the session alive; only a
			// failed re-dial ends it.
			if !s.recoverSTT(sttClient) {
				s.teardown("stt failure")
			}
			return

		case result, ok := <-sttClient.Results():
			if !ok {
				return
			}

			if !result.IsFinal {
				if result.Text != "" && s.inState(stateListening) {
					s.send(protocol.NewTranscript(result.Text, true))
				}
				continue
			}

			if result.Text != "" {
				if utterance.Len() > 0 {
					utterance.WriteString(" ")
				}
				utterance.WriteString(result.Text)
				confidence = result.Confidence
			}

			if result.SpeechFinal || s.pendingEOU.Load() {
				s.pendingEOU.Store(false)
				text := strings.TrimSpace(utterance.String())
				utterance.Reset()
				if text == "" {
					// Silence flushed; stay listening.
					continue
				}
				s.commitTurn(text, confidence)
			}
		}
	}
}

// dialSTT opens a stream to the configured STT vendor.
func (s *voiceSession) dialSTT(ctx context.Context) (stt.Client, error) {
	if s.sttDial != nil {
		return s.sttDial(ctx)
	}
	return stt.Dial(ctx, s.cfg.STTProvider, stt.Config{
		APIKey:      s.cfg.STTAPIKey,
		Language:    s.cfg.STTLanguage,
		Model:       s.cfg.STTModel,
		SampleRate:  s.cfg.STTSampleRate,
		Encoding:    s.cfg.STTEncoding,
		Channels:    1,
		Punctuate:   true,
		Endpointing: s.cfg.STTEndpointingMs,
	})
}

// recoverSTT replaces a failed mid-stream STT connection with a fresh
// one, under the same bound as the original dial, and starts a new pump
// for it. Returns false when the re-dial itself fails.
func (s *voiceSession) recoverSTT(failed stt.Client) bool {
	_ = failed.Close()
	s.pendingEOU.Store(false)

	dialCtx, cancel := context.WithTimeout(s.ctx, sttDialTimeout)
	defer cancel()
	replacement, err := s.dialSTT(dialCtx)
	if err != nil {
		s.logger.Printf("voice_ws: stt re-dial for session %s failed: %v", s.sessionID, err)
		return false
	}

	s.stateMu.Lock()
	if s.state == stateClosed || s.sttClient != failed {
		// Torn down or already replaced while we were dialing.
		s.stateMu.Unlock()
		_ = replacement.Close()
		return true
	}
	s.sttClient = replacement
	s.stateMu.Unlock()

	go s.pumpTranscripts(replacement)
	s.logger.Printf("voice_ws: session %s stt stream re-established", s.sessionID)
	return true
}

// commitTurn finalizes one user utterance and starts reply generation.
// A commit while the assistant is speaking is a barge-in: the in-flight
// turn is cancelled and the new utterance takes over.
func (s *voiceSession) commitTurn(text string, confidence float64) {
	s.stateMu.Lock()
	if s.frozen || s.state == stateClosed || s.state == stateIdle || s.state == stateProcessing {
		s.stateMu.Unlock()
		return
	}
	bargedIn := s.state == stateSpeaking
	cancel := s.turnCancel
	s.turnCancel = nil
	s.state = stateProcessing
	gen := s.generation.Add(1)
	s.stateMu.Unlock()

	if bargedIn {
		if cancel != nil {
			cancel()
		}
		s.send(protocol.NewTTSEnd())
		s.send(protocol.NewSpeak(false))
		s.eventLog.LogAsync(s.sessionID, eventlog.EventBargeIn, map[string]any{"text": text})
		s.logger.Printf("voice_ws: barge-in on session %s: %s", s.sessionID, text)
	}

	s.logger.Printf("voice_ws: session %s user said: %s", s.sessionID, text)
	s.send(protocol.NewTranscript(text, false))

	s.stateMu.Lock()
	s.messages = append(s.messages, llm.Message{Role: "user", Content: text})
	history := append([]llm.Message(nil), s.messages...)
	s.stateMu.Unlock()

	s.persistMessage("user", text)
	s.eventLog.LogAsync(s.sessionID, eventlog.EventTurnFinalized, map[string]any{
		"text":       text,
		"confidence": confidence,
		"barge_in":   bargedIn,
	})

	go s.generateAndSpeak(gen, history)
}

// generateAndSpeak runs one reply turn: stream LLM text to the client,
// synthesize complete sentences as they form, and return the session to
// listening. It abandons itself the moment its generation is superseded.
func (s *voiceSession) generateAndSpeak(gen int64, history []llm.Message) {
	turnCtx, cancel := context.WithTimeout(s.ctx, replyTimeout)
	defer cancel()

	s.stateMu.Lock()
	if s.generation.Load() != gen || s.state != stateProcessing {
		s.stateMu.Unlock()
		return
	}
	s.turnCancel = cancel
	s.stateMu.Unlock()

	s.eventLog.LogAsync(s.sessionID, eventlog.EventLLMStarted, map[string]any{"turns": len(history)})

	replyCh, err := s.llmClient.GenerateReply(turnCtx, history)
	if err != nil {
		s.logger.Printf("voice_ws: llm error for session %s: %v", s.sessionID, err)
		s.eventLog.LogAsync(s.sessionID, eventlog.EventLLMError, map[string]any{"error": err.Error()})
		s.sendError("reply generation failed")
		s.endTurn(gen)
		return
	}

	var fullReply strings.Builder
	var buffer strings.Builder

	for chunk := range replyCh {
		if s.generation.Load() != gen {
			for range replyCh {
			}
			return
		}

		fullReply.WriteString(chunk)
		buffer.WriteString(chunk)
		s.send(protocol.NewAssistantText(chunk))

		completeSentences, remaining := extractCompleteSentences(buffer.String())
		if completeSentences != "" {
			if err := s.speakText(turnCtx, gen, completeSentences); err != nil {
				s.logger.Printf("voice_ws: tts error for session %s: %v", s.sessionID, err)
			}
			buffer.Reset()
			buffer.WriteString(remaining)
		}
	}

	// Speak any remaining text that didn't end with punctuation
	if remaining := strings.TrimSpace(buffer.String()); remaining != "" && s.generation.Load() == gen {
		if err := s.speakText(turnCtx, gen, remaining); err != nil {
			s.logger.Printf("voice_ws: tts error for session %s: %v", s.sessionID, err)
		}
	}

	if s.generation.Load() != gen {
		return
	}

	reply := strings.TrimSpace(fullReply.String())
	if reply == "" {
		// Turn-local failure or timeout; go back to listening.
		s.logger.Printf("voice_ws: empty reply for session %s", s.sessionID)
		s.endTurn(gen)
		return
	}

	s.send(protocol.NewAssistantDone())

	s.stateMu.Lock()
	s.messages = append(s.messages, llm.Message{Role: "assistant", Content: reply})
	s.stateMu.Unlock()

	s.addLLMUsage(history, reply)
	s.persistMessage("assistant", reply)
	s.eventLog.LogAsync(s.sessionID, eventlog.EventLLMCompleted, map[string]any{"chars": len(reply)})
	s.logger.Printf("voice_ws: session %s assistant replied: %s", s.sessionID, reply)

	s.endTurn(gen)
}

// speakText synthesizes one piece of the reply and relays the audio. The
// first audio chunk of a turn moves processing to speaking and emits the
// tts_start framing.
func (s *voiceSession) speakText(ctx context.Context, gen int64, text string) error {
	audioCh, err := s.ttsClient.SynthesizeStream(ctx, text)
	if err != nil {
		s.eventLog.LogAsync(s.sessionID, eventlog.EventProviderError, map[string]any{
			"provider": s.cfg.TTSProvider,
			"error":    err.Error(),
		})
		s.notifier.NotifyProviderError(context.Background(), s.cfg.TTSProvider, s.sessionID, err)
		s.sendError("speech synthesis failed")
		return err
	}

	s.metricsMu.Lock()
	s.ttsChars += len(text)
	s.metricsMu.Unlock()

	for chunk := range audioCh {
		if s.generation.Load() != gen {
			// Superseded mid-stream; drain so the synthesizer can finish.
			for range audioCh {
			}
			return nil
		}
		s.markSpeaking(gen)
		s.send(protocol.NewTTSChunk(base64.StdEncoding.EncodeToString(chunk)))
	}
	return nil
}

// markSpeaking performs the processing -> speaking transition exactly once
// per turn, on the first audio chunk.
func (s *voiceSession) markSpeaking(gen int64) {
	s.stateMu.Lock()
	transition := s.generation.Load() == gen && s.state == stateProcessing && !s.frozen
	if transition {
		s.state = stateSpeaking
	}
	s.stateMu.Unlock()

	if transition {
		s.send(protocol.NewTTSStart())
		s.send(protocol.NewSpeak(true))
	}
}

// endTurn returns the session to listening if this goroutine still owns
// the turn, closing the audio framing if any was opened.
func (s *voiceSession) endTurn(gen int64) {
	s.stateMu.Lock()
	if s.generation.Load() != gen || s.state == stateClosed {
		s.stateMu.Unlock()
		return
	}
	spoke := s.state == stateSpeaking
	s.state = stateListening
	s.turnCancel = nil
	s.stateMu.Unlock()

	if spoke {
		s.send(protocol.NewTTSEnd())
		s.send(protocol.NewSpeak(false))
	}
}

// runHeartbeat drives the metering loop and relays every beat to the
// client. Exhaustion freezes the conversation without closing the socket;
// the heartbeat keeps flowing so the client can show the paywall state,
// and a day rollover thaws it again.
func (s *voiceSession) runHeartbeat() {
	hb := &entitlements.Heartbeat{
		Ledger:      s.ledger,
		Identity:    s.identity,
		ChatID:      s.chatID,
		SessionID:   s.sessionID,
		Interval:    s.cfg.HeartbeatInterval,
		TickSeconds: s.cfg.TickSeconds,
		Logger:      s.logger,
	}

	hb.Run(s.ctx, func(beat entitlements.Beat) {
		s.send(protocol.Heartbeat{
			T:             protocol.ServerHeartbeat,
			Now:           time.Now().UTC(),
			ChatSessionID: s.chatID,
			Entitlements: protocol.Entitlements{
				Plan:               beat.Snapshot.Plan,
				DailySecondsLimit:  beat.Snapshot.DailySecondsLimit,
				DailySecondsUsed:   beat.Snapshot.DailySecondsUsed,
				ChatSecondsCap:     beat.Snapshot.ChatSecondsCap,
				ChatSecondsElapsed: beat.Snapshot.ChatSecondsElapsed,
			},
			RemainingToday:    beat.Snapshot.RemainingToday(),
			RemainingThisChat: beat.Snapshot.RemainingThisChat(),
			Paywall:           beat.Paywall,
			HardStop:          beat.HardStop,
		})

		if beat.Paywall || beat.HardStop {
			s.freeze(beat)
		} else {
			s.thaw()
		}
	})
}

// freeze halts the conversational loop when a budget runs out: the
// in-flight turn is cancelled, new audio and turns are refused, but the
// socket and heartbeat stay alive.
func (s *voiceSession) freeze(beat entitlements.Beat) {
	s.stateMu.Lock()
	if s.frozen || s.state == stateClosed {
		s.stateMu.Unlock()
		return
	}
	s.frozen = true
	cancel := s.turnCancel
	s.turnCancel = nil
	wasSpeaking := s.state == stateSpeaking
	if s.state != stateIdle {
		s.state = stateListening
	}
	s.generation.Add(1)
	s.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasSpeaking {
		s.send(protocol.NewTTSEnd())
		s.send(protocol.NewSpeak(false))
	}

	event := eventlog.EventPaywall
	reason := "daily budget exhausted"
	if beat.HardStop {
		event = eventlog.EventHardStop
		reason = "chat budget exhausted"
		s.notifier.NotifyHardStop(context.Background(), s.identity.Kind, s.identity.ID, beat.Snapshot.DailySecondsUsed)
	}
	s.eventLog.LogAsync(s.sessionID, event, map[string]any{
		"daily_used":   beat.Snapshot.DailySecondsUsed,
		"chat_elapsed": beat.Snapshot.ChatSecondsElapsed,
	})
	s.logger.Printf("voice_ws: session %s frozen: %s", s.sessionID, reason)
}

// thaw lifts a freeze once the ledger stops reporting exhaustion, which
// happens when the UTC day rolls over.
func (s *voiceSession) thaw() {
	s.stateMu.Lock()
	thawed := s.frozen && s.state != stateClosed
	if thawed {
		s.frozen = false
	}
	s.stateMu.Unlock()

	if thawed {
		s.logger.Printf("voice_ws: session %s thawed, budget available again", s.sessionID)
	}
}

// persistMessage writes one turn to the conversation. Persistence is
// best-effort; the conversation continues if the write fails.
func (s *voiceSession) persistMessage(role, content string) {
	if s.chatID == "" {
		return
	}

	s.stateMu.Lock()
	s.msgSeq++
	seq := s.msgSeq
	s.stateMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.InsertMessage(ctx, s.chatID, store.Message{
		Role:    role,
		Content: content,
		Seq:     seq,
	}); err != nil {
		s.logger.Printf("voice_ws: persist %s message for session %s: %v", role, s.sessionID, err)
	}
}

func (s *voiceSession) addLLMUsage(history []llm.Message, reply string) {
	inRunes := 0
	for _, m := range history {
		inRunes += utf8.RuneCountInString(m.Content)
	}
	s.metricsMu.Lock()
	s.llmInRunes += inRunes
	s.llmOutRunes += utf8.RuneCountInString(reply)
	s.metricsMu.Unlock()
}

// sessionMetrics converts the raw counters into cost-calculator input.
func (s *voiceSession) sessionMetrics() costs.SessionMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	sttSeconds := 0
	if s.cfg.STTSampleRate > 0 {
		// 16-bit mono PCM: two bytes per sample.
		sttSeconds = int(s.audioBytes.Load() / int64(s.cfg.STTSampleRate*2))
	}

	return costs.SessionMetrics{
		STTDurationSeconds: sttSeconds,
		LLMInputTokens:     s.llmInRunes / 4, // rough chars-per-token estimate
		LLMOutputTokens:    s.llmOutRunes / 4,
		TTSCharacters:      s.ttsChars,
	}
}

// teardown releases everything exactly once: heartbeat and turns die with
// the session context, the STT stream closes, a guest's unsaved turns go
// to the adoption buffer, and the cost estimate lands in the event log.
func (s *voiceSession) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.state = stateClosed
		s.generation.Add(1)
		turnCancel := s.turnCancel
		s.turnCancel = nil
		sttClient := s.sttClient
		history := append([]llm.Message(nil), s.messages...)
		s.stateMu.Unlock()

		s.cancel()
		if turnCancel != nil {
			turnCancel()
		}
		if sttClient != nil {
			_ = sttClient.Close()
		}

		s.finishConversation(history)

		metrics := s.sessionMetrics()
		cost := costs.CalculateSessionCosts(metrics)
		s.eventLog.LogAsync(s.sessionID, eventlog.EventSessionEnded, map[string]any{
			"reason":               reason,
			"chat_session_id":      s.chatID,
			"turns":                len(history),
			"stt_seconds":          metrics.STTDurationSeconds,
			"tts_characters":       metrics.TTSCharacters,
			"estimated_cost_cents": cost.TotalCostCents,
		})

		if ml, ok := s.ledger.(*entitlements.MemoryLedger); ok {
			ml.ForgetSession(s.sessionID)
		}

		s.connMu.Lock()
		_ = s.conn.Close()
		s.connMu.Unlock()

		s.logger.Printf("voice_ws: session %s ended (%s), estimated cost %d cents",
			s.sessionID, reason, cost.TotalCostCents)
	})
}

// finishConversation runs the end-of-session bookkeeping that needs the
// LLM: the guest adoption buffer for anonymous identities, a conversation
// title for signed-in ones. Both are best-effort with short deadlines.
func (s *voiceSession) finishConversation(history []llm.Message) {
	if len(history) == 0 || s.chatID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	summary, err := s.llmClient.Summarize(ctx, history)
	if err != nil {
		s.logger.Printf("voice_ws: summarize for session %s: %v", s.sessionID, err)
		summary = ""
	}

	if s.identity.IsGuest() {
		entry := guestbuf.Entry{Summary: summary}
		for _, m := range history {
			entry.Messages = append(entry.Messages, guestbuf.Message{Role: m.Role, Content: m.Content})
		}
		if err := s.guestBuf.Put(ctx, s.identity.ID, entry); err != nil {
			s.logger.Printf("voice_ws: buffer guest conversation for session %s: %v", s.sessionID, err)
		}
		return
	}

	if summary == "" || len(history) < 2 {
		return
	}
	conv, err := s.store.GetConversation(ctx, s.chatID)
	if err != nil || conv.Title != nil {
		return
	}
	if err := s.store.SetConversationTitle(ctx, s.chatID, summary); err != nil {
		s.logger.Printf("voice_ws: set title for session %s: %v", s.sessionID, err)
	}
}

// inState reports whether the session is currently in the given state.
func (s *voiceSession) inState(state turnState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state == state
}

// send writes one protocol message, serialized with every other writer on
// this socket.
func (s *voiceSession) send(v any) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Printf("voice_ws: write failed for session %s: %v", s.sessionID, err)
	}
}

func (s *voiceSession) sendError(message string) {
	s.send(protocol.NewError(message))
}
