package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string // optional; empty selects the in-memory drivers
	LogLevel    string
	SentryDSN   string

	// Ops notifications
	DiscordWebhookURL string
	DigestInterval    time.Duration

	// Voice AI providers
	STTProvider      string
	TTSProvider      string
	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	OpenAIAPIKey     string
	OpenAIModel      string
	ElevenLabsAPIKey string
	CartesiaAPIKey   string

	// STT settings
	STTLanguage      string
	STTModel         string
	STTSampleRate    int
	STTEncoding      string
	STTEndpointingMs int // silence threshold for vendor turn detection

	// Voice settings
	TTSVoiceID string
	TTSModelID string

	// Metering
	HeartbeatInterval time.Duration
	TickSeconds       int
	FreeDailySeconds  int
	FreeChatSeconds   int
	GuestDailySeconds int

	// Guest adoption buffer
	GuestBufferTTL time.Duration

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// Ops notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		DigestInterval:    getenvDuration("USAGE_DIGEST_INTERVAL", 24*time.Hour),

		// Voice AI providers
		STTProvider:      getenv("STT_PROVIDER", "deepgram"),
		TTSProvider:      getenv("TTS_PROVIDER", "elevenlabs"),
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		AssemblyAIAPIKey: getenv("ASSEMBLYAI_API_KEY", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		OpenAIModel:      getenv("OPENAI_MODEL", "gpt-4o-mini"),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		CartesiaAPIKey:   getenv("CARTESIA_API_KEY", ""),

		// STT settings
		STTLanguage:      getenv("STT_LANGUAGE", "en"),
		STTModel:         getenv("STT_MODEL", ""),
		STTSampleRate:    getenvInt("STT_SAMPLE_RATE", 16000),
		STTEncoding:      getenv("STT_ENCODING", "linear16"),
		STTEndpointingMs: getenvInt("STT_ENDPOINTING_MS", 800),

		// Voice settings
		TTSVoiceID: getenv("TTS_VOICE_ID", ""),
		TTSModelID: getenv("TTS_MODEL_ID", ""),

		// Metering
		HeartbeatInterval: getenvDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		TickSeconds:       getenvInt("HEARTBEAT_TICK_SECONDS", 5),
		FreeDailySeconds:  getenvInt("FREE_DAILY_SECONDS", 900),
		FreeChatSeconds:   getenvInt("FREE_CHAT_SECONDS", 600),
		GuestDailySeconds: getenvInt("GUEST_DAILY_SECONDS", 300),

		// Guest adoption buffer
		GuestBufferTTL: getenvDuration("GUEST_BUFFER_TTL", 30*time.Minute),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),
	}
}

// STTAPIKey returns the key for the configured STT provider.
func (c Config) STTAPIKey() string {
	switch c.STTProvider {
	case "assemblyai":
		return c.AssemblyAIAPIKey
	default:
		return c.DeepgramAPIKey
	}
}

// TTSAPIKey returns the key for the configured TTS provider.
func (c Config) TTSAPIKey() string {
	switch c.TTSProvider {
	case "cartesia":
		return c.CartesiaAPIKey
	default:
		return c.ElevenLabsAPIKey
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
