package app

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		want     int
	}{
		{
			name:     "valid value",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			want:     500,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			want:     100,
		},
		{
			name:     "negative value",
			envKey:   "TEST_INT_NEGATIVE",
			envValue: "-5",
			def:      100,
			want:     -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvInt(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvInt(%q, %d) = %d, want %d", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      time.Duration
		want     time.Duration
	}{
		{
			name:     "valid duration",
			envKey:   "TEST_DUR_NORMAL",
			envValue: "10s",
			def:      5 * time.Second,
			want:     10 * time.Second,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_DUR_NOTSET",
			envValue: "",
			def:      5 * time.Second,
			want:     5 * time.Second,
		},
		{
			name:     "invalid duration - use default",
			envKey:   "TEST_DUR_INVALID",
			envValue: "ten seconds",
			def:      5 * time.Second,
			want:     5 * time.Second,
		},
		{
			name:     "bare number is not a duration",
			envKey:   "TEST_DUR_BARE",
			envValue: "30",
			def:      time.Minute,
			want:     time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvDuration(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvDuration(%q, %v) = %v, want %v", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL",
		"STT_PROVIDER", "TTS_PROVIDER", "OPENAI_MODEL",
		"STT_SAMPLE_RATE", "STT_ENDPOINTING_MS",
		"HEARTBEAT_INTERVAL", "HEARTBEAT_TICK_SECONDS",
		"FREE_DAILY_SECONDS", "FREE_CHAT_SECONDS", "GUEST_DAILY_SECONDS",
		"GUEST_BUFFER_TTL", "JWT_EXPIRY", "USAGE_DIGEST_INTERVAL",
	}
	for _, key := range keysToClean {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	// Provider defaults
	if cfg.STTProvider != "deepgram" {
		t.Errorf("STTProvider = %q, want %q", cfg.STTProvider, "deepgram")
	}
	if cfg.TTSProvider != "elevenlabs" {
		t.Errorf("TTSProvider = %q, want %q", cfg.TTSProvider, "elevenlabs")
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, "gpt-4o-mini")
	}
	if cfg.STTSampleRate != 16000 {
		t.Errorf("STTSampleRate = %d, want %d", cfg.STTSampleRate, 16000)
	}
	if cfg.STTEndpointingMs != 800 {
		t.Errorf("STTEndpointingMs = %d, want %d", cfg.STTEndpointingMs, 800)
	}

	// Metering defaults
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want %v", cfg.HeartbeatInterval, 5*time.Second)
	}
	if cfg.TickSeconds != 5 {
		t.Errorf("TickSeconds = %d, want %d", cfg.TickSeconds, 5)
	}
	if cfg.FreeDailySeconds != 900 {
		t.Errorf("FreeDailySeconds = %d, want %d", cfg.FreeDailySeconds, 900)
	}
	if cfg.FreeChatSeconds != 600 {
		t.Errorf("FreeChatSeconds = %d, want %d", cfg.FreeChatSeconds, 600)
	}
	if cfg.GuestDailySeconds != 300 {
		t.Errorf("GuestDailySeconds = %d, want %d", cfg.GuestDailySeconds, 300)
	}

	if cfg.GuestBufferTTL != 30*time.Minute {
		t.Errorf("GuestBufferTTL = %v, want %v", cfg.GuestBufferTTL, 30*time.Minute)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, 24*time.Hour)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "assemblyai")
	os.Setenv("TTS_PROVIDER", "cartesia")
	os.Setenv("OPENAI_MODEL", "gpt-4o")
	os.Setenv("STT_ENDPOINTING_MS", "1200")
	os.Setenv("HEARTBEAT_INTERVAL", "2s")
	os.Setenv("FREE_DAILY_SECONDS", "1800")
	os.Setenv("GUEST_BUFFER_TTL", "1h")

	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("STT_PROVIDER")
		os.Unsetenv("TTS_PROVIDER")
		os.Unsetenv("OPENAI_MODEL")
		os.Unsetenv("STT_ENDPOINTING_MS")
		os.Unsetenv("HEARTBEAT_INTERVAL")
		os.Unsetenv("FREE_DAILY_SECONDS")
		os.Unsetenv("GUEST_BUFFER_TTL")
	}()

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.STTProvider != "assemblyai" {
		t.Errorf("STTProvider = %q, want %q", cfg.STTProvider, "assemblyai")
	}
	if cfg.TTSProvider != "cartesia" {
		t.Errorf("TTSProvider = %q, want %q", cfg.TTSProvider, "cartesia")
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, "gpt-4o")
	}
	if cfg.STTEndpointingMs != 1200 {
		t.Errorf("STTEndpointingMs = %d, want %d", cfg.STTEndpointingMs, 1200)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want %v", cfg.HeartbeatInterval, 2*time.Second)
	}
	if cfg.FreeDailySeconds != 1800 {
		t.Errorf("FreeDailySeconds = %d, want %d", cfg.FreeDailySeconds, 1800)
	}
	if cfg.GuestBufferTTL != time.Hour {
		t.Errorf("GuestBufferTTL = %v, want %v", cfg.GuestBufferTTL, time.Hour)
	}
}

func TestProviderKeySelection(t *testing.T) {
	cfg := Config{
		DeepgramAPIKey:   "dg-key",
		AssemblyAIAPIKey: "aai-key",
		ElevenLabsAPIKey: "el-key",
		CartesiaAPIKey:   "ca-key",
	}

	tests := []struct {
		stt     string
		tts     string
		wantSTT string
		wantTTS string
	}{
		{"deepgram", "elevenlabs", "dg-key", "el-key"},
		{"assemblyai", "cartesia", "aai-key", "ca-key"},
		{"", "", "dg-key", "el-key"}, // unknown providers fall back to the defaults
	}

	for _, tt := range tests {
		cfg.STTProvider = tt.stt
		cfg.TTSProvider = tt.tts
		if got := cfg.STTAPIKey(); got != tt.wantSTT {
			t.Errorf("STTAPIKey() with provider %q = %q, want %q", tt.stt, got, tt.wantSTT)
		}
		if got := cfg.TTSAPIKey(); got != tt.wantTTS {
			t.Errorf("TTSAPIKey() with provider %q = %q, want %q", tt.tts, got, tt.wantTTS)
		}
	}
}
