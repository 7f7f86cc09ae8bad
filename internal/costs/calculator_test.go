package costs

import (
	"testing"
)

func TestCalculateSessionCosts(t *testing.T) {
	tests := []struct {
		name    string
		metrics SessionMetrics
		want    SessionCosts
	}{
		{
			name: "typical 5 minute session",
			metrics: SessionMetrics{
				STTDurationSeconds: 300, // 5 minutes
				LLMInputTokens:     1200,
				LLMOutputTokens:    500,
				TTSCharacters:      1000,
			},
			// STT: 5 * 0.77 = 3.85 -> 4 cents
			// LLM: (1200/1000)*0.015 + (500/1000)*0.06 = 0.018 + 0.03 = 0.048 -> 0 cents
			// TTS: (1000/1000)*18 = 18 cents
			// Total: 4 + 0 + 18 = 22 cents
			want: SessionCosts{
				STTCostCents:   4,
				LLMCostCents:   0,
				TTSCostCents:   18,
				TotalCostCents: 22,
			},
		},
		{
			name: "short 30 second session",
			metrics: SessionMetrics{
				STTDurationSeconds: 30,
				LLMInputTokens:     100,
				LLMOutputTokens:    50,
				TTSCharacters:      100,
			},
			// STT: 0.5 * 0.77 = 0.385 -> 0 cents
			// LLM: very small -> 0 cents
			// TTS: (100/1000)*18 = 1.8 -> 2 cents
			want: SessionCosts{
				STTCostCents:   0,
				LLMCostCents:   0,
				TTSCostCents:   2,
				TotalCostCents: 2,
			},
		},
		{
			name: "long 15 minute session with lots of conversation",
			metrics: SessionMetrics{
				STTDurationSeconds: 900,
				LLMInputTokens:     8000,
				LLMOutputTokens:    3000,
				TTSCharacters:      5000,
			},
			// STT: 15 * 0.77 = 11.55 -> 12 cents
			// LLM: (8000/1000)*0.015 + (3000/1000)*0.06 = 0.12 + 0.18 = 0.3 -> 0 cents
			// TTS: (5000/1000)*18 = 90 cents
			// Total: 12 + 0 + 90 = 102 cents
			want: SessionCosts{
				STTCostCents:   12,
				LLMCostCents:   0,
				TTSCostCents:   90,
				TotalCostCents: 102,
			},
		},
		{
			name:    "zero duration session (edge case)",
			metrics: SessionMetrics{},
			want:    SessionCosts{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateSessionCosts(tt.metrics)
			if got.STTCostCents != tt.want.STTCostCents {
				t.Errorf("STTCostCents = %d, want %d", got.STTCostCents, tt.want.STTCostCents)
			}
			if got.LLMCostCents != tt.want.LLMCostCents {
				t.Errorf("LLMCostCents = %d, want %d", got.LLMCostCents, tt.want.LLMCostCents)
			}
			if got.TTSCostCents != tt.want.TTSCostCents {
				t.Errorf("TTSCostCents = %d, want %d", got.TTSCostCents, tt.want.TTSCostCents)
			}
			if got.TotalCostCents != tt.want.TotalCostCents {
				t.Errorf("TotalCostCents = %d, want %d", got.TotalCostCents, tt.want.TotalCostCents)
			}
		})
	}
}

func TestRoundToInt(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.0, 0},
		{0.4, 0},
		{0.5, 1},
		{1.49, 1},
		{1.5, 2},
		{-0.5, -1},
	}

	for _, tt := range tests {
		if got := roundToInt(tt.in); got != tt.want {
			t.Errorf("roundToInt(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
