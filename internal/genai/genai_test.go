package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newOfflineGenerator(t *testing.T) *Generator {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	return New(context.Background(), Config{FallbackReminder: "נו, הכדור! 💊"})
}

func TestNew_NoKeyDisablesLLM(t *testing.T) {
	gen := newOfflineGenerator(t)
	if gen.Enabled() {
		t.Fatal("expected fallback mode without an API key")
	}
}

func TestReminderMessage_Fallback(t *testing.T) {
	gen := newOfflineGenerator(t)
	got := gen.ReminderMessage(context.Background(), "Dana")
	if got != "נו, הכדור! 💊" {
		t.Fatalf("reminder = %q, want configured fallback", got)
	}
}

func TestFallbackReminder_HotSwap(t *testing.T) {
	gen := newOfflineGenerator(t)
	gen.SetFallbackReminder("updated text")
	if got := gen.ReminderMessage(context.Background(), ""); got != "updated text" {
		t.Fatalf("reminder = %q after SetFallbackReminder", got)
	}

	gen.SetFallbackReminder("")
	if got := gen.ReminderMessage(context.Background(), ""); got != defaultReminderText {
		t.Fatalf("reminder = %q, want built-in default", got)
	}
}

func TestEscalationMessage_FallbackPerLevel(t *testing.T) {
	gen := newOfflineGenerator(t)
	seen := map[string]bool{}
	for level := 1; level <= 4; level++ {
		msg := gen.EscalationMessage(context.Background(), level, "", 30*time.Minute)
		if msg == "" {
			t.Fatalf("empty escalation message for level %d", level)
		}
		if seen[msg] {
			t.Fatalf("level %d reuses another level's template", level)
		}
		seen[msg] = true
	}
}

func TestEscalationFallback_NamePrefix(t *testing.T) {
	msg := EscalationFallback(2, "Dana")
	if !strings.HasPrefix(msg, "Dana! ") {
		t.Fatalf("expected name prefix, got %q", msg)
	}

	// Out-of-range level clamps to level 1.
	if EscalationFallback(9, "") != EscalationFallback(1, "") {
		t.Fatal("expected out-of-range level to clamp to level 1")
	}
}

func TestAnalyzeReply_OfflineReturnsError(t *testing.T) {
	gen := newOfflineGenerator(t)
	_, err := gen.AnalyzeReply(context.Background(), "לקחתי")
	if !errors.Is(err, ErrAnalysisUnavailable) {
		t.Fatalf("expected ErrAnalysisUnavailable, got %v", err)
	}
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *ReplyAnalysis
		wantErr bool
	}{
		{
			name: "raw json",
			raw:  `{"confirmed": true, "reply": "מעולה! 💪"}`,
			want: &ReplyAnalysis{Confirmed: true, Reply: "מעולה! 💪"},
		},
		{
			name: "fenced json",
			raw:  "Here you go:\n```json\n{\"confirmed\": false, \"reply\": \"אל דאגה\"}\n```",
			want: &ReplyAnalysis{Confirmed: false, Reply: "אל דאגה"},
		},
		{
			name: "json embedded in prose",
			raw:  `Sure! {"confirmed": true, "reply": "רשמתי"} hope that helps`,
			want: &ReplyAnalysis{Confirmed: true, Reply: "רשמתי"},
		},
		{
			name:    "no json",
			raw:     "I could not decide.",
			wantErr: true,
		},
		{
			name:    "missing required field",
			raw:     `{"confirmed": true}`,
			wantErr: true,
		},
		{
			name:    "wrong type",
			raw:     `{"confirmed": "yes", "reply": "x"}`,
			wantErr: true,
		},
		{
			name:    "extra field rejected",
			raw:     `{"confirmed": true, "reply": "x", "note": "y"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnalysis(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrAnalysisUnavailable) {
					t.Fatalf("expected ErrAnalysisUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Confirmed != tt.want.Confirmed || got.Reply != tt.want.Reply {
				t.Fatalf("parsed %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractJSON_NestedBraces(t *testing.T) {
	raw := `prefix {"confirmed": true, "reply": "use {curly} text"} suffix`
	got := extractJSON(raw)
	if got != `{"confirmed": true, "reply": "use {curly} text"}` {
		t.Fatalf("extractJSON = %q", got)
	}
}
