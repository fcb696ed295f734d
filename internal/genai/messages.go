package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const defaultReminderText = "Time to take your pill! 💊"

const reminderSystemPrompt = `את עוזרת אישית מצחיקה וסרקסטית ששולחת תזכורות יומיות לגלולה.

המאפיינים שלך:
- דוברת עברית שוטפת
- מצחיקה וסרקסטית, לא רשמית מדי
- משתמשת באימוג'ים מתאימים
- מגוונת, לא אותה הודעה כל יום
- תמיד מתייחסת לכדור או לגלולה

כללים:
- תמיד בעברית
- תמיד עם אימוג'ים
- הודעה קצרה, משפט או שניים
- החזירי רק את ההודעה עצמה, בלי הסברים`

// escalationTones describe the severity of each ladder level for the LLM.
var escalationTones = map[int]string{
	1: "Gentle reminder - slightly more urgent than the initial message, show concern but not anger",
	2: "More direct - emphasize the importance and show growing concern",
	3: "Firm but caring - make clear this is serious while staying supportive",
	4: "Final warning - urgent and direct but still caring",
}

// escalationFallbacks are the fixed per-level messages used when no LLM is
// configured or generation fails.
var escalationFallbacks = map[int]string{
	1: "היי! עדיין לא לקחת את הכדור? ⏰💊\nזכרי - זה חשוב לבריאות שלך!",
	2: "אני מחכה... הכדור שלך עדיין מחכה! 😤💊\nזה כבר שעה - אל תשכחי!",
	3: "זה כבר שעה וחצי! הכדור לא יקח את עצמו! 😠💊\nבואי, זה רק דקה אחת!",
	4: "שתי שעות! זה לא משחק! קחי את הכדור עכשיו! 😡💊\nזה חשוב מדי בשביל לדחות!",
}

// ReminderMessage generates the playful daily reminder. On any failure it
// returns the configured fixed message.
func (gen *Generator) ReminderMessage(ctx context.Context, name string) string {
	fallback := gen.FallbackReminder()
	if !gen.llmOn {
		return fallback
	}

	ctx, cancel := gen.callCtx(ctx)
	defer cancel()

	prompt := "צרי תזכורת יומית לגלולה"
	if name = strings.TrimSpace(name); name != "" {
		prompt = fmt.Sprintf("צרי תזכורת יומית לגלולה עבור %s", name)
	}

	resp, err := genkit.Generate(ctx, gen.g,
		ai.WithModelName(gen.modelName()),
		ai.WithSystem(reminderSystemPrompt),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		slog.Warn("reminder generation failed, using fallback", "error", err)
		return fallback
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fallback
	}
	return text
}

// EscalationFallback returns the fixed message for a ladder level, with the
// recipient name prepended when known. Out-of-range levels clamp to 1.
func EscalationFallback(level int, name string) string {
	msg, ok := escalationFallbacks[level]
	if !ok {
		msg = escalationFallbacks[1]
	}
	if name = strings.TrimSpace(name); name != "" {
		msg = name + "! " + msg
	}
	return msg
}

// EscalationMessage generates a follow-up for the given ladder level
// (1 to 4), referencing how long the recipient has been silent. On any
// failure it returns the fixed per-level template.
func (gen *Generator) EscalationMessage(ctx context.Context, level int, name string, elapsed time.Duration) string {
	fallback := EscalationFallback(level, name)
	if !gen.llmOn {
		return fallback
	}
	tone, ok := escalationTones[level]
	if !ok {
		return fallback
	}

	ctx, cancel := gen.callCtx(ctx)
	defer cancel()

	system := fmt.Sprintf(`את מערכת ששולחת תזכורות הולכות ומתעצמות לגלולה.

צרי הודעה ברמת הסלמה %d: %s

כללים:
- תמיד בעברית, תמיד עם אימוג'ים
- התייחסי לזמן שחלף (%d דקות)
- הדגישי את החשיבות של לקיחת הגלולה
- היי אמפתית אבל הולכת ומתעצמת
- הודעה קצרה, מקסימום 2-3 משפטים
- החזירי רק את ההודעה עצמה`, level, tone, int(elapsed.Minutes()))

	prompt := fmt.Sprintf("צרי הודעת הסלמה לרמה %d", level)
	if name = strings.TrimSpace(name); name != "" {
		prompt = fmt.Sprintf("צרי הודעת הסלמה לרמה %d עבור %s", level, name)
	}

	resp, err := genkit.Generate(ctx, gen.g,
		ai.WithModelName(gen.modelName()),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		slog.Warn("escalation generation failed, using fallback", "level", level, "error", err)
		return fallback
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fallback
	}
	return text
}
