package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrAnalysisUnavailable is returned when reply analysis cannot produce a
// valid result. Callers fall back to keyword classification.
var ErrAnalysisUnavailable = fmt.Errorf("reply analysis unavailable")

// ReplyAnalysis is the structured verdict on an inbound reply.
type ReplyAnalysis struct {
	Confirmed bool   `json:"confirmed"`
	Reply     string `json:"reply"`
}

const analysisSchemaJSON = `{
	"type": "object",
	"properties": {
		"confirmed": {"type": "boolean"},
		"reply": {"type": "string", "minLength": 1}
	},
	"required": ["confirmed", "reply"],
	"additionalProperties": false
}`

var analysisSchema = mustCompileSchema(analysisSchemaJSON)

func mustCompileSchema(schemaJSON string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal analysis schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("analysis.json", doc); err != nil {
		panic(fmt.Sprintf("add analysis schema resource: %v", err))
	}
	schema, err := c.Compile("analysis.json")
	if err != nil {
		panic(fmt.Sprintf("compile analysis schema: %v", err))
	}
	return schema
}

const analysisSystemPrompt = `את מערכת שמנתחת הודעות תגובה לתזכורות גלולה. התפקיד שלך לקבוע אם המשתמשת אישרה שלקחה את הגלולה.

כללים:
1. אם המשתמשת אישרה שלקחה - confirmed = true
2. אם אמרה שלא לקחה או החמיצה - confirmed = false
3. אם ההודעה לא ברורה - confirmed = false

דוגמאות לאישור: "לקחתי", "כן", "סיימתי", "בלעתי", "taken", "yes", "done", "ok", "✅"
דוגמאות להחמצה: "לא", "החמצתי", "שכחתי", "no", "missed", "forgot", "❌"

בנוסף, צרי תגובה מתאימה בעברית עם אימוג'ים:
- אם אישרה: תגובה מעודדת ותומכת
- אם החמיצה: תגובה אמפתית עם הנחיה לקחת בהקדם
- אם לא ברור: בקשה להבהרה

החזירי JSON בלבד בפורמט:
{"confirmed": true/false, "reply": "תגובה בעברית"}`

// AnalyzeReply asks the LLM whether text confirms the reminder and what to
// answer. It returns ErrAnalysisUnavailable (wrapped) when the LLM is off,
// times out, or returns output that fails schema validation.
func (gen *Generator) AnalyzeReply(ctx context.Context, text string) (*ReplyAnalysis, error) {
	if !gen.llmOn {
		return nil, ErrAnalysisUnavailable
	}

	ctx, cancel := gen.callCtx(ctx)
	defer cancel()

	resp, err := genkit.Generate(ctx, gen.g,
		ai.WithModelName(gen.modelName()),
		ai.WithSystem(analysisSystemPrompt),
		ai.WithPrompt(fmt.Sprintf("הודעת המשתמשת: %s", text)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %v", ErrAnalysisUnavailable, err)
	}

	return parseAnalysis(resp.Text())
}

// parseAnalysis extracts and validates the analysis JSON from raw LLM
// output.
func parseAnalysis(raw string) (*ReplyAnalysis, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON in output", ErrAnalysisUnavailable)
	}

	// jsonschema requires json.Number decoding for validation.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrAnalysisUnavailable, err)
	}
	if err := analysisSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: schema validation: %v", ErrAnalysisUnavailable, err)
	}

	var out ReplyAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrAnalysisUnavailable, err)
	}
	return &out, nil
}

// extractJSON finds a JSON object in LLM output: fenced ```json blocks
// first, then generic fences, then the first balanced brace structure.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the balanced JSON object starting at s[0],
// tracking string and escape state.
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
