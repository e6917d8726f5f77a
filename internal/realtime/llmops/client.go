// Package llmops wraps the single-shot LLM calls the pipeline and
// coordinator need: language detection, translation, command detection, and
// summarization. Every call here wants one finished string back, so the
// client is request/response rather than token-streaming.
package llmops

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yourusername/medinterp/internal/logger"
)

var langCodeRE = regexp.MustCompile(`^[a-z]{2}$`)

// Client issues single-shot completions against Anthropic's Messages API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// NewClient builds a client for the given model. Extra request options are
// forwarded to the SDK; tests use option.WithBaseURL to point the client at
// a local fake.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(options...),
		model: model,
	}
}

// complete asks for one text completion with an optional system prompt. LLM
// failures are the caller's concern to degrade gracefully.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	resp, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// DetectLanguage asks for the ISO 639-1 code of the predominant language.
// Anything other than a two-letter lowercase code classifies as "unknown".
func (c *Client) DetectLanguage(ctx context.Context, text string) string {
	log := logger.WithComponent("llmops")

	out, err := c.complete(ctx,
		"Identify the predominant language of the user's message. Respond with "+
			"nothing but its lowercase ISO 639-1 two-letter code.",
		text, 8)
	if err != nil {
		log.Warn().Err(err).Msg("language detection failed")
		return "unknown"
	}

	code := strings.TrimSpace(out)
	if !langCodeRE.MatchString(code) {
		return "unknown"
	}
	return code
}

// Translate renders text from source into target. An LLM failure returns
// empty, which the pipeline treats as "no translation produced".
func (c *Client) Translate(ctx context.Context, text, source, target string) string {
	log := logger.WithComponent("llmops")

	system := "Translate the user's message from " + source + " to " + target +
		". Respond with nothing but the translation."
	out, err := c.complete(ctx, system, text, 1024)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Str("target", target).Msg("translation failed")
		return ""
	}
	return out
}

// Summarize asks for a clinical conversation summary from the given
// transcript + recorded-actions context. Returns empty string on LLM failure.
func (c *Client) Summarize(ctx context.Context, context_ string) string {
	log := logger.WithComponent("llmops")

	system := "You summarize interpreted clinician/patient conversations for a medical " +
		"chart. Be concise, factual, and organized by topic. Do not invent details not " +
		"present in the transcript or recorded actions."
	out, err := c.complete(ctx, system, context_, 2048)
	if err != nil {
		log.Warn().Err(err).Msg("summary generation failed")
		return ""
	}
	return out
}

// CondenseMedicalHistory asks the model to turn a free-form patient
// self-report into a structured medical-history note.
func (c *Client) CondenseMedicalHistory(ctx context.Context, rawHistory string) string {
	log := logger.WithComponent("llmops")

	system := "Condense the patient's self-reported medical history into a short, " +
		"structured clinical note covering conditions, medications, allergies, and " +
		"surgical history when mentioned."
	out, err := c.complete(ctx, system, rawHistory, 1024)
	if err != nil {
		log.Warn().Err(err).Msg("medical history condensation failed")
		return ""
	}
	return out
}

// DetectedCommand is the pure-function result of command detection
// : either a tool invocation or none.
type DetectedCommand struct {
	ToolName  string
	Arguments map[string]any
}

// DetectCommand asks the model whether a clinician utterance names a
// structured clinical action. It is invoked only for clinician utterances
// and never blocks the main pipeline sequence.
func (c *Client) DetectCommand(ctx context.Context, text string) (*DetectedCommand, error) {
	system := `You detect clinical commands spoken by a clinician. Available tools:
- take_note(note_content: string)
- schedule_follow_up(duration: number, unit: "day"|"week"|"month", details?: string)
- write_prescription(medication_name: string, dosage: string, frequency: string, details?: string)
- request_summary()
- request_medical_history()

If the message clearly invokes one of these, respond with ONLY a JSON object
{"tool_name": "...", "arguments": {...}}. Otherwise respond with ONLY the text: none`

	out, err := c.complete(ctx, system, text, 512)
	if err != nil {
		return nil, err
	}

	if out == "" || strings.EqualFold(out, "none") {
		return nil, nil
	}

	var parsed struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, nil
	}
	if parsed.ToolName == "" {
		return nil, nil
	}
	return &DetectedCommand{ToolName: parsed.ToolName, Arguments: parsed.Arguments}, nil
}
