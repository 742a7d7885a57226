// Package anthropic extracts memory drafts from conversation transcripts
// using the Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/embermind/engram/memory"
)

// Config configures the extractor.
type Config struct {
	// Model is the Claude model to use. Default: claude-sonnet-4-20250514.
	Model string

	// MaxTokens bounds the extraction response. Default: 1024.
	MaxTokens int64
}

// Extractor implements memory.Extractor over the Claude Messages API.
type Extractor struct {
	client *anthropic.Client
	config Config
}

// New creates an extractor with the given Anthropic client.
func New(client *anthropic.Client, cfg Config) *Extractor {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Extractor{client: client, config: cfg}
}

// Extract asks Claude for the facts worth remembering from a transcript.
// Any API or parse failure is reported as memory.ErrExtractionFailed; the
// caller treats that as non-fatal and records nothing for the event.
func (e *Extractor) Extract(ctx context.Context, turns []memory.Turn) ([]memory.Draft, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.config.Model),
		MaxTokens: e.config.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(formatTranscript(turns))),
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: claude api: %v", memory.ErrExtractionFailed, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	drafts, err := ParseDrafts(text)
	if err != nil {
		return nil, err
	}
	log.Printf("[EXTRACT] extracted %d drafts from %d turns", len(drafts), len(turns))
	return drafts, nil
}

// formatTranscript renders the turns as role-prefixed lines.
func formatTranscript(turns []memory.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// factList is the JSON document the model is instructed to emit.
type factList struct {
	Facts []struct {
		Content  string            `json:"content"`
		Category string            `json:"category"`
		Metadata map[string]string `json:"metadata"`
	} `json:"facts"`
}

// ParseDrafts parses the model's JSON output into drafts. Categories are
// passed through as-is; validation happens at the ingestion boundary, where
// invalid drafts are rejected individually.
func ParseDrafts(text string) ([]memory.Draft, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", memory.ErrExtractionFailed)
	}

	var list factList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", memory.ErrExtractionFailed, err)
	}

	drafts := make([]memory.Draft, 0, len(list.Facts))
	for _, fact := range list.Facts {
		drafts = append(drafts, memory.Draft{
			Content:  fact.Content,
			Category: memory.Category(fact.Category),
			Metadata: fact.Metadata,
		})
	}
	return drafts, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

const extractionSystemPrompt = `You distill durable memories from a conversation transcript.

Extract only facts worth remembering across sessions: decisions made, user preferences, lessons learned, issues that were solved, and recurring patterns. Skip small talk and transient details.

Respond with a single JSON object and nothing else:
{"facts": [{"content": "...", "category": "...", "metadata": {"key": "value"}}]}

Rules:
- category must be exactly one of: decision, preference, learning, issue_solved, pattern
- content is one self-contained sentence
- metadata is optional string-to-string context (e.g. {"project": "frontend"})
- return {"facts": []} when nothing is worth remembering`
