package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/hypermem/internal/llm"
	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/rs/zerolog/log"
)

// Entity is a named thing mentioned by extracted text.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Extraction is a summary of a piece of text plus the entities it mentions.
type Extraction struct {
	Summary  string   `json:"summary"`
	Entities []Entity `json:"entities"`
}

// Extractor turns unstructured text into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}

// LLMExtractor asks a language model for the extraction. It never fails:
// provider errors and malformed output degrade to a truncated-text summary
// with no entities.
type LLMExtractor struct {
	Client llm.Client
}

// NewLLMExtractor wraps an LLM client. A nil client always degrades.
func NewLLMExtractor(client llm.Client) *LLMExtractor {
	return &LLMExtractor{Client: client}
}

// Extract implements Extractor.
func (x *LLMExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	text = strings.TrimSpace(text)
	if x.Client == nil {
		return fallbackExtraction(text), nil
	}

	resp, err := x.Client.Complete(ctx, llm.ExtractionPrompt(text))
	if err != nil {
		log.Warn().Err(err).Msg("extraction: llm call failed, degrading")
		metrics.ExtractionFallbacks.Inc()
		return fallbackExtraction(text), nil
	}

	ex, err := parseExtractionResponse(resp.Content)
	if err != nil {
		log.Warn().Err(err).Msg("extraction: malformed response, degrading")
		metrics.ExtractionFallbacks.Inc()
		return fallbackExtraction(text), nil
	}
	if ex.Summary == "" {
		ex.Summary = fallbackExtraction(text).Summary
	}
	return ex, nil
}

// fallbackExtraction summarizes by truncation and reports no entities.
func fallbackExtraction(text string) Extraction {
	return Extraction{Summary: truncateClean(text, 280)}
}

// parseExtractionResponse pulls the JSON object out of a model reply and
// drops entities that are unnamed or of an unknown type.
func parseExtractionResponse(content string) (Extraction, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return Extraction{}, fmt.Errorf("no JSON object found in response")
	}

	var raw Extraction
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Extraction{}, fmt.Errorf("unmarshal extraction: %w", err)
	}

	ex := Extraction{Summary: truncateClean(raw.Summary, maxSummaryChars)}
	seen := make(map[string]bool)
	for _, ent := range raw.Entities {
		ent.Name = truncateClean(ent.Name, maxEntityName)
		ent.Type = strings.ToLower(strings.TrimSpace(ent.Type))
		if ent.Name == "" || !store.ValidNodeTypes[ent.Type] {
			continue
		}
		key := ent.Type + "/" + EntityKey(ent.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		ex.Entities = append(ex.Entities, ent)
		if len(ex.Entities) >= maxEntities {
			break
		}
	}
	return ex, nil
}

// EntityKey derives a stable external key from an entity name: lowercase,
// whitespace collapsed to single hyphens.
func EntityKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// EntityMembers converts extracted entities into memberships with the
// given role. Weight falls off with position so the first-listed entity
// leads the member list.
func EntityMembers(entities []Entity, role string) []store.MemberInput {
	members := make([]store.MemberInput, 0, len(entities))
	for i, ent := range entities {
		members = append(members, store.MemberInput{
			NodeInput: store.NodeInput{Key: EntityKey(ent.Name), Type: ent.Type, Name: ent.Name},
			Role:      role,
			Weight:    1.0 / float64(i+1),
		})
	}
	return members
}
