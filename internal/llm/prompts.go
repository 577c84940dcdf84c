package llm

import "fmt"

// ExtractionPrompt generates the prompt that turns a feed item or document
// chunk into a one-line summary plus the entities it mentions.
func ExtractionPrompt(text string) string {
	return fmt.Sprintf(`You are a knowledge extraction system for a community chat assistant. Read the text and extract one durable fact.

TEXT:
%s

Entity types:
- user: a specific person
- channel: a chat channel or room
- topic: a subject area (e.g., "kubernetes", "hiking")
- concept: an idea, product, project, or named thing
- event: something that happened or will happen at a point in time

Rules:
- summary is one or two sentences a reader could act on without the source
- list at most 12 entities, most important first
- use the entity's common name; do not invent entities not in the text
- Return ONLY a JSON object, no other text

Return a JSON object:
{
  "summary": "one or two sentence fact",
  "entities": [{"name": "Entity Name", "type": "user|channel|topic|concept|event"}]
}`, text)
}
