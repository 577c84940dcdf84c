package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lazypower/hypermem/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractionResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		summary  string
		entities int
		wantErr  bool
	}{
		{
			name:     "bare object",
			input:    `{"summary":"Go 1.24 ships generic type aliases","entities":[{"name":"Go","type":"concept"}]}`,
			summary:  "Go 1.24 ships generic type aliases",
			entities: 1,
		},
		{
			name:     "fenced",
			input:    "```json\n{\"summary\":\"fenced\",\"entities\":[]}\n```",
			summary:  "fenced",
			entities: 0,
		},
		{
			name:     "prose around",
			input:    "Here you go:\n{\"summary\":\"wrapped\",\"entities\":[{\"name\":\"Alice\",\"type\":\"user\"}]}\nThanks!",
			summary:  "wrapped",
			entities: 1,
		},
		{
			name:     "filters unknown types and blanks",
			input:    `{"summary":"s","entities":[{"name":"Mars","type":"planet"},{"name":"","type":"topic"},{"name":"Rust","type":"TOPIC"}]}`,
			summary:  "s",
			entities: 1,
		},
		{
			name:     "dedups by key",
			input:    `{"summary":"s","entities":[{"name":"New York","type":"concept"},{"name":"new  york","type":"concept"}]}`,
			summary:  "s",
			entities: 1,
		},
		{name: "no json", input: "I cannot help with that", wantErr: true},
		{name: "broken json", input: `{"summary": "oops",`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := parseExtractionResponse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.summary, ex.Summary)
			assert.Len(t, ex.Entities, tt.entities)
		})
	}
}

func TestLLMExtractorSuccess(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content: `{"summary":"Alice moved to Berlin","entities":[{"name":"Alice","type":"user"},{"name":"Berlin","type":"concept"}]}`,
	}}
	ex, err := NewLLMExtractor(mock).Extract(context.Background(), "long article about Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice moved to Berlin", ex.Summary)
	require.Len(t, ex.Entities, 2)
	assert.Equal(t, "user", ex.Entities[0].Type)
	require.Len(t, mock.Calls, 1)
	assert.Contains(t, mock.Calls[0], "long article about Alice")
}

func TestLLMExtractorDegrades(t *testing.T) {
	text := strings.Repeat("word ", 200)

	tests := []struct {
		name   string
		client llm.Client
	}{
		{"llm error", &llm.MockClient{Err: errors.New("rate limited")}},
		{"malformed", &llm.MockClient{Response: &llm.Response{Content: "sorry, no"}}},
		{"no client", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := NewLLMExtractor(tt.client).Extract(context.Background(), text)
			require.NoError(t, err)
			assert.Empty(t, ex.Entities)
			assert.NotEmpty(t, ex.Summary)
			assert.LessOrEqual(t, len(ex.Summary), 280)
			assert.True(t, strings.HasPrefix(text, ex.Summary))
		})
	}
}

func TestLLMExtractorEmptySummaryFallsBack(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `{"summary":"","entities":[{"name":"Go","type":"concept"}]}`}}
	ex, err := NewLLMExtractor(mock).Extract(context.Background(), "Go is a language")
	require.NoError(t, err)
	assert.Equal(t, "Go is a language", ex.Summary)
	assert.Len(t, ex.Entities, 1)
}

func TestEntityMembers(t *testing.T) {
	members := EntityMembers([]Entity{
		{Name: "Alice Smith", Type: "user"},
		{Name: "Kubernetes", Type: "topic"},
	}, "mentioned")
	require.Len(t, members, 2)
	assert.Equal(t, "alice-smith", members[0].Key)
	assert.Equal(t, "Alice Smith", members[0].Name)
	assert.Equal(t, "mentioned", members[0].Role)
	assert.Greater(t, members[0].Weight, members[1].Weight)
}
